package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-intake/internal/jobs"
	"github.com/odyssey-erp/odyssey-intake/internal/orders"
	"github.com/odyssey-erp/odyssey-intake/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOrderCreated carries an orders.OrderCreatedEvent.
	TaskOrderCreated = "orders:created"
	// TaskIdempotencyCleanup purges expired submission keys.
	TaskIdempotencyCleanup = "orders:idempotency-cleanup"
)

// NewOrderCreatedTask constructs an Asynq task for a committed order.
func NewOrderCreatedTask(evt orders.OrderCreatedEvent) (*asynq.Task, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderCreated, data), nil
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// OrderCreatedJob records each created order in the audit trail.
type OrderCreatedJob struct {
	audit   AuditRecorder
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewOrderCreatedJob constructs the consumer.
func NewOrderCreatedJob(audit AuditRecorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *OrderCreatedJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderCreatedJob{audit: audit, logger: logger, metrics: metrics}
}

// Handle processes TaskOrderCreated tasks.
func (j *OrderCreatedJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track("orders_created")
	var evt orders.OrderCreatedEvent
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		j.logger.Error("decode order created", slog.Any("error", err))
		return tracker.End(fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry))
	}
	if evt.DONumber == "" {
		return tracker.End(fmt.Errorf("order created without do number: %w", asynq.SkipRetry))
	}

	if j.audit != nil {
		err := j.audit.Record(ctx, shared.AuditLog{
			ActorID:  evt.SubmittedBy,
			Action:   "order.created",
			Entity:   "order",
			EntityID: evt.DONumber,
			Meta: map[string]any{
				"event_id":       evt.EventID,
				"order_id":       strconv.FormatInt(evt.OrderID, 10),
				"firm_name":      evt.FirmName,
				"party_name":     evt.PartyName,
				"lines":          len(evt.LineIDs),
				"total_quantity": evt.TotalQuantity.String(),
				"total_value":    evt.TotalValue.String(),
			},
			At: evt.OccurredAt,
		})
		if err != nil {
			return tracker.End(fmt.Errorf("audit order %s: %w", evt.DONumber, err))
		}
	}

	j.metrics.AddEvents("order.created", evt.FirmName, 1)
	j.logger.Info("order created consumed",
		slog.String("do_number", evt.DONumber),
		slog.String("firm", evt.FirmName),
		slog.Int("lines", len(evt.LineIDs)),
	)
	return tracker.End(nil)
}

// IdempotencyCleaner removes keys older than a retention window.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob purges expired submission keys on a schedule.
type IdempotencyCleanupJob struct {
	store     IdempotencyCleaner
	retention time.Duration
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob constructs the cleanup job.
func NewIdempotencyCleanupJob(store IdempotencyCleaner, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencyCleanupJob{store: store, retention: retention, logger: logger, metrics: metrics}
}

// NewIdempotencyCleanupTask builds the scheduled task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	tracker := j.metrics.Track("idempotency_cleanup")
	if err := j.store.Cleanup(ctx, j.retention); err != nil {
		j.logger.Error("idempotency cleanup", slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger.Info("idempotency keys purged", slog.Duration("retention", j.retention))
	return tracker.End(nil)
}
