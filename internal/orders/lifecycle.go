package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-intake/internal/platform/db"
	"github.com/odyssey-erp/odyssey-intake/internal/shared"
)

// mutateAttempts bounds retries of a lifecycle update aborted by a
// concurrent writer on the same line.
const mutateAttempts = 2

// AuditRecorder persists lifecycle audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Tracker mutates the lifecycle fields of existing order lines. It stores
// what it is told and never advances status on its own; any status may be
// set from any other.
type Tracker struct {
	repo   Repository
	audit  AuditRecorder
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker creates a lifecycle tracker. audit may be nil.
func NewTracker(repo Repository, audit AuditRecorder, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// MarkDispatched sets status Dispatched regardless of the current status.
func (t *Tracker) MarkDispatched(ctx context.Context, lineID, actorID int64) (*OrderLine, error) {
	return t.setStatus(ctx, lineID, StatusDispatched, actorID, "order_line.dispatch")
}

// MarkMaterialReturn flags the line as returned material.
func (t *Tracker) MarkMaterialReturn(ctx context.Context, lineID, actorID int64) (*OrderLine, error) {
	return t.setStatus(ctx, lineID, StatusMaterialReturn, actorID, "order_line.material_return")
}

// SetStatus stores an externally determined status.
func (t *Tracker) SetStatus(ctx context.Context, lineID int64, status Status, actorID int64) (*OrderLine, error) {
	status = Status(strings.TrimSpace(string(status)))
	if status == "" {
		return nil, newValidationError("status is required")
	}
	return t.setStatus(ctx, lineID, status, actorID, "order_line.status")
}

func (t *Tracker) setStatus(ctx context.Context, lineID int64, status Status, actorID int64, action string) (*OrderLine, error) {
	return t.mutate(ctx, lineID, actorID, action, func(*Line) (map[string]interface{}, error) {
		return map[string]interface{}{"status": status}, nil
	})
}

// RecordPlanned stores the planned date of a milestone and recomputes its delay.
func (t *Tracker) RecordPlanned(ctx context.Context, lineID int64, slot int, date time.Time, actorID int64) (*OrderLine, error) {
	if err := checkSlot(slot); err != nil {
		return nil, err
	}
	planned := civilDate(date)
	return t.mutate(ctx, lineID, actorID, "order_line.milestone_planned", func(l *Line) (map[string]interface{}, error) {
		m := l.Milestones[slot-1]
		return milestoneUpdates(slot, &planned, m.Actual, "planned"), nil
	})
}

// RecordActual stores the actual date of a milestone and recomputes its delay.
// The planned date need not exist.
func (t *Tracker) RecordActual(ctx context.Context, lineID int64, slot int, date time.Time, actorID int64) (*OrderLine, error) {
	if err := checkSlot(slot); err != nil {
		return nil, err
	}
	actual := civilDate(date)
	return t.mutate(ctx, lineID, actorID, "order_line.milestone_actual", func(l *Line) (map[string]interface{}, error) {
		m := l.Milestones[slot-1]
		return milestoneUpdates(slot, m.Planned, &actual, "actual"), nil
	})
}

func milestoneUpdates(slot int, planned, actual *time.Time, changed string) map[string]interface{} {
	k := strconv.Itoa(slot)
	updates := map[string]interface{}{"delay_" + k: DelayDays(planned, actual)}
	if changed == "planned" {
		updates["planned_"+k] = *planned
	} else {
		updates["actual_"+k] = *actual
	}
	return updates
}

// RecordDelivery stores the delivered quantity and derives the pending quantity.
func (t *Tracker) RecordDelivery(ctx context.Context, lineID int64, delivered decimal.Decimal, actorID int64) (*OrderLine, error) {
	if delivered.IsNegative() {
		return nil, newValidationError("delivered_quantity must not be negative")
	}
	return t.mutate(ctx, lineID, actorID, "order_line.delivery", func(l *Line) (map[string]interface{}, error) {
		pending := l.Quantity.Sub(delivered)
		if pending.IsNegative() {
			pending = decimal.Zero
		}
		return map[string]interface{}{
			"delivered_quantity": delivered,
			"pending_quantity":   pending,
		}, nil
	})
}

// RecordCompletion stores the completion date, which is what marks a line Delivered.
func (t *Tracker) RecordCompletion(ctx context.Context, lineID int64, date time.Time, actorID int64) (*OrderLine, error) {
	completed := civilDate(date)
	return t.mutate(ctx, lineID, actorID, "order_line.completion", func(*Line) (map[string]interface{}, error) {
		return map[string]interface{}{
			"completed_at": completed,
			"status":       StatusDelivered,
		}, nil
	})
}

// SetExpectedDelivery stores the promised delivery date.
func (t *Tracker) SetExpectedDelivery(ctx context.Context, lineID int64, date time.Time, actorID int64) (*OrderLine, error) {
	expected := civilDate(date)
	return t.mutate(ctx, lineID, actorID, "order_line.expected_delivery", func(*Line) (map[string]interface{}, error) {
		return map[string]interface{}{"expected_delivery_date": expected}, nil
	})
}

// UpdateProduction stores production and batch fields. Nil fields are kept.
func (t *Tracker) UpdateProduction(ctx context.Context, lineID int64, req ProductionRequest, actorID int64) (*OrderLine, error) {
	updates := map[string]interface{}{}
	if req.InStock != nil {
		updates["in_stock"] = *req.InStock
	}
	if req.ProductionOrderRef != nil {
		updates["production_order_ref"] = strings.TrimSpace(*req.ProductionOrderRef)
	}
	if req.TransferredQuantity != nil {
		if req.TransferredQuantity.IsNegative() {
			return nil, newValidationError("transferred_quantity must not be negative")
		}
		updates["transferred_quantity"] = *req.TransferredQuantity
	}
	if req.BatchRemarks != nil {
		updates["batch_remarks"] = strings.TrimSpace(*req.BatchRemarks)
	}
	if len(updates) == 0 {
		return nil, newValidationError("no production fields supplied")
	}
	return t.mutate(ctx, lineID, actorID, "order_line.production", func(*Line) (map[string]interface{}, error) {
		return updates, nil
	})
}

// mutate locks the line, applies the computed column updates, audits the
// change and returns the fresh read model.
func (t *Tracker) mutate(ctx context.Context, lineID, actorID int64, action string, fn func(*Line) (map[string]interface{}, error)) (*OrderLine, error) {
	if lineID <= 0 {
		return nil, ErrNotFound
	}
	var (
		updates map[string]interface{}
		err     error
	)
	for attempt := 1; attempt <= mutateAttempts; attempt++ {
		err = t.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			line, err := tx.LockLine(ctx, lineID)
			if err != nil {
				return err
			}
			updates, err = fn(line)
			if err != nil {
				return err
			}
			return tx.UpdateLine(ctx, lineID, updates)
		})
		if err == nil || !db.SerializationFailure(err) {
			break
		}
		t.logger.Warn("lifecycle update raced, retrying",
			slog.String("action", action), slog.Int64("line_id", lineID), slog.Int("attempt", attempt))
	}
	if err != nil {
		if db.SerializationFailure(err) {
			return nil, fmt.Errorf("%s line %d: %w", action, lineID, ErrConcurrentUpdate)
		}
		return nil, fmt.Errorf("%s line %d: %w", action, lineID, err)
	}

	t.record(ctx, actorID, action, lineID, updates)
	return t.repo.GetLine(ctx, lineID)
}

func (t *Tracker) record(ctx context.Context, actorID int64, action string, lineID int64, updates map[string]interface{}) {
	if t.audit == nil {
		return
	}
	meta := make(map[string]any, len(updates))
	for k, v := range updates {
		meta[k] = v
	}
	err := t.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "order_line",
		EntityID: strconv.FormatInt(lineID, 10),
		Meta:     meta,
		At:       t.now(),
	})
	if err != nil {
		t.logger.Warn("audit lifecycle change", slog.String("action", action), slog.Int64("line_id", lineID), slog.Any("error", err))
	}
}
