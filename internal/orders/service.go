package orders

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"

	"github.com/odyssey-erp/odyssey-intake/internal/masterdata"
	"github.com/odyssey-erp/odyssey-intake/internal/platform/storage"
	"github.com/odyssey-erp/odyssey-intake/internal/shared"
)

const idempotencyModule = "orders.submit"

// DefaultMaxAttempts bounds allocation retries after a DO number conflict.
const DefaultMaxAttempts = 3

// MasterData resolves party-derived header fields.
type MasterData interface {
	Resolve(ctx context.Context, partyName string) (masterdata.Resolution, bool, error)
}

// BlobStore stores attachments.
type BlobStore interface {
	Upload(ctx context.Context, obj storage.Object) (string, error)
	Sign(ctx context.Context, objectURL string, ttl time.Duration) (string, error)
}

// IdempotencyGuard records processed submission keys.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Locker serialises DO allocation across processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// Recorder receives submission metrics.
type Recorder interface {
	OrderSubmitted(result string)
	AllocationConflict()
}

type noopRecorder struct{}

func (noopRecorder) OrderSubmitted(string) {}
func (noopRecorder) AllocationConflict()   {}

// ServiceConfig tunes submission.
type ServiceConfig struct {
	MaxAttempts int
	LockTTL     time.Duration
}

// Dependencies are the collaborators of Service. Only Blobs is mandatory
// besides the repository; nil optional collaborators disable their step.
type Dependencies struct {
	Allocator   *Allocator
	MasterData  MasterData
	Blobs       BlobStore
	Events      Publisher
	Idempotency IdempotencyGuard
	Locker      Locker
	Metrics     Recorder
	Logger      *slog.Logger
}

// Service turns submitted purchase orders into persisted orders.
type Service struct {
	repo      Repository
	allocator *Allocator
	masters   MasterData
	blobs     BlobStore
	events    Publisher
	idem      IdempotencyGuard
	locker    Locker
	metrics   Recorder
	logger    *slog.Logger
	validate  *validator.Validate
	cfg       ServiceConfig
	now       func() time.Time
}

// NewService creates a new order intake service.
func NewService(repo Repository, deps Dependencies, cfg ServiceConfig) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if deps.Allocator == nil {
		deps.Allocator = NewAllocator(repo, DefaultLookback)
	}
	if deps.Metrics == nil {
		deps.Metrics = noopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		allocator: deps.Allocator,
		masters:   deps.MasterData,
		blobs:     deps.Blobs,
		events:    deps.Events,
		idem:      deps.Idempotency,
		locker:    deps.Locker,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		validate:  newValidator(),
		cfg:       cfg,
		now:       time.Now,
	}
}

// Submit validates the order, allocates a DO number and persists one line
// per complete product. Either every line becomes visible under a single DO
// number or nothing is written.
func (s *Service) Submit(ctx context.Context, req SubmitRequest, att *Attachment, submittedBy int64) (*SubmitResult, error) {
	result, err := s.submit(ctx, req, att, submittedBy)
	s.metrics.OrderSubmitted(submitOutcome(err))
	return result, err
}

func (s *Service) submit(ctx context.Context, req SubmitRequest, att *Attachment, submittedBy int64) (result *SubmitResult, err error) {
	products := completeProducts(req.Products)
	var problems []string
	if len(products) == 0 {
		problems = append(problems, "at least one product with name, quantity and rate is required")
	}
	if att == nil || len(att.Data) == 0 {
		problems = append(problems, "attachment is required")
	}
	if len(problems) > 0 {
		return nil, newValidationError(problems...)
	}

	if key := strings.TrimSpace(req.IdempotencyKey); key != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return nil, ErrDuplicateSubmission
			}
			s.logger.Error("idempotency check failed", slog.Any("error", err))
			return nil, fmt.Errorf("%w: idempotency check", ErrPersistence)
		}
		defer func() {
			if err != nil {
				if delErr := s.idem.Delete(context.WithoutCancel(ctx), key); delErr != nil {
					s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", delErr))
				}
			}
		}()
	}

	input := normalizeHeader(req.Header)
	s.applyMasterData(ctx, &input)
	if problems := validateStruct(s.validate, input); len(problems) > 0 {
		return nil, newValidationError(problems...)
	}
	header, err := buildHeader(input)
	if err != nil {
		return nil, err
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, shared.OrderSequenceLockKey(), s.cfg.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("%w: sequence lock unavailable: %v", ErrAllocationConflict, err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release sequence lock", slog.Any("error", err))
			}
		}()
	}

	var attachmentURL string
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		n, err := s.allocator.Next(ctx)
		if err != nil {
			s.logger.Error("allocate do number", slog.Any("error", err))
			return nil, fmt.Errorf("%w: allocate do number", ErrPersistence)
		}
		doNumber := FormatDONumber(n)

		if attachmentURL == "" {
			attachmentURL, err = s.upload(ctx, att)
			if err != nil {
				return nil, err
			}
		}

		order := buildOrder(doNumber, header, products, attachmentURL, submittedBy, s.now())
		orderID, lineIDs, err := s.persist(ctx, order)
		if errors.Is(err, ErrAllocationConflict) {
			s.metrics.AllocationConflict()
			s.logger.Warn("do number taken, retrying",
				slog.String("do_number", doNumber),
				slog.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			s.logger.Error("persist order", slog.String("do_number", doNumber), slog.Any("error", err))
			return nil, fmt.Errorf("%w: order %s", ErrPersistence, doNumber)
		}

		s.logger.Info("order submitted",
			slog.String("do_number", doNumber),
			slog.Int64("order_id", orderID),
			slog.Int("lines", len(lineIDs)),
			slog.Int("attempt", attempt),
		)
		s.publish(ctx, newOrderCreatedEvent(order, orderID, lineIDs))
		return &SubmitResult{
			OrderID:       orderID,
			DONumber:      doNumber,
			LineIDs:       lineIDs,
			AttachmentURL: attachmentURL,
			Attempts:      attempt,
		}, nil
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts", ErrAllocationConflict, s.cfg.MaxAttempts)
}

// applyMasterData overwrites address and GST with non-blank reference values
// and fills a missing firm name. Lookup failures leave the header untouched.
func (s *Service) applyMasterData(ctx context.Context, h *HeaderInput) {
	if s.masters == nil || h.PartyName == "" {
		return
	}
	res, ok, err := s.masters.Resolve(ctx, h.PartyName)
	if err != nil {
		s.logger.Warn("master data lookup failed", slog.String("party", h.PartyName), slog.Any("error", err))
		return
	}
	if !ok {
		return
	}
	if res.Address != "" {
		h.Address = res.Address
	}
	if res.GSTNumber != "" {
		h.GSTNumber = res.GSTNumber
	}
	if h.FirmName == "" && res.FirmName != "" {
		h.FirmName = res.FirmName
	}
}

func (s *Service) upload(ctx context.Context, att *Attachment) (string, error) {
	if s.blobs == nil {
		return "", fmt.Errorf("%w: no blob store configured", ErrUpload)
	}
	sum := blake2b.Sum256(att.Data)
	contentType := att.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(att.Data)
	}
	url, err := s.blobs.Upload(ctx, storage.Object{
		Key:         attachmentKey(s.now(), uuid.NewString(), att.Filename),
		ContentType: contentType,
		Data:        att.Data,
		Metadata:    map[string]string{"blake2b-256": hex.EncodeToString(sum[:])},
	})
	if err != nil {
		s.logger.Error("upload attachment", slog.String("filename", att.Filename), slog.Any("error", err))
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	return url, nil
}

func (s *Service) persist(ctx context.Context, order Order) (int64, []int64, error) {
	var orderID int64
	var lineIDs []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertOrder(ctx, order)
		if err != nil {
			return err
		}
		ids, err := tx.InsertLines(ctx, id, order.Lines)
		if err != nil {
			return err
		}
		orderID, lineIDs = id, ids
		return nil
	})
	return orderID, lineIDs, err
}

func (s *Service) publish(ctx context.Context, evt OrderCreatedEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderCreated(ctx, evt); err != nil {
		s.logger.Warn("publish order created", slog.String("do_number", evt.DONumber), slog.Any("error", err))
	}
}

func buildHeader(in HeaderInput) (Header, error) {
	poDate, err := parseDate("party_po_date", in.PartyPODate)
	if err != nil {
		return Header{}, err
	}
	return Header{
		FirmName:         in.FirmName,
		PartyPONumber:    in.PartyPONumber,
		PartyPODate:      poDate,
		PartyName:        in.PartyName,
		GSTNumber:        in.GSTNumber,
		Address:          in.Address,
		CustomerCategory: in.CustomerCategory,
		PIType:           in.PIType,
		TransportType:    in.TransportType,
		ContactPerson:    in.ContactPerson,
		ContactPhone:     in.ContactPhone,
		ContactEmail:     in.ContactEmail,
		PaymentTerms:     in.PaymentTerms,
		RetentionTerms:   in.RetentionTerms,
		SalesPerson:      in.SalesPerson,
		AgentName:        in.AgentName,
		Remarks:          in.Remarks,
	}, nil
}

func buildOrder(doNumber string, h Header, products []ProductInput, attachmentURL string, submittedBy int64, now time.Time) Order {
	o := Order{
		DONumber:      doNumber,
		Header:        h,
		AttachmentURL: attachmentURL,
		SubmittedBy:   submittedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
		Lines:         make([]Line, 0, len(products)),
	}
	for i, p := range products {
		o.Lines = append(o.Lines, Line{
			LineNo:              i + 1,
			ProductName:         p.ProductName,
			Quantity:            *p.Quantity,
			Rate:                *p.Rate,
			Value:               lineValue(p),
			UOM:                 p.UOM,
			AluminaPercent:      nullDecimal(p.AluminaPercent),
			IronPercent:         nullDecimal(p.IronPercent),
			AdvancePercent:      nullDecimal(p.AdvancePercent),
			BasicPercent:        nullDecimal(p.BasicPercent),
			Status:              StatusNewOrder,
			DeliveredQuantity:   decimal.Zero,
			PendingQuantity:     *p.Quantity,
			TransferredQuantity: decimal.Zero,
			CreatedAt:           now,
			UpdatedAt:           now,
		})
	}
	return o
}

func attachmentKey(now time.Time, id, filename string) string {
	return path.Join("attachments", now.UTC().Format("2006/01"), id, sanitizeFilename(filename))
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" || out == "_" {
		return "attachment"
	}
	return out
}

func submitOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrDuplicateSubmission):
		return "duplicate"
	case errors.Is(err, ErrUpload):
		return "upload_failed"
	case errors.Is(err, ErrAllocationConflict):
		return "conflict"
	default:
		return "error"
	}
}
