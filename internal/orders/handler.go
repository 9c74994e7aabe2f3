package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-intake/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-intake/internal/shared"
)

// DefaultMaxAttachmentBytes caps multipart uploads.
const DefaultMaxAttachmentBytes = 20 << 20

// Handler manages order HTTP endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	tracker   *Tracker
	query     *QueryService
	validate  *validator.Validate
	maxUpload int64
}

// NewHandler creates a new handler.
func NewHandler(
	logger *slog.Logger,
	service *Service,
	tracker *Tracker,
	query *QueryService,
	maxUpload int64,
) *Handler {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxAttachmentBytes
	}
	return &Handler{
		logger:    logger,
		service:   service,
		tracker:   tracker,
		query:     query,
		validate:  newValidator(),
		maxUpload: maxUpload,
	}
}

// MountRoutes registers routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.submit)
	r.Get("/{doNumber}", h.show)

	r.Route("/lines/{id}", func(r chi.Router) {
		r.Get("/", h.showLine)
		r.Post("/dispatch", h.dispatch)
		r.Post("/material-return", h.materialReturn)
		r.Post("/status", h.setStatus)
		r.Post("/milestones/{slot}/planned", h.recordPlanned)
		r.Post("/milestones/{slot}/actual", h.recordActual)
		r.Post("/delivery", h.recordDelivery)
		r.Post("/completion", h.recordCompletion)
		r.Post("/expected-delivery", h.setExpectedDelivery)
		r.Post("/production", h.updateProduction)
	})
}

// ============================================================================
// INTAKE
// ============================================================================

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "request must be multipart/form-data within the size limit")
		return
	}

	var req SubmitRequest
	if err := json.Unmarshal([]byte(r.FormValue("order")), &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "order must be a JSON document")
		return
	}
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")

	att, err := readAttachment(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	result, err := h.service.Submit(r.Context(), req, att, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func readAttachment(r *http.Request) (*Attachment, error) {
	file, header, err := r.FormFile("attachment")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New("attachment could not be read")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, errors.New("attachment could not be read")
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(path.Ext(header.Filename)); byExt != "" {
			contentType = byExt
		}
	}
	return &Attachment{
		Filename:    header.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}

// ============================================================================
// QUERIES
// ============================================================================

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	result, err := h.query.List(r.Context(), Filter{
		Firm:    q.Get("firm"),
		Status:  Status(q.Get("status")),
		Search:  q.Get("q"),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	if q.Get("view") == "grouped" {
		httpx.JSON(w, http.StatusOK, map[string]any{
			"orders":     GroupOrders(result.Lines),
			"stats":      result.Stats,
			"pagination": result.Pagination,
		})
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	detail, err := h.query.Get(r.Context(), chi.URLParam(r, "doNumber"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) showLine(w http.ResponseWriter, r *http.Request) {
	id, ok := h.lineID(w, r)
	if !ok {
		return
	}
	line, err := h.query.GetLine(r.Context(), id)
	h.respondLine(w, line, err)
}

// ============================================================================
// LIFECYCLE
// ============================================================================

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.lineID(w, r)
	if !ok {
		return
	}
	line, err := h.tracker.MarkDispatched(r.Context(), id, shared.ActorFromContext(r.Context()))
	h.respondLine(w, line, err)
}

func (h *Handler) materialReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.lineID(w, r)
	if !ok {
		return
	}
	line, err := h.tracker.MarkMaterialReturn(r.Context(), id, shared.ActorFromContext(r.Context()))
	h.respondLine(w, line, err)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.lineID(w, r)
	if !ok {
		return
	}
	var req StatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	line, err := h.tracker.SetStatus(r.Context(), id, Status(req.Status), shared.ActorFromContext(r.Context()))
	h.respondLine(w, line, err)
}

func (h *Handler) recordPlanned(w http.ResponseWriter, r *http.Request) {
	h.recordMilestone(w, r, h.tracker.RecordPlanned)
}

func (h *Handler) recordActual(w http.ResponseWriter, r *http.Request) {
	h.recordMilestone(w, r, h.tracker.RecordActual)
}

type milestoneFunc func(ctx context.Context, lineID int64, slot int, date time.Time, actorID int64) (*OrderLine, error)

func (h *Handler) recordMilestone(w http.ResponseWriter, r *http.Request, fn milestoneFunc) {
	id, ok := h.lineID(w, r)
	if !ok {
		return
	}
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil {
		h.respondError(w, checkSlot(0))
		return
	}
	var req DateRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.respondError(w, err)
		return
	}
	line, err := fn(r.Context(), id, slot, date, shared.ActorFromContext(r.Context()))
	h.respondLine(w, line, err)
}

func (h *Handler) recordDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := h.lineID(w, r)
	if !ok {
		return
	}
	var req DeliveryRequest
	if !h.decode(w, r, &req) {
		return
	}
	line, err := h.tracker.RecordDelivery(r.Context(), id, req.DeliveredQuantity, shared.ActorFromContext(r.Context()))
	h.respondLine(w, line, err)
}

func (h *Handler) recordCompletion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.lineID(w, r)
	if !ok {
		return
	}
	var req DateRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.respondError(w, err)
		return
	}
	line, err := h.tracker.RecordCompletion(r.Context(), id, date, shared.ActorFromContext(r.Context()))
	h.respondLine(w, line, err)
}

func (h *Handler) setExpectedDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := h.lineID(w, r)
	if !ok {
		return
	}
	var req DateRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.respondError(w, err)
		return
	}
	line, err := h.tracker.SetExpectedDelivery(r.Context(), id, date, shared.ActorFromContext(r.Context()))
	h.respondLine(w, line, err)
}

func (h *Handler) updateProduction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.lineID(w, r)
	if !ok {
		return
	}
	var req ProductionRequest
	if !h.decode(w, r, &req) {
		return
	}
	line, err := h.tracker.UpdateProduction(r.Context(), id, req, shared.ActorFromContext(r.Context()))
	h.respondLine(w, line, err)
}

// ============================================================================
// HELPERS
// ============================================================================

func (h *Handler) lineID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "order line not found")
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return false
	}
	if problems := validateStruct(h.validate, target); len(problems) > 0 {
		httpx.ValidationProblem(w, "request rejected", problems)
		return false
	}
	return true
}

func (h *Handler) respondLine(w http.ResponseWriter, line *OrderLine, err error) {
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		httpx.ValidationProblem(w, "request rejected", verr.Problems)
		return
	}
	httpx.RespondError(w, h.problemKind(err))
}

// problemKind translates order errors into the httpx taxonomy without
// leaking store or SDK messages.
func (h *Handler) problemKind(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrOrderNotFound):
		return fmt.Errorf("%w: %v", httpx.ErrNotFound, err)
	case errors.Is(err, ErrDuplicateSubmission):
		return fmt.Errorf("%w: %v", httpx.ErrDuplicate, err)
	case errors.Is(err, ErrConcurrentUpdate):
		return fmt.Errorf("%w: order line was updated concurrently, please retry", httpx.ErrConflict)
	case errors.Is(err, ErrAllocationConflict):
		return fmt.Errorf("%w: could not allocate a DO number, please resubmit", httpx.ErrConflict)
	case errors.Is(err, ErrUpload):
		h.logger.Warn("attachment upload failed", slog.Any("error", err))
		return fmt.Errorf("%w: attachment could not be stored", httpx.ErrUpstream)
	default:
		h.logger.Error("orders handler error", slog.Any("error", err))
		return err
	}
}
