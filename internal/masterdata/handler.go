package masterdata

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-intake/internal/platform/httpx"
)

const maxImportBytes = 16 << 20

// Handler exposes reference lookups over HTTP.
type Handler struct {
	logger   *slog.Logger
	resolver *Resolver
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, resolver *Resolver) *Handler {
	return &Handler{logger: logger, resolver: resolver}
}

// MountRoutes registers master data routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/parties/resolve", h.resolveParty)
	r.Get("/values/{field}", h.distinctValues)
	r.Get("/payment-terms", h.paymentTerms)
	r.Get("/status", h.status)
	r.Post("/refresh", h.refresh)
	r.Post("/import", h.importSheet)
}

func (h *Handler) resolveParty(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "name is required")
		return
	}
	res, ok, err := h.resolver.Resolve(r.Context(), name)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if !ok {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "party not in master data")
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) distinctValues(w http.ResponseWriter, r *http.Request) {
	values, err := h.resolver.DistinctValues(r.Context(), Field(chi.URLParam(r, "field")))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"values": values})
}

func (h *Handler) paymentTerms(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"values": PaymentTermOptions()})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.resolver.Status(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.resolver.Refresh(r.Context()); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) importSheet(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid multipart form")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "file is required")
		return
	}
	defer file.Close()

	t, err := ReadXLSX(file, r.FormValue("sheet"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ix, err := h.resolver.Import(r.Context(), t)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": ix.Rows(), "unresolved": ix.Unresolved()})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownField):
		err = fmt.Errorf("%w: %v", httpx.ErrNotFound, err)
	case errors.Is(err, ErrUpstreamLookup):
		h.logger.Warn("masterdata lookup failed", slog.Any("error", err))
		err = fmt.Errorf("%w: master data unavailable", httpx.ErrUpstream)
	default:
		h.logger.Error("masterdata handler error", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
