package orders

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-intake/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-intake/internal/shared"
)

type handlerFixture struct {
	repo   *memRepo
	blobs  *fakeBlobs
	router chi.Router
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	repo := newMemRepo()
	blobs := &fakeBlobs{}
	logger := testLogger()
	svc := NewService(repo, Dependencies{Blobs: blobs, Idempotency: &fakeIdempotency{}, Logger: logger}, ServiceConfig{})
	tracker := NewTracker(repo, nil, logger)
	query := NewQueryService(repo, blobs, 0, logger)
	h := NewHandler(logger, svc, tracker, query, 1<<20)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), 11)))
		})
	})
	h.MountRoutes(r)
	return &handlerFixture{repo: repo, blobs: blobs, router: r}
}

func (f *handlerFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func multipartOrder(t *testing.T, order any, withFile bool) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	payload, err := json.Marshal(order)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("order", string(payload)))
	if withFile {
		fw, err := mw.CreateFormFile("attachment", "po.pdf")
		require.NoError(t, err)
		_, err = fw.Write([]byte("%PDF-1.4 scan"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	return p
}

func TestHandlerSubmit(t *testing.T) {
	f := newHandlerFixture(t)
	body, contentType := multipartOrder(t, validRequest(), true)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Idempotency-Key", "abc")

	rec := f.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res SubmitResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, "DO-1", res.DONumber)
	assert.Len(t, res.LineIDs, 2)

	order, err := f.repo.GetOrder(req.Context(), "DO-1")
	require.NoError(t, err)
	assert.Equal(t, int64(11), order.SubmittedBy)

	body, contentType = multipartOrder(t, validRequest(), true)
	replay := httptest.NewRequest(http.MethodPost, "/", body)
	replay.Header.Set("Content-Type", contentType)
	replay.Header.Set("Idempotency-Key", "abc")
	rec = f.do(replay)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerSubmitValidation(t *testing.T) {
	f := newHandlerFixture(t)
	body, contentType := multipartOrder(t, validRequest(), false)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", contentType)

	rec := f.do(req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	p := decodeProblem(t, rec)
	assert.Contains(t, p.Errors, "attachment is required")
	assert.Zero(t, f.repo.orderCount())
}

func TestHandlerSubmitRejectsNonMultipart(t *testing.T) {
	f := newHandlerFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := f.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerSubmitUploadFailure(t *testing.T) {
	f := newHandlerFixture(t)
	f.blobs.err = errBoom
	body, contentType := multipartOrder(t, validRequest(), true)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", contentType)

	rec := f.do(req)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestHandlerListAndShow(t *testing.T) {
	f := newHandlerFixture(t)
	f.repo.seedOrder(existingOrder("DO-1", "Acme", seedLine("Brick", "10", "5"), seedLine("Tile", "2", "50")))
	f.repo.seedOrder(existingOrder("DO-2", "Zenith", seedLine("Cement", "4", "25")))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/?firm=Acme&q=tile", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Lines, 1)
	assert.Equal(t, "Tile", list.Lines[0].ProductName)
	assert.Equal(t, 2, list.Stats.Count)
	assert.Equal(t, "150", list.Stats.TotalValue.String())

	rec = f.do(httptest.NewRequest(http.MethodGet, "/?view=grouped", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var grouped struct {
		Orders []Order `json:"orders"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&grouped))
	require.Len(t, grouped.Orders, 2)
	assert.Equal(t, "DO-2", grouped.Orders[0].DONumber)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/DO-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var detail OrderDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&detail))
	assert.Len(t, detail.Lines, 2)
	assert.NotEmpty(t, detail.AttachmentLink)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/DO-77", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerLifecycle(t *testing.T) {
	f := newHandlerFixture(t)
	f.repo.seedOrder(existingOrder("DO-1", "Acme", seedLine("Brick", "10", "5")))

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return f.do(req)
	}
	line := func(rec *httptest.ResponseRecorder) OrderLine {
		t.Helper()
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var ol OrderLine
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&ol))
		return ol
	}

	ol := line(post("/lines/1/dispatch", ""))
	assert.Equal(t, StatusDispatched, ol.Status)

	line(post("/lines/1/milestones/1/planned", `{"date":"2024-02-01"}`))
	ol = line(post("/lines/1/milestones/1/actual", `{"date":"2024-02-04"}`))
	require.NotNil(t, ol.Milestones[0].DelayDays)
	assert.Equal(t, 3, *ol.Milestones[0].DelayDays)

	ol = line(post("/lines/1/delivery", `{"delivered_quantity":"7"}`))
	assert.Equal(t, "3", ol.PendingQuantity.String())

	ol = line(post("/lines/1/production", `{"in_stock":true,"batch_remarks":"b1"}`))
	assert.True(t, ol.InStock)

	ol = line(post("/lines/1/completion", `{"date":"2024-02-10"}`))
	assert.Equal(t, StatusDelivered, ol.Status)

	rec := post("/lines/1/milestones/9/planned", `{"date":"2024-02-01"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post("/lines/1/completion", `{"date":"yesterday"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post("/lines/1/status", `{"status":"x","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post("/lines/44/dispatch", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = post("/lines/abc/dispatch", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.repo.updateLineErrs = []error{serializationFailure(), serializationFailure()}
	rec = post("/lines/1/dispatch", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Conflict", decodeProblem(t, rec).Title)
}
