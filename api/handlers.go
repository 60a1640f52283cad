/*
handlers.go - HTTP handler implementations

PURPOSE:
  Implements the API surface of the reporting engine: service-year
  lookup, bulk-edit sessions over the collaborator's records, report
  generation, and server-side viewer state for generated documents.

STATE:
  Sessions and viewers live in memory keyed by ID. A session holds
  unsubmitted edits; a viewer holds one loaded document. Both are
  discarded on cancel/close and on process restart, which matches
  their lifecycle: nothing here is durable, the records service owns
  the data. Entries abandoned by the client are swept after an idle
  hour, so the maps stay bounded.

ERROR MAPPING:
  reconcile.ValidationError     -> 400
  reconcile.ErrRowNotFound      -> 404
  reconcile.ErrSessionClosed    -> 409
  reconcile.ErrSubmitInFlight   -> 409
  collaborator.APIError         -> upstream status, message verbatim
  collaborator.TransientError   -> 502

SEE ALSO:
  - server.go: Route definitions
  - reconcile: session semantics
  - reports: document generation
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/congregation-engine/collaborator"
	"github.com/warp/congregation-engine/pdfview"
	"github.com/warp/congregation-engine/reconcile"
	"github.com/warp/congregation-engine/reports"
	"github.com/warp/congregation-engine/roster"
	"github.com/warp/congregation-engine/serviceyear"
)

// Collaborator is the slice of the records-service client the API
// consumes. *collaborator.Client satisfies it.
type Collaborator interface {
	Roster(ctx context.Context) ([]roster.Publisher, error)
	MonthlyReport(ctx context.Context, id roster.PublisherID, month serviceyear.Month) (*collaborator.MonthlyReport, error)
	SubmitBatch(ctx context.Context, rows []collaborator.ReportSubmission) (collaborator.BatchResult, error)
	Binary(ctx context.Context, method, path string, body any) (*collaborator.BinaryResponse, error)
	ReferencePeriod(ctx context.Context) (time.Time, error)
}

// defaultIdleTTL is how long an untouched session or viewer survives
// before a sweep reclaims it.
const defaultIdleTTL = time.Hour

// Handler holds the API state and dependencies.
type Handler struct {
	src         Collaborator
	dispatcher  *reports.Dispatcher
	log         *zap.Logger
	lookupLimit int
	idleTTL     time.Duration
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionEntry
	viewers  map[string]*viewerEntry
}

type sessionEntry struct {
	session  *reconcile.Session
	lastUsed time.Time
}

type viewerEntry struct {
	viewer   *pdfview.Viewer
	filename string
	lastUsed time.Time
}

// NewHandler creates a handler over the given records-service client.
func NewHandler(src Collaborator, log *zap.Logger, lookupLimit int) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		src:         src,
		dispatcher:  reports.New(src, log),
		log:         log,
		lookupLimit: lookupLimit,
		idleTTL:     defaultIdleTTL,
		now:         time.Now,
		sessions:    make(map[string]*sessionEntry),
		viewers:     make(map[string]*viewerEntry),
	}
}

// =============================================================================
// SERVICE YEAR
// =============================================================================

// GetServiceYear returns the service-year frame for ?date=YYYY-MM-DD,
// defaulting to the collaborator's reporting anchor.
func (h *Handler) GetServiceYear(w http.ResponseWriter, r *http.Request) {
	var year serviceyear.Year
	if raw := r.URL.Query().Get("date"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		year = serviceyear.For(t)
	} else if anchor, err := h.src.ReferencePeriod(r.Context()); err == nil {
		year = serviceyear.For(anchor)
	} else {
		h.log.Warn("reference period unavailable, using local clock", zap.Error(err))
		year = serviceyear.Current()
	}
	writeJSON(w, http.StatusOK, toServiceYearDTO(year))
}

// =============================================================================
// BULK-EDIT SESSIONS
// =============================================================================

// StartSession opens a working set for one group and month.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Group int    `json:"group"`
		Month string `json:"month"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	month, err := serviceyear.ParseMonth(req.Month)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month (use YYYY-MM)", err)
		return
	}

	session, err := reconcile.Start(r.Context(), h.src, req.Group, month,
		reconcile.WithLookupLimit(h.lookupLimit),
		reconcile.WithLogger(h.log))
	if err != nil {
		h.writeUpstreamError(w, "Failed to start session", err)
		return
	}

	h.mu.Lock()
	h.evictIdleLocked()
	h.sessions[session.ID] = &sessionEntry{session: session, lastUsed: h.now()}
	h.mu.Unlock()

	writeJSON(w, http.StatusCreated, toSessionDTO(session))
}

// GetSession returns the current working set.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(session))
}

// EditRow applies one in-memory field edit.
func (h *Handler) EditRow(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}

	var req struct {
		Field string `json:"field"`
		Value any    `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	err := session.SetField(chi.URLParam(r, "rowID"), req.Field, req.Value)
	var validation *reconcile.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toSessionDTO(session))
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error(), nil)
	case errors.Is(err, reconcile.ErrRowNotFound):
		writeError(w, http.StatusNotFound, "Row not found", nil)
	case errors.Is(err, reconcile.ErrSessionClosed):
		writeError(w, http.StatusConflict, "Session already closed", nil)
	case errors.Is(err, reconcile.ErrSubmitInFlight):
		writeError(w, http.StatusConflict, "Submit in progress", nil)
	default:
		writeError(w, http.StatusInternalServerError, "Failed to edit row", err)
	}
}

// SubmitSession writes the whole working set to the records service.
func (h *Handler) SubmitSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, ok := h.session(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}

	result, err := session.Submit(r.Context())
	switch {
	case err == nil:
		h.dropSession(id)
		writeJSON(w, http.StatusOK, SubmitResultDTO{
			SuccessCount: result.SuccessCount,
			ErrorCount:   result.ErrorCount,
		})
	case errors.Is(err, reconcile.ErrSessionClosed):
		writeError(w, http.StatusConflict, "Session already closed", nil)
	case errors.Is(err, reconcile.ErrSubmitInFlight):
		writeError(w, http.StatusConflict, "Submit in progress", nil)
	default:
		// The working set is retained; the client may retry.
		h.writeUpstreamError(w, "Submit failed, edits retained", err)
	}
}

// CancelSession discards a working set without writing anything.
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, ok := h.session(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}
	if err := session.Cancel(); err != nil {
		writeError(w, http.StatusConflict, "Submit in progress", nil)
		return
	}
	h.dropSession(id)
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

func (h *Handler) session(id string) (*reconcile.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.sessions[id]
	if !ok {
		return nil, false
	}
	entry.lastUsed = h.now()
	return entry.session, true
}

func (h *Handler) dropSession(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, id)
}

// evictIdleLocked reclaims sessions and viewers nobody has touched
// within the idle TTL. Sweeps run on insert; a session whose submit is
// still outstanding is skipped and caught by a later sweep.
func (h *Handler) evictIdleLocked() {
	cutoff := h.now().Add(-h.idleTTL)
	for id, entry := range h.sessions {
		if !entry.lastUsed.Before(cutoff) {
			continue
		}
		if entry.session.Cancel() != nil {
			continue
		}
		delete(h.sessions, id)
		h.log.Info("idle session evicted", zap.String("session", id))
	}
	for id, entry := range h.viewers {
		if entry.lastUsed.Before(cutoff) {
			entry.viewer.Close()
			delete(h.viewers, id)
			h.log.Info("idle viewer evicted", zap.String("viewer", id))
		}
	}
}

// =============================================================================
// REPORTS
// =============================================================================

type reportRequestDTO struct {
	Year        int    `json:"year,omitempty"`
	PublisherID int    `json:"publisherId,omitempty"`
	TypeID      int    `json:"typeId,omitempty"`
	Month       string `json:"month,omitempty"`
	MeetingType string `json:"meetingType,omitempty"`
	Label       string `json:"label,omitempty"`
}

func (dto reportRequestDTO) toParams() (reports.Params, error) {
	params := reports.Params{
		Year:        dto.Year,
		PublisherID: roster.PublisherID(dto.PublisherID),
		TypeID:      roster.PublisherType(dto.TypeID),
		MeetingType: dto.MeetingType,
		Label:       dto.Label,
	}
	if dto.Month != "" {
		month, err := serviceyear.ParseMonth(dto.Month)
		if err != nil {
			return reports.Params{}, err
		}
		params.Month = month
	}
	return params, nil
}

// GenerateReport generates one document and streams it back with its
// filename in the Content-Disposition header.
func (h *Handler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	result, ok := h.generate(w, r)
	if !ok {
		return
	}

	contentType := "application/pdf"
	if result.Archive {
		contentType = "application/zip"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	w.Write(result.Bytes)
}

// generate parses the report request and runs the dispatcher, writing
// the error response itself when anything fails.
func (h *Handler) generate(w http.ResponseWriter, r *http.Request) (*reports.Result, bool) {
	kind := reports.Kind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown report kind: %s", kind), nil)
		return nil, false
	}

	var dto reportRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return nil, false
	}
	params, err := dto.toParams()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month (use YYYY-MM)", err)
		return nil, false
	}

	result, err := h.dispatcher.Request(r.Context(), kind, params)
	if err != nil {
		h.writeUpstreamError(w, "Report generation failed", err)
		return nil, false
	}
	return result, true
}

// =============================================================================
// VIEWERS
// =============================================================================

// OpenViewer generates a document and loads it into a fresh viewer.
// Archive results cannot be viewed page by page; ask for a single
// document or use the report endpoint to download the archive.
func (h *Handler) OpenViewer(w http.ResponseWriter, r *http.Request) {
	result, ok := h.generate(w, r)
	if !ok {
		return
	}
	if result.Archive {
		writeError(w, http.StatusBadRequest, "Archives cannot be viewed; download via /api/reports", nil)
		return
	}

	viewer := pdfview.New(h.log)
	if _, err := viewer.Load(result.Bytes, result.Filename); err != nil {
		var parseErr *pdfview.DocumentParseError
		if errors.As(err, &parseErr) {
			writeError(w, http.StatusUnprocessableEntity, "Generated document could not be parsed", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load document", err)
		return
	}
	if raw := r.URL.Query().Get("width"); raw != "" {
		if width, err := strconv.ParseFloat(raw, 64); err == nil {
			viewer.SetContainerWidth(width)
		}
	}

	id := uuid.NewString()
	h.mu.Lock()
	h.evictIdleLocked()
	h.viewers[id] = &viewerEntry{viewer: viewer, filename: result.Filename, lastUsed: h.now()}
	h.mu.Unlock()

	render, err := viewer.RenderPage(1)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to render first page", err)
		return
	}
	writeJSON(w, http.StatusCreated, ViewerDTO{
		ViewerID: id,
		Filename: result.Filename,
		Render:   toRenderDTO(render, viewer.CanPrev(), viewer.CanNext()),
	})
}

// ViewerPage renders one page, clamping out-of-range requests to the
// current position.
func (h *Handler) ViewerPage(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.viewerFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Viewer not found", nil)
		return
	}
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid page number", err)
		return
	}
	if raw := r.URL.Query().Get("width"); raw != "" {
		if width, err := strconv.ParseFloat(raw, 64); err == nil {
			entry.viewer.SetContainerWidth(width)
		}
	}
	h.writeRender(w, entry, func() (pdfview.Render, error) {
		return entry.viewer.RenderPage(page)
	})
}

// ViewerNext advances one page, clamped at the end.
func (h *Handler) ViewerNext(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.viewerFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Viewer not found", nil)
		return
	}
	h.writeRender(w, entry, entry.viewer.Next)
}

// ViewerPrev steps back one page, clamped at the start.
func (h *Handler) ViewerPrev(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.viewerFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Viewer not found", nil)
		return
	}
	h.writeRender(w, entry, entry.viewer.Prev)
}

// ViewerDownload streams the loaded document bytes, whatever page is
// showing.
func (h *Handler) ViewerDownload(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.viewerFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Viewer not found", nil)
		return
	}
	data, filename, err := entry.viewer.Download()
	if err != nil {
		writeError(w, http.StatusConflict, "No document loaded", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// CloseViewer discards the viewer and its document.
func (h *Handler) CloseViewer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.mu.Lock()
	entry, ok := h.viewers[id]
	delete(h.viewers, id)
	h.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Viewer not found", nil)
		return
	}
	entry.viewer.Close()
	writeJSON(w, http.StatusOK, map[string]any{"closed": true})
}

func (h *Handler) viewerFor(r *http.Request) (*viewerEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.viewers[chi.URLParam(r, "id")]
	if ok {
		entry.lastUsed = h.now()
	}
	return entry, ok
}

func (h *Handler) writeRender(w http.ResponseWriter, entry *viewerEntry, render func() (pdfview.Render, error)) {
	result, err := render()
	if err != nil {
		writeError(w, http.StatusConflict, "No document loaded", err)
		return
	}
	writeJSON(w, http.StatusOK, toRenderDTO(result, entry.viewer.CanPrev(), entry.viewer.CanNext()))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

// writeUpstreamError maps collaborator failures onto responses: the
// service's own errors pass through with their message verbatim,
// transport failures become 502.
func (h *Handler) writeUpstreamError(w http.ResponseWriter, message string, err error) {
	var apiErr *collaborator.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		writeError(w, status, apiErr.Message, nil)
		return
	}
	var transient *collaborator.TransientError
	if errors.As(err, &transient) {
		h.log.Warn("records service unreachable", zap.Error(err))
		writeError(w, http.StatusBadGateway, message, err)
		return
	}
	writeError(w, http.StatusInternalServerError, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
