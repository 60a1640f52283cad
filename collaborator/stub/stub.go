/*
Package stub is an in-process congregation records service.

PURPOSE:
  Serves the same wire protocol the production records service speaks
  (JSON envelopes, Spanish field names, binary document endpoints with
  Content-Disposition) over a local SQLite store. Development and the
  integration tests run the reporting core against this instead of the
  real deployment.

ENDPOINTS:
  GET  /publicador/all              roster
  GET  /informe/{month}/{id}        one monthly report
  POST /informe/batch               batch report write
  GET  /secretario/mes-informe      reporting anchor date
  GET  /secretario/tipos-publicador publisher-type reference data
  POST /fillpdf/get-s21             S-21 record card (zip when no id)
  POST /fillpdf/get-s21-totales     S-21 totals by type (zip when no type)
  GET  /fillpdf/get-s88/{year}      S-88 attendance summary
  POST /secretario/s1               S-1 monthly statistics
  POST /secretario/s3               S-3 weekly attendance

SEE ALSO:
  - collaborator: the client this server is exercised through
  - store/sqlite: the backing store
*/
package stub

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/congregation-engine/collaborator"
	"github.com/warp/congregation-engine/roster"
	"github.com/warp/congregation-engine/serviceyear"
	"github.com/warp/congregation-engine/store/sqlite"
)

// Server implements the records-service wire protocol.
type Server struct {
	store  *sqlite.Store
	log    *zap.Logger
	anchor func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithAnchor fixes the reporting anchor instead of deriving it from
// the clock. Tests use this to pin the service year.
func WithAnchor(t time.Time) Option {
	return func(s *Server) { s.anchor = func() time.Time { return t } }
}

// New creates a records service over the given store.
func New(store *sqlite.Store, log *zap.Logger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		store: store,
		log:   log,
		// The reporting anchor is the first day of the previous month:
		// reports are filed for the month just ended.
		anchor: func() time.Time {
			return serviceyear.MonthOf(time.Now()).Prev().First()
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP routing tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/publicador/all", s.handleRoster)
	r.Get("/informe/{month}/{id}", s.handleGetReport)
	r.Post("/informe/batch", s.handleBatch)
	r.Get("/secretario/mes-informe", s.handleReferencePeriod)
	r.Get("/secretario/tipos-publicador", s.handlePublisherTypes)
	r.Post("/fillpdf/get-s21", s.handleS21)
	r.Post("/fillpdf/get-s21-totales", s.handleS21Totals)
	r.Get("/fillpdf/get-s88/{year}", s.handleS88)
	r.Post("/secretario/s1", s.handleS1)
	r.Post("/secretario/s3", s.handleS3)

	return r
}

// =============================================================================
// ENVELOPE HELPERS
// =============================================================================

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`

	SuccessCount *int `json:"successCount,omitempty"`
	ErrorCount   *int `json:"errorCount,omitempty"`
}

func (s *Server) respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		s.log.Error("encode response", zap.Error(err))
	}
}

func (s *Server) respondErr(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: msg})
}

// respondDocument streams a generated document with its filename.
func (s *Server) respondDocument(w http.ResponseWriter, data []byte, filename, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// documentError is the error shape binary endpoints use: a bare
// {"error": ...} body, no envelope.
func (s *Server) documentError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// =============================================================================
// ROSTER AND REPORTS
// =============================================================================

func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	publishers, err := s.store.ListPublishers(r.Context())
	if err != nil {
		s.respondErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	wire := make([]publisherDTO, len(publishers))
	for i, p := range publishers {
		wire[i] = publisherToDTO(p)
	}
	s.respond(w, http.StatusOK, wire)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	month, err := serviceyear.ParseMonth(chi.URLParam(r, "month"))
	if err != nil {
		s.respondErr(w, http.StatusBadRequest, "mes no valido")
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, http.StatusBadRequest, "id no valido")
		return
	}

	report, err := s.store.GetReport(r.Context(), roster.PublisherID(id), month)
	if err == sqlite.ErrNotFound {
		// Absence is not a failure: a success envelope with null data.
		s.respond(w, http.StatusOK, nil)
		return
	}
	if err != nil {
		s.respondErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respond(w, http.StatusOK, reportToDTO(report))
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var rows []collaborator.ReportSubmission
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		s.respondErr(w, http.StatusBadRequest, "cuerpo de peticion no valido")
		return
	}

	reports := make([]collaborator.MonthlyReport, 0, len(rows))
	for _, row := range rows {
		month, err := serviceyear.ParseMonth(row.Month)
		if err != nil {
			s.respondErr(w, http.StatusBadRequest, fmt.Sprintf("mes no valido: %s", row.Month))
			return
		}
		if !row.Type.Valid() {
			s.respondErr(w, http.StatusBadRequest, fmt.Sprintf("tipo de publicador no valido: %d", row.Type))
			return
		}
		reports = append(reports, collaborator.MonthlyReport{
			PublisherID:  row.PublisherID,
			Month:        month,
			Preached:     row.Preached != 0,
			Hours:        row.Hours,
			Courses:      row.Courses,
			TypeAtReport: row.Type,
			Notes:        row.Notes,
		})
	}

	if err := s.store.UpsertReportsBatch(r.Context(), reports); err != nil {
		s.log.Error("batch write failed", zap.Int("rows", len(reports)), zap.Error(err))
		s.respondErr(w, http.StatusInternalServerError, "no se pudieron guardar los informes")
		return
	}

	s.log.Info("batch written", zap.Int("rows", len(reports)))
	n, zero := len(rows), 0
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(envelope{Success: true, SuccessCount: &n, ErrorCount: &zero})
}

func (s *Server) handleReferencePeriod(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.anchor().Format("2006-01-02"))
}

func (s *Server) handlePublisherTypes(w http.ResponseWriter, r *http.Request) {
	types := []collaborator.TypeDescription{
		{ID: roster.TypePublisher, Description: roster.TypePublisher.String()},
		{ID: roster.TypeRegularPioneer, Description: roster.TypeRegularPioneer.String()},
		{ID: roster.TypeAuxiliaryPioneer, Description: roster.TypeAuxiliaryPioneer.String()},
	}
	s.respond(w, http.StatusOK, types)
}

// =============================================================================
// DOCUMENT ENDPOINTS
// =============================================================================

func (s *Server) handleS21(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Year        int `json:"anio"`
		PublisherID int `json:"id_publicador"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.documentError(w, http.StatusBadRequest, "cuerpo de peticion no valido")
		return
	}
	year := serviceyear.Year(req.Year)

	if req.PublisherID != 0 {
		p, err := s.store.GetPublisher(r.Context(), roster.PublisherID(req.PublisherID))
		if err == sqlite.ErrNotFound {
			s.documentError(w, http.StatusNotFound, "publicador no encontrado")
			return
		}
		if err != nil {
			s.documentError(w, http.StatusInternalServerError, err.Error())
			return
		}
		data, err := s.buildS21(r.Context(), p, year)
		if err != nil {
			s.documentError(w, http.StatusInternalServerError, err.Error())
			return
		}
		name := fmt.Sprintf("S21_%d - %s.pdf", year, p.DisplayName())
		s.respondDocument(w, data, name, "application/pdf")
		return
	}

	// No publisher selected: one card per publisher, zipped.
	publishers, err := s.store.ListPublishers(r.Context())
	if err != nil {
		s.documentError(w, http.StatusInternalServerError, err.Error())
		return
	}
	roster.Sort(publishers)

	archive, err := zipDocuments(publishers, func(p roster.Publisher) (string, []byte, error) {
		data, err := s.buildS21(r.Context(), p, year)
		return fmt.Sprintf("S21_%d - %s.pdf", year, p.DisplayName()), data, err
	})
	if err != nil {
		s.documentError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondDocument(w, archive, fmt.Sprintf("S21_%d - Todos.zip", year), "application/zip")
}

func (s *Server) handleS21Totals(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Year   int `json:"anio"`
		TypeID int `json:"id_tipo_publicador"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.documentError(w, http.StatusBadRequest, "cuerpo de peticion no valido")
		return
	}
	year := serviceyear.Year(req.Year)

	if req.TypeID != 0 {
		typ := roster.PublisherType(req.TypeID)
		if !typ.Valid() {
			s.documentError(w, http.StatusBadRequest, "tipo de publicador no valido")
			return
		}
		data, err := s.buildS21Totals(r.Context(), typ, year)
		if err != nil {
			s.documentError(w, http.StatusInternalServerError, err.Error())
			return
		}
		name := fmt.Sprintf("S21_Totales_%d - %s.pdf", year, typ.String())
		s.respondDocument(w, data, name, "application/pdf")
		return
	}

	types := []roster.PublisherType{roster.TypePublisher, roster.TypeRegularPioneer, roster.TypeAuxiliaryPioneer}
	archive, err := zipDocuments(types, func(typ roster.PublisherType) (string, []byte, error) {
		data, err := s.buildS21Totals(r.Context(), typ, year)
		return fmt.Sprintf("S21_Totales_%d - %s.pdf", year, typ.String()), data, err
	})
	if err != nil {
		s.documentError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondDocument(w, archive, fmt.Sprintf("S21_Totales_%d - Todos.zip", year), "application/zip")
}

func (s *Server) handleS88(w http.ResponseWriter, r *http.Request) {
	yearNum, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		s.documentError(w, http.StatusBadRequest, "anio no valido")
		return
	}
	data, err := s.buildS88(r.Context(), serviceyear.Year(yearNum))
	if err != nil {
		s.documentError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondDocument(w, data, fmt.Sprintf("S88_%d.pdf", yearNum), "application/pdf")
}

func (s *Server) handleS1(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Month string `json:"month"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.documentError(w, http.StatusBadRequest, "cuerpo de peticion no valido")
		return
	}
	month, err := serviceyear.ParseMonth(req.Month)
	if err != nil {
		s.documentError(w, http.StatusBadRequest, "mes no valido")
		return
	}
	data, err := s.buildS1(r.Context(), month)
	if err != nil {
		s.documentError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondDocument(w, data, fmt.Sprintf("S1_%s.pdf", month), "application/pdf")
}

func (s *Server) handleS3(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Year        int    `json:"anio"`
		MeetingType string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.documentError(w, http.StatusBadRequest, "cuerpo de peticion no valido")
		return
	}
	if req.MeetingType != "ES" && req.MeetingType != "FS" {
		s.documentError(w, http.StatusBadRequest, "tipo de reunion no valido")
		return
	}
	data, err := s.buildS3(r.Context(), serviceyear.Year(req.Year), req.MeetingType)
	if err != nil {
		s.documentError(w, http.StatusInternalServerError, err.Error())
		return
	}
	name := fmt.Sprintf("S3_%d_%s.pdf", req.Year, req.MeetingType)
	s.respondDocument(w, data, name, "application/pdf")
}

// zipDocuments builds one archive from a document per item.
func zipDocuments[T any](items []T, build func(T) (string, []byte, error)) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, item := range items {
		name, data, err := build(item)
		if err != nil {
			return nil, err
		}
		f, err := zw.Create(name)
		if err != nil {
			return nil, err
		}
		if _, err := f.Write(data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// =============================================================================
// WIRE DTOS
// =============================================================================

type publisherDTO struct {
	ID           int    `json:"id"`
	FirstName    string `json:"nombre"`
	LastName     string `json:"apellidos"`
	BirthDate    string `json:"fecha_nacimiento,omitempty"`
	BaptismDate  string `json:"fecha_bautismo,omitempty"`
	Group        int    `json:"grupo"`
	GroupRole    int    `json:"sup_grupo,omitempty"`
	Sex          string `json:"sexo"`
	TypeID       int    `json:"id_tipo_publicador"`
	PrivilegeID  int    `json:"id_privilegio,omitempty"`
	Anointed     int    `json:"ungido,omitempty"`
	Street       string `json:"calle,omitempty"`
	Number       string `json:"num,omitempty"`
	Neighborhood string `json:"colonia,omitempty"`
	Phone        string `json:"telefono_fijo,omitempty"`
	Mobile       string `json:"telefono_movil,omitempty"`
	EmgContact   string `json:"contacto_emergencia,omitempty"`
	EmgPhone     string `json:"tel_contacto_emergencia,omitempty"`
	EmgEmail     string `json:"correo_contacto_emergencia,omitempty"`
}

func publisherToDTO(p roster.Publisher) publisherDTO {
	anointed := 0
	if p.Anointed {
		anointed = 1
	}
	return publisherDTO{
		ID:           int(p.ID),
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		BirthDate:    p.BirthDate,
		BaptismDate:  p.BaptismDate,
		Group:        p.Group,
		GroupRole:    int(p.GroupRole),
		Sex:          p.Sex,
		TypeID:       int(p.Type),
		PrivilegeID:  int(p.Privilege),
		Anointed:     anointed,
		Street:       p.Street,
		Number:       p.Number,
		Neighborhood: p.Neighborhood,
		Phone:        p.Phone,
		Mobile:       p.Mobile,
		EmgContact:   p.EmergencyContact,
		EmgPhone:     p.EmergencyPhone,
		EmgEmail:     p.EmergencyEmail,
	}
}

type reportDTO struct {
	PublisherID int    `json:"id_publicador"`
	Month       string `json:"mes"`
	Preached    int    `json:"predico_en_el_mes"`
	Hours       int    `json:"horas"`
	Courses     int    `json:"cursos_biblicos"`
	TypeID      int    `json:"id_tipo_publicador"`
	Notes       string `json:"notas,omitempty"`
}

func reportToDTO(r collaborator.MonthlyReport) reportDTO {
	preached := 0
	if r.Preached {
		preached = 1
	}
	return reportDTO{
		PublisherID: int(r.PublisherID),
		Month:       r.Month.String(),
		Preached:    preached,
		Hours:       r.Hours,
		Courses:     r.Courses,
		TypeID:      int(r.TypeAtReport),
		Notes:       r.Notes,
	}
}
