/*
Package reports builds and dispatches report generation requests.

PURPOSE:
  The records service assembles every derived document (S-21 record
  cards, S-88 attendance summary, S-1 monthly statistics, S-3 weekly
  attendance); this package only knows how to ask for them and what to
  call the bytes that come back.

KINDS:
  Individual    S-21 for one publisher        POST /fillpdf/get-s21
  TotalsByType  S-21 across one type          POST /fillpdf/get-s21-totales
  S88           year summary                  GET  /fillpdf/get-s88/{year}
  S1Statistics  monthly statistics            POST /secretario/s1
  S3Weekly      weekly attendance by year     POST /secretario/s3

  The S-88 endpoint is read-shaped; the dispatcher tolerates both
  transport shapes behind one Request call.

YEAR DEFAULTING:
  A zero Params.Year is replaced with the current service year derived
  from the collaborator's reporting anchor; if the anchor itself cannot
  be fetched, the local clock seeds the same rule. Both paths go
  through serviceyear.For, so every screen agrees on the year. The
  month-keyed S-1 defaults a zero Params.Month from the same anchor.

FILENAMES:
  A Content-Disposition filename from the service wins. Otherwise a
  deterministic name is built from the kind, the year and the caller's
  label, with a .zip extension when the request selects "all of a kind"
  (the service replies with an archive rather than one document).
*/
package reports

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warp/congregation-engine/collaborator"
	"github.com/warp/congregation-engine/roster"
	"github.com/warp/congregation-engine/serviceyear"
)

// Kind names one report document family.
type Kind string

const (
	KindIndividual   Kind = "s21"
	KindTotalsByType Kind = "s21-totales"
	KindS88          Kind = "s88"
	KindS1Statistics Kind = "s1"
	KindS3Weekly     Kind = "s3"
)

// Valid reports whether k is a known report kind.
func (k Kind) Valid() bool {
	switch k {
	case KindIndividual, KindTotalsByType, KindS88, KindS1Statistics, KindS3Weekly:
		return true
	}
	return false
}

// Params selects what to generate. Year 0 means "current service
// year". A zero PublisherID (Individual) or TypeID (TotalsByType)
// selects all of that kind and yields an archive.
type Params struct {
	Year        int
	PublisherID roster.PublisherID
	TypeID      roster.PublisherType
	Month       serviceyear.Month // S1Statistics only
	MeetingType string            // S3Weekly: "ES" or "FS"
	Label       string            // display label for fallback filenames
}

// Result is a generated document ready to hand to a viewer or to save.
type Result struct {
	Bytes    []byte
	Filename string
	Archive  bool
}

// Requester is the transport slice the dispatcher needs;
// *collaborator.Client satisfies it.
type Requester interface {
	Binary(ctx context.Context, method, path string, body any) (*collaborator.BinaryResponse, error)
	ReferencePeriod(ctx context.Context) (time.Time, error)
}

// Dispatcher builds parameterized report requests.
type Dispatcher struct {
	src Requester
	log *zap.Logger
}

// New creates a dispatcher over the given transport.
func New(src Requester, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{src: src, log: log}
}

// Request generates one report. A service-reported failure comes back
// as *collaborator.APIError with the service's message verbatim; the
// error body is never treated as document bytes.
func (d *Dispatcher) Request(ctx context.Context, kind Kind, params Params) (*Result, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown report kind %q", kind)
	}

	if params.Year == 0 && kind != KindS1Statistics {
		params.Year = d.resolveYear(ctx)
	}
	if kind == KindS1Statistics && params.Month == (serviceyear.Month{}) {
		params.Month = d.resolveMonth(ctx)
	}

	method, path, body, archive := buildRequest(kind, params)

	resp, err := d.src.Binary(ctx, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", kind, err)
	}

	filename := resp.Filename
	if filename == "" {
		filename = fallbackFilename(kind, params, archive)
	}

	d.log.Info("report generated",
		zap.String("kind", string(kind)),
		zap.Int("year", params.Year),
		zap.String("filename", filename),
		zap.Bool("archive", archive))
	return &Result{Bytes: resp.Bytes, Filename: filename, Archive: archive}, nil
}

// resolveYear derives the current service year, preferring the
// collaborator's reporting anchor over the local clock.
func (d *Dispatcher) resolveYear(ctx context.Context) int {
	anchor, err := d.src.ReferencePeriod(ctx)
	if err != nil {
		d.log.Warn("reference period unavailable, using local clock", zap.Error(err))
		return int(serviceyear.Current())
	}
	return int(serviceyear.For(anchor))
}

// resolveMonth derives the current reporting month for the month-keyed
// S-1 statistics, with the same anchor-then-clock preference.
func (d *Dispatcher) resolveMonth(ctx context.Context) serviceyear.Month {
	anchor, err := d.src.ReferencePeriod(ctx)
	if err != nil {
		d.log.Warn("reference period unavailable, using local clock", zap.Error(err))
		return serviceyear.MonthOf(time.Now())
	}
	return serviceyear.MonthOf(anchor)
}

func buildRequest(kind Kind, params Params) (method, path string, body any, archive bool) {
	switch kind {
	case KindIndividual:
		payload := map[string]any{"anio": params.Year}
		if params.PublisherID != 0 {
			payload["id_publicador"] = int(params.PublisherID)
		}
		return http.MethodPost, "/fillpdf/get-s21", payload, params.PublisherID == 0

	case KindTotalsByType:
		payload := map[string]any{"anio": params.Year}
		if params.TypeID != 0 {
			payload["id_tipo_publicador"] = int(params.TypeID)
		}
		return http.MethodPost, "/fillpdf/get-s21-totales", payload, params.TypeID == 0

	case KindS88:
		return http.MethodGet, fmt.Sprintf("/fillpdf/get-s88/%d", params.Year), nil, false

	case KindS1Statistics:
		return http.MethodPost, "/secretario/s1", map[string]any{
			"month": params.Month.First().Format("2006-01-02"),
		}, false

	default: // KindS3Weekly
		return http.MethodPost, "/secretario/s3", map[string]any{
			"anio": params.Year,
			"type": params.MeetingType,
		}, false
	}
}

// fallbackFilename builds the deterministic name used when the service
// supplies no Content-Disposition.
func fallbackFilename(kind Kind, params Params, archive bool) string {
	ext := "pdf"
	if archive {
		ext = "zip"
	}
	switch kind {
	case KindIndividual:
		return fmt.Sprintf("S21_%d - %s.%s", params.Year, labelOr(params.Label, "Todos"), ext)
	case KindTotalsByType:
		return fmt.Sprintf("S21_Totales_%d - %s.%s", params.Year, labelOr(params.Label, "Todos"), ext)
	case KindS88:
		return fmt.Sprintf("S88_%d.pdf", params.Year)
	case KindS1Statistics:
		return fmt.Sprintf("S1_%s.pdf", params.Month)
	default:
		return fmt.Sprintf("S3_%d_%s.pdf", params.Year, params.MeetingType)
	}
}

func labelOr(label, fallback string) string {
	if label == "" {
		return fallback
	}
	return label
}
