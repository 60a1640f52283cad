/*
Package reconcile builds and coordinates the monthly bulk-edit working
set.

PURPOSE:
  The secretary loads one field-service group for one report month and
  mass-edits everyone's report in a single screen. This package owns
  that flow end to end:

    Start      roster subset + sparse existing reports -> one Row per
               publisher, missing or failed lookups seeded with defaults
    SetField   in-memory, type-coerced edits addressed by stable row id
    Submit     the whole set as ONE batch write; state clears only on
               success
    Cancel     discard without I/O

RECONCILIATION CONTRACT:
  Exactly one Row per publisher in the selected group, always. A filed
  report seeds the editable fields; absence seeds defaults (didn't
  preach, 0 hours, 0 courses, roster type, empty notes); a transient
  lookup failure ALSO seeds defaults and bumps the warning count rather
  than aborting the batch.

  Lookups fan out with bounded concurrency (errgroup + limit). Only
  context cancellation aborts the fan-out.

OWNERSHIP:
  Rows live only inside a Session and are guarded by its mutex. There
  are no package-level variables; UI layers hold a *Session handle and
  address rows by RowID, never by slice index.

SEE ALSO:
  - collaborator: the Source implementation used in production
  - api: HTTP surface over sessions
*/
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/congregation-engine/collaborator"
	"github.com/warp/congregation-engine/roster"
	"github.com/warp/congregation-engine/serviceyear"
)

// DefaultLookupLimit bounds the per-publisher report lookup fan-out.
const DefaultLookupLimit = 4

// Source is the slice of the records service a session needs.
// *collaborator.Client satisfies it.
type Source interface {
	Roster(ctx context.Context) ([]roster.Publisher, error)
	MonthlyReport(ctx context.Context, id roster.PublisherID, month serviceyear.Month) (*collaborator.MonthlyReport, error)
	SubmitBatch(ctx context.Context, rows []collaborator.ReportSubmission) (collaborator.BatchResult, error)
}

// Row is one publisher's editable working record for the session month.
type Row struct {
	RowID     string
	Publisher roster.Publisher
	Tier      roster.Tier
	Seeded    bool // true when an existing report seeded the fields

	Preached bool
	Hours    int
	Courses  int
	Type     roster.PublisherType
	Notes    string
}

// Session owns one group/month working set. All methods are safe for
// concurrent use; edits are rejected while a submit is in flight.
type Session struct {
	ID    string
	Group int
	Month serviceyear.Month

	src Source
	log *zap.Logger

	mu         sync.Mutex
	rows       []*Row
	byID       map[string]*Row
	warnings   int
	submitting atomic.Bool
	closed     bool
}

// Option configures Start.
type Option func(*settings)

type settings struct {
	limit int
	log   *zap.Logger
}

// WithLookupLimit overrides the lookup fan-out bound.
func WithLookupLimit(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *settings) { s.log = log }
}

// Start fetches the roster, reconciles it against existing reports for
// the month and returns a live session. Group 0 selects the whole
// roster.
func Start(ctx context.Context, src Source, group int, month serviceyear.Month, opts ...Option) (*Session, error) {
	cfg := settings{limit: DefaultLookupLimit, log: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	publishers, err := src.Roster(ctx)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	subset := roster.FilterGroup(publishers, group)
	roster.Sort(subset)

	rows, warnings, err := reconcile(ctx, src, subset, month, cfg.limit, cfg.log)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:       uuid.NewString(),
		Group:    group,
		Month:    month,
		src:      src,
		log:      cfg.log,
		rows:     rows,
		byID:     make(map[string]*Row, len(rows)),
		warnings: warnings,
	}
	for _, row := range rows {
		s.byID[row.RowID] = row
	}

	cfg.log.Info("bulk-edit session started",
		zap.String("session", s.ID),
		zap.Int("group", group),
		zap.String("month", month.String()),
		zap.Int("rows", len(rows)),
		zap.Int("warnings", warnings))
	return s, nil
}

// reconcile looks up each publisher's report with bounded concurrency.
// Results land in roster order regardless of completion order.
func reconcile(ctx context.Context, src Source, publishers []roster.Publisher, month serviceyear.Month, limit int, log *zap.Logger) ([]*Row, int, error) {
	found := make([]*collaborator.MonthlyReport, len(publishers))
	var warnings atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, p := range publishers {
		i, p := i, p
		g.Go(func() error {
			report, err := src.MonthlyReport(gctx, p.ID, month)
			switch {
			case err == nil:
				found[i] = report
			case errors.Is(err, collaborator.ErrReportNotFound):
				// Expected: unreported month, defaults apply.
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				// Transient failure: this row falls back to defaults.
				warnings.Add(1)
				log.Warn("report lookup failed, seeding defaults",
					zap.Int("publisher", int(p.ID)),
					zap.String("month", month.String()),
					zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	rows := make([]*Row, len(publishers))
	for i, p := range publishers {
		row := &Row{
			RowID:     uuid.NewString(),
			Publisher: p,
			Tier:      roster.TierOf(p.Type),
			Type:      p.Type,
		}
		if report := found[i]; report != nil {
			row.Seeded = true
			row.Preached = report.Preached
			row.Hours = report.Hours
			row.Courses = report.Courses
			row.Type = report.TypeAtReport
			row.Notes = report.Notes
		}
		rows[i] = row
	}
	return rows, int(warnings.Load()), nil
}

// Rows returns a snapshot of the working set in display order.
func (s *Session) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, len(s.rows))
	for i, row := range s.rows {
		out[i] = *row
	}
	return out
}

// Warnings returns how many lookups fell back to defaults because of
// transient failures.
func (s *Session) Warnings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.warnings
}

// TierBoundaries returns the row indices where a new tier starts, so
// list renderers can draw section separators. Index 0 is always a
// boundary for a non-empty set.
func (s *Session) TierBoundaries() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var bounds []int
	for i, row := range s.rows {
		if i == 0 || row.Tier != s.rows[i-1].Tier {
			bounds = append(bounds, i)
		}
	}
	return bounds
}

// Editable field names.
const (
	FieldPreached = "preached"
	FieldHours    = "hours"
	FieldCourses  = "courses"
	FieldType     = "type"
	FieldNotes    = "notes"
)

// SetField applies one in-memory edit. Values arrive as whatever the
// transport produced (JSON bools, float64 numbers, strings) and are
// coerced per field; anything that does not coerce is rejected with a
// *ValidationError and the row is left unchanged.
func (s *Session) SetField(rowID, field string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.submitting.Load() {
		return ErrSubmitInFlight
	}
	row, ok := s.byID[rowID]
	if !ok {
		return ErrRowNotFound
	}

	switch field {
	case FieldPreached:
		b, err := coerceBool(value)
		if err != nil {
			return &ValidationError{Field: field, Value: value, Reason: err.Error()}
		}
		row.Preached = b
	case FieldHours:
		n, err := coerceCount(value)
		if err != nil {
			return &ValidationError{Field: field, Value: value, Reason: err.Error()}
		}
		row.Hours = n
	case FieldCourses:
		n, err := coerceCount(value)
		if err != nil {
			return &ValidationError{Field: field, Value: value, Reason: err.Error()}
		}
		row.Courses = n
	case FieldType:
		t, err := coerceType(value)
		if err != nil {
			return &ValidationError{Field: field, Value: value, Reason: err.Error()}
		}
		row.Type = t
	case FieldNotes:
		text, ok := value.(string)
		if !ok {
			return &ValidationError{Field: field, Value: value, Reason: "expected text"}
		}
		row.Notes = text
	default:
		return &ValidationError{Field: field, Value: value, Reason: "unknown field"}
	}
	return nil
}

// Submit sends the whole working set as one batch. On success the
// session clears and closes; on failure every row is retained for
// retry. Edits are rejected while the write is outstanding.
func (s *Session) Submit(ctx context.Context) (collaborator.BatchResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return collaborator.BatchResult{}, ErrSessionClosed
	}
	if !s.submitting.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return collaborator.BatchResult{}, ErrSubmitInFlight
	}

	payload := make([]collaborator.ReportSubmission, len(s.rows))
	for i, row := range s.rows {
		payload[i] = collaborator.NewSubmission(collaborator.MonthlyReport{
			PublisherID:  row.Publisher.ID,
			Month:        s.Month,
			Preached:     row.Preached,
			Hours:        row.Hours,
			Courses:      row.Courses,
			TypeAtReport: row.Type,
			Notes:        row.Notes,
		})
	}
	s.mu.Unlock()

	result, err := s.src.SubmitBatch(ctx, payload)
	s.submitting.Store(false)

	if err != nil {
		s.log.Warn("batch submit failed, working set retained",
			zap.String("session", s.ID), zap.Error(err))
		return collaborator.BatchResult{}, &BatchSubmitError{Err: err}
	}
	if result.ErrorCount > 0 {
		err := fmt.Errorf("service accepted %d of %d rows", result.SuccessCount, len(payload))
		s.log.Warn("batch submit partially rejected, working set retained",
			zap.String("session", s.ID), zap.Error(err))
		return result, &BatchSubmitError{Err: err}
	}

	s.mu.Lock()
	s.clearLocked()
	s.mu.Unlock()
	s.log.Info("batch submitted",
		zap.String("session", s.ID),
		zap.Int("rows", result.SuccessCount))
	return result, nil
}

// Cancel discards the working set without any I/O. A cancel while a
// batch write is outstanding is rejected, so a failed submit still
// finds every row in place for retry.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.submitting.Load() {
		return ErrSubmitInFlight
	}
	s.clearLocked()
	s.log.Info("bulk-edit session cancelled", zap.String("session", s.ID))
	return nil
}

// Closed reports whether the session has been submitted or cancelled.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) clearLocked() {
	s.rows = nil
	s.byID = map[string]*Row{}
	s.closed = true
}

// =============================================================================
// FIELD COERCION
// =============================================================================

func coerceBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case float64:
		return val != 0, nil
	case int:
		return val != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "true", "si", "sí":
			return true, nil
		case "0", "false", "no", "":
			return false, nil
		}
		return false, fmt.Errorf("expected a boolean, got %q", val)
	default:
		return false, fmt.Errorf("expected a boolean")
	}
}

func coerceCount(v any) (int, error) {
	var n int
	switch val := v.(type) {
	case int:
		n = val
	case float64:
		if val != float64(int(val)) {
			return 0, fmt.Errorf("expected a whole number")
		}
		n = int(val)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, fmt.Errorf("expected a number, got %q", val)
		}
		n = parsed
	default:
		return 0, fmt.Errorf("expected a number")
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return n, nil
}

func coerceType(v any) (roster.PublisherType, error) {
	var t roster.PublisherType
	switch val := v.(type) {
	case int:
		t = roster.PublisherType(val)
	case float64:
		t = roster.PublisherType(int(val))
	case roster.PublisherType:
		t = val
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, fmt.Errorf("unknown publisher type %q", val)
		}
		t = roster.PublisherType(parsed)
	default:
		return 0, fmt.Errorf("unknown publisher type")
	}
	if !t.Valid() {
		return 0, fmt.Errorf("unknown publisher type %d", int(t))
	}
	return t, nil
}

