package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/congregation-engine/collaborator"
	"github.com/warp/congregation-engine/reconcile"
	"github.com/warp/congregation-engine/roster"
	"github.com/warp/congregation-engine/serviceyear"
)

// =============================================================================
// FAKE SOURCE
// =============================================================================

type fakeSource struct {
	mu            sync.Mutex
	roster        []roster.Publisher
	reports       map[roster.PublisherID]*collaborator.MonthlyReport
	failIDs       map[roster.PublisherID]bool // lookups that fail transiently
	submitted     [][]collaborator.ReportSubmission
	submitErr     error
	submitStarted chan struct{} // receives once per batch write, before it parks
	submitGate    chan struct{} // batch writes wait here until closed
}

func (f *fakeSource) Roster(ctx context.Context) ([]roster.Publisher, error) {
	return f.roster, nil
}

func (f *fakeSource) MonthlyReport(ctx context.Context, id roster.PublisherID, month serviceyear.Month) (*collaborator.MonthlyReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[id] {
		return nil, &collaborator.TransientError{Op: "get informe", Err: errors.New("connection reset")}
	}
	report, ok := f.reports[id]
	if !ok {
		return nil, collaborator.ErrReportNotFound
	}
	return report, nil
}

func (f *fakeSource) SubmitBatch(ctx context.Context, rows []collaborator.ReportSubmission) (collaborator.BatchResult, error) {
	if f.submitStarted != nil {
		f.submitStarted <- struct{}{}
	}
	if f.submitGate != nil {
		<-f.submitGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return collaborator.BatchResult{}, f.submitErr
	}
	f.submitted = append(f.submitted, rows)
	return collaborator.BatchResult{SuccessCount: len(rows)}, nil
}

var march = serviceyear.Month{Year: 2024, Month: 3}

func fivePublishers() []roster.Publisher {
	return []roster.Publisher{
		{ID: 1, LastName: "Alonso", FirstName: "Pedro", Group: 1, Type: roster.TypePublisher},
		{ID: 2, LastName: "García", FirstName: "Ana", Group: 1, Type: roster.TypeRegularPioneer},
		{ID: 3, LastName: "Luna", FirstName: "Raúl", Group: 1, Type: roster.TypePublisher},
		{ID: 4, LastName: "Mora", FirstName: "Eva", Group: 1, Type: roster.TypeAuxiliaryPioneer},
		{ID: 5, LastName: "Zamora", FirstName: "Luis", Group: 1, Type: roster.TypePublisher},
	}
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestStart_OneRowPerPublisher(t *testing.T) {
	// GIVEN: Five publishers, only one with an existing report
	// WHEN: Starting a session
	// THEN: Exactly five rows come back, regardless of sparse records
	src := &fakeSource{
		roster: fivePublishers(),
		reports: map[roster.PublisherID]*collaborator.MonthlyReport{
			2: {PublisherID: 2, Month: march, Preached: true, Hours: 50, Courses: 3, TypeAtReport: roster.TypeRegularPioneer, Notes: "ok"},
		},
	}

	s, err := reconcile.Start(context.Background(), src, 1, march)
	require.NoError(t, err)

	rows := s.Rows()
	require.Len(t, rows, 5)
	assert.Zero(t, s.Warnings())
}

func TestStart_ExistingReportSeedsFields(t *testing.T) {
	// Round-trip: the seeded row's editable fields equal the record's.
	src := &fakeSource{
		roster: fivePublishers(),
		reports: map[roster.PublisherID]*collaborator.MonthlyReport{
			2: {PublisherID: 2, Month: march, Preached: true, Hours: 50, Courses: 3, TypeAtReport: roster.TypeAuxiliaryPioneer, Notes: "visita"},
		},
	}

	s, err := reconcile.Start(context.Background(), src, 1, march)
	require.NoError(t, err)

	var seeded *reconcile.Row
	for _, row := range s.Rows() {
		if row.Publisher.ID == 2 {
			r := row
			seeded = &r
		}
	}
	require.NotNil(t, seeded)
	assert.True(t, seeded.Seeded)
	assert.True(t, seeded.Preached)
	assert.Equal(t, 50, seeded.Hours)
	assert.Equal(t, 3, seeded.Courses)
	assert.Equal(t, roster.TypeAuxiliaryPioneer, seeded.Type)
	assert.Equal(t, "visita", seeded.Notes)
}

func TestStart_AbsentReportSeedsDefaults(t *testing.T) {
	src := &fakeSource{roster: fivePublishers()}

	s, err := reconcile.Start(context.Background(), src, 1, march)
	require.NoError(t, err)

	for _, row := range s.Rows() {
		assert.False(t, row.Seeded)
		assert.False(t, row.Preached)
		assert.Zero(t, row.Hours)
		assert.Zero(t, row.Courses)
		assert.Empty(t, row.Notes)
		assert.Equal(t, row.Publisher.Type, row.Type, "type defaults to roster type")
	}
}

func TestStart_TransientFailureDefaultsThatRowOnly(t *testing.T) {
	// GIVEN: One of five lookups fails transiently
	// THEN: Still five rows; the failing one at defaults; one warning
	src := &fakeSource{
		roster: fivePublishers(),
		reports: map[roster.PublisherID]*collaborator.MonthlyReport{
			1: {PublisherID: 1, Month: march, Preached: true, Hours: 8, TypeAtReport: roster.TypePublisher},
		},
		failIDs: map[roster.PublisherID]bool{3: true},
	}

	s, err := reconcile.Start(context.Background(), src, 1, march)
	require.NoError(t, err)

	rows := s.Rows()
	require.Len(t, rows, 5)
	assert.Equal(t, 1, s.Warnings())

	for _, row := range rows {
		if row.Publisher.ID == 3 {
			assert.False(t, row.Seeded, "failed lookup falls back to defaults")
			assert.Zero(t, row.Hours)
		}
		if row.Publisher.ID == 1 {
			assert.True(t, row.Seeded)
		}
	}
}

func TestStart_RowsInTieredOrder(t *testing.T) {
	// Pioneers (García, Mora) precede publishers (Alonso, Luna, Zamora).
	src := &fakeSource{roster: fivePublishers()}

	s, err := reconcile.Start(context.Background(), src, 1, march)
	require.NoError(t, err)

	rows := s.Rows()
	var lastNames []string
	for _, row := range rows {
		lastNames = append(lastNames, row.Publisher.LastName)
	}
	assert.Equal(t, []string{"García", "Mora", "Alonso", "Luna", "Zamora"}, lastNames)

	assert.Equal(t, []int{0, 2}, s.TierBoundaries(), "separator before each tier")
}

func TestStart_GroupFilter(t *testing.T) {
	pubs := fivePublishers()
	pubs[4].Group = 2
	src := &fakeSource{roster: pubs}

	s, err := reconcile.Start(context.Background(), src, 1, march)
	require.NoError(t, err)
	assert.Len(t, s.Rows(), 4)
}

// =============================================================================
// EDITS
// =============================================================================

func startSession(t *testing.T, src *fakeSource) *reconcile.Session {
	t.Helper()
	s, err := reconcile.Start(context.Background(), src, 1, march)
	require.NoError(t, err)
	return s
}

func TestSetField_CoercesPerField(t *testing.T) {
	src := &fakeSource{roster: fivePublishers()}
	s := startSession(t, src)
	row := s.Rows()[0]

	// JSON transports hand numbers over as float64 and flags as bool.
	require.NoError(t, s.SetField(row.RowID, reconcile.FieldPreached, true))
	require.NoError(t, s.SetField(row.RowID, reconcile.FieldHours, float64(42)))
	require.NoError(t, s.SetField(row.RowID, reconcile.FieldCourses, "2"))
	require.NoError(t, s.SetField(row.RowID, reconcile.FieldType, float64(3)))
	require.NoError(t, s.SetField(row.RowID, reconcile.FieldNotes, "ayudó en asamblea"))

	got := s.Rows()[0]
	assert.True(t, got.Preached)
	assert.Equal(t, 42, got.Hours)
	assert.Equal(t, 2, got.Courses)
	assert.Equal(t, roster.TypeAuxiliaryPioneer, got.Type)
	assert.Equal(t, "ayudó en asamblea", got.Notes)
}

func TestSetField_RejectsBadValues_RowUnchanged(t *testing.T) {
	src := &fakeSource{roster: fivePublishers()}
	s := startSession(t, src)
	row := s.Rows()[0]

	cases := []struct {
		field string
		value any
	}{
		{reconcile.FieldHours, -3},
		{reconcile.FieldHours, "muchas"},
		{reconcile.FieldCourses, 1.5},
		{reconcile.FieldType, 9},
		{reconcile.FieldPreached, "tal vez"},
		{"grupo", 2}, // roster-only field, not editable
	}
	for _, tc := range cases {
		err := s.SetField(row.RowID, tc.field, tc.value)
		var vErr *reconcile.ValidationError
		assert.ErrorAs(t, err, &vErr, "field %s value %v", tc.field, tc.value)
	}

	got := s.Rows()[0]
	assert.Equal(t, row, got, "rejected edits leave the row unchanged")
}

func TestSetField_UnknownRow(t *testing.T) {
	src := &fakeSource{roster: fivePublishers()}
	s := startSession(t, src)

	err := s.SetField("no-such-row", reconcile.FieldHours, 1)
	assert.ErrorIs(t, err, reconcile.ErrRowNotFound)
}

// =============================================================================
// SUBMIT / CANCEL
// =============================================================================

func TestSubmit_AllValid_ClearsWorkingSet(t *testing.T) {
	// GIVEN: A batch of five edited rows
	// WHEN: Submitting
	// THEN: successCount=5, errorCount=0, and no rows remain
	src := &fakeSource{roster: fivePublishers()}
	s := startSession(t, src)

	for _, row := range s.Rows() {
		require.NoError(t, s.SetField(row.RowID, reconcile.FieldPreached, true))
		require.NoError(t, s.SetField(row.RowID, reconcile.FieldHours, 10))
	}

	result, err := s.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, result.SuccessCount)
	assert.Zero(t, result.ErrorCount)

	assert.Empty(t, s.Rows())
	assert.True(t, s.Closed())

	// Exactly one payload per working row, roster fields stripped.
	require.Len(t, src.submitted, 1)
	batch := src.submitted[0]
	require.Len(t, batch, 5)
	seen := map[roster.PublisherID]bool{}
	for _, sub := range batch {
		assert.False(t, seen[sub.PublisherID], "publisher appears once per batch")
		seen[sub.PublisherID] = true
		assert.Equal(t, march.String(), sub.Month)
		assert.Equal(t, 1, sub.Preached)
		assert.Equal(t, 10, sub.Hours)
	}
}

func TestSubmit_Failure_RetainsRowsForRetry(t *testing.T) {
	src := &fakeSource{
		roster:    fivePublishers(),
		submitErr: errors.New("service unavailable"),
	}
	s := startSession(t, src)

	_, err := s.Submit(context.Background())
	var batchErr *reconcile.BatchSubmitError
	require.ErrorAs(t, err, &batchErr)

	assert.Len(t, s.Rows(), 5, "failed submit never clears state")
	assert.False(t, s.Closed())

	// Retry succeeds after the outage clears.
	src.mu.Lock()
	src.submitErr = nil
	src.mu.Unlock()

	result, err := s.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, result.SuccessCount)
	assert.True(t, s.Closed())
}

func TestSubmit_AfterClose_Rejected(t *testing.T) {
	src := &fakeSource{roster: fivePublishers()}
	s := startSession(t, src)

	_, err := s.Submit(context.Background())
	require.NoError(t, err)

	_, err = s.Submit(context.Background())
	assert.ErrorIs(t, err, reconcile.ErrSessionClosed)
	assert.ErrorIs(t, s.SetField("any", reconcile.FieldHours, 1), reconcile.ErrSessionClosed)
}

func TestCancel_DiscardsWithoutIO(t *testing.T) {
	src := &fakeSource{roster: fivePublishers()}
	s := startSession(t, src)

	require.NoError(t, s.Cancel())

	assert.True(t, s.Closed())
	assert.Empty(t, s.Rows())
	assert.Empty(t, src.submitted, "cancel performs no writes")
}

func TestCancel_DuringSubmit_Rejected(t *testing.T) {
	// GIVEN: A batch write parked at the service, about to fail
	started := make(chan struct{})
	gate := make(chan struct{})
	src := &fakeSource{
		roster:        fivePublishers(),
		submitStarted: started,
		submitGate:    gate,
		submitErr:     &collaborator.TransientError{Op: "batch", Err: errors.New("connection reset")},
	}
	s := startSession(t, src)
	rowID := s.Rows()[0].RowID

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background())
		done <- err
	}()
	<-started

	// WHEN: Cancelling and editing while the write is outstanding
	assert.ErrorIs(t, s.Cancel(), reconcile.ErrSubmitInFlight)
	assert.ErrorIs(t, s.SetField(rowID, reconcile.FieldHours, 10), reconcile.ErrSubmitInFlight)

	// THEN: The failed write still finds every row in place for retry
	close(gate)
	var batchErr *reconcile.BatchSubmitError
	require.ErrorAs(t, <-done, &batchErr)
	assert.False(t, s.Closed())
	assert.Len(t, s.Rows(), 5)

	src.submitStarted = nil
	src.submitGate = nil
	src.submitErr = nil
	result, err := s.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, result.SuccessCount)
	assert.True(t, s.Closed())
}
