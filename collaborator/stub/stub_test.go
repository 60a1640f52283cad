package stub

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/congregation-engine/collaborator"
	"github.com/warp/congregation-engine/pdfview"
	"github.com/warp/congregation-engine/reconcile"
	"github.com/warp/congregation-engine/reports"
	"github.com/warp/congregation-engine/roster"
	"github.com/warp/congregation-engine/serviceyear"
	"github.com/warp/congregation-engine/store/sqlite"
)

// newTestService boots a seeded stub behind httptest and returns a
// real client pointed at it.
func newTestService(t *testing.T, anchor serviceyear.Month) (*collaborator.Client, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, Seed(context.Background(), store, anchor))

	srv := New(store, zap.NewNop(), WithAnchor(anchor.First()))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return collaborator.New(ts.URL), store
}

func TestRosterRoundTrip(t *testing.T) {
	anchor := serviceyear.Month{Year: 2024, Month: time.March}
	client, _ := newTestService(t, anchor)

	publishers, err := client.Roster(context.Background())
	require.NoError(t, err)
	require.Len(t, publishers, 12)

	// Wire fields survive the round trip.
	var overseer roster.Publisher
	for _, p := range publishers {
		if p.LastName == "Castillo" {
			overseer = p
		}
	}
	assert.Equal(t, "Jorge", overseer.FirstName)
	assert.Equal(t, roster.PrivilegeElder, overseer.Privilege)
	assert.Equal(t, roster.GroupRoleOverseer, overseer.GroupRole)
	assert.Equal(t, 1, overseer.Group)
}

func TestMonthlyReportAbsentMapsToNotFound(t *testing.T) {
	anchor := serviceyear.Month{Year: 2024, Month: time.March}
	client, _ := newTestService(t, anchor)

	publishers, err := client.Roster(context.Background())
	require.NoError(t, err)

	// The seed fills six months ending at the anchor; a month far in
	// the future has no report.
	future := serviceyear.Month{Year: 2030, Month: time.January}
	_, err = client.MonthlyReport(context.Background(), publishers[0].ID, future)
	assert.ErrorIs(t, err, collaborator.ErrReportNotFound)

	// A seeded month is found.
	report, err := client.MonthlyReport(context.Background(), publishers[0].ID, anchor)
	require.NoError(t, err)
	assert.Equal(t, anchor, report.Month)
	assert.True(t, report.Preached)
}

func TestReferencePeriodUsesAnchor(t *testing.T) {
	anchor := serviceyear.Month{Year: 2024, Month: time.September}
	client, _ := newTestService(t, anchor)

	got, err := client.ReferencePeriod(context.Background())
	require.NoError(t, err)
	assert.Equal(t, anchor, serviceyear.MonthOf(got))
	assert.Equal(t, serviceyear.Year(2025), serviceyear.For(got))
}

func TestPublisherTypes(t *testing.T) {
	client, _ := newTestService(t, serviceyear.Month{Year: 2024, Month: time.March})

	types, err := client.PublisherTypes(context.Background())
	require.NoError(t, err)
	require.Len(t, types, 3)
	assert.Equal(t, "Precursor Regular", types[1].Description)
}

// TestReconcileSubmitRoundTrip drives the whole monthly flow against
// the stub: open a working set, edit, submit, and confirm the service
// persisted every row.
func TestReconcileSubmitRoundTrip(t *testing.T) {
	ctx := context.Background()
	anchor := serviceyear.Month{Year: 2024, Month: time.March}
	client, store := newTestService(t, anchor)

	// GIVEN a working set for a month nobody has reported yet
	month := serviceyear.Month{Year: 2024, Month: time.May}
	session, err := reconcile.Start(ctx, client, 1, month)
	require.NoError(t, err)

	rows := session.Rows()
	require.Len(t, rows, 6) // group 1
	for _, row := range rows {
		assert.False(t, row.Seeded)
	}

	// WHEN fields are edited and the set is submitted
	require.NoError(t, session.SetField(rows[0].RowID, reconcile.FieldPreached, true))
	require.NoError(t, session.SetField(rows[0].RowID, reconcile.FieldHours, float64(52)))
	require.NoError(t, session.SetField(rows[1].RowID, reconcile.FieldPreached, true))
	require.NoError(t, session.SetField(rows[1].RowID, reconcile.FieldCourses, "2"))

	result, err := session.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, result.SuccessCount)
	assert.Zero(t, result.ErrorCount)
	assert.True(t, session.Closed())

	// THEN the edited rows landed in the store
	first, err := store.GetReport(ctx, rows[0].Publisher.ID, month)
	require.NoError(t, err)
	assert.True(t, first.Preached)
	assert.Equal(t, 52, first.Hours)

	second, err := store.GetReport(ctx, rows[1].Publisher.ID, month)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Courses)

	// AND a fresh working set for the same month is seeded from them
	again, err := reconcile.Start(ctx, client, 1, month)
	require.NoError(t, err)
	seeded := again.Rows()
	assert.True(t, seeded[0].Seeded)
	assert.Equal(t, 52, seeded[0].Hours)
}

// TestReportDocumentsRender asks the stub for every document family
// and checks each result opens in the viewer.
func TestReportDocumentsRender(t *testing.T) {
	ctx := context.Background()
	anchor := serviceyear.Month{Year: 2024, Month: time.March}
	client, _ := newTestService(t, anchor)

	publishers, err := client.Roster(ctx)
	require.NoError(t, err)

	dispatcher := reports.New(client, zap.NewNop())

	cases := []struct {
		name   string
		kind   reports.Kind
		params reports.Params
	}{
		{"individual card", reports.KindIndividual, reports.Params{PublisherID: publishers[0].ID}},
		{"totals by type", reports.KindTotalsByType, reports.Params{TypeID: roster.TypeRegularPioneer}},
		{"attendance summary", reports.KindS88, reports.Params{}},
		{"monthly statistics", reports.KindS1Statistics, reports.Params{Month: anchor}},
		{"weekly attendance", reports.KindS3Weekly, reports.Params{MeetingType: "FS"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := dispatcher.Request(ctx, tc.kind, tc.params)
			require.NoError(t, err)
			assert.False(t, result.Archive)
			assert.True(t, strings.HasSuffix(result.Filename, ".pdf"), result.Filename)

			viewer := pdfview.New(zap.NewNop())
			pages, err := viewer.Load(result.Bytes, result.Filename)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, pages, 1)
		})
	}
}

func TestIndividualAllOfKindIsArchive(t *testing.T) {
	ctx := context.Background()
	anchor := serviceyear.Month{Year: 2024, Month: time.March}
	client, _ := newTestService(t, anchor)

	dispatcher := reports.New(client, zap.NewNop())

	result, err := dispatcher.Request(ctx, reports.KindIndividual, reports.Params{})
	require.NoError(t, err)
	assert.True(t, result.Archive)
	assert.True(t, strings.HasSuffix(result.Filename, ".zip"), result.Filename)

	// One card per publisher inside.
	zr, err := zip.NewReader(bytes.NewReader(result.Bytes), int64(len(result.Bytes)))
	require.NoError(t, err)
	assert.Len(t, zr.File, 12)
}

func TestContentDispositionFilenameWins(t *testing.T) {
	ctx := context.Background()
	anchor := serviceyear.Month{Year: 2024, Month: time.March}
	client, _ := newTestService(t, anchor)

	dispatcher := reports.New(client, zap.NewNop())

	result, err := dispatcher.Request(ctx, reports.KindS88, reports.Params{Year: 2024})
	require.NoError(t, err)
	assert.Equal(t, "S88_2024.pdf", result.Filename)
}

func TestDocumentErrorComesBackVerbatim(t *testing.T) {
	ctx := context.Background()
	anchor := serviceyear.Month{Year: 2024, Month: time.March}
	client, _ := newTestService(t, anchor)

	_, err := client.Binary(ctx, "POST", "/fillpdf/get-s21",
		map[string]any{"anio": 2024, "id_publicador": 9999})
	var apiErr *collaborator.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)
	assert.Equal(t, "publicador no encontrado", apiErr.Message)
}

func TestBatchRejectsInvalidType(t *testing.T) {
	ctx := context.Background()
	anchor := serviceyear.Month{Year: 2024, Month: time.March}
	client, _ := newTestService(t, anchor)

	_, err := client.SubmitBatch(ctx, []collaborator.ReportSubmission{
		{PublisherID: 1, Month: "2024-05", Type: 9},
	})
	var apiErr *collaborator.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Message, "tipo de publicador")
}
