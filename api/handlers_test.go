package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/congregation-engine/collaborator"
	"github.com/warp/congregation-engine/collaborator/stub"
	"github.com/warp/congregation-engine/serviceyear"
	"github.com/warp/congregation-engine/store/sqlite"
)

// newTestAPI wires the full chain: API router -> client -> stub
// records service -> SQLite.
func newTestAPI(t *testing.T) *httptest.Server {
	ts, _ := newTestChain(t)
	return ts
}

func newTestChain(t *testing.T) (*httptest.Server, *Handler) {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	anchor := serviceyear.Month{Year: 2024, Month: time.March}
	require.NoError(t, stub.Seed(context.Background(), store, anchor))

	upstream := httptest.NewServer(stub.New(store, zap.NewNop(), stub.WithAnchor(anchor.First())).Router())
	t.Cleanup(upstream.Close)

	handler := NewHandler(collaborator.New(upstream.URL), zap.NewNop(), 4)
	ts := httptest.NewServer(NewRouter(handler))
	t.Cleanup(ts.Close)
	return ts, handler
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func postJSON(t *testing.T, url string, body, out any) *http.Response {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(encoded))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func doJSON(t *testing.T, method, url string, body, out any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestGetServiceYear(t *testing.T) {
	ts := newTestAPI(t)

	t.Run("explicit date", func(t *testing.T) {
		var dto ServiceYearDTO
		resp := getJSON(t, ts.URL+"/api/service-year?date=2024-09-01", &dto)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 2025, dto.Year)
		assert.Equal(t, "2024-09-01", dto.Start)
		assert.Equal(t, "2025-08-31", dto.End)
		require.Len(t, dto.Months, 12)
		assert.Equal(t, "2024-09", dto.Months[0].Month)
		assert.Equal(t, "2025-08", dto.Months[11].Month)
	})

	t.Run("defaults to reporting anchor", func(t *testing.T) {
		var dto ServiceYearDTO
		getJSON(t, ts.URL+"/api/service-year", &dto)
		// Anchor is March 2024, so the service year is 2024.
		assert.Equal(t, 2024, dto.Year)
	})

	t.Run("bad date", func(t *testing.T) {
		resp := getJSON(t, ts.URL+"/api/service-year?date=nope", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestAPI(t)

	// Start a working set for group 1, an unreported month.
	var session SessionDTO
	resp := postJSON(t, ts.URL+"/api/sessions", map[string]any{"group": 1, "month": "2024-05"}, &session)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, session.Rows, 6)
	assert.Equal(t, "mayo de 2024", session.MonthLabel)
	assert.Zero(t, session.Warnings)

	// Pioneers sort ahead of publishers.
	assert.Equal(t, 0, session.Rows[0].Tier)
	assert.Equal(t, []int{0, 2}, session.TierBoundaries)

	// Edit two fields on the first row.
	row := session.Rows[0]
	editURL := fmt.Sprintf("%s/api/sessions/%s/rows/%s", ts.URL, session.SessionID, row.RowID)
	var updated SessionDTO
	resp = doJSON(t, http.MethodPatch, editURL, map[string]any{"field": "hours", "value": 52}, &updated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 52, updated.Rows[0].Hours)

	resp = doJSON(t, http.MethodPatch, editURL, map[string]any{"field": "preached", "value": true}, &updated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, updated.Rows[0].Preached)

	// A bad value is rejected and the row stays put.
	resp = doJSON(t, http.MethodPatch, editURL, map[string]any{"field": "hours", "value": -1}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	getJSON(t, ts.URL+"/api/sessions/"+session.SessionID, &updated)
	assert.Equal(t, 52, updated.Rows[0].Hours)

	// Submit lands every row and closes the session.
	var result SubmitResultDTO
	resp = postJSON(t, ts.URL+"/api/sessions/"+session.SessionID+"/submit", map[string]any{}, &result)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 6, result.SuccessCount)
	assert.Zero(t, result.ErrorCount)

	resp = getJSON(t, ts.URL+"/api/sessions/"+session.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// A fresh session for the same month is seeded from the submit.
	var again SessionDTO
	postJSON(t, ts.URL+"/api/sessions", map[string]any{"group": 1, "month": "2024-05"}, &again)
	assert.True(t, again.Rows[0].Seeded)
	assert.Equal(t, 52, again.Rows[0].Hours)
}

func TestCancelSessionDiscardsEdits(t *testing.T) {
	ts := newTestAPI(t)

	var session SessionDTO
	postJSON(t, ts.URL+"/api/sessions", map[string]any{"group": 2, "month": "2024-06"}, &session)

	resp := doJSON(t, http.MethodDelete, ts.URL+"/api/sessions/"+session.SessionID, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Nothing was written: a new session shows unseeded rows.
	var again SessionDTO
	postJSON(t, ts.URL+"/api/sessions", map[string]any{"group": 2, "month": "2024-06"}, &again)
	for _, row := range again.Rows {
		assert.False(t, row.Seeded)
	}
}

func TestSessionBadMonth(t *testing.T) {
	ts := newTestAPI(t)
	resp := postJSON(t, ts.URL+"/api/sessions", map[string]any{"group": 1, "month": "05-2024"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerateReportStreamsDocument(t *testing.T) {
	ts := newTestAPI(t)

	encoded, _ := json.Marshal(map[string]any{"year": 2024})
	resp, err := http.Post(ts.URL+"/api/reports/s88", "application/json", bytes.NewReader(encoded))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "S88_2024.pdf")
}

func TestGenerateReportUnknownKind(t *testing.T) {
	ts := newTestAPI(t)
	resp := postJSON(t, ts.URL+"/api/reports/s99", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIdleStateIsSweptOnInsert(t *testing.T) {
	ts, handler := newTestChain(t)

	var clockMu sync.Mutex
	current := time.Now()
	handler.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return current
	}
	handler.idleTTL = 30 * time.Minute

	// GIVEN: A session and a viewer left untouched past the idle TTL
	var session SessionDTO
	resp := postJSON(t, ts.URL+"/api/sessions", map[string]any{"group": 1, "month": "2024-05"}, &session)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var viewer ViewerDTO
	resp = postJSON(t, ts.URL+"/api/viewers/s21?width=1224",
		map[string]any{"year": 2024, "publisherId": session.Rows[0].PublisherID}, &viewer)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	clockMu.Lock()
	current = current.Add(time.Hour)
	clockMu.Unlock()

	// WHEN: A later insert triggers the sweep
	var fresh SessionDTO
	resp = postJSON(t, ts.URL+"/api/sessions", map[string]any{"group": 2, "month": "2024-05"}, &fresh)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// THEN: The abandoned entries are gone, the fresh one is not
	resp = getJSON(t, ts.URL+"/api/sessions/"+session.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = getJSON(t, ts.URL+"/api/viewers/"+viewer.ViewerID+"/page/1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = getJSON(t, ts.URL+"/api/sessions/"+fresh.SessionID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestViewerOnGeneratedCard(t *testing.T) {
	ts := newTestAPI(t)

	var session SessionDTO
	postJSON(t, ts.URL+"/api/sessions", map[string]any{"group": 1, "month": "2024-03"}, &session)
	publisherID := session.Rows[0].PublisherID

	// The viewer route reuses the report request body.
	var viewer ViewerDTO
	resp := postJSON(t, ts.URL+"/api/viewers/s21?width=1224",
		map[string]any{"year": 2024, "publisherId": publisherID}, &viewer)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, viewer.ViewerID)
	assert.GreaterOrEqual(t, viewer.Render.PageCount, 1)
	assert.Equal(t, 1, viewer.Render.Page)
	// Letter page is 612pt wide; the 1224 container doubles it.
	assert.InDelta(t, 2.0, viewer.Render.Scale, 0.01)
	assert.False(t, viewer.Render.CanPrev)

	base := ts.URL + "/api/viewers/" + viewer.ViewerID

	// Page navigation clamps at the edges.
	var render RenderDTO
	resp = postJSON(t, base+"/prev", nil, &render)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, render.Page)

	// Out-of-range page keeps the position.
	getJSON(t, base+"/page/99", &render)
	assert.Equal(t, 1, render.Page)

	// Download returns PDF bytes with the filename.
	dl, err := http.Get(base + "/download")
	require.NoError(t, err)
	defer dl.Body.Close()
	assert.Equal(t, http.StatusOK, dl.StatusCode)
	assert.Contains(t, dl.Header.Get("Content-Disposition"), "S21_2024")

	// Close, then every operation 404s.
	resp = doJSON(t, http.MethodDelete, base, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = getJSON(t, base+"/page/1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestViewerRejectsArchives(t *testing.T) {
	ts := newTestAPI(t)

	// No publisher selected means the service replies with a zip.
	resp := postJSON(t, ts.URL+"/api/viewers/s21", map[string]any{"year": 2024}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
