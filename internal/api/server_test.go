package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosswatch-data/crossing.report/internal/counter"
	"github.com/crosswatch-data/crossing.report/internal/db"
	"github.com/crosswatch-data/crossing.report/internal/geom"
	"github.com/crosswatch-data/crossing.report/internal/monitoring"
	"github.com/crosswatch-data/crossing.report/internal/units"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

var testLine = geom.Line{Start: geom.Point{X: 0, Y: 100}, End: geom.Point{X: 200, Y: 100}}

func newTestServer(t *testing.T) (*Server, *db.DB, string) {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	runID, err := database.CreateRun("feed.jsonl", testLine)
	require.NoError(t, err)

	srv := NewServer(NewStatusStore(), database)
	srv.status.Update(Snapshot{
		RunID:        runID,
		Line:         testLine,
		Counts:       counter.Counts{Enter: 3, Exit: 1},
		TrafficLevel: units.TrafficLow,
	})
	return srv, database, runID
}

func TestShowCounts(t *testing.T) {
	srv, _, runID := newTestServer(t)
	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/counts")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var snap Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, runID, snap.RunID)
	assert.Equal(t, uint64(3), snap.Counts.Enter)
	assert.Equal(t, uint64(1), snap.Counts.Exit)
}

func TestShowCountsMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/counts", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestListCrossings(t *testing.T) {
	srv, database, runID := newTestServer(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, database.RecordCrossing(runID, counter.CrossingEvent{
			TrackID:    int64(i + 1),
			FrameIndex: int64(i * 10),
			Direction:  counter.DirectionEnter,
		}))
	}

	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/crossings?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var crossings []*db.Crossing
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&crossings))
	assert.Len(t, crossings, 2)
}

func TestListCrossingsBadLimit(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/crossings?limit=zero")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCrossingsNoActiveRun(t *testing.T) {
	database, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	defer database.Close()

	srv := NewServer(NewStatusStore(), database)
	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/crossings")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestShowRollup(t *testing.T) {
	srv, database, runID := newTestServer(t)

	require.NoError(t, database.RecordCrossing(runID, counter.CrossingEvent{
		TrackID: 1, FrameIndex: 10, Direction: counter.DirectionEnter,
	}))

	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/rollup")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var buckets []db.MinuteBucket
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&buckets))
	require.NotEmpty(t, buckets)
}

func TestListRuns(t *testing.T) {
	srv, _, runID := newTestServer(t)
	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var runs []*db.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].RunID)
}

func TestShowConfig(t *testing.T) {
	srv, _, runID := newTestServer(t)
	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/config")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var cfg struct {
		RunID string    `json:"run_id"`
		Line  geom.Line `json:"line"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cfg))
	assert.Equal(t, runID, cfg.RunID)
	assert.Equal(t, testLine, cfg.Line)
}

func TestShowReport(t *testing.T) {
	srv, database, runID := newTestServer(t)

	require.NoError(t, database.RecordCrossing(runID, counter.CrossingEvent{
		TrackID: 1, FrameIndex: 10, Direction: counter.DirectionEnter,
	}))

	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/report")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))
}

func TestShowReportUnknownRun(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/report?run_id=missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLiveBroadcast(t *testing.T) {
	srv, _, runID := newTestServer(t)
	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/live"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Registration happens in the upgrade handler before it returns, so the
	// dial completing means the hub has the connection.
	require.Eventually(t, func() bool { return srv.hub.Len() == 1 },
		time.Second, 10*time.Millisecond)

	srv.Publish(Snapshot{
		RunID:  runID,
		Counts: counter.Counts{Enter: 5},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snap Snapshot
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, runID, snap.RunID)
	assert.Equal(t, uint64(5), snap.Counts.Enter)

	// Published snapshot is also visible over plain HTTP.
	assert.Equal(t, uint64(5), srv.status.Snapshot().Counts.Enter)
}

func TestLoggingMiddleware(t *testing.T) {
	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/counts", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestStatusCodeColor(t *testing.T) {
	assert.Contains(t, statusCodeColor(200), "200")
	assert.Contains(t, statusCodeColor(301), "301")
	assert.Contains(t, statusCodeColor(500), "500")
}
