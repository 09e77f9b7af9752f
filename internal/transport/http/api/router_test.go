package apihttp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"pbroadmap/internal/roadmap"
	"pbroadmap/internal/store/runlog"
	"pbroadmap/internal/store/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRuns struct {
	mock.Mock
}

func (m *mockRuns) Recent(ctx context.Context, limit int) ([]runlog.Run, error) {
	args := m.Called(ctx, limit)
	runs, _ := args.Get(0).([]runlog.Run)
	return runs, args.Error(1)
}

func newTestServer(t *testing.T, runs RunLister) (*Server, *sqlite.SqliteStore) {
	t.Helper()
	st, err := sqlite.NewSqliteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	srv, err := NewServer(ServerConfig{
		Addr: "127.0.0.1:0",
		Router: &Router{
			Records:   st.Collection("result"),
			Snapshots: st.Collection("default"),
			OutputKey: "OUTPUT",
			Runs:      runs,
		},
	})
	require.NoError(t, err)
	return srv, st
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := get(t, srv.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSnapshotAndFeature(t *testing.T) {
	srv, st := newTestServer(t, nil)
	ctx := context.Background()

	rec := get(t, srv.Handler(), "/api/roadmap")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	team := roadmap.Resolved("Team A")
	feature := &roadmap.Feature{Title: "F", Timeline: []roadmap.Lookup{roadmap.Resolved("R1")}, Team: &team}
	require.NoError(t, st.Collection("result").SetValue(ctx, "10", feature))
	require.NoError(t, st.Collection("default").SetValue(ctx, "OUTPUT", roadmap.Tree{"10": feature}))

	rec = get(t, srv.Handler(), "/api/roadmap")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"10":{"title":"F","description":null,"timeline":["R1"],"team":"Team A","features":null}}`,
		rec.Body.String())

	rec = get(t, srv.Handler(), "/api/roadmap/10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"title":"F","description":null,"timeline":["R1"],"team":"Team A","features":null}`,
		rec.Body.String())

	rec = get(t, srv.Handler(), "/api/roadmap/99")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRuns(t *testing.T) {
	runs := &mockRuns{}
	started := time.UnixMilli(1_700_000_000_000).UTC()
	runs.On("Recent", mock.Anything, 5).Return([]runlog.Run{
		{ID: "r1", Source: "file", Status: runlog.StatusSucceeded, Features: 2, StartedAt: started},
	}, nil).Once()
	runs.On("Recent", mock.Anything, 20).Return(nil, errors.New("boom")).Once()

	srv, _ := newTestServer(t, runs)

	rec := get(t, srv.Handler(), "/api/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"r1"`)
	assert.Contains(t, rec.Body.String(), `"status":"succeeded"`)

	rec = get(t, srv.Handler(), "/api/runs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = get(t, srv.Handler(), "/api/runs?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	runs.AssertExpectations(t)
}

func TestRunsDisabled(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := get(t, srv.Handler(), "/api/runs")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewServerRequiresRouter(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestStartStopsOnCancel(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
