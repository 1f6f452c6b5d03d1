package api

import (
	"bytes"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formulab-data/turbidity.report/internal/config"
	"github.com/formulab-data/turbidity.report/internal/fsutil"
	"github.com/formulab-data/turbidity.report/internal/store"
	"github.com/formulab-data/turbidity.report/internal/testutil"
	"github.com/formulab-data/turbidity.report/internal/turbidity"
)

// newTestServer builds a server over an in-memory filesystem seeded with
// the given PNG images and a fresh in-memory store.
func newTestServer(t *testing.T, images map[string][]byte) (*Server, *turbidity.Runner, *store.Store) {
	t.Helper()

	mem := fsutil.NewMemoryFileSystem()
	for path, data := range images {
		require.NoError(t, mem.WriteFile(path, data, 0o644))
	}

	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	runner := turbidity.NewRunner(&turbidity.Analyzer{FS: mem}, st, nil)
	srv := NewServer(runner, st, config.EmptyAnalysisConfig(), mem)
	return srv, runner, st
}

// startRun posts an analyze request and waits for the run to finish.
func startRun(t *testing.T, srv *Server, runner *turbidity.Runner, body string) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	runID := resp["run_id"]
	require.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		return !runner.State().Status.Active()
	}, 5*time.Second, 10*time.Millisecond)
	return runID
}

func TestAnalyzeEndToEnd(t *testing.T) {
	t.Parallel()

	srv, runner, st := newTestServer(t, map[string][]byte{
		"sample.png": testutil.EncodePNG(t, testutil.TwoBandImage(10, 10, 5, 50, 200)),
	})
	runID := startRun(t, srv, runner, `{"image_paths":["sample.png"]}`)
	assert.Equal(t, turbidity.RunStatusComplete, runner.State().Status)

	// Result rows land after the status flips; wait for the insert.
	require.Eventually(t, func() bool {
		run, err := st.GetRun(runID)
		return err == nil && run.CompletedAtUnixNanos != 0
	}, 5*time.Second, 10*time.Millisecond)

	// Run view carries the summary row without the array payload.
	req := httptest.NewRequest(http.MethodGet, "/api/run?id="+runID, nil)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var view runView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, runID, view.Run.RunID)
	require.Len(t, view.Results, 1)
	assert.Equal(t, "sample.png", view.Results[0].ImagePath)
	assert.Empty(t, view.Results[0].Payload)

	// Result endpoint serves the full stored payload.
	req = httptest.NewRequest(http.MethodGet, "/api/result?id="+runID+"&path=sample.png", nil)
	rec = httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var res turbidity.ImageResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 10, res.Width)
	assert.Equal(t, 10, res.Height)
	assert.InDelta(t, 150, res.Derivative.PeakMagnitude, 1e-9)
	assert.Equal(t, 4, res.Derivative.PeakRow)
}

func TestAnalyzeValidation(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, map[string][]byte{
		"sample.png": testutil.EncodePNG(t, testutil.UniformImage(4, 4, 128)),
	})
	mux := srv.ServeMux()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty path list", `{"image_paths":[]}`, http.StatusBadRequest},
		{"invalid minimum percentile", `{"image_paths":["sample.png"],"minimum_percentile":55}`, http.StatusBadRequest},
		{"invalid threshold", `{"image_paths":["sample.png"],"class_thresholds":[75,110,150,300]}`, http.StatusBadRequest},
		{"wrong threshold count", `{"image_paths":["sample.png"],"class_thresholds":[75,110]}`, http.StatusBadRequest},
		{"bad timeout", `{"image_paths":["sample.png"],"image_timeout":"soon"}`, http.StatusBadRequest},
		{"malformed json", `{`, http.StatusBadRequest},
		{"missing file", `{"image_paths":["nope.png"]}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/analyze", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// blockingFS stalls image opens until released, keeping a run active.
type blockingFS struct {
	fsutil.FileSystem
	release chan struct{}
}

func (b *blockingFS) Open(name string) (fs.File, error) {
	<-b.release
	return b.FileSystem.Open(name)
}

func TestAnalyzeConflictWhileRunning(t *testing.T) {
	t.Parallel()

	mem := fsutil.NewMemoryFileSystem()
	require.NoError(t, mem.WriteFile("sample.png", testutil.EncodePNG(t, testutil.UniformImage(4, 4, 128)), 0o644))
	blocked := &blockingFS{FileSystem: mem, release: make(chan struct{})}

	runner := turbidity.NewRunner(&turbidity.Analyzer{FS: blocked}, nil, nil)
	srv := NewServer(runner, nil, nil, blocked)
	mux := srv.ServeMux()

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(`{"image_paths":["sample.png"]}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	runID := resp["run_id"]

	req = httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(`{"image_paths":["sample.png"]}`))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Cancel through the API, then release the pipeline.
	req = httptest.NewRequest(http.MethodPost, "/api/cancel?id="+runID, nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	close(blocked.release)

	require.Eventually(t, func() bool {
		return runner.State().Status == turbidity.RunStatusCancelled
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCancelUnknownRun(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/cancel?id=nope", nil)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunLookupErrors(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, nil)
	mux := srv.ServeMux()

	req := httptest.NewRequest(http.MethodGet, "/api/run?id=missing", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/run", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/result?id=missing&path=a.png", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	srv, runner, _ := newTestServer(t, map[string][]byte{
		"sample.png": testutil.EncodePNG(t, testutil.UniformImage(4, 4, 128)),
	})
	mux := srv.ServeMux()

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	runID := startRun(t, srv, runner, `{"image_paths":["sample.png"]}`)

	req = httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var runs []*store.AnalysisRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].RunID)

	req = httptest.NewRequest(http.MethodGet, "/api/runs?limit=bogus", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShowConfigDefaults(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var cfg map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, 10.0, cfg["minimum_percentile"])
	assert.Equal(t, 90.0, cfg["maximum_percentile"])
	assert.Equal(t, "fail", cfg["on_decode_error"])
}

func TestSampleDirConfinement(t *testing.T) {
	t.Parallel()

	sampleDir := t.TempDir()
	inside := filepath.Join(sampleDir, "ok.png")
	require.NoError(t, os.WriteFile(inside, testutil.EncodePNG(t, testutil.UniformImage(4, 4, 128)), 0o644))

	cfg := config.EmptyAnalysisConfig()
	dirs := []string{sampleDir}
	cfg.SampleDirs = &dirs

	runner := turbidity.NewRunner(&turbidity.Analyzer{FS: fsutil.OSFileSystem{}}, nil, nil)
	srv := NewServer(runner, nil, cfg, fsutil.OSFileSystem{})
	mux := srv.ServeMux()

	body, err := json.Marshal(map[string]interface{}{
		"image_paths": []string{filepath.Join(sampleDir, "..", "escape.png")},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, err = json.Marshal(map[string]interface{}{"image_paths": []string{inside}})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/analyze", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
}
