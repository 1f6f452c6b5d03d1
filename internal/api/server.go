// Package api exposes the analysis service over HTTP: JSON endpoints to
// start, inspect, and cancel batch runs, plus go-echarts pages for quick
// visual inspection of per-image results without the figure files.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/formulab-data/turbidity.report/internal/config"
	"github.com/formulab-data/turbidity.report/internal/fsutil"
	"github.com/formulab-data/turbidity.report/internal/httputil"
	"github.com/formulab-data/turbidity.report/internal/security"
	"github.com/formulab-data/turbidity.report/internal/store"
	"github.com/formulab-data/turbidity.report/internal/turbidity"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server wires the batch runner and the results store into HTTP handlers.
type Server struct {
	runner *turbidity.Runner
	store  *store.Store
	cfg    *config.AnalysisConfig
	fs     fsutil.FileSystem
}

// NewServer creates an API server. store may be nil for a stateless
// instance; the run history endpoints then report 503.
func NewServer(runner *turbidity.Runner, st *store.Store, cfg *config.AnalysisConfig, fs fsutil.FileSystem) *Server {
	if cfg == nil {
		cfg = config.EmptyAnalysisConfig()
	}
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return &Server{runner: runner, store: st, cfg: cfg, fs: fs}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the route table for the analysis service.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/analyze", s.startAnalysis)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/run", s.showRun)
	mux.HandleFunc("/api/cancel", s.cancelRun)
	mux.HandleFunc("/api/result", s.showResult)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/charts/profile", s.profileChart)
	mux.HandleFunc("/charts/histogram", s.histogramChart)
	return mux
}

// analyzeBody is the POST /api/analyze payload. Every parameter except the
// path list is optional; omitted fields fall back to the server's
// configuration defaults.
type analyzeBody struct {
	ImagePaths        []string `json:"image_paths"`
	MinimumPercentile *float64 `json:"minimum_percentile,omitempty"`
	MaximumPercentile *float64 `json:"maximum_percentile,omitempty"`
	ClassThresholds   *[]int   `json:"class_thresholds,omitempty"`
	RenderFigures     *bool    `json:"render_figures,omitempty"`
	Workers           *int     `json:"workers,omitempty"`
	ImageTimeout      *string  `json:"image_timeout,omitempty"`
	OnDecodeError     *string  `json:"on_decode_error,omitempty"`
}

// buildRequest merges the posted body over the configured defaults.
func (s *Server) buildRequest(body analyzeBody) (turbidity.AnalyzeRequest, error) {
	req := turbidity.AnalyzeRequest{
		ImagePaths: body.ImagePaths,
		Bounds: turbidity.PercentileBounds{
			Min: s.cfg.GetMinimumPercentile(),
			Max: s.cfg.GetMaximumPercentile(),
		},
		Thresholds:    s.cfg.GetClassThresholds(),
		RenderFigures: s.cfg.GetRenderFigures(),
		Workers:       s.cfg.GetWorkers(),
		ImageTimeout:  s.cfg.GetImageTimeout(),
		OnDecodeError: turbidity.DecodePolicy(s.cfg.GetOnDecodeError()),
	}
	if body.MinimumPercentile != nil {
		req.Bounds.Min = *body.MinimumPercentile
	}
	if body.MaximumPercentile != nil {
		req.Bounds.Max = *body.MaximumPercentile
	}
	if body.ClassThresholds != nil {
		if len(*body.ClassThresholds) != 4 {
			return req, &turbidity.ValidationError{
				Field: "class_thresholds",
				Msg:   fmt.Sprintf("must hold exactly 4 values, got %d", len(*body.ClassThresholds)),
			}
		}
		copy(req.Thresholds[:], *body.ClassThresholds)
	}
	if body.RenderFigures != nil {
		req.RenderFigures = *body.RenderFigures
	}
	if body.Workers != nil {
		req.Workers = *body.Workers
	}
	if body.ImageTimeout != nil && *body.ImageTimeout != "" {
		d, err := time.ParseDuration(*body.ImageTimeout)
		if err != nil {
			return req, &turbidity.ValidationError{
				Field: "image_timeout",
				Msg:   err.Error(),
			}
		}
		req.ImageTimeout = d
	}
	if body.OnDecodeError != nil {
		req.OnDecodeError = turbidity.DecodePolicy(*body.OnDecodeError)
	}
	return req, nil
}

// checkSampleDirs confines requested image paths to the configured sample
// directories. An empty configuration disables confinement.
func (s *Server) checkSampleDirs(paths []string) error {
	dirs := s.cfg.GetSampleDirs()
	if len(dirs) == 0 {
		return nil
	}
	for _, p := range paths {
		if err := security.ValidatePathWithinAllowedDirs(p, dirs); err != nil {
			return fmt.Errorf("path %s: %w", p, err)
		}
	}
	return nil
}

func (s *Server) startAnalysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var body analyzeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(body.ImagePaths) == 0 {
		httputil.BadRequest(w, "image_paths must not be empty")
		return
	}
	if err := s.checkSampleDirs(body.ImagePaths); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	for _, p := range body.ImagePaths {
		if !s.fs.Exists(p) {
			httputil.BadRequest(w, fmt.Sprintf("image file not found: %s", p))
			return
		}
	}

	req, err := s.buildRequest(body)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	// The run outlives this request; cancellation goes through /api/cancel.
	runID, err := s.runner.Start(context.Background(), req)
	if err != nil {
		var verr *turbidity.ValidationError
		switch {
		case errors.As(err, &verr):
			httputil.BadRequest(w, err.Error())
		case errors.Is(err, turbidity.ErrRunInProgress):
			httputil.Conflict(w, err.Error())
		default:
			httputil.InternalServerError(w, err.Error())
		}
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	state := s.runner.State()
	// The full result is served per image; the status view stays small.
	state.Result = nil
	httputil.WriteJSONOK(w, state)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "run store not configured")
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.store.ListRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list runs: %v", err))
		return
	}
	if runs == nil {
		runs = []*store.AnalysisRun{}
	}
	httputil.WriteJSONOK(w, runs)
}

// runView is the GET /api/run response: the run row plus per-image summary
// rows without their array payloads.
type runView struct {
	Run     *store.AnalysisRun `json:"run"`
	Results []*store.ImageRow  `json:"results"`
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "run store not configured")
		return
	}
	runID := r.URL.Query().Get("id")
	if runID == "" {
		httputil.BadRequest(w, "missing 'id' parameter")
		return
	}

	run, err := s.store.GetRun(runID)
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, fmt.Sprintf("run %s not found", runID))
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load run: %v", err))
		return
	}

	results, err := s.store.ResultsForRun(runID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load results: %v", err))
		return
	}
	for _, row := range results {
		row.Payload = nil
	}
	if results == nil {
		results = []*store.ImageRow{}
	}
	httputil.WriteJSONOK(w, runView{Run: run, Results: results})
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	runID := r.URL.Query().Get("id")
	if runID == "" {
		httputil.BadRequest(w, "missing 'id' parameter")
		return
	}
	if !s.runner.Cancel(runID) {
		httputil.NotFound(w, fmt.Sprintf("no active run %s", runID))
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"run_id": runID, "status": "cancelling"})
}

func (s *Server) showResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	row, ok := s.loadImageRow(w, r)
	if !ok {
		return
	}
	if len(row.Payload) == 0 {
		httputil.NotFound(w, fmt.Sprintf("no payload stored for %s", row.ImagePath))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(row.Payload)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	thresholds := s.cfg.GetClassThresholds()
	httputil.WriteJSONOK(w, map[string]interface{}{
		"minimum_percentile": s.cfg.GetMinimumPercentile(),
		"maximum_percentile": s.cfg.GetMaximumPercentile(),
		"class_thresholds":   thresholds[:],
		"workers":            s.cfg.GetWorkers(),
		"image_timeout":      s.cfg.GetImageTimeout().String(),
		"on_decode_error":    s.cfg.GetOnDecodeError(),
		"render_figures":     s.cfg.GetRenderFigures(),
		"output_dir":         s.cfg.GetOutputDir(),
		"sample_dirs":        s.cfg.GetSampleDirs(),
	})
}

// loadImageRow resolves the id/path query pair to a stored image row,
// writing the error response itself when the lookup fails.
func (s *Server) loadImageRow(w http.ResponseWriter, r *http.Request) (*store.ImageRow, bool) {
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "run store not configured")
		return nil, false
	}
	runID := r.URL.Query().Get("id")
	imagePath := r.URL.Query().Get("path")
	if runID == "" || imagePath == "" {
		httputil.BadRequest(w, "missing 'id' or 'path' parameter")
		return nil, false
	}

	row, err := s.store.GetImageResult(runID, imagePath)
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, fmt.Sprintf("no result for %s in run %s", imagePath, runID))
		return nil, false
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load result: %v", err))
		return nil, false
	}
	return row, true
}

// loadImageResult decodes the stored payload of an image row.
func (s *Server) loadImageResult(w http.ResponseWriter, r *http.Request) (*turbidity.ImageResult, bool) {
	row, ok := s.loadImageRow(w, r)
	if !ok {
		return nil, false
	}
	if row.Error != "" {
		httputil.NotFound(w, fmt.Sprintf("image %s was skipped: %s", row.ImagePath, row.Error))
		return nil, false
	}
	var res turbidity.ImageResult
	if err := json.Unmarshal(row.Payload, &res); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("corrupt stored payload: %v", err))
		return nil, false
	}
	return &res, true
}
