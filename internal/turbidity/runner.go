package turbidity

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/formulab-data/turbidity.report/internal/monitoring"
	"github.com/formulab-data/turbidity.report/internal/timeutil"
)

// RunStatus represents the lifecycle state of a service-run batch.
type RunStatus string

const (
	RunStatusIdle      RunStatus = "idle"
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusComplete  RunStatus = "complete"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// Active reports whether the status names a run that is still in flight.
func (s RunStatus) Active() bool {
	return s == RunStatusPending || s == RunStatusRunning
}

// ErrRunInProgress rejects a start while another run is active. One batch
// at a time keeps the pipeline's CPU and memory footprint predictable.
var ErrRunInProgress = errors.New("analysis run already in progress")

// RunState is the service-side view of one batch run.
type RunState struct {
	RunID       string          `json:"run_id,omitempty"`
	Status      RunStatus       `json:"status"`
	Request     *AnalyzeRequest `json:"request,omitempty"`
	ImageCount  int             `json:"image_count"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	Result      *BatchResult    `json:"result,omitempty"`
}

// RunRecorder persists run lifecycle transitions. The sqlite store
// implements it; a nil recorder keeps runs in memory only.
type RunRecorder interface {
	RecordRunStart(runID string, req AnalyzeRequest, startedAtUnixNanos int64) error
	RecordRunComplete(runID string, res *BatchResult, completedAtUnixNanos int64) error
}

// Runner serializes batch runs for the HTTP service: one active run at a
// time, queryable state, cooperative cancellation, and persistence of
// finished runs through the recorder.
type Runner struct {
	analyzer *Analyzer
	recorder RunRecorder
	clock    timeutil.Clock

	mu     sync.RWMutex
	state  RunState
	cancel context.CancelFunc
}

// NewRunner creates a runner around an analyzer. recorder may be nil.
func NewRunner(analyzer *Analyzer, recorder RunRecorder, clock timeutil.Clock) *Runner {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Runner{
		analyzer: analyzer,
		recorder: recorder,
		clock:    clock,
		state:    RunState{Status: RunStatusIdle},
	}
}

// State returns a copy of the current run state.
func (r *Runner) State() RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Start validates the request and launches a background run. It returns
// the new run ID, ErrRunInProgress if a run is active, or the validation
// error unchanged.
func (r *Runner) Start(ctx context.Context, req AnalyzeRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	r.mu.Lock()
	if r.state.Status.Active() {
		r.mu.Unlock()
		return "", ErrRunInProgress
	}
	runID := uuid.New().String()
	now := r.clock.Now()
	r.state = RunState{
		RunID:      runID,
		Status:     RunStatusPending,
		Request:    &req,
		ImageCount: len(req.ImagePaths),
		StartedAt:  &now,
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	if r.recorder != nil {
		if err := r.recorder.RecordRunStart(runID, req, now.UnixNano()); err != nil {
			monitoring.Logf("[runner] record run start %s: %v", runID, err)
		}
	}

	go r.run(runCtx, runID, req)
	return runID, nil
}

// Cancel stops the run with the given ID. It reports false when the ID does
// not name the active run.
func (r *Runner) Cancel(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.RunID != runID || !r.state.Status.Active() || r.cancel == nil {
		return false
	}
	r.cancel()
	return true
}

func (r *Runner) run(ctx context.Context, runID string, req AnalyzeRequest) {
	r.mu.Lock()
	r.state.Status = RunStatusRunning
	r.mu.Unlock()
	log.Printf("[runner] run %s started: %d images", runID, len(req.ImagePaths))

	res := r.analyzer.Analyze(ctx, req)
	now := r.clock.Now()

	r.mu.Lock()
	r.state.Result = res
	r.state.CompletedAt = &now
	switch res.Outcome {
	case BatchCompleted:
		r.state.Status = RunStatusComplete
	case BatchCancelled:
		r.state.Status = RunStatusCancelled
		r.state.Error = res.FailureReason
	default:
		r.state.Status = RunStatusFailed
		r.state.Error = res.FailureReason
	}
	r.cancel = nil
	r.mu.Unlock()

	if r.recorder != nil {
		if err := r.recorder.RecordRunComplete(runID, res, now.UnixNano()); err != nil {
			monitoring.Logf("[runner] record run complete %s: %v", runID, err)
		}
	}
	log.Printf("[runner] run %s finished: %s (%d results)", runID, res.Outcome, len(res.Results))
}
