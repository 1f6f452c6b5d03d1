package turbidity

import (
	"context"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formulab-data/turbidity.report/internal/fsutil"
	"github.com/formulab-data/turbidity.report/internal/testutil"
)

// gateFS blocks every Open until the gate channel is closed. Path probes
// pass through so batch pre-flight is unaffected.
type gateFS struct {
	fsutil.FileSystem
	gate chan struct{}
}

func (g *gateFS) Open(name string) (fs.File, error) {
	<-g.gate
	return g.FileSystem.Open(name)
}

// fakeRecorder captures run lifecycle callbacks.
type fakeRecorder struct {
	mu        sync.Mutex
	started   []string
	completed []BatchOutcome
}

func (f *fakeRecorder) RecordRunStart(runID string, req AnalyzeRequest, startedAtUnixNanos int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, runID)
	return nil
}

func (f *fakeRecorder) RecordRunComplete(runID string, res *BatchResult, completedAtUnixNanos int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, res.Outcome)
	return nil
}

func (f *fakeRecorder) snapshot() ([]string, []BatchOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...), append([]BatchOutcome(nil), f.completed...)
}

func TestRunnerLifecycle(t *testing.T) {
	t.Parallel()

	mem := seedImages(t, map[string][]byte{
		"a.png": testutil.EncodePNG(t, testutil.TwoBandImage(10, 10, 5, 50, 200)),
	})
	rec := &fakeRecorder{}
	runner := NewRunner(&Analyzer{FS: mem}, rec, nil)

	assert.Equal(t, RunStatusIdle, runner.State().Status)

	id, err := runner.Start(context.Background(), NewAnalyzeRequest("a.png"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		return runner.State().Status == RunStatusComplete
	}, 5*time.Second, 10*time.Millisecond)

	state := runner.State()
	assert.Equal(t, id, state.RunID)
	assert.Equal(t, 1, state.ImageCount)
	require.NotNil(t, state.StartedAt)
	require.NotNil(t, state.CompletedAt)
	require.NotNil(t, state.Result)
	assert.Equal(t, BatchCompleted, state.Result.Outcome)

	started, completed := rec.snapshot()
	assert.Equal(t, []string{id}, started)
	assert.Equal(t, []BatchOutcome{BatchCompleted}, completed)
}

func TestRunnerRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	runner := NewRunner(&Analyzer{FS: fsutil.NewMemoryFileSystem()}, nil, nil)

	req := NewAnalyzeRequest("a.png")
	req.Bounds.Min = 75

	_, err := runner.Start(context.Background(), req)
	require.Error(t, err)

	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, RunStatusIdle, runner.State().Status, "no run is created for invalid parameters")
}

func TestRunnerOneRunAtATime(t *testing.T) {
	t.Parallel()

	mem := seedImages(t, map[string][]byte{
		"a.png": testutil.EncodePNG(t, testutil.UniformImage(4, 4, 128)),
	})
	gated := &gateFS{FileSystem: mem, gate: make(chan struct{})}
	runner := NewRunner(&Analyzer{FS: gated}, nil, nil)

	id, err := runner.Start(context.Background(), NewAnalyzeRequest("a.png"))
	require.NoError(t, err)

	_, err = runner.Start(context.Background(), NewAnalyzeRequest("a.png"))
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(gated.gate)
	require.Eventually(t, func() bool {
		return runner.State().Status == RunStatusComplete
	}, 5*time.Second, 10*time.Millisecond)

	// A finished runner accepts the next batch.
	next, err := runner.Start(context.Background(), NewAnalyzeRequest("a.png"))
	require.NoError(t, err)
	assert.NotEqual(t, id, next)

	require.Eventually(t, func() bool {
		return runner.State().Status == RunStatusComplete
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRunnerCancel(t *testing.T) {
	t.Parallel()

	mem := seedImages(t, map[string][]byte{
		"a.png": testutil.EncodePNG(t, testutil.UniformImage(4, 4, 128)),
	})
	gated := &gateFS{FileSystem: mem, gate: make(chan struct{})}
	runner := NewRunner(&Analyzer{FS: gated}, nil, nil)

	id, err := runner.Start(context.Background(), NewAnalyzeRequest("a.png"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return runner.State().Status == RunStatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	assert.False(t, runner.Cancel("not-the-run"), "unknown IDs are not cancellable")
	require.True(t, runner.Cancel(id))
	close(gated.gate)

	require.Eventually(t, func() bool {
		return runner.State().Status == RunStatusCancelled
	}, 5*time.Second, 10*time.Millisecond)

	state := runner.State()
	require.NotNil(t, state.Result)
	assert.Equal(t, BatchCancelled, state.Result.Outcome)
	assert.Empty(t, state.Result.ByPath())

	assert.False(t, runner.Cancel(id), "finished runs are not cancellable")
}
