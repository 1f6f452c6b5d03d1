package turbidity

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/formulab-data/turbidity.report/internal/fsutil"
	"github.com/formulab-data/turbidity.report/internal/imaging"
	"github.com/formulab-data/turbidity.report/internal/monitoring"
)

// AnalyzeRequest carries one batch invocation. NewAnalyzeRequest fills the
// laboratory defaults; a zero-valued request fails validation.
type AnalyzeRequest struct {
	ImagePaths []string         `json:"image_paths"`
	Bounds     PercentileBounds `json:"bounds"`
	Thresholds ClassThresholds  `json:"class_thresholds"`

	// RenderFigures asks the analyzer's renderer, when one is attached, to
	// write the overlay, profile, and histogram figures per image. Figure
	// output never changes the numeric results.
	RenderFigures bool `json:"render_figures"`

	// Workers caps pipeline concurrency; zero or negative means GOMAXPROCS.
	Workers int `json:"workers,omitempty"`

	// ImageTimeout bounds each image's pipeline; zero disables the
	// deadline. Overruns follow OnDecodeError like any per-image failure.
	ImageTimeout time.Duration `json:"image_timeout_nanos,omitempty"`

	// OnDecodeError selects the per-image failure policy; empty means
	// DecodeFail.
	OnDecodeError DecodePolicy `json:"on_decode_error,omitempty"`
}

// NewAnalyzeRequest returns a request for the given paths with default
// bounds and thresholds, figure rendering on, and the fail policy.
func NewAnalyzeRequest(paths ...string) AnalyzeRequest {
	return AnalyzeRequest{
		ImagePaths:    paths,
		Bounds:        DefaultBounds(),
		Thresholds:    DefaultClassThresholds(),
		RenderFigures: true,
		OnDecodeError: DecodeFail,
	}
}

// Validate checks the input list, the statistical parameters, and the
// failure policy. Path existence is checked separately during the batch
// pre-flight.
func (r AnalyzeRequest) Validate() error {
	if len(r.ImagePaths) == 0 {
		return &ValidationError{
			Field: "image_paths",
			Msg:   "must name at least one image",
		}
	}
	if err := r.Bounds.Validate(); err != nil {
		return err
	}
	if err := r.Thresholds.Validate(); err != nil {
		return err
	}
	return r.OnDecodeError.Validate()
}

func (r AnalyzeRequest) workerCount() int {
	workers := r.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if n := len(r.ImagePaths); workers > n {
		workers = n
	}
	return workers
}

// Renderer receives the pixel-level artifacts of each analyzed image so
// figures can be written next to the numeric results. Render failures are
// logged and never affect the batch outcome.
type Renderer interface {
	RenderImage(a *ImageAnalysis) error
}

// Analyzer runs batches against a filesystem. A nil Renderer disables
// figure output regardless of the request flag.
type Analyzer struct {
	FS       fsutil.FileSystem
	Renderer Renderer
}

// Analyze runs the batch pipeline and never returns a Go error: every
// disposition, including invalid parameters, is encoded in the returned
// BatchResult so callers persist and inspect all outcomes uniformly.
//
// Validation is all-or-nothing and runs before any image is opened: first
// the statistical parameters, then existence of every input path. Images
// are processed concurrently but Results keeps input order.
func (a *Analyzer) Analyze(ctx context.Context, req AnalyzeRequest) *BatchResult {
	if err := req.Validate(); err != nil {
		return validationFailure(err.Error())
	}
	for _, path := range req.ImagePaths {
		if !a.FS.Exists(path) {
			return validationFailure(fmt.Sprintf("image file not found: %s", path))
		}
	}
	if err := ctx.Err(); err != nil {
		return cancelledBatch(err.Error())
	}

	n := len(req.ImagePaths)
	results := make([]*ImageResult, n)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// First fatal per-image failure under the fail policy; ends the batch.
	var mu sync.Mutex
	var fatalErr error
	setFatal := func(err error) {
		mu.Lock()
		if fatalErr == nil {
			fatalErr = err
			cancel()
		}
		mu.Unlock()
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < req.workerCount(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if runCtx.Err() != nil {
					return
				}
				path := req.ImagePaths[idx]
				result, err := a.analyzeOne(runCtx, req, path)
				if err == nil {
					results[idx] = result
					continue
				}
				if req.OnDecodeError == DecodeSkip {
					monitoring.Logf("[analyze] skipping %s: %v", path, err)
					results[idx] = &ImageResult{ImagePath: path, Error: err.Error()}
					continue
				}
				setFatal(fmt.Errorf("%s: %w", path, err))
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		select {
		case jobs <- i:
		case <-runCtx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return cancelledBatch(err.Error())
	}
	mu.Lock()
	err := fatalErr
	mu.Unlock()
	if err != nil {
		return failedBatch(err.Error())
	}

	return &BatchResult{Outcome: BatchCompleted, Results: results}
}

// analyzeOne runs the single-image pipeline under the per-image deadline.
// The deadline is checked between stages; the pure computations themselves
// are not interruptible.
func (a *Analyzer) analyzeOne(ctx context.Context, req AnalyzeRequest, path string) (*ImageResult, error) {
	if req.ImageTimeout > 0 {
		deadlineCtx, cancel := context.WithTimeout(ctx, req.ImageTimeout)
		defer cancel()
		ctx = deadlineCtx
	}

	img, err := imaging.Load(a.FS, path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	analysis := analyzeLoaded(img, req.Bounds, req.Thresholds)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if req.RenderFigures && a.Renderer != nil {
		if err := a.Renderer.RenderImage(analysis); err != nil {
			monitoring.Logf("[analyze] render figures for %s: %v", path, err)
		}
	}
	return analysis.Result, nil
}

// Analyze is the package-level convenience for one-off batches without a
// renderer.
func Analyze(ctx context.Context, fsys fsutil.FileSystem, req AnalyzeRequest) *BatchResult {
	a := &Analyzer{FS: fsys}
	return a.Analyze(ctx, req)
}
