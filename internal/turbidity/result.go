package turbidity

// BatchOutcome tags the overall disposition of one Analyze call.
type BatchOutcome string

const (
	// BatchCompleted means every image was processed (skipped entries
	// included when the skip policy is active).
	BatchCompleted BatchOutcome = "completed"
	// BatchValidationFailed means a parameter or input path failed the
	// pre-flight; no image was opened.
	BatchValidationFailed BatchOutcome = "validation_failed"
	// BatchCancelled means the caller's context ended the batch early.
	BatchCancelled BatchOutcome = "cancelled"
	// BatchFailed means an image failed to process under the fail policy.
	BatchFailed BatchOutcome = "failed"
)

// ImageResult is the full measurement set for one photo. It is a pure
// function of the file bytes and the request parameters: no timestamps, no
// host state, so equal inputs always produce byte-identical results.
type ImageResult struct {
	ImagePath string `json:"image_path"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`

	Stats      GlobalStats       `json:"stats"`
	Contrast   ContrastMetrics   `json:"contrast"`
	Profile    RowProfile        `json:"row_profile"`
	Derivative DerivativeProfile `json:"derivative"`

	Histogram          []int64             `json:"histogram"`
	Cumulative         []float64           `json:"cumulative_percent"`
	ThresholdPositions []ThresholdPosition `json:"threshold_positions"`

	// Error is set on entries whose image could not be processed under the
	// skip policy. All measurement fields are zero in that case.
	Error string `json:"error,omitempty"`
}

// BatchResult is the tagged outcome of one batch. Results holds one entry
// per input path in input order when the outcome is BatchCompleted, and is
// empty for every other outcome: no partial measurements escape a failed
// batch.
type BatchResult struct {
	Outcome       BatchOutcome   `json:"outcome"`
	FailureReason string         `json:"failure_reason,omitempty"`
	Results       []*ImageResult `json:"results"`
}

// ByPath returns successfully analyzed results keyed by input path. The map
// is never nil and is empty unless the outcome is BatchCompleted, matching
// the legacy calling convention where consumers probed membership instead
// of checking an error. Skipped entries are omitted.
func (b *BatchResult) ByPath() map[string]*ImageResult {
	out := make(map[string]*ImageResult)
	if b.Outcome != BatchCompleted {
		return out
	}
	for _, r := range b.Results {
		if r.Error == "" {
			out[r.ImagePath] = r
		}
	}
	return out
}

// Failed returns the skipped entries of a completed batch.
func (b *BatchResult) Failed() []*ImageResult {
	var out []*ImageResult
	for _, r := range b.Results {
		if r.Error != "" {
			out = append(out, r)
		}
	}
	return out
}

func validationFailure(reason string) *BatchResult {
	return &BatchResult{
		Outcome:       BatchValidationFailed,
		FailureReason: reason,
		Results:       []*ImageResult{},
	}
}

func cancelledBatch(reason string) *BatchResult {
	return &BatchResult{
		Outcome:       BatchCancelled,
		FailureReason: reason,
		Results:       []*ImageResult{},
	}
}

func failedBatch(reason string) *BatchResult {
	return &BatchResult{
		Outcome:       BatchFailed,
		FailureReason: reason,
		Results:       []*ImageResult{},
	}
}
