package turbidity

import (
	"fmt"
)

// Default analysis parameters. The 10/90 band covers the bulk of the pixel
// mass while staying robust to specular highlights on the vial wall and to
// shadows at the meniscus.
const (
	DefaultMinimumPercentile = 10.0
	DefaultMaximumPercentile = 90.0
)

// ValidationError reports a request parameter that failed pre-flight
// checks. Validation is all-or-nothing for a batch: the first violation
// fails the whole call before any image is opened.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// PercentileBounds is the pair of percentile cutoffs applied uniformly to
// every image in a batch. Min must sit strictly below the median and Max
// strictly above it so the contrast band is always well formed.
type PercentileBounds struct {
	Min float64 `json:"minimum_percentile"`
	Max float64 `json:"maximum_percentile"`
}

// DefaultBounds returns the laboratory default 10/90 band.
func DefaultBounds() PercentileBounds {
	return PercentileBounds{Min: DefaultMinimumPercentile, Max: DefaultMaximumPercentile}
}

// Validate checks 0 <= Min < 50 < Max <= 100.
func (b PercentileBounds) Validate() error {
	if b.Min < 0 || b.Min >= 50 {
		return &ValidationError{
			Field: "minimum_percentile",
			Msg:   fmt.Sprintf("must be in [0, 50), got %g", b.Min),
		}
	}
	if b.Max <= 50 || b.Max > 100 {
		return &ValidationError{
			Field: "maximum_percentile",
			Msg:   fmt.Sprintf("must be in (50, 100], got %g", b.Max),
		}
	}
	return nil
}

// ClassThresholds holds the upper intensity limit for each of the four
// turbidity classes. The values are independent markers on the cumulative
// curve; no mutual ordering is enforced, only the 8-bit range.
type ClassThresholds [4]int

// DefaultClassThresholds returns the laboratory class markers.
func DefaultClassThresholds() ClassThresholds {
	return ClassThresholds{75, 110, 150, 255}
}

// Validate checks that every threshold is a valid 8-bit intensity.
func (t ClassThresholds) Validate() error {
	for i, v := range t {
		if v < 0 || v > 255 {
			return &ValidationError{
				Field: fmt.Sprintf("maximum_pixel_intensity_for_class_%d", i+1),
				Msg:   fmt.Sprintf("must be in [0, 255], got %d", v),
			}
		}
	}
	return nil
}

// DecodePolicy selects how a batch reacts when an image that passed the
// path pre-flight later fails to load, decode, or finish within its
// per-image deadline.
type DecodePolicy string

const (
	// DecodeFail aborts the whole batch on the first per-image failure.
	DecodeFail DecodePolicy = "fail"
	// DecodeSkip records a per-image failure entry and continues.
	DecodeSkip DecodePolicy = "skip"
)

// Validate accepts the two known policies; the empty string means
// DecodeFail.
func (p DecodePolicy) Validate() error {
	switch p {
	case "", DecodeFail, DecodeSkip:
		return nil
	default:
		return &ValidationError{
			Field: "on_decode_error",
			Msg:   fmt.Sprintf("must be %q or %q, got %q", DecodeFail, DecodeSkip, p),
		}
	}
}
