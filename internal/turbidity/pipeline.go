package turbidity

import (
	"image"

	"github.com/formulab-data/turbidity.report/internal/fsutil"
	"github.com/formulab-data/turbidity.report/internal/imaging"
)

// ImageAnalysis pairs the deterministic result with the pixel-level
// artifacts the figure renderer consumes. The pixel fields are dropped once
// figures are written; only Result is persisted.
type ImageAnalysis struct {
	Result    *ImageResult
	RGB       *image.RGBA
	Luminance *imaging.Matrix
	Mask      *OverlayMask
}

// AnalyzeImage runs the single-image pipeline: load, global and per-row
// statistics, boundary derivative, band mask, histogram and cumulative
// curve. Load failures pass through unchanged so callers can apply the
// batch decode policy.
func AnalyzeImage(fsys fsutil.FileSystem, path string, bounds PercentileBounds, thresholds ClassThresholds) (*ImageAnalysis, error) {
	img, err := imaging.Load(fsys, path)
	if err != nil {
		return nil, err
	}
	return analyzeLoaded(img, bounds, thresholds), nil
}

func analyzeLoaded(img *imaging.Image, bounds PercentileBounds, thresholds ClassThresholds) *ImageAnalysis {
	stats := GlobalStatsOf(img.Lum, bounds)
	profile := RowProfileOf(img.Lum, bounds)
	hist := HistogramOf(img.Lum)
	cum := CumulativeOf(hist)

	result := &ImageResult{
		ImagePath:          img.Path,
		Width:              img.Lum.W,
		Height:             img.Lum.H,
		Stats:              stats,
		Contrast:           ContrastMetricsOf(stats, profile),
		Profile:            profile,
		Derivative:         DerivativeOf(profile),
		Histogram:          hist,
		Cumulative:         cum,
		ThresholdPositions: ThresholdPositionsOf(cum, thresholds),
	}

	return &ImageAnalysis{
		Result:    result,
		RGB:       img.RGB,
		Luminance: img.Lum,
		Mask:      ClassifyMask(img.Lum, stats),
	}
}
