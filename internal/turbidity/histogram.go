package turbidity

import (
	"github.com/formulab-data/turbidity.report/internal/imaging"
)

// HistogramOf counts luminance occurrences into 256 exact bins, one per
// 8-bit intensity.
func HistogramOf(m *imaging.Matrix) []int64 {
	counts := binCounts(m.Pix)
	hist := make([]int64, 256)
	for i, c := range counts {
		hist[i] = int64(c)
	}
	return hist
}

// CumulativeOf converts a histogram into cumulative percentages of the
// total pixel count. The curve is monotonically non-decreasing and the
// final entry is exactly 100 for any non-empty frame.
func CumulativeOf(hist []int64) []float64 {
	var total int64
	for _, c := range hist {
		total += c
	}
	out := make([]float64, len(hist))
	if total == 0 {
		return out
	}
	var running int64
	for i, c := range hist {
		running += c
		out[i] = float64(running) / float64(total) * 100
	}
	return out
}

// ThresholdPosition locates one class threshold on the cumulative curve:
// the share of pixels at or below the class's intensity limit.
type ThresholdPosition struct {
	Class             int     `json:"class"`
	Intensity         int     `json:"intensity"`
	CumulativePercent float64 `json:"cumulative_percent"`
}

// ThresholdPositionsOf reads each class threshold off the cumulative
// curve. Entries keep class order 1 through 4.
func ThresholdPositionsOf(cum []float64, thresholds ClassThresholds) []ThresholdPosition {
	out := make([]ThresholdPosition, len(thresholds))
	for i, t := range thresholds {
		out[i] = ThresholdPosition{
			Class:             i + 1,
			Intensity:         t,
			CumulativePercent: cum[t],
		}
	}
	return out
}
