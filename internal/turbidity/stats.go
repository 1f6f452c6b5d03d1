package turbidity

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/formulab-data/turbidity.report/internal/imaging"
)

// fullRange is the fixed 8-bit intensity span. Contrast percentages are
// normalized by this constant, never by the observed min/max, so values
// stay comparable across images.
const fullRange = 255.0

// GlobalStats summarizes the luminance distribution of a whole frame.
type GlobalStats struct {
	Min    float64 `json:"min"`
	PMin   float64 `json:"p_min"`
	P50    float64 `json:"p50"`
	PMax   float64 `json:"p_max"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// RowProfile holds per-row luminance statistics. Every slice has exactly
// one entry per image row, top to bottom. Contrast is the PMax-PMin
// mid-band spread; ShadowContrast and HighlightContrast are the PMin-Min
// and Max-PMax tail spreads, all percentages of the full 8-bit range.
type RowProfile struct {
	PMin              []float64 `json:"p_min"`
	P50               []float64 `json:"p50"`
	PMax              []float64 `json:"p_max"`
	Min               []float64 `json:"min"`
	Max               []float64 `json:"max"`
	Contrast          []float64 `json:"contrast"`
	ShadowContrast    []float64 `json:"shadow_contrast"`
	HighlightContrast []float64 `json:"highlight_contrast"`
}

// Rows returns the number of image rows the profile covers.
func (p RowProfile) Rows() int { return len(p.P50) }

// intensityLevels is the domain [0, 255] as float64, shared by the weighted
// mean and variance calls.
var intensityLevels = func() []float64 {
	levels := make([]float64, 256)
	for i := range levels {
		levels[i] = float64(i)
	}
	return levels
}()

// GlobalStatsOf computes frame-level statistics for the given bounds.
func GlobalStatsOf(m *imaging.Matrix, bounds PercentileBounds) GlobalStats {
	counts := binCounts(m.Pix)
	total := len(m.Pix)
	weights := countWeights(&counts)

	return GlobalStats{
		Min:    float64(minLevel(&counts)),
		PMin:   percentile(&counts, total, bounds.Min),
		P50:    percentile(&counts, total, 50),
		PMax:   percentile(&counts, total, bounds.Max),
		Max:    float64(maxLevel(&counts)),
		Mean:   stat.Mean(intensityLevels, weights),
		StdDev: stat.PopStdDev(intensityLevels, weights),
	}
}

// RowProfileOf computes per-row statistics for the given bounds.
func RowProfileOf(m *imaging.Matrix, bounds PercentileBounds) RowProfile {
	h := m.H
	prof := RowProfile{
		PMin:              make([]float64, h),
		P50:               make([]float64, h),
		PMax:              make([]float64, h),
		Min:               make([]float64, h),
		Max:               make([]float64, h),
		Contrast:          make([]float64, h),
		ShadowContrast:    make([]float64, h),
		HighlightContrast: make([]float64, h),
	}
	for y := 0; y < h; y++ {
		row := m.Row(y)
		counts := binCounts(row)
		prof.PMin[y] = percentile(&counts, len(row), bounds.Min)
		prof.P50[y] = percentile(&counts, len(row), 50)
		prof.PMax[y] = percentile(&counts, len(row), bounds.Max)
		prof.Min[y] = float64(minLevel(&counts))
		prof.Max[y] = float64(maxLevel(&counts))
		prof.Contrast[y] = (prof.PMax[y] - prof.PMin[y]) / fullRange * 100
		prof.ShadowContrast[y] = (prof.PMin[y] - prof.Min[y]) / fullRange * 100
		prof.HighlightContrast[y] = (prof.Max[y] - prof.PMax[y]) / fullRange * 100
	}
	return prof
}

// binCounts tallies pixel values into 256 exact bins.
func binCounts(pix []uint8) [256]int {
	var counts [256]int
	for _, v := range pix {
		counts[v]++
	}
	return counts
}

// percentile evaluates the p-th percentile of the values represented by
// counts using linear interpolation between the two nearest order
// statistics: for n values the fractional rank is h = (n-1)*p/100 and the
// result interpolates between the floor(h)-th and (floor(h)+1)-th smallest
// values. Working from bin counts keeps the evaluation exact and avoids
// sorting pixels.
func percentile(counts *[256]int, total int, p float64) float64 {
	if total == 0 {
		return 0
	}
	h := float64(total-1) * p / 100
	k := int(math.Floor(h))
	frac := h - float64(k)

	lo := orderStatistic(counts, k)
	if frac == 0 {
		return float64(lo)
	}
	hi := orderStatistic(counts, k+1)
	return float64(lo) + frac*float64(hi-lo)
}

// orderStatistic returns the k-th (0-based) smallest value in counts.
func orderStatistic(counts *[256]int, k int) int {
	cum := 0
	for v := 0; v < 256; v++ {
		cum += counts[v]
		if cum > k {
			return v
		}
	}
	return 255
}

// minLevel returns the lowest occupied bin, 0 when counts is empty.
func minLevel(counts *[256]int) int {
	for v := 0; v < 256; v++ {
		if counts[v] > 0 {
			return v
		}
	}
	return 0
}

// maxLevel returns the highest occupied bin, 0 when counts is empty.
func maxLevel(counts *[256]int) int {
	for v := 255; v >= 0; v-- {
		if counts[v] > 0 {
			return v
		}
	}
	return 0
}

// countWeights converts bin counts to the float64 weight vector gonum's
// weighted statistics expect.
func countWeights(counts *[256]int) []float64 {
	weights := make([]float64, 256)
	for i, c := range counts {
		weights[i] = float64(c)
	}
	return weights
}
