package turbidity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentileInterpolation(t *testing.T) {
	t.Parallel()

	// Four distinct values: 10, 20, 30, 40.
	counts := binCounts([]uint8{40, 10, 30, 20})

	tests := []struct {
		p    float64
		want float64
	}{
		{0, 10},
		{25, 17.5},  // h = 0.75, between 10 and 20
		{50, 25},    // h = 1.5, between 20 and 30
		{75, 32.5},  // h = 2.25, between 30 and 40
		{90, 37},    // h = 2.7
		{100, 40},
	}
	for _, tt := range tests {
		got := percentile(&counts, 4, tt.p)
		assert.InDelta(t, tt.want, got, 1e-12, "p%g", tt.p)
	}
}

func TestPercentileSingleValue(t *testing.T) {
	t.Parallel()

	counts := binCounts([]uint8{7})
	for _, p := range []float64{0, 10, 50, 90, 100} {
		assert.Equal(t, 7.0, percentile(&counts, 1, p))
	}
}

func TestPercentileTwoValues(t *testing.T) {
	t.Parallel()

	counts := binCounts([]uint8{0, 255})
	assert.Equal(t, 127.5, percentile(&counts, 2, 50))
	assert.Equal(t, 0.0, percentile(&counts, 2, 0))
	assert.Equal(t, 255.0, percentile(&counts, 2, 100))
}

func TestGlobalStatsUniform(t *testing.T) {
	t.Parallel()

	m := uniformMatrix(8, 8, 128)
	stats := GlobalStatsOf(m, DefaultBounds())

	assert.Equal(t, 128.0, stats.Min)
	assert.Equal(t, 128.0, stats.PMin)
	assert.Equal(t, 128.0, stats.P50)
	assert.Equal(t, 128.0, stats.PMax)
	assert.Equal(t, 128.0, stats.Max)
	assert.Equal(t, 128.0, stats.Mean)
	assert.Equal(t, 0.0, stats.StdDev)
}

func TestGlobalStatsTwoBand(t *testing.T) {
	t.Parallel()

	// 100 pixels: 50 at intensity 50, 50 at intensity 200.
	m := twoBandMatrix(10, 10, 5, 50, 200)
	stats := GlobalStatsOf(m, DefaultBounds())

	assert.Equal(t, 50.0, stats.Min)
	assert.Equal(t, 50.0, stats.PMin)
	assert.Equal(t, 125.0, stats.P50, "median interpolates halfway between the bands")
	assert.Equal(t, 200.0, stats.PMax)
	assert.Equal(t, 200.0, stats.Max)
	assert.Equal(t, 125.0, stats.Mean)
	assert.InDelta(t, 75.0, stats.StdDev, 1e-9)
}

func TestRowProfileTwoBand(t *testing.T) {
	t.Parallel()

	m := twoBandMatrix(10, 10, 5, 50, 200)
	prof := RowProfileOf(m, DefaultBounds())

	require.Equal(t, 10, prof.Rows())
	for _, s := range [][]float64{
		prof.PMin, prof.P50, prof.PMax, prof.Min, prof.Max,
		prof.Contrast, prof.ShadowContrast, prof.HighlightContrast,
	} {
		require.Len(t, s, 10)
	}

	// Every row is uniform, so all row statistics collapse to the band value
	// and row contrast is zero.
	for y := 0; y < 10; y++ {
		want := 50.0
		if y >= 5 {
			want = 200.0
		}
		assert.Equal(t, want, prof.P50[y], "row %d", y)
		assert.Equal(t, want, prof.PMin[y], "row %d", y)
		assert.Equal(t, want, prof.PMax[y], "row %d", y)
		assert.Equal(t, 0.0, prof.Contrast[y], "row %d", y)
	}
}

func TestRowProfileContrast(t *testing.T) {
	t.Parallel()

	// One mixed row: values 0..4 of 100 and 200 alternating is overkill;
	// use an explicit row where p10/p90 are easy to pin down.
	m := matrixOf(
		[]uint8{10, 20, 30, 40},
		[]uint8{100, 100, 100, 100},
	)
	prof := RowProfileOf(m, PercentileBounds{Min: 25, Max: 75})

	assert.Equal(t, 17.5, prof.PMin[0])
	assert.Equal(t, 32.5, prof.PMax[0])
	assert.InDelta(t, (32.5-17.5)/255*100, prof.Contrast[0], 1e-12)
	assert.InDelta(t, (17.5-10.0)/255*100, prof.ShadowContrast[0], 1e-12)
	assert.InDelta(t, (40.0-32.5)/255*100, prof.HighlightContrast[0], 1e-12)
	assert.Equal(t, 0.0, prof.Contrast[1])
	assert.Equal(t, 0.0, prof.ShadowContrast[1])
	assert.Equal(t, 0.0, prof.HighlightContrast[1])
}

func TestStatsShiftInvariance(t *testing.T) {
	t.Parallel()

	base := twoBandMatrix(10, 10, 5, 50, 200)
	shifted := twoBandMatrix(10, 10, 5, 60, 210)
	bounds := DefaultBounds()

	a := GlobalStatsOf(base, bounds)
	b := GlobalStatsOf(shifted, bounds)

	// A constant intensity shift moves every percentile by the same amount
	// and leaves the spread untouched.
	assert.Equal(t, a.PMin+10, b.PMin)
	assert.Equal(t, a.P50+10, b.P50)
	assert.Equal(t, a.PMax+10, b.PMax)
	assert.InDelta(t, a.StdDev, b.StdDev, 1e-9)

	ca := ContrastMetricsOf(a, RowProfileOf(base, bounds))
	cb := ContrastMetricsOf(b, RowProfileOf(shifted, bounds))
	assert.InDelta(t, ca.Absolute, cb.Absolute, 1e-12)
	assert.InDelta(t, ca.Shadow, cb.Shadow, 1e-12)
	assert.InDelta(t, ca.Highlight, cb.Highlight, 1e-12)

	da := DerivativeOf(RowProfileOf(base, bounds))
	db := DerivativeOf(RowProfileOf(shifted, bounds))
	assert.Equal(t, da.Deltas, db.Deltas)
	assert.Equal(t, da.PeakRow, db.PeakRow)
}

func TestOrderStatisticBounds(t *testing.T) {
	t.Parallel()

	counts := binCounts([]uint8{5, 5, 9})
	assert.Equal(t, 5, orderStatistic(&counts, 0))
	assert.Equal(t, 5, orderStatistic(&counts, 1))
	assert.Equal(t, 9, orderStatistic(&counts, 2))

	assert.Equal(t, 5, minLevel(&counts))
	assert.Equal(t, 9, maxLevel(&counts))
}
