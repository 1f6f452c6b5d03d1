package turbidity

import (
	"image"
	"image/color"

	"gonum.org/v1/gonum/floats"

	"github.com/formulab-data/turbidity.report/internal/imaging"
)

// MaskClass labels one pixel relative to the percentile band.
type MaskClass uint8

const (
	// MaskInRange marks pixels inside [PMin, PMax]. Ties land here: the
	// band comparisons are strict on both sides.
	MaskInRange MaskClass = iota
	// MaskBelowMin marks pixels strictly darker than PMin.
	MaskBelowMin
	// MaskAboveMax marks pixels strictly brighter than PMax.
	MaskAboveMax
)

// Overlay highlight colors. Dark red flags the shadow band, light red the
// highlight band; in-range pixels keep their original color.
var (
	overlayBelowColor = color.RGBA{R: 139, G: 0, B: 0, A: 255}
	overlayAboveColor = color.RGBA{R: 255, G: 100, B: 100, A: 255}
)

// OverlayMask assigns every pixel of a frame to a band class.
type OverlayMask struct {
	W, H    int
	Classes []MaskClass // row-major, len == W*H

	// Band population counts.
	CountBelow   int
	CountInRange int
	CountAbove   int
}

// At returns the class at column x, row y.
func (om *OverlayMask) At(x, y int) MaskClass {
	return om.Classes[y*om.W+x]
}

// ClassifyMask bands every pixel against the global percentile cutoffs.
func ClassifyMask(m *imaging.Matrix, stats GlobalStats) *OverlayMask {
	om := &OverlayMask{
		W:       m.W,
		H:       m.H,
		Classes: make([]MaskClass, len(m.Pix)),
	}
	for i, v := range m.Pix {
		fv := float64(v)
		switch {
		case fv < stats.PMin:
			om.Classes[i] = MaskBelowMin
			om.CountBelow++
		case fv > stats.PMax:
			om.Classes[i] = MaskAboveMax
			om.CountAbove++
		default:
			om.CountInRange++
		}
	}
	return om
}

// RenderOverlay paints the mask over a copy of the RGB frame: shadow-band
// pixels dark red, highlight-band pixels light red. The input frame is not
// modified.
func RenderOverlay(rgb *image.RGBA, mask *OverlayMask) *image.RGBA {
	out := image.NewRGBA(rgb.Bounds())
	copy(out.Pix, rgb.Pix)
	for y := 0; y < mask.H; y++ {
		for x := 0; x < mask.W; x++ {
			switch mask.At(x, y) {
			case MaskBelowMin:
				out.SetRGBA(x, y, overlayBelowColor)
			case MaskAboveMax:
				out.SetRGBA(x, y, overlayAboveColor)
			}
		}
	}
	return out
}

// ContrastMetrics quantifies the spread of the percentile band and its
// tails, each value a percentage of the full 8-bit range.
type ContrastMetrics struct {
	// Absolute is the full band width (PMax - PMin).
	Absolute float64 `json:"absolute"`
	// Shadow is the lower tail (PMin - Min), the spread between the band
	// floor and the darkest pixel.
	Shadow float64 `json:"shadow"`
	// Highlight is the upper tail (Max - PMax), the spread between the
	// brightest pixel and the band ceiling.
	Highlight float64 `json:"highlight"`

	// Largest per-row value of each contrast series and the first row that
	// attains it.
	MaxRowContrast     float64 `json:"max_row_contrast"`
	MaxRowContrastRow  int     `json:"max_row_contrast_row"`
	MaxRowShadow       float64 `json:"max_row_shadow"`
	MaxRowShadowRow    int     `json:"max_row_shadow_row"`
	MaxRowHighlight    float64 `json:"max_row_highlight"`
	MaxRowHighlightRow int     `json:"max_row_highlight_row"`
}

// ContrastMetricsOf derives the contrast summary from frame statistics and
// the per-row profile.
func ContrastMetricsOf(stats GlobalStats, profile RowProfile) ContrastMetrics {
	cm := ContrastMetrics{
		Absolute:  (stats.PMax - stats.PMin) / fullRange * 100,
		Shadow:    (stats.PMin - stats.Min) / fullRange * 100,
		Highlight: (stats.Max - stats.PMax) / fullRange * 100,
	}
	if profile.Rows() > 0 {
		row := floats.MaxIdx(profile.Contrast)
		cm.MaxRowContrast = profile.Contrast[row]
		cm.MaxRowContrastRow = row

		row = floats.MaxIdx(profile.ShadowContrast)
		cm.MaxRowShadow = profile.ShadowContrast[row]
		cm.MaxRowShadowRow = row

		row = floats.MaxIdx(profile.HighlightContrast)
		cm.MaxRowHighlight = profile.HighlightContrast[row]
		cm.MaxRowHighlightRow = row
	}
	return cm
}
