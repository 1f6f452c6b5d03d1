package turbidity

import (
	"github.com/formulab-data/turbidity.report/internal/imaging"
)

// matrixOf builds a luminance matrix from explicit rows. All rows must
// share one length.
func matrixOf(rows ...[]uint8) *imaging.Matrix {
	h := len(rows)
	w := len(rows[0])
	m := imaging.NewMatrix(w, h)
	for y, row := range rows {
		copy(m.Row(y), row)
	}
	return m
}

// uniformMatrix builds a w×h matrix holding a single value.
func uniformMatrix(w, h int, v uint8) *imaging.Matrix {
	m := imaging.NewMatrix(w, h)
	for i := range m.Pix {
		m.Pix[i] = v
	}
	return m
}

// twoBandMatrix builds a w×h matrix whose first topRows rows hold top and
// whose remaining rows hold bottom.
func twoBandMatrix(w, h, topRows int, top, bottom uint8) *imaging.Matrix {
	m := imaging.NewMatrix(w, h)
	for y := 0; y < h; y++ {
		v := top
		if y >= topRows {
			v = bottom
		}
		row := m.Row(y)
		for x := range row {
			row[x] = v
		}
	}
	return m
}
