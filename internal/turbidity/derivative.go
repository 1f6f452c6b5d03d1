package turbidity

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// DerivativeProfile is the first difference of the per-row median. A sharp
// phase boundary between rows i and i+1 shows up as a large |Deltas[i]|.
type DerivativeProfile struct {
	// Deltas[i] = P50[i+1] - P50[i]; length is rows-1.
	Deltas []float64 `json:"deltas"`

	// PeakMagnitude is max |Deltas[i]| and PeakRow its first index.
	// PeakRow indexes the boundary between rows PeakRow and PeakRow+1.
	PeakMagnitude float64 `json:"peak_magnitude"`
	PeakRow       int     `json:"peak_row"`
}

// DerivativeOf differences the per-row median of a profile. Single-row
// images yield an empty profile with a zero peak.
func DerivativeOf(profile RowProfile) DerivativeProfile {
	n := profile.Rows()
	if n < 2 {
		return DerivativeProfile{Deltas: []float64{}}
	}

	deltas := make([]float64, n-1)
	magnitudes := make([]float64, n-1)
	for i := range deltas {
		deltas[i] = profile.P50[i+1] - profile.P50[i]
		magnitudes[i] = math.Abs(deltas[i])
	}

	peak := floats.MaxIdx(magnitudes)
	return DerivativeProfile{
		Deltas:        deltas,
		PeakMagnitude: magnitudes[peak],
		PeakRow:       peak,
	}
}
