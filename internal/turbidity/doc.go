// Package turbidity implements the deterministic pixel-statistics pipeline
// that grades photographs of liquid formulations by turbidity and phase
// separation.
//
// Each photo flows through five stages: the loader normalizes the frame
// into RGB and luminance views; the percentile engine computes global and
// per-row statistics with linear interpolation; the derivative profile
// differences the per-row median to expose phase boundaries; the band mask
// classifies every pixel against the percentile cutoffs; and the histogram
// builder produces the 256-bin distribution, its cumulative curve, and the
// class threshold positions on it.
//
// Batches run through Analyzer.Analyze, which validates all parameters and
// input paths before opening any image and reports every disposition as a
// tagged BatchResult. Runner adds the service lifecycle on top: one run at
// a time, status queries, cancellation, and persistence.
package turbidity
