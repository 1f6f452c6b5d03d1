// Package report renders per-image analysis figures: an overlay PNG that
// paints pixels outside the percentile band, a vertical intensity profile
// figure, and an intensity histogram figure with class threshold markers.
package report

import (
	"fmt"
	"image/color"
	"image/png"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/formulab-data/turbidity.report/internal/fsutil"
	"github.com/formulab-data/turbidity.report/internal/security"
	"github.com/formulab-data/turbidity.report/internal/turbidity"
)

// Renderer writes figures for analyzed images into OutputDir. It implements
// turbidity.Renderer so the batch analyzer can call it per image.
type Renderer struct {
	FS        fsutil.FileSystem
	OutputDir string
}

// New creates a Renderer writing figures through fs into outputDir.
func New(fs fsutil.FileSystem, outputDir string) *Renderer {
	return &Renderer{FS: fs, OutputDir: outputDir}
}

// FigureStem derives the figure filename stem for an image path: the base
// name without extension, sanitized for filesystem use.
func FigureStem(imagePath string) string {
	base := filepath.Base(imagePath)
	if ext := filepath.Ext(base); ext != "" {
		base = base[:len(base)-len(ext)]
	}
	return security.SanitizeFilename(base)
}

// RenderImage writes the three figures for one analyzed image:
// <stem>_overlay.png, <stem>_profile.png and <stem>_histogram.png.
func (r *Renderer) RenderImage(a *turbidity.ImageAnalysis) error {
	if err := r.FS.MkdirAll(r.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	stem := FigureStem(a.Result.ImagePath)

	if err := r.writeOverlay(a, stem+"_overlay.png"); err != nil {
		return err
	}

	profile, err := profilePlot(a.Result)
	if err != nil {
		return fmt.Errorf("build profile figure: %w", err)
	}
	if err := r.savePlot(profile, stem+"_profile.png"); err != nil {
		return err
	}

	histogram, err := histogramPlot(a.Result)
	if err != nil {
		return fmt.Errorf("build histogram figure: %w", err)
	}
	return r.savePlot(histogram, stem+"_histogram.png")
}

func (r *Renderer) writeOverlay(a *turbidity.ImageAnalysis, name string) error {
	f, err := r.FS.Create(filepath.Join(r.OutputDir, name))
	if err != nil {
		return fmt.Errorf("create overlay file: %w", err)
	}
	defer f.Close()

	overlay := turbidity.RenderOverlay(a.RGB, a.Mask)
	if err := png.Encode(f, overlay); err != nil {
		return fmt.Errorf("encode overlay: %w", err)
	}
	return nil
}

func (r *Renderer) savePlot(p *plot.Plot, name string) error {
	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render figure %s: %w", name, err)
	}

	f, err := r.FS.Create(filepath.Join(r.OutputDir, name))
	if err != nil {
		return fmt.Errorf("create figure file: %w", err)
	}
	defer f.Close()

	if _, err := wt.WriteTo(f); err != nil {
		return fmt.Errorf("write figure %s: %w", name, err)
	}
	return nil
}

// profilePlot draws the per-row percentile series over row index, with a
// marker at the strongest median step when one exists.
func profilePlot(res *turbidity.ImageResult) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - Vertical Intensity Profile", filepath.Base(res.ImagePath))
	p.X.Label.Text = "Row"
	p.Y.Label.Text = "Intensity"
	p.Y.Min = 0
	p.Y.Max = 255

	series := []struct {
		name   string
		values []float64
	}{
		{"p_min", res.Profile.PMin},
		{"p50", res.Profile.P50},
		{"p_max", res.Profile.PMax},
	}

	colors := linePalette(len(series))
	for i, s := range series {
		pts := make(plotter.XYs, len(s.values))
		for row, v := range s.values {
			pts[row] = plotter.XY{X: float64(row), Y: v}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.name, line)
	}

	if res.Derivative.PeakMagnitude > 0 {
		marker, err := verticalLine(float64(res.Derivative.PeakRow)+0.5, 0, 255)
		if err != nil {
			return nil, err
		}
		p.Add(marker)
		p.Legend.Add("strongest boundary", marker)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p, nil
}

// histogramPlot draws the 256-bin count curve, the cumulative percentage
// rescaled onto the count axis, and a vertical marker per class threshold.
func histogramPlot(res *turbidity.ImageResult) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - Intensity Histogram", filepath.Base(res.ImagePath))
	p.X.Label.Text = "Intensity"
	p.Y.Label.Text = "Pixel Count"
	p.X.Min = 0
	p.X.Max = 255

	maxCount := 0.0
	for _, c := range res.Histogram {
		if float64(c) > maxCount {
			maxCount = float64(c)
		}
	}
	if maxCount == 0 {
		maxCount = 1
	}

	histPts := make(plotter.XYs, len(res.Histogram))
	for i, c := range res.Histogram {
		histPts[i] = plotter.XY{X: float64(i), Y: float64(c)}
	}
	histLine, err := plotter.NewLine(histPts)
	if err != nil {
		return nil, err
	}
	histLine.Color = color.RGBA{R: 70, G: 130, B: 180, A: 255}
	histLine.Width = vg.Points(1)
	p.Add(histLine)
	p.Legend.Add("count", histLine)

	cdfPts := make(plotter.XYs, len(res.Cumulative))
	for i, pct := range res.Cumulative {
		cdfPts[i] = plotter.XY{X: float64(i), Y: pct / 100 * maxCount}
	}
	cdfLine, err := plotter.NewLine(cdfPts)
	if err != nil {
		return nil, err
	}
	cdfLine.Color = color.RGBA{R: 220, G: 120, B: 40, A: 255}
	cdfLine.Width = vg.Points(1)
	p.Add(cdfLine)
	p.Legend.Add("cumulative % (scaled)", cdfLine)

	for _, tp := range res.ThresholdPositions {
		marker, err := verticalLine(float64(tp.Intensity), 0, maxCount)
		if err != nil {
			return nil, err
		}
		p.Add(marker)
		p.Legend.Add(fmt.Sprintf("class %d <= %d", tp.Class, tp.Intensity), marker)
	}

	p.Legend.Top = true
	p.Legend.Left = true
	p.Legend.XOffs = 10
	p.Legend.YOffs = -10

	return p, nil
}

// verticalLine builds a dashed gray marker at x spanning [yMin, yMax].
func verticalLine(x, yMin, yMax float64) (*plotter.Line, error) {
	line, err := plotter.NewLine(plotter.XYs{
		{X: x, Y: yMin},
		{X: x, Y: yMax},
	})
	if err != nil {
		return nil, err
	}
	line.Color = color.RGBA{R: 128, G: 128, B: 128, A: 255}
	line.Width = vg.Points(1)
	line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	return line, nil
}

// linePalette creates a palette of distinct colors for profile lines.
func linePalette(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
