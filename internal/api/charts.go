package api

import (
	"bytes"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/formulab-data/turbidity.report/internal/httputil"
)

// profileChart renders an HTML page with the per-row percentile profile and
// the derivative trace for one stored image result. This is an inspection
// page for browser use; the PNG figures remain the archival output.
// Query params: id (run), path (image path as submitted).
func (s *Server) profileChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	res, ok := s.loadImageResult(w, r)
	if !ok {
		return
	}

	rows := res.Profile.Rows()
	rowLabels := make([]string, rows)
	pMin := make([]opts.LineData, rows)
	p50 := make([]opts.LineData, rows)
	pMax := make([]opts.LineData, rows)
	for i := 0; i < rows; i++ {
		rowLabels[i] = fmt.Sprintf("%d", i)
		pMin[i] = opts.LineData{Value: res.Profile.PMin[i]}
		p50[i] = opts.LineData{Value: res.Profile.P50[i]}
		pMax[i] = opts.LineData{Value: res.Profile.PMax[i]}
	}

	profile := charts.NewLine()
	profile.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Vertical Intensity Profile",
			Width:     "1200px",
			Height:    "500px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s - Vertical Intensity Profile", filepath.Base(res.ImagePath)),
			Subtitle: fmt.Sprintf("%dx%d  p_min=%.1f p50=%.1f p_max=%.1f", res.Width, res.Height, res.Stats.PMin, res.Stats.P50, res.Stats.PMax),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 255, Name: "Intensity"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Row"}),
	)
	profile.SetXAxis(rowLabels).
		AddSeries("p_min", pMin).
		AddSeries("p50", p50).
		AddSeries("p_max", pMax)

	deltas := make([]opts.LineData, len(res.Derivative.Deltas))
	deltaLabels := make([]string, len(res.Derivative.Deltas))
	for i, d := range res.Derivative.Deltas {
		deltaLabels[i] = fmt.Sprintf("%d", i)
		deltas[i] = opts.LineData{Value: d}
	}

	derivative := charts.NewLine()
	derivative.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:  "1200px",
			Height: "400px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title: "Median Row Derivative",
			Subtitle: fmt.Sprintf("strongest boundary between rows %d and %d (|delta|=%.1f)",
				res.Derivative.PeakRow, res.Derivative.PeakRow+1, res.Derivative.PeakMagnitude),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Row boundary"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "delta p50"}),
	)
	derivative.SetXAxis(deltaLabels).AddSeries("delta_p50", deltas)

	s.renderPage(w, profile, derivative)
}

// histogramChart renders an HTML page with the intensity histogram and the
// cumulative curve of one stored image result, with the class thresholds in
// the subtitle. Query params: id (run), path (image path as submitted).
func (s *Server) histogramChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	res, ok := s.loadImageResult(w, r)
	if !ok {
		return
	}

	labels := make([]string, len(res.Histogram))
	counts := make([]opts.BarData, len(res.Histogram))
	for i, c := range res.Histogram {
		labels[i] = fmt.Sprintf("%d", i)
		counts[i] = opts.BarData{Value: c}
	}

	thresholdNote := ""
	for _, tp := range res.ThresholdPositions {
		thresholdNote += fmt.Sprintf("class %d <= %d (%.1f%%)  ", tp.Class, tp.Intensity, tp.CumulativePercent)
	}

	histogram := charts.NewBar()
	histogram.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Intensity Histogram",
			Width:     "1200px",
			Height:    "500px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s - Intensity Histogram", filepath.Base(res.ImagePath)),
			Subtitle: thresholdNote,
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Intensity"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Pixel count"}),
	)
	histogram.SetXAxis(labels).AddSeries("count", counts)

	cumulative := make([]opts.LineData, len(res.Cumulative))
	for i, pct := range res.Cumulative {
		cumulative[i] = opts.LineData{Value: pct}
	}

	cdf := charts.NewLine()
	cdf.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:  "1200px",
			Height: "400px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title: "Cumulative Distribution",
			Subtitle: fmt.Sprintf("contrast_absolute=%.1f%% shadow=%.1f%% highlight=%.1f%%",
				res.Contrast.Absolute, res.Contrast.Shadow, res.Contrast.Highlight),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Intensity"}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 100, Name: "% of pixels"}),
	)
	cdf.SetXAxis(labels).AddSeries("cumulative_percent", cumulative)

	s.renderPage(w, histogram, cdf)
}

func (s *Server) renderPage(w http.ResponseWriter, chs ...components.Charter) {
	page := components.NewPage()
	page.AddCharts(chs...)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart page: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
