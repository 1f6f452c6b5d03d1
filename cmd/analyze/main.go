// Command analyze runs the turbidity pipeline over a list of photographs
// from the command line, prints the batch result as JSON, and writes the
// per-image figures unless -plots=false.
//
//	analyze -min 10 -max 90 -out figures sample1.png sample2.png
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/formulab-data/turbidity.report/internal/fsutil"
	"github.com/formulab-data/turbidity.report/internal/report"
	"github.com/formulab-data/turbidity.report/internal/turbidity"
)

var (
	minPercentile = flag.Float64("min", turbidity.DefaultMinimumPercentile, "Minimum percentile bound [0,50)")
	maxPercentile = flag.Float64("max", turbidity.DefaultMaximumPercentile, "Maximum percentile bound (50,100]")
	thresholds    = flag.String("thresholds", "", "Class thresholds as four comma-separated ints (default 75,110,150,255)")
	outputDir     = flag.String("out", "figures", "Directory for figure output")
	workers       = flag.Int("workers", 0, "Worker count (0 = one per CPU)")
	timeout       = flag.Duration("timeout", 0, "Per-image timeout (0 disables)")
	plots         = flag.Bool("plots", true, "Render overlay/profile/histogram figures")
	skipBad       = flag.Bool("skip-bad", false, "Skip undecodable images instead of failing the batch")
	compact       = flag.Bool("compact", false, "Print compact JSON instead of indented")
)

// parseThresholds parses a comma-separated list of four class thresholds.
func parseThresholds(s string) (turbidity.ClassThresholds, error) {
	out := turbidity.DefaultClassThresholds()
	if s == "" {
		return out, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != len(out) {
		return out, fmt.Errorf("expected %d thresholds, got %d", len(out), len(parts))
	}
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return out, fmt.Errorf("invalid threshold '%s': %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

func main() {
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: analyze [flags] <image> [<image> ...]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	classThresholds, err := parseThresholds(*thresholds)
	if err != nil {
		log.Fatalf("Invalid -thresholds: %v", err)
	}

	req := turbidity.AnalyzeRequest{
		ImagePaths:    paths,
		Bounds:        turbidity.PercentileBounds{Min: *minPercentile, Max: *maxPercentile},
		Thresholds:    classThresholds,
		RenderFigures: *plots,
		Workers:       *workers,
		ImageTimeout:  *timeout,
	}
	if *skipBad {
		req.OnDecodeError = turbidity.DecodeSkip
	}

	osfs := fsutil.OSFileSystem{}
	analyzer := &turbidity.Analyzer{FS: osfs}
	if *plots {
		analyzer.Renderer = report.New(osfs, *outputDir)
	}

	start := time.Now()
	res := analyzer.Analyze(context.Background(), req)

	enc := json.NewEncoder(os.Stdout)
	if !*compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(res); err != nil {
		log.Fatalf("Failed to encode result: %v", err)
	}

	if res.Outcome != turbidity.BatchCompleted {
		log.Fatalf("Batch %s: %s", res.Outcome, res.FailureReason)
	}
	log.Printf("Analyzed %d images in %v (%d skipped)",
		len(res.Results), time.Since(start).Round(time.Millisecond), len(res.Failed()))
}
