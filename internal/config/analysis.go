package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical analysis defaults file.
// This is the single source of truth for all default analysis values.
const DefaultConfigPath = "config/analysis.defaults.json"

// AnalysisConfig represents the root configuration for the analysis
// pipeline. The schema matches the /api/config endpoint so the same JSON
// serves both startup configuration and inspection at runtime. All fields
// are pointers: omitted keys fall back to compiled defaults through the
// Get* accessors, so partial configs are safe.
type AnalysisConfig struct {
	// Percentile bounds applied to every image in a batch.
	MinimumPercentile *float64 `json:"minimum_percentile,omitempty"`
	MaximumPercentile *float64 `json:"maximum_percentile,omitempty"`

	// Upper pixel-intensity limits for the four turbidity classes, drawn
	// as vertical markers on histogram figures.
	ClassThresholds *[]int `json:"class_thresholds,omitempty"`

	// Batch execution params
	Workers       *int    `json:"workers,omitempty"`
	ImageTimeout  *string `json:"image_timeout,omitempty"` // duration string like "30s"; empty disables
	OnDecodeError *string `json:"on_decode_error,omitempty"`

	// Figure rendering params
	RenderFigures *bool   `json:"render_figures,omitempty"`
	OutputDir     *string `json:"output_dir,omitempty"`

	// Directories the HTTP API may read sample images from. Empty means
	// path confinement is disabled (trusted local use).
	SampleDirs *[]string `json:"sample_dirs,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyAnalysisConfig returns an AnalysisConfig with all fields set to nil.
// Use LoadAnalysisConfig to load actual values from a file.
func EmptyAnalysisConfig() *AnalysisConfig {
	return &AnalysisConfig{}
}

// LoadAnalysisConfig loads an AnalysisConfig from a JSON file. The file
// must have a .json extension and stay under the max file size. Fields
// omitted from the JSON retain their defaults.
func LoadAnalysisConfig(path string) (*AnalysisConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyAnalysisConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical analysis defaults from
// DefaultConfigPath, searching upward from the working directory. Panics
// if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *AnalysisConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/<pkg>/<sub>/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadAnalysisConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. The percentile
// constraint (min below the median, max above it) matches the batch
// validation so a bad config fails at load rather than on first use.
func (c *AnalysisConfig) Validate() error {
	if c.MinimumPercentile != nil {
		if *c.MinimumPercentile < 0 || *c.MinimumPercentile >= 50 {
			return fmt.Errorf("minimum_percentile must be in [0,50), got %g", *c.MinimumPercentile)
		}
	}
	if c.MaximumPercentile != nil {
		if *c.MaximumPercentile <= 50 || *c.MaximumPercentile > 100 {
			return fmt.Errorf("maximum_percentile must be in (50,100], got %g", *c.MaximumPercentile)
		}
	}

	if c.ClassThresholds != nil {
		if len(*c.ClassThresholds) != 4 {
			return fmt.Errorf("class_thresholds must hold exactly 4 values, got %d", len(*c.ClassThresholds))
		}
		for i, v := range *c.ClassThresholds {
			if v < 0 || v > 255 {
				return fmt.Errorf("class_thresholds[%d] must be in [0,255], got %d", i, v)
			}
		}
	}

	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}

	if c.ImageTimeout != nil && *c.ImageTimeout != "" {
		if _, err := time.ParseDuration(*c.ImageTimeout); err != nil {
			return fmt.Errorf("invalid image_timeout '%s': %w", *c.ImageTimeout, err)
		}
	}

	if c.OnDecodeError != nil {
		switch *c.OnDecodeError {
		case "fail", "skip":
		default:
			return fmt.Errorf("on_decode_error must be 'fail' or 'skip', got %q", *c.OnDecodeError)
		}
	}

	return nil
}

// GetMinimumPercentile returns the minimum_percentile value or the default.
func (c *AnalysisConfig) GetMinimumPercentile() float64 {
	if c.MinimumPercentile == nil {
		return 10
	}
	return *c.MinimumPercentile
}

// GetMaximumPercentile returns the maximum_percentile value or the default.
func (c *AnalysisConfig) GetMaximumPercentile() float64 {
	if c.MaximumPercentile == nil {
		return 90
	}
	return *c.MaximumPercentile
}

// GetClassThresholds returns the class_thresholds values or the defaults.
func (c *AnalysisConfig) GetClassThresholds() [4]int {
	if c.ClassThresholds == nil || len(*c.ClassThresholds) != 4 {
		return [4]int{75, 110, 150, 255}
	}
	var out [4]int
	copy(out[:], *c.ClassThresholds)
	return out
}

// GetWorkers returns the workers value or the default. Zero means one
// worker per available CPU.
func (c *AnalysisConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetImageTimeout parses and returns the per-image timeout. Zero disables
// the timeout.
func (c *AnalysisConfig) GetImageTimeout() time.Duration {
	if c.ImageTimeout == nil || *c.ImageTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.ImageTimeout)
	if err != nil {
		return 0
	}
	return d
}

// GetOnDecodeError returns the on_decode_error policy or the default.
func (c *AnalysisConfig) GetOnDecodeError() string {
	if c.OnDecodeError == nil || *c.OnDecodeError == "" {
		return "fail"
	}
	return *c.OnDecodeError
}

// GetRenderFigures returns the render_figures value or the default.
func (c *AnalysisConfig) GetRenderFigures() bool {
	if c.RenderFigures == nil {
		return true
	}
	return *c.RenderFigures
}

// GetOutputDir returns the output_dir value or the default.
func (c *AnalysisConfig) GetOutputDir() string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return "figures"
	}
	return *c.OutputDir
}

// GetSampleDirs returns the sample_dirs values, or nil when confinement is
// disabled.
func (c *AnalysisConfig) GetSampleDirs() []string {
	if c.SampleDirs == nil {
		return nil
	}
	return *c.SampleDirs
}
