package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/radarcloud/internal/radar"
)

// DefaultConfigPath is the canonical defaults file.
const DefaultConfigPath = "config/projector.defaults.json"

const (
	OutputFrameSensor = "sensor"
	OutputFrameWorld  = "world"
)

// ProjectorConfig holds the projection parameters. Every field is optional;
// the Get* accessors supply defaults. Speed thresholds stay nil unless set
// so that an unset gate is distinct from a zero gate.
type ProjectorConfig struct {
	MinDistThresh *float64 `json:"min_dist_thresh,omitempty" yaml:"min_dist_thresh,omitempty"`
	MaxDistThresh *float64 `json:"max_dist_thresh,omitempty" yaml:"max_dist_thresh,omitempty"`

	MinSpeedThresh        *float64 `json:"min_speed_thresh,omitempty" yaml:"min_speed_thresh,omitempty"`
	MaxSpeedThresh        *float64 `json:"max_speed_thresh,omitempty" yaml:"max_speed_thresh,omitempty"`
	PassThroughUnfiltered *bool    `json:"pass_through_unfiltered,omitempty" yaml:"pass_through_unfiltered,omitempty"`

	Compute3D *bool `json:"compute_3d,omitempty" yaml:"compute_3d,omitempty"`
	IsRotated *bool `json:"is_rotated,omitempty" yaml:"is_rotated,omitempty"`

	// Frames
	WorldFrame          *string `json:"world_frame,omitempty" yaml:"world_frame,omitempty"`
	OutputFrame         *string `json:"output_frame,omitempty" yaml:"output_frame,omitempty"`             // "sensor" or "world"
	TransformTimeout    *string `json:"transform_timeout,omitempty" yaml:"transform_timeout,omitempty"`   // duration string like "1s"
	TransformMaxAge     *string `json:"transform_max_age,omitempty" yaml:"transform_max_age,omitempty"`   // duration string like "500ms"
	TransformBufferSize *int    `json:"transform_buffer_size,omitempty" yaml:"transform_buffer_size,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyProjectorConfig returns a config with every field unset.
func EmptyProjectorConfig() *ProjectorConfig {
	return &ProjectorConfig{}
}

// DefaultProjectorConfig returns a config with every defaulted field set.
// The speed thresholds are left unset.
func DefaultProjectorConfig() *ProjectorConfig {
	return &ProjectorConfig{
		MinDistThresh:         ptrFloat64(0),
		MaxDistThresh:         ptrFloat64(100),
		PassThroughUnfiltered: ptrBool(false),
		Compute3D:             ptrBool(false),
		IsRotated:             ptrBool(false),
		WorldFrame:            ptrString("map"),
		OutputFrame:           ptrString(OutputFrameSensor),
		TransformTimeout:      ptrString("1s"),
		TransformMaxAge:       ptrString("500ms"),
		TransformBufferSize:   ptrInt(100),
	}
}

// LoadProjectorConfig reads a .json, .yaml or .yml file. Omitted fields keep
// their defaults.
func LoadProjectorConfig(path string) (*ProjectorConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyProjectorConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, looking in parent
// directories so tests in nested packages find it. It panics on failure.
func MustLoadDefaultConfig() *ProjectorConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadProjectorConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *ProjectorConfig) Validate() error {
	if c.MinDistThresh != nil && *c.MinDistThresh < 0 {
		return fmt.Errorf("min_dist_thresh must be non-negative, got %f", *c.MinDistThresh)
	}
	if c.GetMaxDistThresh() < c.GetMinDistThresh() {
		return fmt.Errorf("max_dist_thresh %f is below min_dist_thresh %f", c.GetMaxDistThresh(), c.GetMinDistThresh())
	}
	if c.MinSpeedThresh != nil && *c.MinSpeedThresh < 0 {
		return fmt.Errorf("min_speed_thresh must be non-negative, got %f", *c.MinSpeedThresh)
	}
	if c.MaxSpeedThresh != nil && *c.MaxSpeedThresh < 0 {
		return fmt.Errorf("max_speed_thresh must be non-negative, got %f", *c.MaxSpeedThresh)
	}

	if c.WorldFrame != nil && strings.TrimSpace(*c.WorldFrame) == "" {
		return fmt.Errorf("world_frame must not be empty")
	}
	if c.OutputFrame != nil {
		switch *c.OutputFrame {
		case OutputFrameSensor, OutputFrameWorld:
		default:
			return fmt.Errorf("output_frame must be %q or %q, got %q", OutputFrameSensor, OutputFrameWorld, *c.OutputFrame)
		}
	}

	for name, v := range map[string]*string{
		"transform_timeout": c.TransformTimeout,
		"transform_max_age": c.TransformMaxAge,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.TransformBufferSize != nil && *c.TransformBufferSize < 1 {
		return fmt.Errorf("transform_buffer_size must be at least 1, got %d", *c.TransformBufferSize)
	}
	return nil
}

// GetMinDistThresh returns min_dist_thresh or 0.
func (c *ProjectorConfig) GetMinDistThresh() float64 {
	if c.MinDistThresh == nil {
		return 0.0
	}
	return *c.MinDistThresh
}

// GetMaxDistThresh returns max_dist_thresh or 100.
func (c *ProjectorConfig) GetMaxDistThresh() float64 {
	if c.MaxDistThresh == nil {
		return 100.0
	}
	return *c.MaxDistThresh
}

func (c *ProjectorConfig) GetCompute3D() bool {
	return c.Compute3D != nil && *c.Compute3D
}

func (c *ProjectorConfig) GetIsRotated() bool {
	return c.IsRotated != nil && *c.IsRotated
}

func (c *ProjectorConfig) GetPassThroughUnfiltered() bool {
	return c.PassThroughUnfiltered != nil && *c.PassThroughUnfiltered
}

// GetWorldFrame returns world_frame or "map".
func (c *ProjectorConfig) GetWorldFrame() string {
	if c.WorldFrame == nil || *c.WorldFrame == "" {
		return "map"
	}
	return *c.WorldFrame
}

// GetOutputFrame returns output_frame or "sensor".
func (c *ProjectorConfig) GetOutputFrame() string {
	if c.OutputFrame == nil || *c.OutputFrame == "" {
		return OutputFrameSensor
	}
	return *c.OutputFrame
}

// GetTransformTimeout returns transform_timeout or 1s.
func (c *ProjectorConfig) GetTransformTimeout() time.Duration {
	return parseDurationOr(c.TransformTimeout, time.Second)
}

// GetTransformMaxAge returns transform_max_age or 500ms.
func (c *ProjectorConfig) GetTransformMaxAge() time.Duration {
	return parseDurationOr(c.TransformMaxAge, 500*time.Millisecond)
}

// GetTransformBufferSize returns transform_buffer_size or 100.
func (c *ProjectorConfig) GetTransformBufferSize() int {
	if c.TransformBufferSize == nil {
		return 100
	}
	return *c.TransformBufferSize
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// ProjectorOptions converts the config into projector options. The speed
// thresholds are copied so later edits to c do not leak into a running
// projector.
func (c *ProjectorConfig) ProjectorOptions() radar.Options {
	opts := radar.Options{
		Range: radar.RangeWindow{Min: c.GetMinDistThresh(), Max: c.GetMaxDistThresh()},
		Speed: radar.SpeedPolicy{
			PassThroughUnfiltered: c.GetPassThroughUnfiltered(),
		},
		Compute3D: c.GetCompute3D(),
		Rotated:   c.GetIsRotated(),
	}
	if c.MinSpeedThresh != nil {
		opts.Speed.MinSpeed = ptrFloat64(*c.MinSpeedThresh)
	}
	if c.MaxSpeedThresh != nil {
		opts.Speed.MaxSpeed = ptrFloat64(*c.MaxSpeedThresh)
	}
	return opts
}
