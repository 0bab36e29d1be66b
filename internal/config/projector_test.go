package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultProjectorConfig(t *testing.T) {
	cfg := DefaultProjectorConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.0, cfg.GetMinDistThresh())
	assert.Equal(t, 100.0, cfg.GetMaxDistThresh())
	assert.Nil(t, cfg.MinSpeedThresh)
	assert.Nil(t, cfg.MaxSpeedThresh)
	assert.False(t, cfg.GetCompute3D())
	assert.Equal(t, "map", cfg.GetWorldFrame())
	assert.Equal(t, OutputFrameSensor, cfg.GetOutputFrame())
	assert.Equal(t, time.Second, cfg.GetTransformTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.GetTransformMaxAge())
	assert.Equal(t, 100, cfg.GetTransformBufferSize())
}

func TestEmptyConfigMatchesDefaults(t *testing.T) {
	empty := EmptyProjectorConfig()
	def := DefaultProjectorConfig()
	assert.Equal(t, def.ProjectorOptions(), empty.ProjectorOptions())
	assert.Equal(t, def.GetTransformTimeout(), empty.GetTransformTimeout())
	assert.Equal(t, def.GetWorldFrame(), empty.GetWorldFrame())
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	assert.Equal(t, DefaultProjectorConfig().ProjectorOptions(), cfg.ProjectorOptions())
	assert.Equal(t, "map", cfg.GetWorldFrame())
}

func TestLoadProjectorConfig_JSON(t *testing.T) {
	path := writeConfig(t, "radar.json", `{
  "min_dist_thresh": 1.5,
  "max_dist_thresh": 40,
  "min_speed_thresh": 2,
  "max_speed_thresh": 5,
  "compute_3d": true,
  "transform_timeout": "250ms"
}`)
	cfg, err := LoadProjectorConfig(path)
	require.NoError(t, err)

	opts := cfg.ProjectorOptions()
	assert.Equal(t, 1.5, opts.Range.Min)
	assert.Equal(t, 40.0, opts.Range.Max)
	require.NotNil(t, opts.Speed.MinSpeed)
	require.NotNil(t, opts.Speed.MaxSpeed)
	assert.Equal(t, 2.0, *opts.Speed.MinSpeed)
	assert.Equal(t, 5.0, *opts.Speed.MaxSpeed)
	assert.True(t, opts.Compute3D)
	assert.False(t, opts.Rotated)
	assert.Equal(t, 250*time.Millisecond, cfg.GetTransformTimeout())

	// The options own their thresholds.
	*cfg.MaxSpeedThresh = 99
	assert.Equal(t, 5.0, *opts.Speed.MaxSpeed)
}

func TestLoadProjectorConfig_YAML(t *testing.T) {
	cfg, err := LoadProjectorConfig(filepath.Join("..", "..", "config", "projector.example.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.GetMinDistThresh())
	assert.Equal(t, 80.0, cfg.GetMaxDistThresh())
	require.NotNil(t, cfg.MaxSpeedThresh)
	assert.Equal(t, 0.3, *cfg.MaxSpeedThresh)
	assert.Nil(t, cfg.MinSpeedThresh)
	assert.True(t, cfg.GetCompute3D())
	assert.Equal(t, "odom", cfg.GetWorldFrame())
	assert.Equal(t, OutputFrameWorld, cfg.GetOutputFrame())

	path := writeConfig(t, "radar.yml", "is_rotated: true\npass_through_unfiltered: true\n")
	cfg, err = LoadProjectorConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.GetIsRotated())
	assert.True(t, cfg.ProjectorOptions().Speed.PassThroughUnfiltered)
}

func TestLoadProjectorConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"wrong extension", "radar.toml", "x = 1"},
		{"bad json", "radar.json", "{"},
		{"bad yaml", "radar.yaml", "min_dist_thresh: [1"},
		{"inverted range", "radar.json", `{"min_dist_thresh": 10, "max_dist_thresh": 5}`},
		{"negative speed", "radar.json", `{"max_speed_thresh": -1}`},
		{"bad duration", "radar.json", `{"transform_timeout": "soon"}`},
		{"zero duration", "radar.json", `{"transform_max_age": "0s"}`},
		{"bad output frame", "radar.json", `{"output_frame": "map"}`},
		{"empty world frame", "radar.json", `{"world_frame": " "}`},
		{"bad buffer size", "radar.json", `{"transform_buffer_size": 0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadProjectorConfig(writeConfig(t, tt.file, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := LoadProjectorConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadProjectorConfig_TooLarge(t *testing.T) {
	big := make([]byte, 1024*1024+1)
	for i := range big {
		big[i] = ' '
	}
	path := filepath.Join(t.TempDir(), "big.json")
	require.NoError(t, os.WriteFile(path, big, 0o644))
	_, err := LoadProjectorConfig(path)
	assert.ErrorContains(t, err, "too large")
}
