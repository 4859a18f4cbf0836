package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/image-export/pkg/segment"
	"github.com/menta2k/image-export/pkg/types"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, types.PNG, cfg.DefaultFormat())
	assert.Equal(t, []types.Dimensions{types.Square(32)}, cfg.IconSizes())
	assert.Equal(t, time.Second, cfg.PreviewReset())
	assert.Equal(t, 1500*time.Millisecond, cfg.SaveReset())
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel())

	opts := cfg.SegmentOptions()
	want := segment.DefaultOptions()
	assert.Equal(t, want.InputSize, opts.InputSize)
	assert.Equal(t, want.InputName, opts.InputName)
	assert.Equal(t, want.OutputName, opts.OutputName)
	assert.Empty(t, opts.ModelPath)
	assert.Equal(t, "./output", cfg.Output.Dir)
	assert.Equal(t, "_export", cfg.Output.Suffix)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"quality too low", func(c *Config) { c.Export.Quality = 0 }, "export.quality"},
		{"quality too high", func(c *Config) { c.Export.Quality = 101 }, "export.quality"},
		{"unknown format", func(c *Config) { c.Export.DefaultFormat = "heic" }, "export.default_format"},
		{"missing format", func(c *Config) { c.Export.DefaultFormat = "" }, "export.default_format"},
		{"icon too large", func(c *Config) { c.Export.IconSizes = []int{16, 512} }, "export.icon_sizes"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"enabled without model", func(c *Config) { c.Segmentation.Enabled = true }, "segmentation.model_path"},
		{"tiny model input", func(c *Config) { c.Segmentation.InputSize = 8 }, "segmentation.input_size"},
		{"negative reset", func(c *Config) { c.Export.SaveResetMS = -1 }, "export.save_reset_ms"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := Default()
	cfg.Export.DefaultFormat = "webp"
	cfg.Export.Quality = 70
	cfg.Export.IconSizes = []int{16, 48, 256}
	cfg.Segmentation.Enabled = true
	cfg.Segmentation.ModelPath = "/models/u2net.onnx"
	cfg.Output.Prefix = "x_"
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
	require.NoError(t, loaded.Validate())
	assert.Equal(t, types.WEBP, loaded.DefaultFormat())
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"export": {"quality": 60}}`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Export.Quality)
	assert.Equal(t, "png", cfg.Export.DefaultFormat)
	assert.Equal(t, "input.1", cfg.Segmentation.InputName)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("IMAGE_EXPORT_EXPORT_QUALITY", "42")
	t.Setenv("IMAGE_EXPORT_LOG_LEVEL", "debug")
	t.Setenv("IMAGE_EXPORT_SEGMENTATION_MODEL_PATH", "/tmp/u2net.onnx")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Export.Quality)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel())
	assert.Equal(t, "/tmp/u2net.onnx", cfg.Segmentation.ModelPath)
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile("")
	require.Error(t, err)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = LoadFromFile(bad)
	require.Error(t, err)
}

func TestGetConfigPath(t *testing.T) {
	assert.Equal(t, "config.json", filepath.Base(GetConfigPath()))
}
