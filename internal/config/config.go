package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/menta2k/image-export/pkg/segment"
	"github.com/menta2k/image-export/pkg/types"
)

// EnvPrefix prefixes environment overrides, e.g. IMAGE_EXPORT_EXPORT_QUALITY
const EnvPrefix = "IMAGE_EXPORT"

// Config holds the application configuration
type Config struct {
	Log          LogConfig          `json:"log" mapstructure:"log"`
	Export       ExportConfig       `json:"export" mapstructure:"export"`
	Segmentation SegmentationConfig `json:"segmentation" mapstructure:"segmentation"`
	Output       OutputConfig       `json:"output" mapstructure:"output"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// ExportConfig holds request defaults
type ExportConfig struct {
	DefaultFormat  string `json:"default_format" mapstructure:"default_format" default:"png" validate:"required"`
	Quality        int    `json:"quality" mapstructure:"quality" default:"85" validate:"gte=1,lte=100"`
	Lossless       bool   `json:"lossless" mapstructure:"lossless"`
	IconSizes      []int  `json:"icon_sizes" mapstructure:"icon_sizes" default:"[32]" validate:"dive,gte=1,lte=256"`
	PreviewResetMS int    `json:"preview_reset_ms" mapstructure:"preview_reset_ms" default:"1000" validate:"gte=0"`
	SaveResetMS    int    `json:"save_reset_ms" mapstructure:"save_reset_ms" default:"1500" validate:"gte=0"`
}

// SegmentationConfig holds configuration for the background removal model
type SegmentationConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	LibraryPath string `json:"library_path" mapstructure:"library_path"`
	ModelPath   string `json:"model_path" mapstructure:"model_path" validate:"required_if=Enabled true"`
	InputSize   int    `json:"input_size" mapstructure:"input_size" default:"320" validate:"gte=32,lte=2048"`
	InputName   string `json:"input_name" mapstructure:"input_name" default:"input.1" validate:"required"`
	OutputName  string `json:"output_name" mapstructure:"output_name" default:"1959" validate:"required"`
}

// OutputConfig holds configuration for output file naming
type OutputConfig struct {
	Dir    string `json:"dir" mapstructure:"dir" default:"./output"`
	Prefix string `json:"prefix" mapstructure:"prefix"`
	Suffix string `json:"suffix" mapstructure:"suffix" default:"_export"`
}

var validate = validator.New()

// Default returns a configuration with default values
func Default() *Config {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		// the default tags are static
		panic(fmt.Errorf("failed to set defaults: %w", err))
	}
	return &cfg
}

// Load reads the configuration from filename, or from defaults only when
// filename is empty. Environment variables override both.
func Load(filename string) (*Config, error) {
	v := newViper()
	if filename != "" {
		v.SetConfigFile(filename)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// LoadFromFile loads configuration from a JSON, YAML or TOML file
func LoadFromFile(filename string) (*Config, error) {
	if filename == "" {
		return nil, errors.New("config file name is empty")
	}
	return Load(filename)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
	v.SetDefault("export.default_format", d.Export.DefaultFormat)
	v.SetDefault("export.quality", d.Export.Quality)
	v.SetDefault("export.lossless", d.Export.Lossless)
	v.SetDefault("export.icon_sizes", d.Export.IconSizes)
	v.SetDefault("export.preview_reset_ms", d.Export.PreviewResetMS)
	v.SetDefault("export.save_reset_ms", d.Export.SaveResetMS)
	v.SetDefault("segmentation.enabled", d.Segmentation.Enabled)
	v.SetDefault("segmentation.library_path", d.Segmentation.LibraryPath)
	v.SetDefault("segmentation.model_path", d.Segmentation.ModelPath)
	v.SetDefault("segmentation.input_size", d.Segmentation.InputSize)
	v.SetDefault("segmentation.input_name", d.Segmentation.InputName)
	v.SetDefault("segmentation.output_name", d.Segmentation.OutputName)
	v.SetDefault("output.dir", d.Output.Dir)
	v.SetDefault("output.prefix", d.Output.Prefix)
	v.SetDefault("output.suffix", d.Output.Suffix)
	return v
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%s %s", fieldKey(fieldErrs[0]), validationMessage(fieldErrs[0]))
		}
		return err
	}

	if _, err := types.ParseFormat(c.Export.DefaultFormat); err != nil {
		return fmt.Errorf("export.default_format: %w", err)
	}

	return nil
}

// fieldKey turns Config.Export.Quality into export.quality
func fieldKey(fe validator.FieldError) string {
	parts := strings.Split(fe.Namespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = toSnake(p)
	}
	return strings.Join(parts, ".")
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && (s[i-1] < 'A' || s[i-1] > 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation for tag '%s'", fe.Tag())
	}
}

// LogLevel returns the zerolog level for Log.Level
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil || c.Log.Level == "" {
		return zerolog.InfoLevel
	}
	return level
}

// DefaultFormat returns the parsed export format
func (c *Config) DefaultFormat() types.Format {
	f, err := types.ParseFormat(c.Export.DefaultFormat)
	if err != nil {
		return types.PNG
	}
	return f
}

// IconSizes returns the configured square icon sizes
func (c *Config) IconSizes() []types.Dimensions {
	sizes := make([]types.Dimensions, 0, len(c.Export.IconSizes))
	for _, n := range c.Export.IconSizes {
		sizes = append(sizes, types.Square(n))
	}
	return sizes
}

// PreviewReset is the delay before preview progress returns to 0
func (c *Config) PreviewReset() time.Duration {
	return time.Duration(c.Export.PreviewResetMS) * time.Millisecond
}

// SaveReset is the delay before save progress returns to 0
func (c *Config) SaveReset() time.Duration {
	return time.Duration(c.Export.SaveResetMS) * time.Millisecond
}

// SegmentOptions converts the segmentation section for segment.Probe
func (c *Config) SegmentOptions() segment.Options {
	return segment.Options{
		LibraryPath: c.Segmentation.LibraryPath,
		ModelPath:   c.Segmentation.ModelPath,
		InputSize:   c.Segmentation.InputSize,
		InputName:   c.Segmentation.InputName,
		OutputName:  c.Segmentation.OutputName,
	}
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "image-export", "config.json")
}
