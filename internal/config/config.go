// Package config resolves the run configuration from defaults, an optional
// config file, environment variables, and command-line flags.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for a prediction run.
type Config struct {
	// Dataset selection
	Dataset     string `mapstructure:"dataset"`
	DatasetRoot string `mapstructure:"dataset_root"`
	Height      int    `mapstructure:"height"`
	Width       int    `mapstructure:"width"`

	// Model
	Model      string `mapstructure:"model"`
	ModelPath  string `mapstructure:"model_path"`
	Checkpoint string `mapstructure:"checkpoint"`
	Channels   int    `mapstructure:"channels"`
	Hidden     int    `mapstructure:"hidden"`
	Classes    int    `mapstructure:"classes"`
	Device     string `mapstructure:"device"`

	// Output
	OutputDir string `mapstructure:"output_dir"`

	// Subsetting
	ClassIndex     int    `mapstructure:"class_index"` // -1 disables the class filter
	ClassIndexFile string `mapstructure:"class_index_file"`
	SubsetFile     string `mapstructure:"subset_file"`

	// Execution
	Workers     int    `mapstructure:"workers"`
	MetricsPort int    `mapstructure:"metrics_port"` // 0 disables the metrics endpoint
	Redis       string `mapstructure:"redis"`        // empty disables progress publishing

	// OpenTelemetry
	OTELEnabled  bool   `mapstructure:"otel_enabled"`
	OTELEndpoint string `mapstructure:"otel_endpoint"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dataset", "cityscapes")
	v.SetDefault("dataset_root", "")
	v.SetDefault("height", 0)
	v.SetDefault("width", 0)
	v.SetDefault("model", "convseg")
	v.SetDefault("model_path", "")
	v.SetDefault("checkpoint", "")
	v.SetDefault("channels", 3)
	v.SetDefault("hidden", 64)
	v.SetDefault("classes", 19)
	v.SetDefault("device", "cpu")
	v.SetDefault("output_dir", "probs")
	v.SetDefault("class_index", -1)
	v.SetDefault("class_index_file", "")
	v.SetDefault("subset_file", "")
	v.SetDefault("workers", 1)
	v.SetDefault("metrics_port", 0)
	v.SetDefault("redis", "")
	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_endpoint", "")
}

// Load resolves the configuration. Priority (highest to lowest):
// explicit overrides set by the caller > env vars > config file > defaults.
// configFile may be empty, in which case the default search paths apply
// and a missing file is not an error.
func Load(configFile string, overrides map[string]interface{}) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SEGPREDICT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("segpredict")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/segpredict/")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for contradictions before the run
// starts.
func (c *Config) Validate() error {
	if c.Dataset == "" {
		return fmt.Errorf("dataset is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if c.Model == "onnx" {
		if c.ModelPath == "" {
			return fmt.Errorf("model_path is required for the onnx model")
		}
	} else if c.Model == "convseg" && c.Checkpoint == "" {
		return fmt.Errorf("checkpoint is required for model %q", c.Model)
	}
	if c.ClassIndex >= 0 && c.ClassIndexFile == "" {
		return fmt.Errorf("class_index %d requires class_index_file", c.ClassIndex)
	}
	if c.ClassIndex >= 0 && c.SubsetFile != "" {
		return fmt.Errorf("class_index and subset_file are mutually exclusive")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}
	return nil
}

// SelectionKind returns which selection policy the configuration implies.
// A non-negative class index wins over a subset file; both being unset
// means the identity policy.
func (c *Config) SelectionKind() string {
	switch {
	case c.ClassIndex >= 0:
		return "class"
	case c.SubsetFile != "":
		return "subset"
	default:
		return "identity"
	}
}
