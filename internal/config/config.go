// Package config loads and validates screend's runtime configuration,
// narrowed from the teacher's agent config (internal/config/config.go) to
// this domain's knobs: frame pacing, heartbeat timeout, capture backend
// selection, and the ambient logging/metrics settings. Grounded on the
// teacher's viper-based Load/Save shape and tiered fatal/warning
// validation contract.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/breeze-rmm/screend/internal/logging"
	"github.com/spf13/viper"
)

// Config holds every tunable of a screend instance. Wire-protocol
// constants (ports, opcode values, protocol version bounds) are not
// configurable — they live in internal/protocol as compile-time
// constants, per the spec's "fixed by the protocol" framing.
type Config struct {
	// Frame pacing and session behaviour.
	FrameFPS                int `mapstructure:"frame_fps"`
	HeartbeatTimeoutSeconds int `mapstructure:"heartbeat_timeout_seconds"`
	InboxQueueSize          int `mapstructure:"inbox_queue_size"`

	// Capture backend.
	CaptureDisplayIndex int    `mapstructure:"capture_display_index"`
	InputBackend        string `mapstructure:"input_backend"` // "xdotool" or "stub"

	// Logging.
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	// Metrics.
	MetricsEnabled    bool   `mapstructure:"metrics_enabled"`
	MetricsListenAddr string `mapstructure:"metrics_listen_addr"`
}

// Default returns the configuration screend runs with absent any
// configuration file or environment overrides.
func Default() *Config {
	return &Config{
		FrameFPS:                10,
		HeartbeatTimeoutSeconds: 5,
		InboxQueueSize:          64,
		CaptureDisplayIndex:     0,
		InputBackend:            "xdotool",
		LogLevel:                "info",
		LogFormat:               "text",
		LogMaxSizeMB:            50,
		LogMaxBackups:           3,
		MetricsEnabled:          true,
		MetricsListenAddr:       ":9090",
	}
}

// Load reads configuration from cfgFile (or the platform default search
// path if empty), applies SCREEND_-prefixed environment overrides, and
// validates the result. Fatal validation errors block startup; warnings
// are logged and the server continues with the values as clamped or
// replaced by validation.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("screend")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("SCREEND")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	result := cfg.ValidateTiered()
	logger := logging.L("config")
	for _, w := range result.Warnings {
		logger.Warn("config validation warning", logging.KeyError, w)
	}
	if result.HasFatals() {
		for _, f := range result.Fatals {
			logger.Error("config validation fatal", logging.KeyError, f)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

// Save writes cfg to the platform default config path.
func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

// SaveTo writes cfg as YAML to cfgFile, or the platform default path if
// cfgFile is empty.
func SaveTo(cfg *Config, cfgFile string) error {
	v := viper.New()
	v.Set("frame_fps", cfg.FrameFPS)
	v.Set("heartbeat_timeout_seconds", cfg.HeartbeatTimeoutSeconds)
	v.Set("inbox_queue_size", cfg.InboxQueueSize)
	v.Set("capture_display_index", cfg.CaptureDisplayIndex)
	v.Set("input_backend", cfg.InputBackend)
	v.Set("log_level", cfg.LogLevel)
	v.Set("log_format", cfg.LogFormat)
	v.Set("log_file", cfg.LogFile)
	v.Set("log_max_size_mb", cfg.LogMaxSizeMB)
	v.Set("log_max_backups", cfg.LogMaxBackups)
	v.Set("metrics_enabled", cfg.MetricsEnabled)
	v.Set("metrics_listen_addr", cfg.MetricsListenAddr)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		if dir := filepath.Dir(cfgPath); dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "screend.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := v.WriteConfigAs(cfgPath); err != nil {
		return err
	}
	return os.Chmod(cfgPath, 0600)
}

// GetDataDir returns the platform-specific data directory for screend.
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "screend", "data")
	case "darwin":
		return "/Library/Application Support/screend/data"
	default:
		return "/var/lib/screend"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "screend")
	case "darwin":
		return "/Library/Application Support/screend"
	default:
		return "/etc/screend"
	}
}
