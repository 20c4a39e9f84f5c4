// Package config loads the YAML option bag the CLI hands to the core.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/t-sasatani/elp-camera/internal/camera"
)

// Config is the persisted option bag. The core consumes immutable
// snapshots of it; nothing here is written back.
type Config struct {
	CameraIndex int `yaml:"camera_index"`
	// ResolutionIndex selects from the published catalog. Explicit
	// Width/Height/FPS override it when set.
	ResolutionIndex *int   `yaml:"resolution_index,omitempty"`
	Width           int    `yaml:"width,omitempty"`
	Height          int    `yaml:"height,omitempty"`
	FPS             int    `yaml:"fps,omitempty"`
	VideoFormat     string `yaml:"video_format"`
	OutputDir       string `yaml:"output_dir"`
	AutoRestart     bool   `yaml:"auto_restart"`
	HardReset       bool   `yaml:"hard_reset"`
	Force           bool   `yaml:"force"`
	Backend         string `yaml:"backend"`
	FailureBudget   int    `yaml:"frame_failure_budget"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.VideoFormat == "" {
		cfg.VideoFormat = camera.FormatMJPEG.String()
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "recordings"
	}
	if cfg.Backend == "" {
		cfg.Backend = "opencv"
	}
	if cfg.FailureBudget <= 0 {
		cfg.FailureBudget = 10
	}
	if cfg.ResolutionIndex == nil && cfg.Width == 0 && cfg.Height == 0 {
		idx := camera.KnownGoodIndex
		cfg.ResolutionIndex = &idx
	}
}

// Validate applies defaults and checks field ranges.
func Validate(cfg *Config) error {
	applyDefaults(cfg)

	if cfg.CameraIndex < 0 {
		return fmt.Errorf("camera_index must be >= 0")
	}
	if _, err := camera.ParseFormatTag(cfg.VideoFormat); err != nil {
		return err
	}
	if cfg.ResolutionIndex != nil {
		if _, err := camera.ModeByIndex(*cfg.ResolutionIndex); err != nil {
			return err
		}
	}
	if (cfg.Width == 0) != (cfg.Height == 0) {
		return fmt.Errorf("width and height must be set together")
	}
	if cfg.Width < 0 || cfg.Height < 0 {
		return fmt.Errorf("width and height must be positive")
	}
	if cfg.FPS < 0 {
		return fmt.Errorf("fps must be positive")
	}
	switch cfg.Backend {
	case "opencv", "v4l2", "sim":
	default:
		return fmt.Errorf("unknown backend %q (must be opencv, v4l2 or sim)", cfg.Backend)
	}
	return nil
}

// Mode resolves the configured capture mode. Explicit width/height override
// the catalog index; fps defaults to the catalog entry's rate or 30.
func (cfg *Config) Mode() (camera.ResolutionMode, error) {
	format, err := camera.ParseFormatTag(cfg.VideoFormat)
	if err != nil {
		return camera.ResolutionMode{}, err
	}

	if cfg.Width > 0 && cfg.Height > 0 {
		fps := cfg.FPS
		if fps == 0 {
			fps = 30
		}
		return camera.ResolutionMode{Width: cfg.Width, Height: cfg.Height, FPS: fps, Format: format}, nil
	}

	idx := camera.KnownGoodIndex
	if cfg.ResolutionIndex != nil {
		idx = *cfg.ResolutionIndex
	}
	mode, err := camera.ModeByIndex(idx)
	if err != nil {
		return camera.ResolutionMode{}, err
	}
	if cfg.FPS > 0 {
		mode.FPS = cfg.FPS
	}
	mode.Format = format
	return mode, nil
}
