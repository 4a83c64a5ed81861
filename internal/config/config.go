package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/1broseidon/dispcore/internal/comp"
	"github.com/1broseidon/dispcore/internal/display"
	"github.com/1broseidon/dispcore/internal/extension"
	"github.com/1broseidon/dispcore/internal/hwinfo"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the dispcore daemon configuration.
type Config struct {
	// Include lists extra files or directories merged before this file.
	Include     []string          `yaml:"include,omitempty"`
	Hardware    HardwareConfig    `yaml:"hardware"`
	Extension   ExtensionConfig   `yaml:"extension"`
	Allocator   AllocatorConfig   `yaml:"allocator"`
	Composition CompositionConfig `yaml:"composition"`
	Logging     LoggingConfig     `yaml:"logging"`
	Daemon      DaemonConfig      `yaml:"daemon"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// HardwareConfig selects the hardware info backend.
type HardwareConfig struct {
	// Backend is "x11" (RandR on $DISPLAY) or "static" (Displays below).
	Backend   string             `yaml:"backend"`
	Displays  []DisplayConfig    `yaml:"displays,omitempty"`
	Resources *ResourceOverrides `yaml:"resources,omitempty"`
}

// DisplayConfig is one display of the static backend.
type DisplayConfig struct {
	ID        int32  `yaml:"id"`
	Type      string `yaml:"type"`
	Connected bool   `yaml:"connected"`
	Name      string `yaml:"name,omitempty"`
}

// ResourceOverrides replace fields of the default resource info. Zero
// values keep the default.
type ResourceOverrides struct {
	HWVersion            string         `yaml:"hw_version,omitempty"`
	NumBlendStages       int            `yaml:"num_blend_stages,omitempty"`
	MaxMixerWidth        int            `yaml:"max_mixer_width,omitempty"`
	MaxBandwidthLowKbps  uint64         `yaml:"max_bandwidth_low_kbps,omitempty"`
	MaxBandwidthHighKbps uint64         `yaml:"max_bandwidth_high_kbps,omitempty"`
	RotatorFormats       []string       `yaml:"rotator_formats,omitempty"`
	ColorManagement      *bool          `yaml:"color_management,omitempty"`
	MaxDisplays          map[string]int `yaml:"max_displays,omitempty"`
}

// ExtensionConfig configures the optional extension module.
type ExtensionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
	// SearchDirs are searched in order for a relative Name. The per-user
	// plugin directory is appended at runtime.
	SearchDirs []string `yaml:"search_dirs,omitempty"`
}

type AllocatorConfig struct {
	// LimitBytes caps buffer memory; 0 means unlimited.
	LimitBytes int64 `yaml:"limit_bytes"`
}

type CompositionConfig struct {
	BandwidthMode string `yaml:"bandwidth_mode"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

type DaemonConfig struct {
	// RefreshInterval is how often the topology is re-read; 0 disables it.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	// Socket overrides the IPC socket path.
	Socket string `yaml:"socket,omitempty"`
}

type MetricsConfig struct {
	// Listen is the address of the /metrics endpoint; empty disables it.
	Listen string `yaml:"listen,omitempty"`
}

const (
	BackendX11    = hwinfo.BackendX11
	BackendStatic = hwinfo.BackendStatic
)

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Hardware: HardwareConfig{
			Backend: BackendX11,
		},
		Extension: ExtensionConfig{
			Enabled: true,
			Name:    extension.DefaultLibraryName,
			SearchDirs: []string{
				"/usr/lib/dispcore",
				"/usr/local/lib/dispcore",
			},
		},
		Allocator: AllocatorConfig{
			LimitBytes: 256 << 20,
		},
		Composition: CompositionConfig{
			BandwidthMode: comp.BandwidthDefault.String(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Daemon: DaemonConfig{
			RefreshInterval: 5 * time.Second,
		},
	}
}

// ValidationError reports an invalid setting, with the file position of the
// value when it came from a file.
type ValidationError struct {
	Path   string
	Source Source
	Err    error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Source.Kind == SourceFile && e.Source.File != "" && e.Source.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %v", e.Source.File, e.Source.Line, e.Source.Column, e.Path, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Hardware.Backend {
	case BackendX11, BackendStatic:
	default:
		return &ValidationError{Path: "hardware.backend", Err: fmt.Errorf("backend must be one of: x11, static")}
	}
	seen := make(map[int32]struct{}, len(c.Hardware.Displays))
	for i, d := range c.Hardware.Displays {
		path := fmt.Sprintf("hardware.displays[%d]", i)
		if d.ID < 0 {
			return &ValidationError{Path: path + ".id", Err: fmt.Errorf("id must be >= 0")}
		}
		if _, dup := seen[d.ID]; dup {
			return &ValidationError{Path: path + ".id", Err: fmt.Errorf("duplicate display id %d", d.ID)}
		}
		seen[d.ID] = struct{}{}
		if _, err := display.ParseType(d.Type); err != nil {
			return &ValidationError{Path: path + ".type", Err: err}
		}
	}
	if r := c.Hardware.Resources; r != nil {
		if r.NumBlendStages < 0 || r.MaxMixerWidth < 0 {
			return &ValidationError{Path: "hardware.resources", Err: fmt.Errorf("num_blend_stages and max_mixer_width must be >= 0")}
		}
		if r.MaxBandwidthHighKbps != 0 && r.MaxBandwidthLowKbps > r.MaxBandwidthHighKbps {
			return &ValidationError{Path: "hardware.resources.max_bandwidth_low_kbps", Err: fmt.Errorf("low bandwidth limit exceeds high limit")}
		}
		for name, n := range r.MaxDisplays {
			if _, err := display.ParseType(name); err != nil {
				return &ValidationError{Path: "hardware.resources.max_displays", Err: err}
			}
			if n < 0 {
				return &ValidationError{Path: "hardware.resources.max_displays." + name, Err: fmt.Errorf("must be >= 0")}
			}
		}
	}

	if c.Extension.Enabled && strings.TrimSpace(c.Extension.Name) == "" {
		return &ValidationError{Path: "extension.name", Err: fmt.Errorf("name is required when the extension is enabled")}
	}
	if c.Allocator.LimitBytes < 0 {
		return &ValidationError{Path: "allocator.limit_bytes", Err: fmt.Errorf("limit_bytes must be >= 0")}
	}
	if _, err := comp.ParseBandwidthMode(c.Composition.BandwidthMode); err != nil {
		return &ValidationError{Path: "composition.bandwidth_mode", Err: err}
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return &ValidationError{Path: "logging.level", Err: fmt.Errorf("level must be one of: debug, info, warn, error")}
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return &ValidationError{Path: "logging.format", Err: fmt.Errorf("format must be one of: console, json")}
	}
	if c.Daemon.RefreshInterval < 0 {
		return &ValidationError{Path: "daemon.refresh_interval", Err: fmt.Errorf("refresh_interval must be >= 0")}
	}
	if c.Daemon.RefreshInterval > 0 && c.Daemon.RefreshInterval < 100*time.Millisecond {
		return &ValidationError{Path: "daemon.refresh_interval", Err: fmt.Errorf("refresh_interval must be at least 100ms")}
	}
	return nil
}

// BandwidthMode returns the configured startup bandwidth mode.
func (c *Config) BandwidthMode() comp.BandwidthMode {
	mode, err := comp.ParseBandwidthMode(c.Composition.BandwidthMode)
	if err != nil {
		return comp.BandwidthDefault
	}
	return mode
}

// Save writes the configuration to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
