package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/1broseidon/dispcore/internal/comp"
	"github.com/1broseidon/dispcore/internal/display"
	"github.com/1broseidon/dispcore/internal/hwinfo"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
	if cfg.Hardware.Backend != BackendX11 {
		t.Fatalf("expected default backend x11, got %q", cfg.Hardware.Backend)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatalf("DefaultConfigPath: %v", err)
	}
	if want := filepath.Join(home, ".config", "dispcore", "config.yaml"); path != want {
		t.Fatalf("DefaultConfigPath() = %q, want %q", path, want)
	}
}

func TestLoadFromPath_MissingFileUsesDefaults(t *testing.T) {
	res, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(res.Files) != 0 {
		t.Fatalf("expected no files, got %v", res.Files)
	}
	if res.Config.Daemon.RefreshInterval != 5*time.Second {
		t.Fatalf("expected default refresh interval, got %v", res.Config.Daemon.RefreshInterval)
	}
}

func TestLoadFromPath_EmptyFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "# empty\n")

	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Config.Logging.Level != "info" {
		t.Fatalf("expected default log level, got %q", res.Config.Logging.Level)
	}
}

func TestLoadFromPath_StaticHardware(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, strings.Join([]string{
		"hardware:",
		"  backend: static",
		"  displays:",
		"    - {id: 0, type: builtin, connected: true, name: DSI-1}",
		"    - {id: 3, type: pluggable, connected: false}",
		"  resources:",
		"    hw_version: sdm845",
		"    color_management: false",
		"    max_displays: {pluggable: 3}",
		"daemon:",
		"  refresh_interval: 2s",
		"composition:",
		"  bandwidth_mode: camera",
		"",
	}, "\n"))

	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := res.Config
	if cfg.Daemon.RefreshInterval != 2*time.Second {
		t.Fatalf("refresh_interval = %v", cfg.Daemon.RefreshInterval)
	}
	if cfg.BandwidthMode() != comp.BandwidthCamera {
		t.Fatalf("bandwidth mode = %v", cfg.BandwidthMode())
	}
	// Untouched sections keep defaults.
	if !cfg.Extension.Enabled {
		t.Fatal("expected extension to stay enabled")
	}

	opts := cfg.Hardware.StaticOptions()
	if len(opts.Displays) != 2 || opts.Displays[1].Status.Type != display.TypePluggable {
		t.Fatalf("unexpected static displays: %+v", opts.Displays)
	}
	res2 := opts.Resources
	if res2.HWVersion != "sdm845" || res2.HasColorManagement {
		t.Fatalf("overrides not applied: %+v", res2)
	}
	if res2.MaxDisplays[display.TypePluggable] != 3 || res2.MaxDisplays[display.TypeBuiltIn] != 1 {
		t.Fatalf("max displays = %v", res2.MaxDisplays)
	}

	factory, err := cfg.Hardware.Factory()
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	p, err := factory()
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	if _, ok := p.(*hwinfo.Static); !ok {
		t.Fatalf("expected static provider, got %T", p)
	}
}

func TestLoadFromPath_StrictUnknownKeyErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "hardware:\n  backnd: static\n")

	_, err := LoadFromPath(path)
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "backnd") {
		t.Fatalf("expected error to mention the key, got %v", err)
	}
}

func TestLoadFromPath_ValidationErrorHasSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "logging:\n  level: info\n  format: xml\n")

	_, err := LoadFromPath(path)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Path != "logging.format" {
		t.Fatalf("path = %q", verr.Path)
	}
	if verr.Source.Line != 3 {
		t.Fatalf("expected line 3, got %+v", verr.Source)
	}
	if !strings.Contains(err.Error(), ":3:") {
		t.Fatalf("expected position in message, got %q", err.Error())
	}
}

func TestLoadFromPath_ValidationErrorInList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, strings.Join([]string{
		"hardware:",
		"  backend: static",
		"  displays:",
		"    - id: 0",
		"      type: builtin",
		"    - id: 1",
		"      type: hologram",
		"",
	}, "\n"))

	_, err := LoadFromPath(path)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Path != "hardware.displays[1].type" || verr.Source.Line != 7 {
		t.Fatalf("unexpected error context: %q %+v", verr.Path, verr.Source)
	}
}

func TestLoadFromPath_IncludeDirectoryOrderAndMainOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "conf.d", "10-a.yaml"), "logging:\n  level: debug\nallocator:\n  limit_bytes: 100\n")
	writeFile(t, filepath.Join(dir, "conf.d", "20-b.yaml"), "allocator:\n  limit_bytes: 200\n")
	writeFile(t, filepath.Join(dir, "conf.d", "ignored.txt"), "not yaml")
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "include: [conf.d]\nlogging:\n  format: json\n")

	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := res.Config
	if cfg.Allocator.LimitBytes != 200 {
		t.Fatalf("limit_bytes = %d, want 200", cfg.Allocator.LimitBytes)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if len(res.Files) != 3 || filepath.Base(res.Files[2]) != "config.yaml" {
		t.Fatalf("files = %v", res.Files)
	}
	if cfg.Include != nil {
		t.Fatalf("include should not survive loading: %v", cfg.Include)
	}
}

func TestLoadFromPath_IncludeCycleDetection(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	writeFile(t, a, "include: [b.yaml]\n")
	writeFile(t, b, "include: [a.yaml]\n")

	_, err := LoadFromPath(a)
	if err == nil || !strings.Contains(err.Error(), "include cycle") {
		t.Fatalf("expected include cycle error, got %v", err)
	}
}

func TestLoadFromPath_IncludeMissingPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "include: [missing.yaml]\n")

	_, err := LoadFromPath(path)
	if err == nil || !strings.Contains(err.Error(), `include "missing.yaml"`) {
		t.Fatalf("expected include context, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"backend", func(c *Config) { c.Hardware.Backend = "drm" }, "hardware.backend"},
		{"duplicate id", func(c *Config) {
			c.Hardware.Displays = []DisplayConfig{{ID: 1, Type: "builtin"}, {ID: 1, Type: "virtual"}}
		}, "hardware.displays[1].id"},
		{"negative id", func(c *Config) {
			c.Hardware.Displays = []DisplayConfig{{ID: -2, Type: "builtin"}}
		}, "hardware.displays[0].id"},
		{"bandwidth order", func(c *Config) {
			c.Hardware.Resources = &ResourceOverrides{MaxBandwidthLowKbps: 10, MaxBandwidthHighKbps: 5}
		}, "hardware.resources.max_bandwidth_low_kbps"},
		{"max displays type", func(c *Config) {
			c.Hardware.Resources = &ResourceOverrides{MaxDisplays: map[string]int{"tv": 1}}
		}, "hardware.resources.max_displays"},
		{"extension name", func(c *Config) { c.Extension.Name = " " }, "extension.name"},
		{"allocator", func(c *Config) { c.Allocator.LimitBytes = -1 }, "allocator.limit_bytes"},
		{"bandwidth mode", func(c *Config) { c.Composition.BandwidthMode = "warp" }, "composition.bandwidth_mode"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"refresh too fast", func(c *Config) { c.Daemon.RefreshInterval = time.Millisecond }, "daemon.refresh_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Path != tt.path {
				t.Fatalf("path = %q, want %q", verr.Path, tt.path)
			}
		})
	}

	disabled := DefaultConfig()
	disabled.Extension.Enabled = false
	disabled.Extension.Name = ""
	if err := disabled.Validate(); err != nil {
		t.Fatalf("disabled extension needs no name: %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Hardware.Backend = BackendStatic
	cfg.Hardware.Displays = []DisplayConfig{{ID: 0, Type: "builtin", Connected: true}}
	cfg.Daemon.RefreshInterval = 750 * time.Millisecond

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Config.Daemon.RefreshInterval != 750*time.Millisecond || len(res.Config.Hardware.Displays) != 1 {
		t.Fatalf("round trip lost data: %+v", res.Config)
	}

	bad := DefaultConfig()
	bad.Hardware.Backend = ""
	if err := bad.Save(path); err == nil {
		t.Fatal("expected invalid config not to be saved")
	}
}
