package core

import (
	"os/signal"
	"syscall"

	"github.com/1broseidon/dispcore/internal/allocator"
	"github.com/1broseidon/dispcore/internal/color"
	"github.com/1broseidon/dispcore/internal/comp"
	"github.com/1broseidon/dispcore/internal/display"
	"github.com/1broseidon/dispcore/internal/extension"
	"github.com/1broseidon/dispcore/internal/hwinfo"
	"github.com/1broseidon/dispcore/internal/metrics"
	"go.uber.org/zap"
)

// ExtensionLoader opens the optional extension module step by step.
type ExtensionLoader interface {
	Open(name string) error
	Resolve() error
	Create(tag string) (extension.Interface, error)
	Destroy()
	Close() error
}

// CompositionManager is the hard dependency initialized during Init.
type CompositionManager interface {
	display.Compositor
	Init(res hwinfo.ResourceInfo, ext extension.Interface, alloc allocator.BufferAllocator, sock comp.SocketHandler) error
	Deinit() error
	SetMaxBandwidthMode(mode comp.BandwidthMode) error
	BandwidthMode() comp.BandwidthMode
	MaxBandwidthKbps() uint64
	IsRotatorSupportedFormat(f display.Format) bool
}

// ColorManager is the optional dependency initialized during Init.
type ColorManager interface {
	Init(res hwinfo.ResourceInfo) error
	Deinit()
	Features() ([]color.Feature, bool)
}

// Option configures a Core.
type Option func(*Core)

func WithLogger(l *zap.Logger) Option {
	return func(c *Core) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithExtensionLoader sets the loader and the module name opened at Init.
func WithExtensionLoader(l ExtensionLoader, name string) Option {
	return func(c *Core) {
		c.loader = l
		c.extName = name
	}
}

func WithHWInfoFactory(f hwinfo.Factory) Option {
	return func(c *Core) {
		c.hwFactory = f
	}
}

func WithCompositionManager(m CompositionManager) Option {
	return func(c *Core) {
		c.comp = m
	}
}

func WithColorManager(m ColorManager) Option {
	return func(c *Core) {
		c.color = m
	}
}

// WithVariants replaces the display constructors. Types missing from v
// cannot be created.
func WithVariants(v map[display.Type]display.Constructor) Option {
	return func(c *Core) {
		c.variants = v
	}
}

// WithSignalPolicy replaces the hook installed as the last Init step.
func WithSignalPolicy(fn func()) Option {
	return func(c *Core) {
		c.signalPolicy = fn
	}
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(c *Core) {
		c.metrics = r
	}
}

// IgnoreSIGPIPE keeps writes to closed client sockets from killing the
// process. It stays in effect after Deinit.
func IgnoreSIGPIPE() {
	signal.Ignore(syscall.SIGPIPE)
}

func defaultHWInfoFactory() (hwinfo.Provider, error) {
	return hwinfo.NewStatic(hwinfo.StaticOptions{}), nil
}
