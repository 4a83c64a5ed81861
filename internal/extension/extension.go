// Package extension loads the optional capability extension module that
// augments the composition manager with platform specific behavior.
//
// A module exports two entry points: CreateExtensionInterface, which turns a
// version tag into an Interface, and DestroyExtensionInterface, which
// releases it. Modules are Go plugins built with -buildmode=plugin, or
// statically linked symbol sets registered with Register.
package extension

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sync"

	"github.com/1broseidon/dispcore/internal/display"
)

const (
	// DefaultLibraryName is the module opened when no name is configured.
	DefaultLibraryName = "libdispcore-ext.so"
	// VersionTag is passed to the create entry point; modules reject tags
	// they were not built for.
	VersionTag = "dispcore-ext-1.0"

	CreateSymbol  = "CreateExtensionInterface"
	DestroySymbol = "DestroyExtensionInterface"
)

// Interface is the handle produced by an extension module.
type Interface interface {
	Name() string
	Version() string
	// RotatorFormats lists formats the extension can rotate in addition to
	// the ones reported by the hardware.
	RotatorFormats() []display.Format
	// BandwidthScale returns the percentage applied to the bandwidth limit
	// of a mode, or 100 to leave it unchanged.
	BandwidthScale(mode string) int
}

// CreateFunc is the signature of the create entry point.
type CreateFunc func(versionTag string) (Interface, error)

// DestroyFunc is the signature of the destroy entry point.
type DestroyFunc func(intf Interface)

// ErrNotFound is returned by an Opener when the module does not exist.
var ErrNotFound = errors.New("extension module not found")

// Library is an opened module.
type Library interface {
	Lookup(symbol string) (any, error)
	Close() error
}

// Opener opens modules by name.
type Opener interface {
	Open(name string) (Library, error)
}

// Symbols is the exported symbol set of a statically linked module.
type Symbols map[string]any

var (
	registryMu sync.RWMutex
	registry   = map[string]Symbols{}
)

// Register makes a statically linked module available under name. It is
// typically called from an init function.
func Register(name string, syms Symbols) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = syms
}

// Unregister removes a module registered with Register.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, name)
}

// RegistryOpener opens modules registered with Register.
type RegistryOpener struct{}

func (RegistryOpener) Open(name string) (Library, error) {
	registryMu.RLock()
	syms, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s is not registered", ErrNotFound, name)
	}
	return symbolLibrary(syms), nil
}

type symbolLibrary Symbols

func (l symbolLibrary) Lookup(symbol string) (any, error) {
	v, ok := l[symbol]
	if !ok {
		return nil, fmt.Errorf("symbol %s not found", symbol)
	}
	return v, nil
}

func (symbolLibrary) Close() error { return nil }

// PluginOpener opens Go plugins. Relative names are searched in Dirs in
// order; an absolute name is opened directly.
type PluginOpener struct {
	Dirs []string
}

func (o PluginOpener) Open(name string) (Library, error) {
	candidates := []string{name}
	if !filepath.IsAbs(name) {
		candidates = candidates[:0]
		for _, dir := range o.Dirs {
			candidates = append(candidates, filepath.Join(dir, name))
		}
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		p, err := plugin.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		return pluginLibrary{p: p}, nil
	}
	return nil, fmt.Errorf("%w: %s (searched %d locations)", ErrNotFound, name, len(candidates))
}

type pluginLibrary struct {
	p *plugin.Plugin
}

func (l pluginLibrary) Lookup(symbol string) (any, error) {
	return l.p.Lookup(symbol)
}

// Go plugins cannot be unloaded.
func (pluginLibrary) Close() error { return nil }

// ChainOpener tries each opener in turn and returns the first success. When
// every opener fails the last error is returned.
type ChainOpener []Opener

func (c ChainOpener) Open(name string) (Library, error) {
	err := fmt.Errorf("%w: %s", ErrNotFound, name)
	for _, o := range c {
		lib, openErr := o.Open(name)
		if openErr == nil {
			return lib, nil
		}
		err = openErr
	}
	return nil, err
}

// DefaultOpener looks in the static registry first and then for a Go plugin in dirs.
func DefaultOpener(dirs []string) Opener {
	return ChainOpener{RegistryOpener{}, PluginOpener{Dirs: dirs}}
}

func asCreate(sym any) (CreateFunc, bool) {
	switch f := sym.(type) {
	case CreateFunc:
		return f, f != nil
	case func(string) (Interface, error):
		return f, f != nil
	case *CreateFunc:
		if f != nil && *f != nil {
			return *f, true
		}
	case *func(string) (Interface, error):
		if f != nil && *f != nil {
			return *f, true
		}
	}
	return nil, false
}

func asDestroy(sym any) (DestroyFunc, bool) {
	switch f := sym.(type) {
	case DestroyFunc:
		return f, f != nil
	case func(Interface):
		return f, f != nil
	case *DestroyFunc:
		if f != nil && *f != nil {
			return *f, true
		}
	case *func(Interface):
		if f != nil && *f != nil {
			return *f, true
		}
	}
	return nil, false
}
