// Package hwinfo provides the hardware info providers the display core
// queries for resource capabilities and the current display topology.
package hwinfo

import (
	"fmt"
	"strings"

	"github.com/1broseidon/dispcore/internal/display"
)

// ResourceInfo describes the composition hardware. It is read once at core
// Init and treated as immutable afterwards.
type ResourceInfo struct {
	HWVersion            string               `json:"hw_version" yaml:"hw_version"`
	NumBlendStages       int                  `json:"num_blend_stages" yaml:"num_blend_stages"`
	MaxMixerWidth        int                  `json:"max_mixer_width" yaml:"max_mixer_width"`
	MaxBandwidthLowKbps  uint64               `json:"max_bandwidth_low_kbps" yaml:"max_bandwidth_low_kbps"`
	MaxBandwidthHighKbps uint64               `json:"max_bandwidth_high_kbps" yaml:"max_bandwidth_high_kbps"`
	RotatorFormats       []display.Format     `json:"rotator_formats" yaml:"rotator_formats"`
	HasColorManagement   bool                 `json:"color_management" yaml:"color_management"`
	MaxDisplays          map[display.Type]int `json:"max_displays" yaml:"max_displays"`
}

// Clone returns a deep copy of r.
func (r ResourceInfo) Clone() ResourceInfo {
	out := r
	out.RotatorFormats = append([]display.Format(nil), r.RotatorFormats...)
	if r.MaxDisplays != nil {
		out.MaxDisplays = make(map[display.Type]int, len(r.MaxDisplays))
		for k, v := range r.MaxDisplays {
			out.MaxDisplays[k] = v
		}
	}
	return out
}

// DefaultResourceInfo is used by backends that cannot probe the hardware.
func DefaultResourceInfo() ResourceInfo {
	return ResourceInfo{
		HWVersion:            "generic",
		NumBlendStages:       7,
		MaxMixerWidth:        2560,
		MaxBandwidthLowKbps:  4800000,
		MaxBandwidthHighKbps: 9600000,
		RotatorFormats: []display.Format{
			display.FormatRGBA8888,
			display.FormatRGBX8888,
			display.FormatRGB565,
			display.FormatYCbCr420UBW,
		},
		HasColorManagement: true,
		MaxDisplays: map[display.Type]int{
			display.TypeBuiltIn:   1,
			display.TypePluggable: 2,
			display.TypeVirtual:   1,
		},
	}
}

// InterfaceInfo describes the first display interface of the device.
type InterfaceInfo struct {
	Type      display.Type `json:"type"`
	Connected bool         `json:"connected"`
	Name      string       `json:"name,omitempty"`
}

// Provider is the hardware info provider consumed by the display core.
type Provider interface {
	GetHWResourceInfo() (ResourceInfo, error)
	GetDisplaysStatus() (map[int32]display.Status, error)
	GetFirstDisplayInterfaceType() (InterfaceInfo, error)
	GetMaxDisplaysSupported(t display.Type) (int, error)
	// Destroy releases the provider. The provider must not be used afterwards.
	Destroy() error
}

// Factory creates a Provider during core Init.
type Factory func() (Provider, error)

// Backend names accepted by NewFactory.
const (
	BackendStatic = "static"
	BackendX11    = "x11"
)

// NewFactory returns the factory for the named backend. The static backend
// serves the displays and resources given in opts.
func NewFactory(backend string, opts StaticOptions) (Factory, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendStatic:
		return func() (Provider, error) {
			return NewStatic(opts), nil
		}, nil
	case BackendX11:
		return func() (Provider, error) {
			return NewX11(opts.Resources)
		}, nil
	default:
		return nil, fmt.Errorf("unknown hardware backend %q", backend)
	}
}

// firstInterface picks the lowest connected built-in id, falling back to
// the lowest connected id of any type.
func firstInterface(status map[int32]display.Status) (InterfaceInfo, error) {
	var (
		best      InterfaceInfo
		bestID    int32
		found     bool
		foundType bool
	)
	for id, s := range status {
		if !s.Connected {
			continue
		}
		isBuiltIn := s.Type == display.TypeBuiltIn
		switch {
		case !found,
			isBuiltIn && !foundType,
			isBuiltIn == foundType && id < bestID:
			best = InterfaceInfo{Type: s.Type, Connected: true, Name: s.Name}
			bestID = id
			found = true
			foundType = isBuiltIn
		}
	}
	if !found {
		return InterfaceInfo{}, display.E(display.KindResources, "first display interface", "no connected display")
	}
	return best, nil
}

func maxDisplays(res ResourceInfo, t display.Type) (int, error) {
	if !t.Valid() {
		return 0, display.E(display.KindParameters, "max displays", "unknown display type %d", int(t))
	}
	return res.MaxDisplays[t], nil
}
