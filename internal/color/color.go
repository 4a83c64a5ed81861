// Package color is the color manager. Its initialization is optional: the
// display core keeps working without it on hardware that lacks color
// management.
package color

import (
	"slices"
	"sync"

	"github.com/1broseidon/dispcore/internal/display"
	"github.com/1broseidon/dispcore/internal/hwinfo"
)

// Feature is a color pipeline capability.
type Feature string

const (
	FeatureGammaRamp   Feature = "gamma_ramp"
	FeaturePCC         Feature = "pcc" // per-channel color correction
	FeatureHSIC        Feature = "hsic"
	FeatureDitherBlend Feature = "dither_blend"
)

// Manager tracks the color features available on the current hardware.
type Manager struct {
	mu       sync.Mutex
	ready    bool
	features []Feature
}

func NewManager() *Manager {
	return &Manager{}
}

// Init enables color management for res. Hardware without color management
// yields an ErrNotSupported error.
func (m *Manager) Init(res hwinfo.ResourceInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ready {
		return display.E(display.KindParameters, "color init", "already initialized")
	}
	if !res.HasColorManagement {
		return display.E(display.KindNotSupported, "color init", "hardware %q has no color management", res.HWVersion)
	}

	features := []Feature{FeatureGammaRamp, FeaturePCC}
	// HSIC adjustment and dithering need a spare blend stage.
	if res.NumBlendStages > 4 {
		features = append(features, FeatureHSIC, FeatureDitherBlend)
	}
	m.features = features
	m.ready = true
	return nil
}

func (m *Manager) Deinit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.features = nil
	m.ready = false
}

// Features returns the enabled features and whether the manager is initialized.
func (m *Manager) Features() ([]Feature, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.features), m.ready
}
