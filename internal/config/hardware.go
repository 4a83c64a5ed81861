package config

import (
	"github.com/1broseidon/dispcore/internal/display"
	"github.com/1broseidon/dispcore/internal/hwinfo"
)

// ResourceInfo applies the configured overrides to the default resource info.
func (h HardwareConfig) ResourceInfo() hwinfo.ResourceInfo {
	res := hwinfo.DefaultResourceInfo()
	r := h.Resources
	if r == nil {
		return res
	}

	if r.HWVersion != "" {
		res.HWVersion = r.HWVersion
	}
	if r.NumBlendStages > 0 {
		res.NumBlendStages = r.NumBlendStages
	}
	if r.MaxMixerWidth > 0 {
		res.MaxMixerWidth = r.MaxMixerWidth
	}
	if r.MaxBandwidthLowKbps > 0 {
		res.MaxBandwidthLowKbps = r.MaxBandwidthLowKbps
	}
	if r.MaxBandwidthHighKbps > 0 {
		res.MaxBandwidthHighKbps = r.MaxBandwidthHighKbps
	}
	if len(r.RotatorFormats) > 0 {
		res.RotatorFormats = make([]display.Format, 0, len(r.RotatorFormats))
		for _, f := range r.RotatorFormats {
			res.RotatorFormats = append(res.RotatorFormats, display.Format(f))
		}
	}
	if r.ColorManagement != nil {
		res.HasColorManagement = *r.ColorManagement
	}
	for name, n := range r.MaxDisplays {
		if t, err := display.ParseType(name); err == nil {
			res.MaxDisplays[t] = n
		}
	}
	return res
}

// StaticOptions converts the static display list for the static backend.
// Entries with an unknown type are skipped; Validate reports them.
func (h HardwareConfig) StaticOptions() hwinfo.StaticOptions {
	opts := hwinfo.StaticOptions{Resources: h.ResourceInfo()}
	for _, d := range h.Displays {
		t, err := display.ParseType(d.Type)
		if err != nil {
			continue
		}
		opts.Displays = append(opts.Displays, hwinfo.StaticDisplay{
			ID:     d.ID,
			Status: display.Status{Type: t, Connected: d.Connected, Name: d.Name},
		})
	}
	return opts
}

// Factory returns the hardware info factory for the configured backend.
func (h HardwareConfig) Factory() (hwinfo.Factory, error) {
	return hwinfo.NewFactory(h.Backend, h.StaticOptions())
}
