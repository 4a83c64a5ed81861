package mcp

import "github.com/1broseidon/dispcore/internal/ipc"

// GetStatusInput is the input for the get_status tool.
type GetStatusInput struct{}

// ListDisplaysInput is the input for the list_displays tool.
type ListDisplaysInput struct {
	ConnectedOnly bool `json:"connected_only,omitempty" jsonschema:"When true, only report connected displays"`
}

// ListDisplaysOutput is the output for the list_displays tool.
type ListDisplaysOutput struct {
	Version  uint64              `json:"version"`
	Displays []ipc.DisplayStatus `json:"displays"`
}

// CapabilitiesInput is the input for the display_capabilities tool.
type CapabilitiesInput struct{}

// CreateDisplayInput is the input for the create_display tool.
type CreateDisplayInput struct {
	Type string `json:"type,omitempty" jsonschema:"Display type: builtin, pluggable or virtual. Ignored when id is set."`
	ID   *int32 `json:"id,omitempty" jsonschema:"Hardware display id from list_displays. Creates a display bound to that id."`
}

// DestroyDisplayInput is the input for the destroy_display tool.
type DestroyDisplayInput struct {
	Handle string `json:"handle" jsonschema:"Handle returned by create_display"`
}

// DestroyDisplayOutput is the output for the destroy_display tool.
type DestroyDisplayOutput struct {
	Handle    string `json:"handle"`
	Destroyed bool   `json:"destroyed"`
}

// SetBandwidthModeInput is the input for the set_bandwidth_mode tool.
type SetBandwidthModeInput struct {
	Mode string `json:"mode" jsonschema:"Bandwidth mode: default, camera, vflip or hflip"`
}

// SetBandwidthModeOutput is the output for the set_bandwidth_mode tool.
type SetBandwidthModeOutput struct {
	Mode string `json:"mode"`
}

// StatusOutput is the output for the get_status tool.
type StatusOutput struct {
	Initialized     bool              `json:"initialized"`
	UptimeSeconds   int64             `json:"uptime_seconds"`
	SnapshotVersion uint64            `json:"snapshot_version"`
	BandwidthMode   string            `json:"bandwidth_mode"`
	LiveDisplays    []ipc.DisplayInfo `json:"live_displays"`
	RecentEvents    []EventOutput     `json:"recent_events"`
}

// EventOutput is one recent composition or display event.
type EventOutput struct {
	Source    string `json:"source"`
	Event     string `json:"event"`
	DisplayID int32  `json:"display_id"`
	Detail    string `json:"detail,omitempty"`
	At        string `json:"at"`
}

// CapabilitiesOutput is the output for the display_capabilities tool.
type CapabilitiesOutput struct {
	HWVersion            string           `json:"hw_version"`
	NumBlendStages       int              `json:"num_blend_stages"`
	MaxMixerWidth        int              `json:"max_mixer_width"`
	MaxBandwidthLowKbps  uint64           `json:"max_bandwidth_low_kbps"`
	MaxBandwidthHighKbps uint64           `json:"max_bandwidth_high_kbps"`
	ColorManagement      bool             `json:"color_management"`
	FirstInterface       *InterfaceOutput `json:"first_interface,omitempty"`
	MaxDisplays          map[string]int   `json:"max_displays"`
	SupportedRotation    []string         `json:"supported_rotation_formats"`
	BandwidthMode        string           `json:"bandwidth_mode"`
	MaxBandwidthKbps     uint64           `json:"max_bandwidth_kbps" jsonschema:"Budget of the current bandwidth mode after extension scaling"`
	ColorFeatures        []string         `json:"color_features"`
}

// InterfaceOutput describes the first display interface.
type InterfaceOutput struct {
	Type      string `json:"type"`
	Connected bool   `json:"connected"`
	Name      string `json:"name,omitempty"`
}
