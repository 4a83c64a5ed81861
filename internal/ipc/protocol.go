package ipc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/1broseidon/dispcore/internal/hwinfo"
)

// CommandType represents different IPC command types
type CommandType string

const (
	CommandGetStatus       CommandType = "GET_STATUS"
	CommandGetDisplays     CommandType = "GET_DISPLAYS"
	CommandGetCapabilities CommandType = "GET_CAPABILITIES"
	CommandCreateDisplay   CommandType = "CREATE_DISPLAY"
	CommandDestroyDisplay  CommandType = "DESTROY_DISPLAY"
	CommandSetBWMode       CommandType = "SET_BW_MODE"
)

// Request represents an IPC request from client to server
type Request struct {
	Command CommandType     `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response represents an IPC response from server to client
type Response struct {
	Status string          `json:"status"` // "OK" or "ERROR"
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
	// Kind is the display error kind of a failed command, when it has one.
	Kind string `json:"kind,omitempty"`
}

// EventRecord is a composition notification or display event kept by the
// server for GET_STATUS.
type EventRecord struct {
	Source    string    `json:"source"` // "composition" or "display"
	Event     string    `json:"event"`
	DisplayID int32     `json:"display_id"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// DisplayInfo describes a display object the daemon holds for clients.
type DisplayInfo struct {
	Handle string `json:"handle"`
	ID     int32  `json:"id"`
	Type   string `json:"type"`
	Power  string `json:"power"`
}

// StatusData represents the data returned by GET_STATUS
type StatusData struct {
	Initialized     bool          `json:"initialized"`
	UptimeSeconds   int64         `json:"uptime_seconds"`
	SnapshotVersion uint64        `json:"snapshot_version"`
	BandwidthMode   string        `json:"bandwidth_mode"`
	LiveDisplays    []DisplayInfo `json:"live_displays"`
	RecentEvents    []EventRecord `json:"recent_events"`
}

// DisplayStatus is one hardware display id in GET_DISPLAYS
type DisplayStatus struct {
	ID        int32  `json:"id"`
	Type      string `json:"type"`
	Connected bool   `json:"connected"`
	Name      string `json:"name,omitempty"`
}

// DisplaysData represents the data returned by GET_DISPLAYS
type DisplaysData struct {
	Version  uint64          `json:"version"`
	TakenAt  time.Time       `json:"taken_at"`
	Displays []DisplayStatus `json:"displays"`
}

// CapabilitiesData represents the data returned by GET_CAPABILITIES
type CapabilitiesData struct {
	Resources         hwinfo.ResourceInfo   `json:"resources"`
	FirstInterface    *hwinfo.InterfaceInfo `json:"first_interface,omitempty"`
	MaxDisplays       map[string]int        `json:"max_displays"`
	SupportedRotation []string              `json:"supported_rotation_formats"`
	BandwidthMode     string                `json:"bandwidth_mode"`
	MaxBandwidthKbps  uint64                `json:"max_bandwidth_kbps"` // after extension scaling
	ColorFeatures     []string              `json:"color_features,omitempty"`
}

// CreateDisplayPayload selects a display by type, or by hardware id when ID is set.
type CreateDisplayPayload struct {
	Type string `json:"type,omitempty"`
	ID   *int32 `json:"id,omitempty"`
}

type DestroyDisplayPayload struct {
	Handle string `json:"handle"`
}

type SetBWModePayload struct {
	Mode string `json:"mode"`
}

// NewOKResponse creates a successful response with optional data
func NewOKResponse(data any) (*Response, error) {
	var dataBytes json.RawMessage
	if data != nil {
		bytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response data: %w", err)
		}
		dataBytes = bytes
	}

	return &Response{
		Status: "OK",
		Data:   dataBytes,
	}, nil
}

// NewErrorResponse creates an error response with a message
func NewErrorResponse(errMsg string) *Response {
	return &Response{
		Status: "ERROR",
		Error:  errMsg,
	}
}

// ParseRequest parses a request from JSON bytes
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return &req, nil
}

// Marshal converts a response to JSON bytes
func (r *Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}
