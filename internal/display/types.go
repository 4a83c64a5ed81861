package display

import (
	"fmt"
	"strings"
	"time"
)

// Type identifies one of the display object variants.
type Type int

const (
	TypeBuiltIn   Type = iota // Panel wired to the device (DSI, eDP, LVDS).
	TypePluggable             // External output (HDMI, DP).
	TypeVirtual               // Off-screen composition target.
)

// DefaultID asks a variant to bind to the first matching display instead of an explicit one.
const DefaultID int32 = -1

// Types lists every defined variant in declaration order.
func Types() []Type {
	return []Type{TypeBuiltIn, TypePluggable, TypeVirtual}
}

// Valid reports whether t is one of the defined variants.
func (t Type) Valid() bool {
	switch t {
	case TypeBuiltIn, TypePluggable, TypeVirtual:
		return true
	default:
		return false
	}
}

func (t Type) String() string {
	switch t {
	case TypeBuiltIn:
		return "builtin"
	case TypePluggable:
		return "pluggable"
	case TypeVirtual:
		return "virtual"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// ParseType parses the names produced by String.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "builtin", "built-in", "primary":
		return TypeBuiltIn, nil
	case "pluggable", "external":
		return TypePluggable, nil
	case "virtual":
		return TypeVirtual, nil
	default:
		return 0, fmt.Errorf("unknown display type %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown display type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Status is the hardware view of a single display id.
type Status struct {
	Type      Type   `json:"type" yaml:"type"`
	Connected bool   `json:"connected" yaml:"connected"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Format names a layer buffer pixel format, e.g. "RGBA_8888".
type Format string

const (
	FormatRGBA8888    Format = "RGBA_8888"
	FormatRGBX8888    Format = "RGBX_8888"
	FormatBGRA8888    Format = "BGRA_8888"
	FormatRGB565      Format = "RGB_565"
	FormatYCbCr420SP  Format = "YCbCr_420_SP"
	FormatYCrCb420SP  Format = "YCrCb_420_SP"
	FormatYCbCr420UBW Format = "YCbCr_420_SP_VENUS_UBWC"
)

// BytesPerPixel returns the storage size of one pixel, rounded up for planar formats.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatRGB565:
		return 2
	case FormatYCbCr420SP, FormatYCrCb420SP, FormatYCbCr420UBW:
		return 2
	default:
		return 4
	}
}

// PowerState is the power mode of a created display.
type PowerState int

const (
	PowerOff PowerState = iota
	PowerOn
	PowerDoze
)

func (p PowerState) String() string {
	switch p {
	case PowerOff:
		return "off"
	case PowerOn:
		return "on"
	case PowerDoze:
		return "doze"
	default:
		return fmt.Sprintf("power(%d)", int(p))
	}
}

// EventKind classifies notifications delivered to an EventHandler.
type EventKind string

const (
	EventRefresh    EventKind = "refresh"
	EventPowerState EventKind = "power_state"
	EventHotplug    EventKind = "hotplug"
)

// Event is delivered to the handler a display was created with.
type Event struct {
	Kind      EventKind
	DisplayID int32
	Detail    string
	At        time.Time
}

// EventHandler receives display events. Implementations must be safe for
// concurrent use.
type EventHandler interface {
	HandleEvent(ev Event) error
}

// EventHandlerFunc adapts a plain function to EventHandler.
type EventHandlerFunc func(ev Event) error

// HandleEvent calls f(ev).
func (f EventHandlerFunc) HandleEvent(ev Event) error {
	return f(ev)
}
