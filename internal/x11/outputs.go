package x11

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/xgb/randr"
)

// OutputKind classifies an output by its connector name
type OutputKind int

const (
	OutputInternal OutputKind = iota // eDP, LVDS, DSI
	OutputExternal                   // HDMI, DP, VGA, DVI, ...
	OutputVirtual                    // VIRTUAL outputs created by the X server
)

// Output represents a RandR output (a connector, possibly driving a CRTC)
type Output struct {
	ID        int
	Name      string
	Kind      OutputKind
	Connected bool
	Primary   bool
	Active    bool // driven by an enabled CRTC
	Width     int
	Height    int
}

// ScreenLimits describes the screen size range and CRTC count
type ScreenLimits struct {
	MaxWidth  int
	MaxHeight int
	Crtcs     int
	Outputs   int
}

var internalPrefixes = []string{"edp", "lvds", "dsi", "panel"}

// ClassifyOutput maps a connector name to its kind
func ClassifyOutput(name string) OutputKind {
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, "virtual") {
		return OutputVirtual
	}
	for _, p := range internalPrefixes {
		if strings.HasPrefix(lower, p) {
			return OutputInternal
		}
	}
	return OutputExternal
}

// GetOutputs retrieves every RandR output, connected or not, in server order
func (c *Connection) GetOutputs() ([]Output, error) {
	resources, err := randr.GetScreenResources(c.XUtil.Conn(), c.Root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}

	var primary randr.Output
	if reply, err := randr.GetOutputPrimary(c.XUtil.Conn(), c.Root).Reply(); err == nil {
		primary = reply.Output
	}

	outputs := make([]Output, 0, len(resources.Outputs))
	for i, out := range resources.Outputs {
		info, err := randr.GetOutputInfo(c.XUtil.Conn(), out, resources.ConfigTimestamp).Reply()
		if err != nil {
			continue
		}

		name := string(info.Name)
		if name == "" {
			name = fmt.Sprintf("Output%d", i)
		}

		o := Output{
			ID:        i,
			Name:      name,
			Kind:      ClassifyOutput(name),
			Connected: info.Connection == randr.ConnectionConnected,
			Primary:   out == primary,
		}

		// Resolve geometry from the CRTC currently driving this output
		if info.Crtc != 0 {
			crtcInfo, err := randr.GetCrtcInfo(c.XUtil.Conn(), info.Crtc, resources.ConfigTimestamp).Reply()
			if err == nil && crtcInfo.Width > 0 && crtcInfo.Height > 0 {
				o.Active = true
				o.Width = int(crtcInfo.Width)
				o.Height = int(crtcInfo.Height)
			}
		}

		outputs = append(outputs, o)
	}

	return outputs, nil
}

// GetScreenLimits returns the screen size range and resource counts
func (c *Connection) GetScreenLimits() (ScreenLimits, error) {
	sizeRange, err := randr.GetScreenSizeRange(c.XUtil.Conn(), c.Root).Reply()
	if err != nil {
		return ScreenLimits{}, fmt.Errorf("failed to get screen size range: %w", err)
	}

	resources, err := randr.GetScreenResources(c.XUtil.Conn(), c.Root).Reply()
	if err != nil {
		return ScreenLimits{}, fmt.Errorf("failed to get screen resources: %w", err)
	}

	return ScreenLimits{
		MaxWidth:  int(sizeRange.MaxWidth),
		MaxHeight: int(sizeRange.MaxHeight),
		Crtcs:     len(resources.Crtcs),
		Outputs:   len(resources.Outputs),
	}, nil
}
