package hwinfo

import (
	"fmt"
	"sync"

	"github.com/1broseidon/dispcore/internal/display"
	"github.com/1broseidon/dispcore/internal/x11"
)

// outputSource is the part of an X11 connection the provider reads.
type outputSource interface {
	GetOutputs() ([]x11.Output, error)
	GetScreenLimits() (x11.ScreenLimits, error)
	RandRVersion() (major, minor uint32)
	Close()
}

// X11 reports the topology of an X server through RandR. Output indexes in
// the screen resources are used as display ids.
type X11 struct {
	mu   sync.Mutex
	src  outputSource
	base ResourceInfo
}

var _ Provider = (*X11)(nil)

// NewX11 opens a connection to $DISPLAY. base supplies the capabilities RandR
// cannot report (blend stages, bandwidth, rotator formats).
func NewX11(base ResourceInfo) (*X11, error) {
	conn, err := x11.NewConnection()
	if err != nil {
		return nil, display.Wrap(display.KindHardware, "x11 provider", fmt.Errorf("failed to connect to X11: %w", err))
	}
	return newX11(conn, base), nil
}

func newX11(src outputSource, base ResourceInfo) *X11 {
	if base.MaxDisplays == nil && base.NumBlendStages == 0 {
		base = DefaultResourceInfo()
	}
	return &X11{src: src, base: base.Clone()}
}

func (p *X11) GetHWResourceInfo() (ResourceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.src == nil {
		return ResourceInfo{}, display.E(display.KindUndefined, "resource info", "provider destroyed")
	}

	limits, err := p.src.GetScreenLimits()
	if err != nil {
		return ResourceInfo{}, display.Wrap(display.KindHardware, "resource info", err)
	}
	outputs, err := p.src.GetOutputs()
	if err != nil {
		return ResourceInfo{}, display.Wrap(display.KindHardware, "resource info", err)
	}

	res := p.base.Clone()
	major, minor := p.src.RandRVersion()
	res.HWVersion = fmt.Sprintf("randr-%d.%d", major, minor)
	// Per-CRTC gamma ramps arrived with RandR 1.2.
	res.HasColorManagement = res.HasColorManagement && (major > 1 || (major == 1 && minor >= 2))
	if limits.MaxWidth > 0 {
		res.MaxMixerWidth = limits.MaxWidth
	}

	counts := map[display.Type]int{}
	for _, o := range outputs {
		counts[typeForKind(o.Kind)]++
	}
	res.MaxDisplays = map[display.Type]int{
		display.TypeBuiltIn:   counts[display.TypeBuiltIn],
		display.TypePluggable: min(counts[display.TypePluggable], limits.Crtcs),
		display.TypeVirtual:   max(counts[display.TypeVirtual], p.base.MaxDisplays[display.TypeVirtual]),
	}
	return res, nil
}

func (p *X11) GetDisplaysStatus() (map[int32]display.Status, error) {
	outputs, err := p.outputs("displays status")
	if err != nil {
		return nil, err
	}
	status := make(map[int32]display.Status, len(outputs))
	for _, o := range outputs {
		status[int32(o.ID)] = display.Status{
			Type:      typeForKind(o.Kind),
			Connected: o.Connected,
			Name:      o.Name,
		}
	}
	return status, nil
}

func (p *X11) GetFirstDisplayInterfaceType() (InterfaceInfo, error) {
	outputs, err := p.outputs("first display interface")
	if err != nil {
		return InterfaceInfo{}, err
	}
	status := make(map[int32]display.Status, len(outputs))
	for _, o := range outputs {
		if o.Primary && o.Connected {
			return InterfaceInfo{Type: typeForKind(o.Kind), Connected: true, Name: o.Name}, nil
		}
		status[int32(o.ID)] = display.Status{Type: typeForKind(o.Kind), Connected: o.Connected, Name: o.Name}
	}
	return firstInterface(status)
}

func (p *X11) GetMaxDisplaysSupported(t display.Type) (int, error) {
	res, err := p.GetHWResourceInfo()
	if err != nil {
		return 0, err
	}
	return maxDisplays(res, t)
}

func (p *X11) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.src != nil {
		p.src.Close()
		p.src = nil
	}
	return nil
}

func (p *X11) outputs(op string) ([]x11.Output, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.src == nil {
		return nil, display.E(display.KindUndefined, op, "provider destroyed")
	}
	outputs, err := p.src.GetOutputs()
	if err != nil {
		return nil, display.Wrap(display.KindHardware, op, err)
	}
	return outputs, nil
}

func typeForKind(k x11.OutputKind) display.Type {
	switch k {
	case x11.OutputInternal:
		return display.TypeBuiltIn
	case x11.OutputVirtual:
		return display.TypeVirtual
	default:
		return display.TypePluggable
	}
}
