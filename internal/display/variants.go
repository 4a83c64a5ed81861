package display

import (
	"errors"
	"sync/atomic"

	"github.com/1broseidon/dispcore/internal/allocator"
)

// Off-screen targets that have no hardware id get one from this range.
const VirtualIDBase int32 = 0x1000

// Default geometry of the output buffer backing a virtual display.
const (
	VirtualWidth  = 1920
	VirtualHeight = 1080
)

var nextVirtualID atomic.Int32

// BuiltIn drives a panel wired to the device.
type BuiltIn struct {
	*base
}

// NewBuiltIn constructs a built-in display bound to id, or to the first
// connected built-in panel when id is DefaultID.
func NewBuiltIn(deps Deps, id int32) (Object, error) {
	b, err := newBase(TypeBuiltIn, deps, id)
	if err != nil {
		return nil, err
	}
	return &BuiltIn{base: b}, nil
}

func (d *BuiltIn) Init() error {
	return d.init("builtin init", resolveConnected(TypeBuiltIn), nil)
}

// Pluggable drives an external output. It only initializes while the output
// is connected.
type Pluggable struct {
	*base
}

// NewPluggable constructs a pluggable display bound to id, or to the first
// connected external output when id is DefaultID.
func NewPluggable(deps Deps, id int32) (Object, error) {
	b, err := newBase(TypePluggable, deps, id)
	if err != nil {
		return nil, err
	}
	return &Pluggable{base: b}, nil
}

func (d *Pluggable) Init() error {
	return d.init("pluggable init", resolveConnected(TypePluggable), nil)
}

// Virtual is an off-screen composition target backed by an allocated
// output buffer.
type Virtual struct {
	*base
}

// NewVirtual constructs a virtual display. With DefaultID it binds to the
// first free virtual id reported by hardware, or to a synthetic id when every
// reported one is driven or there are none.
func NewVirtual(deps Deps, id int32) (Object, error) {
	b, err := newBase(TypeVirtual, deps, id)
	if err != nil {
		return nil, err
	}
	return &Virtual{base: b}, nil
}

func (d *Virtual) Init() error {
	return d.init("virtual init", resolveVirtual, d.allocateOutput)
}

// OutputBuffer returns the buffer composition writes into, or nil before Init.
func (d *Virtual) OutputBuffer() *allocator.Buffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.buffers) == 0 {
		return nil
	}
	return d.buffers[0]
}

// allocateOutput runs with the base lock held.
func (d *Virtual) allocateOutput() error {
	err := d.allocateLocked(allocator.BufferInfo{
		Width:         VirtualWidth,
		Height:        VirtualHeight,
		BytesPerPixel: FormatRGBA8888.BytesPerPixel(),
		Usage:         "virtual-output",
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, allocator.ErrExhausted) {
		return Wrap(KindMemory, "virtual init", err)
	}
	return Wrap(KindResources, "virtual init", err)
}

func resolveVirtual(requested int32, status map[int32]Status, inUse map[int32]Type) (int32, error) {
	if requested != DefaultID {
		s, ok := status[requested]
		if !ok {
			return 0, E(KindParameters, "virtual init", "unknown display id %d", requested)
		}
		if s.Type != TypeVirtual {
			return 0, E(KindParameters, "virtual init", "display %d is %s, not virtual", requested, s.Type)
		}
		return requested, nil
	}

	for _, id := range sortedIDs(status) {
		if _, busy := inUse[id]; status[id].Type == TypeVirtual && !busy {
			return id, nil
		}
	}
	return VirtualIDBase + nextVirtualID.Add(1) - 1, nil
}
