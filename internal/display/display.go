// Package display defines the display object variants created by the core
// (built-in panels, pluggable outputs and virtual targets) together with the
// types and error kinds shared by the rest of the display stack.
package display

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1broseidon/dispcore/internal/allocator"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// HardwareInfo is the part of the hardware info provider that display objects query.
type HardwareInfo interface {
	GetDisplaysStatus() (map[int32]Status, error)
}

// Compositor tracks which display ids are driven by live display objects.
type Compositor interface {
	RegisterDisplay(id int32, t Type) error
	UnregisterDisplay(id int32) error
	// Displays returns the ids currently driven and their types.
	Displays() map[int32]Type
}

// Deps are the shared collaborators every display object is constructed with.
type Deps struct {
	Handler    EventHandler
	HWInfo     HardwareInfo
	Allocator  allocator.BufferAllocator
	Compositor Compositor
}

func (d Deps) validate() error {
	switch {
	case d.Handler == nil:
		return fmt.Errorf("event handler is nil")
	case d.HWInfo == nil:
		return fmt.Errorf("hardware info provider is nil")
	case d.Allocator == nil:
		return fmt.Errorf("buffer allocator is nil")
	case d.Compositor == nil:
		return fmt.Errorf("compositor is nil")
	}
	return nil
}

// Interface is the handle callers hold for a created display.
type Interface interface {
	// Handle is a unique token for this display object.
	Handle() string
	// ID is the hardware display id the object is bound to. It is only
	// meaningful after a successful Init.
	ID() int32
	Type() Type
	PowerState() PowerState
	SetPowerState(state PowerState) error
	Refresh() error
}

// Object is the full lifecycle view of a display used by the factory.
type Object interface {
	Interface
	Init() error
	Deinit() error
	// Release marks the object as destroyed. It returns false if the object
	// had already been released.
	Release() bool
	Released() bool
}

// Constructor builds an uninitialized display object for id, or DefaultID.
type Constructor func(deps Deps, id int32) (Object, error)

// Constructors returns the default constructor for every variant.
func Constructors() map[Type]Constructor {
	return map[Type]Constructor{
		TypeBuiltIn:   NewBuiltIn,
		TypePluggable: NewPluggable,
		TypeVirtual:   NewVirtual,
	}
}

// resolver picks the hardware id to bind to from a status snapshot. Ids in
// inUse are already driven and are skipped when no id was requested.
type resolver func(requested int32, status map[int32]Status, inUse map[int32]Type) (int32, error)

type base struct {
	typ       Type
	handle    string
	requested int32
	deps      Deps

	mu      sync.Mutex
	id      int32
	ready   bool
	power   PowerState
	buffers []*allocator.Buffer

	released atomic.Bool
}

func newBase(t Type, deps Deps, id int32) (*base, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if id < DefaultID {
		return nil, fmt.Errorf("invalid display id %d", id)
	}
	return &base{
		typ:       t,
		handle:    uuid.NewString(),
		requested: id,
		deps:      deps,
		id:        id,
	}, nil
}

func (b *base) Handle() string { return b.handle }
func (b *base) Type() Type     { return b.typ }

func (b *base) ID() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.id
}

func (b *base) PowerState() PowerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.power
}

// init binds the object to a hardware id and registers it with the
// compositor. setup runs last; when it fails the registration is undone.
func (b *base) init(op string, resolve resolver, setup func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ready {
		return E(KindParameters, op, "display already initialized")
	}

	status, err := b.deps.HWInfo.GetDisplaysStatus()
	if err != nil {
		return err
	}

	id, err := resolve(b.requested, status, b.deps.Compositor.Displays())
	if err != nil {
		return err
	}

	if err := b.deps.Compositor.RegisterDisplay(id, b.typ); err != nil {
		return err
	}

	if setup != nil {
		if err := setup(); err != nil {
			b.freeBuffersLocked()
			_ = b.deps.Compositor.UnregisterDisplay(id)
			return err
		}
	}

	b.id = id
	b.ready = true
	b.power = PowerOff
	return nil
}

func (b *base) allocateLocked(info allocator.BufferInfo) error {
	buf, err := b.deps.Allocator.AllocateBuffer(info)
	if err != nil {
		return err
	}
	b.buffers = append(b.buffers, buf)
	return nil
}

func (b *base) freeBuffersLocked() error {
	var err error
	for _, buf := range b.buffers {
		err = multierr.Append(err, b.deps.Allocator.FreeBuffer(buf))
	}
	b.buffers = nil
	return err
}

// Deinit releases buffers and unregisters the display. It is a no-op on an
// object that never finished Init.
func (b *base) Deinit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.ready {
		return nil
	}

	err := b.freeBuffersLocked()
	err = multierr.Append(err, b.deps.Compositor.UnregisterDisplay(b.id))
	b.ready = false
	b.power = PowerOff
	return err
}

func (b *base) Release() bool  { return b.released.CompareAndSwap(false, true) }
func (b *base) Released() bool { return b.released.Load() }

// SetPowerState changes the power mode and notifies the event handler.
func (b *base) SetPowerState(state PowerState) error {
	switch state {
	case PowerOff, PowerOn, PowerDoze:
	default:
		return E(KindParameters, "set power state", "unknown power state %d", int(state))
	}

	b.mu.Lock()
	if !b.ready {
		b.mu.Unlock()
		return E(KindUndefined, "set power state", "display not initialized")
	}
	changed := b.power != state
	b.power = state
	id := b.id
	b.mu.Unlock()

	if changed {
		_ = b.deps.Handler.HandleEvent(Event{
			Kind:      EventPowerState,
			DisplayID: id,
			Detail:    state.String(),
			At:        time.Now(),
		})
	}
	return nil
}

// Refresh asks the event handler to redraw the display.
func (b *base) Refresh() error {
	b.mu.Lock()
	ready, id := b.ready, b.id
	b.mu.Unlock()

	if !ready {
		return E(KindUndefined, "refresh", "display not initialized")
	}
	return b.deps.Handler.HandleEvent(Event{Kind: EventRefresh, DisplayID: id, At: time.Now()})
}

// resolveConnected binds to the explicit id, or to the lowest connected id of
// type t that is not already driven when requested is DefaultID.
func resolveConnected(t Type) resolver {
	return func(requested int32, status map[int32]Status, inUse map[int32]Type) (int32, error) {
		op := t.String() + " init"
		if requested != DefaultID {
			s, ok := status[requested]
			if !ok {
				return 0, E(KindParameters, op, "unknown display id %d", requested)
			}
			if s.Type != t {
				return 0, E(KindParameters, op, "display %d is %s, not %s", requested, s.Type, t)
			}
			if !s.Connected {
				return 0, E(KindResources, op, "display %d is not connected", requested)
			}
			return requested, nil
		}

		found := false
		for _, id := range sortedIDs(status) {
			s := status[id]
			if s.Type != t || !s.Connected {
				continue
			}
			found = true
			if _, busy := inUse[id]; !busy {
				return id, nil
			}
		}
		if found {
			return 0, E(KindResources, op, "every connected %s display is in use", t)
		}
		return 0, E(KindResources, op, "no connected %s display", t)
	}
}

func sortedIDs(status map[int32]Status) []int32 {
	ids := make([]int32, 0, len(status))
	for id := range status {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
