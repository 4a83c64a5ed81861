// Package comp is the composition manager. It owns the bandwidth policy and
// rotator capabilities derived from the hardware resource info and tracks
// which display ids are driven by live display objects.
package comp

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/1broseidon/dispcore/internal/allocator"
	"github.com/1broseidon/dispcore/internal/display"
	"github.com/1broseidon/dispcore/internal/extension"
	"github.com/1broseidon/dispcore/internal/hwinfo"
	"go.uber.org/zap"
)

// BandwidthMode selects the bandwidth budget applied to composition.
type BandwidthMode int

const (
	BandwidthDefault BandwidthMode = iota
	BandwidthCamera
	BandwidthVFlip
	BandwidthHFlip
)

func (m BandwidthMode) String() string {
	switch m {
	case BandwidthDefault:
		return "default"
	case BandwidthCamera:
		return "camera"
	case BandwidthVFlip:
		return "vflip"
	case BandwidthHFlip:
		return "hflip"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m BandwidthMode) Valid() bool {
	return m >= BandwidthDefault && m <= BandwidthHFlip
}

// BandwidthModes lists every mode in order.
func BandwidthModes() []BandwidthMode {
	return []BandwidthMode{BandwidthDefault, BandwidthCamera, BandwidthVFlip, BandwidthHFlip}
}

// ParseBandwidthMode parses the names produced by String.
func ParseBandwidthMode(s string) (BandwidthMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return BandwidthDefault, nil
	case "camera":
		return BandwidthCamera, nil
	case "vflip":
		return BandwidthVFlip, nil
	case "hflip":
		return BandwidthHFlip, nil
	default:
		return 0, fmt.Errorf("unknown bandwidth mode %q", s)
	}
}

// Notification is published to the socket handler when the set of driven
// displays changes.
type Notification struct {
	Event     string       `json:"event"`
	DisplayID int32        `json:"display_id"`
	Type      display.Type `json:"type"`
	At        time.Time    `json:"at"`
}

const (
	EventRegistered   = "display_registered"
	EventUnregistered = "display_unregistered"
)

// SocketHandler receives composition notifications for connected clients.
type SocketHandler interface {
	Publish(n Notification) error
}

// Manager is the default composition manager.
type Manager struct {
	logger *zap.Logger

	mu         sync.Mutex
	ready      bool
	res        hwinfo.ResourceInfo
	ext        extension.Interface
	alloc      allocator.BufferAllocator
	sock       SocketHandler
	mode       BandwidthMode
	registered map[int32]display.Type
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for publish failures.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager returns an uninitialized manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init prepares the manager for res. ext and sock may be nil.
func (m *Manager) Init(res hwinfo.ResourceInfo, ext extension.Interface, alloc allocator.BufferAllocator, sock SocketHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ready {
		return display.E(display.KindParameters, "composition init", "already initialized")
	}
	if alloc == nil {
		return display.E(display.KindParameters, "composition init", "buffer allocator is nil")
	}
	if res.NumBlendStages <= 0 {
		return display.E(display.KindResources, "composition init", "hardware reports no blend stages")
	}

	m.res = res.Clone()
	m.ext = ext
	m.alloc = alloc
	m.sock = sock
	m.mode = BandwidthDefault
	m.registered = make(map[int32]display.Type)
	m.ready = true
	return nil
}

// Deinit releases the manager. Displays still registered are dropped.
func (m *Manager) Deinit() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ready {
		return nil
	}
	if n := len(m.registered); n > 0 {
		m.logger.Warn("composition deinit with displays still registered", zap.Int("count", n))
	}
	m.registered = nil
	m.ext = nil
	m.alloc = nil
	m.sock = nil
	m.ready = false
	return nil
}

// SetMaxBandwidthMode switches the bandwidth budget.
func (m *Manager) SetMaxBandwidthMode(mode BandwidthMode) error {
	if !mode.Valid() {
		return display.E(display.KindParameters, "set bandwidth mode", "unknown mode %d", int(mode))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		return display.E(display.KindUndefined, "set bandwidth mode", "composition manager not initialized")
	}
	m.mode = mode
	return nil
}

// BandwidthMode returns the current mode.
func (m *Manager) BandwidthMode() BandwidthMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// MaxBandwidthKbps returns the budget for the current mode. The default mode
// gets the high limit; the restricted modes get the low limit, scaled by the
// extension when one is present.
func (m *Manager) MaxBandwidthKbps() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ready {
		return 0
	}
	if m.mode == BandwidthDefault {
		return m.res.MaxBandwidthHighKbps
	}
	limit := m.res.MaxBandwidthLowKbps
	if m.ext != nil {
		if scale := m.ext.BandwidthScale(m.mode.String()); scale > 0 {
			limit = limit * uint64(scale) / 100
		}
	}
	return min(limit, m.res.MaxBandwidthHighKbps)
}

// IsRotatorSupportedFormat reports whether the rotator accepts f, either
// natively or through the extension.
func (m *Manager) IsRotatorSupportedFormat(f display.Format) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ready {
		return false
	}
	if slices.Contains(m.res.RotatorFormats, f) {
		return true
	}
	return m.ext != nil && slices.Contains(m.ext.RotatorFormats(), f)
}

// RegisterDisplay records that id is driven by a display object of type t.
func (m *Manager) RegisterDisplay(id int32, t display.Type) error {
	m.mu.Lock()
	if !m.ready {
		m.mu.Unlock()
		return display.E(display.KindUndefined, "register display", "composition manager not initialized")
	}
	if _, ok := m.registered[id]; ok {
		m.mu.Unlock()
		return display.E(display.KindResources, "register display", "display %d already registered", id)
	}
	if limit, ok := m.res.MaxDisplays[t]; ok && m.countLocked(t) >= limit {
		m.mu.Unlock()
		return display.E(display.KindResources, "register display", "%s display limit %d reached", t, limit)
	}
	m.registered[id] = t
	sock := m.sock
	m.mu.Unlock()

	m.publish(sock, Notification{Event: EventRegistered, DisplayID: id, Type: t, At: time.Now()})
	return nil
}

// UnregisterDisplay removes id from the driven set.
func (m *Manager) UnregisterDisplay(id int32) error {
	m.mu.Lock()
	if !m.ready {
		m.mu.Unlock()
		return display.E(display.KindUndefined, "unregister display", "composition manager not initialized")
	}
	t, ok := m.registered[id]
	if !ok {
		m.mu.Unlock()
		return display.E(display.KindParameters, "unregister display", "display %d not registered", id)
	}
	delete(m.registered, id)
	sock := m.sock
	m.mu.Unlock()

	m.publish(sock, Notification{Event: EventUnregistered, DisplayID: id, Type: t, At: time.Now()})
	return nil
}

// Displays returns a copy of the registered display ids and their types.
func (m *Manager) Displays() map[int32]display.Type {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[int32]display.Type, len(m.registered))
	for id, t := range m.registered {
		out[id] = t
	}
	return out
}

func (m *Manager) countLocked(t display.Type) int {
	n := 0
	for _, rt := range m.registered {
		if rt == t {
			n++
		}
	}
	return n
}

// publish runs outside the lock so a handler may call back into the manager.
func (m *Manager) publish(sock SocketHandler, n Notification) {
	if sock == nil {
		return
	}
	if err := sock.Publish(n); err != nil {
		m.logger.Warn("failed to publish composition event",
			zap.String("event", n.Event),
			zap.Int32("display_id", n.DisplayID),
			zap.Error(err))
	}
}
