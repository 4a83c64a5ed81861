// Package core is the display core. It brings up the hardware info provider,
// the composition manager and the optional extension and color subsystems in
// order, and creates and destroys display objects on top of them.
//
// Every exported method holds a single lock for its whole duration, so calls
// on one Core never interleave. Display objects handed out are not covered
// by that lock.
package core

import (
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/1broseidon/dispcore/internal/allocator"
	"github.com/1broseidon/dispcore/internal/color"
	"github.com/1broseidon/dispcore/internal/comp"
	"github.com/1broseidon/dispcore/internal/display"
	"github.com/1broseidon/dispcore/internal/extension"
	"github.com/1broseidon/dispcore/internal/hwinfo"
	"github.com/1broseidon/dispcore/internal/metrics"
	"go.uber.org/zap"
)

// Snapshot is the cached display topology used for id based creation. It is
// only replaced by Init and by a successful GetDisplaysStatus, so it may be
// stale in between.
type Snapshot struct {
	Version  uint64                    `json:"version"`
	TakenAt  time.Time                 `json:"taken_at"`
	Displays map[int32]display.Status `json:"displays"`
}

func (s Snapshot) clone() Snapshot {
	s.Displays = maps.Clone(s.Displays)
	if s.Displays == nil {
		s.Displays = map[int32]display.Status{}
	}
	return s
}

// Core owns the display subsystem lifecycle.
type Core struct {
	alloc allocator.BufferAllocator
	sock  comp.SocketHandler

	logger       *zap.Logger
	loader       ExtensionLoader
	extName      string
	hwFactory    hwinfo.Factory
	comp         CompositionManager
	color        ColorManager
	variants     map[display.Type]display.Constructor
	signalPolicy func()
	metrics      *metrics.Recorder

	mu          sync.Mutex
	initialized bool
	hw          hwinfo.Provider
	ext         extension.Interface
	res         hwinfo.ResourceInfo
	snapshot    Snapshot
	colorReady  bool
}

// New creates a core around the allocator and socket handler supplied by the
// embedding application. Nothing is initialized until Init.
func New(alloc allocator.BufferAllocator, sock comp.SocketHandler, opts ...Option) *Core {
	c := &Core{
		alloc:        alloc,
		sock:         sock,
		logger:       zap.NewNop(),
		hwFactory:    defaultHWInfoFactory,
		variants:     display.Constructors(),
		signalPolicy: IgnoreSIGPIPE,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.comp == nil {
		c.comp = comp.NewManager(comp.WithLogger(c.logger))
	}
	return c
}

// Init brings the subsystems up. A failed fatal step releases everything
// acquired before it and returns that step's error.
func (c *Core) Init() (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.observe("init", time.Now(), &err)

	if c.initialized {
		return display.E(display.KindParameters, "init", "core already initialized")
	}

	var stack releaseStack
	defer func() {
		if err != nil {
			c.logger.Error("core init failed, rolling back", zap.Error(err))
			_ = stack.unwind(c.logger)
			return
		}
		stack.release()
	}()

	ext, err := c.loadExtension(&stack)
	if err != nil {
		return err
	}

	hw, err := c.hwFactory()
	if err != nil {
		return err
	}
	if hw == nil {
		return display.E(display.KindUndefined, "init", "hardware info factory returned no provider")
	}
	stack.push("hardware info", hw.Destroy)

	res, err := hw.GetHWResourceInfo()
	if err != nil {
		return err
	}

	if err := c.comp.Init(res, ext, c.alloc, c.sock); err != nil {
		return err
	}
	stack.push("composition manager", c.comp.Deinit)

	colorReady := false
	if c.color != nil {
		if cerr := c.color.Init(res); cerr != nil {
			c.logger.Warn("color manager unavailable, continuing without color management", zap.Error(cerr))
			c.metrics.SoftFailure("color")
		} else {
			colorReady = true
		}
	}

	// Versions keep counting across Deinit and a later Init.
	snap := Snapshot{Version: c.snapshot.Version, Displays: map[int32]display.Status{}}
	if status, serr := hw.GetDisplaysStatus(); serr != nil {
		c.logger.Warn("failed to read displays status, starting with an empty snapshot", zap.Error(serr))
		c.metrics.SoftFailure("status")
	} else {
		snap = Snapshot{Version: c.snapshot.Version + 1, TakenAt: time.Now(), Displays: maps.Clone(status)}
	}

	if c.signalPolicy != nil {
		c.signalPolicy()
	}

	c.hw = hw
	c.ext = ext
	c.res = res.Clone()
	c.snapshot = snap.clone()
	c.colorReady = colorReady
	c.initialized = true
	c.metrics.SetSnapshot(c.snapshot.Version, c.snapshot.Displays)

	c.logger.Info("display core initialized",
		zap.String("hw_version", res.HWVersion),
		zap.Bool("extension", ext != nil),
		zap.Bool("color_management", colorReady),
		zap.Int("displays", len(snap.Displays)))
	return nil
}

// loadExtension runs the optional extension steps. A module that cannot be
// opened is skipped; anything failing after that is fatal.
func (c *Core) loadExtension(stack *releaseStack) (extension.Interface, error) {
	if c.loader == nil {
		return nil, nil
	}
	name := c.extName
	if name == "" {
		name = extension.DefaultLibraryName
	}

	if err := c.loader.Open(name); err != nil {
		c.logger.Warn("extension module not loaded, continuing without it",
			zap.String("module", name), zap.Error(err))
		return nil, nil
	}
	stack.push("extension module", c.loader.Close)

	if err := c.loader.Resolve(); err != nil {
		if !errors.Is(err, display.ErrUndefined) {
			err = display.Wrap(display.KindUndefined, "init", err)
		}
		return nil, err
	}

	ext, err := c.loader.Create(extension.VersionTag)
	if err != nil {
		return nil, err
	}
	stack.push("extension interface", func() error {
		c.loader.Destroy()
		return nil
	})

	c.logger.Debug("extension loaded", zap.String("module", name), zap.String("version", ext.Version()))
	return ext, nil
}

// Deinit tears the subsystems down in reverse dependency order.
func (c *Core) Deinit() (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.observe("deinit", time.Now(), &err)

	if !c.initialized {
		return display.E(display.KindUndefined, "deinit", "core not initialized")
	}

	if c.color != nil && c.colorReady {
		c.color.Deinit()
	}
	if cerr := c.comp.Deinit(); cerr != nil {
		c.logger.Warn("composition manager deinit failed", zap.Error(cerr))
	}
	if herr := c.hw.Destroy(); herr != nil {
		c.logger.Warn("hardware info provider destroy failed", zap.Error(herr))
	}
	if c.loader != nil {
		c.loader.Destroy()
		if lerr := c.loader.Close(); lerr != nil {
			c.logger.Warn("failed to close extension module", zap.Error(lerr))
		}
	}

	c.hw = nil
	c.ext = nil
	c.res = hwinfo.ResourceInfo{}
	c.colorReady = false
	c.initialized = false
	c.logger.Info("display core deinitialized")
	return nil
}

// CreateDisplay creates and initializes a display of type t bound to the
// first matching hardware display.
func (c *Core) CreateDisplay(t display.Type, h display.EventHandler) (_ display.Interface, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.observe("create_display", time.Now(), &err)

	if h == nil {
		return nil, display.E(display.KindParameters, "create display", "event handler is nil")
	}
	if !c.initialized {
		return nil, display.E(display.KindUndefined, "create display", "core not initialized")
	}
	return c.createLocked(t, display.DefaultID, h)
}

// CreateDisplayByID creates a display bound to id. The type is taken from
// the cached snapshot; ids missing from it are rejected even if the hardware
// has gained them since the last refresh.
func (c *Core) CreateDisplayByID(id int32, h display.EventHandler) (_ display.Interface, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.observe("create_display_by_id", time.Now(), &err)

	if h == nil {
		return nil, display.E(display.KindParameters, "create display", "event handler is nil")
	}
	if !c.initialized {
		return nil, display.E(display.KindUndefined, "create display", "core not initialized")
	}
	status, ok := c.snapshot.Displays[id]
	if !ok {
		return nil, display.E(display.KindParameters, "create display", "unknown display id %d", id)
	}
	return c.createLocked(status.Type, id, h)
}

func (c *Core) createLocked(t display.Type, id int32, h display.EventHandler) (display.Interface, error) {
	newObj, ok := c.variants[t]
	if !ok || newObj == nil {
		return nil, display.E(display.KindParameters, "create display", "unsupported display type %s", t)
	}

	deps := display.Deps{
		Handler:    h,
		HWInfo:     c.hw,
		Allocator:  c.alloc,
		Compositor: c.comp,
	}
	obj, err := newObj(deps, id)
	if err != nil || obj == nil {
		if err == nil {
			err = errors.New("constructor returned no display")
		}
		return nil, display.Wrap(display.KindMemory, "create display", err)
	}

	if err := obj.Init(); err != nil {
		if derr := obj.Deinit(); derr != nil {
			c.logger.Warn("failed to tear down display after init failure", zap.Error(derr))
		}
		obj.Release()
		c.logger.Debug("display init failed",
			zap.Stringer("type", t), zap.Int32("requested_id", id), zap.Error(err))
		return nil, err
	}

	c.metrics.DisplayCreated(t)
	c.logger.Debug("display created",
		zap.Stringer("type", t),
		zap.Int32("id", obj.ID()),
		zap.String("handle", obj.Handle()))
	return obj, nil
}

// DestroyDisplay deinitializes and releases d. Destroying the same display
// twice, or a display this package did not create, is rejected.
func (c *Core) DestroyDisplay(d display.Interface) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.observe("destroy_display", time.Now(), &err)

	if d == nil {
		return display.E(display.KindParameters, "destroy display", "display is nil")
	}
	obj, ok := d.(display.Object)
	if !ok {
		return display.E(display.KindParameters, "destroy display", "foreign display handle %T", d)
	}
	if !obj.Release() {
		return display.E(display.KindParameters, "destroy display", "display %s already destroyed", obj.Handle())
	}

	if derr := obj.Deinit(); derr != nil {
		c.logger.Warn("display deinit reported errors", zap.String("handle", obj.Handle()), zap.Error(derr))
	}
	c.metrics.DisplayDestroyed(obj.Type())
	c.logger.Debug("display destroyed", zap.String("handle", obj.Handle()))
	return nil
}

// GetDisplaysStatus queries the hardware and replaces the cached snapshot on
// success.
func (c *Core) GetDisplaysStatus() (_ map[int32]display.Status, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.observe("get_displays_status", time.Now(), &err)

	if !c.initialized {
		return nil, display.E(display.KindUndefined, "displays status", "core not initialized")
	}
	status, err := c.hw.GetDisplaysStatus()
	if err != nil {
		return nil, err
	}
	c.snapshot = Snapshot{
		Version:  c.snapshot.Version + 1,
		TakenAt:  time.Now(),
		Displays: maps.Clone(status),
	}.clone()
	c.metrics.SetSnapshot(c.snapshot.Version, c.snapshot.Displays)
	return maps.Clone(c.snapshot.Displays), nil
}

// Snapshot returns a copy of the cached topology without querying hardware.
func (c *Core) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.clone()
}

// ResourceInfo returns the resource info read at Init.
func (c *Core) ResourceInfo() (hwinfo.ResourceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return hwinfo.ResourceInfo{}, display.E(display.KindUndefined, "resource info", "core not initialized")
	}
	return c.res.Clone(), nil
}

func (c *Core) GetFirstDisplayInterfaceType() (hwinfo.InterfaceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return hwinfo.InterfaceInfo{}, display.E(display.KindUndefined, "first display interface", "core not initialized")
	}
	return c.hw.GetFirstDisplayInterfaceType()
}

func (c *Core) GetMaxDisplaysSupported(t display.Type) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return 0, display.E(display.KindUndefined, "max displays", "core not initialized")
	}
	return c.hw.GetMaxDisplaysSupported(t)
}

func (c *Core) IsRotatorSupportedFormat(f display.Format) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return false
	}
	return c.comp.IsRotatorSupportedFormat(f)
}

func (c *Core) SetMaxBandwidthMode(mode comp.BandwidthMode) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.observe("set_bandwidth_mode", time.Now(), &err)

	if !c.initialized {
		return display.E(display.KindUndefined, "set bandwidth mode", "core not initialized")
	}
	return c.comp.SetMaxBandwidthMode(mode)
}

// BandwidthMode returns the composition bandwidth mode in effect.
func (c *Core) BandwidthMode() comp.BandwidthMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.comp.BandwidthMode()
}

// MaxBandwidthKbps returns the bandwidth budget of the current mode,
// including any scaling applied by the extension.
func (c *Core) MaxBandwidthKbps() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return 0, display.E(display.KindUndefined, "max bandwidth", "core not initialized")
	}
	return c.comp.MaxBandwidthKbps(), nil
}

// ColorFeatures returns the color features enabled at Init. It is empty when
// the color manager is absent or failed to initialize.
func (c *Core) ColorFeatures() []color.Feature {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized || !c.colorReady {
		return nil
	}
	features, _ := c.color.Features()
	return features
}

// Initialized reports whether Init has succeeded and Deinit has not run since.
func (c *Core) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

func (c *Core) observe(op string, start time.Time, err *error) {
	c.metrics.ObserveOperation(op, start, *err)
}
