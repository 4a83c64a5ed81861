package core

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/1broseidon/dispcore/internal/allocator"
	"github.com/1broseidon/dispcore/internal/color"
	"github.com/1broseidon/dispcore/internal/comp"
	"github.com/1broseidon/dispcore/internal/display"
	"github.com/1broseidon/dispcore/internal/extension"
	"github.com/1broseidon/dispcore/internal/hwinfo"
	"github.com/1broseidon/dispcore/internal/logger"
	"github.com/1broseidon/dispcore/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// events records what happened across collaborators in order.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

type testExt struct{}

func (testExt) Name() string                     { return "test" }
func (testExt) Version() string                  { return extension.VersionTag }
func (testExt) RotatorFormats() []display.Format { return []display.Format{display.FormatBGRA8888} }
func (testExt) BandwidthScale(string) int        { return 100 }

type fakeLoader struct {
	ev         *events
	openErr    error
	resolveErr error
	createErr  error
	gotTag     string
}

func (l *fakeLoader) Open(name string) error {
	if l.openErr != nil {
		return l.openErr
	}
	l.ev.add("ext open")
	return nil
}

func (l *fakeLoader) Resolve() error { return l.resolveErr }

func (l *fakeLoader) Create(tag string) (extension.Interface, error) {
	l.gotTag = tag
	if l.createErr != nil {
		return nil, l.createErr
	}
	l.ev.add("ext create")
	return testExt{}, nil
}

func (l *fakeLoader) Destroy() { l.ev.add("ext destroy") }

func (l *fakeLoader) Close() error {
	l.ev.add("ext close")
	return nil
}

// fakeHW wraps the static provider and fails on demand.
type fakeHW struct {
	*hwinfo.Static
	ev        *events
	resErr    error
	statusErr error
	guard     *reentrancyGuard
}

func (h *fakeHW) GetHWResourceInfo() (hwinfo.ResourceInfo, error) {
	if h.resErr != nil {
		return hwinfo.ResourceInfo{}, h.resErr
	}
	return h.Static.GetHWResourceInfo()
}

func (h *fakeHW) GetDisplaysStatus() (map[int32]display.Status, error) {
	h.guard.enter()
	defer h.guard.exit()
	if h.statusErr != nil {
		return nil, h.statusErr
	}
	return h.Static.GetDisplaysStatus()
}

func (h *fakeHW) Destroy() error {
	h.ev.add("hw destroy")
	return h.Static.Destroy()
}

// fakeComp wraps the real manager so creations register displays normally.
type fakeComp struct {
	*comp.Manager
	ev      *events
	initErr error
	guard   *reentrancyGuard
}

func (m *fakeComp) Init(res hwinfo.ResourceInfo, ext extension.Interface, alloc allocator.BufferAllocator, sock comp.SocketHandler) error {
	if m.initErr != nil {
		return m.initErr
	}
	m.ev.add("comp init")
	return m.Manager.Init(res, ext, alloc, sock)
}

func (m *fakeComp) Deinit() error {
	m.ev.add("comp deinit")
	return m.Manager.Deinit()
}

func (m *fakeComp) SetMaxBandwidthMode(mode comp.BandwidthMode) error {
	m.guard.enter()
	defer m.guard.exit()
	return m.Manager.SetMaxBandwidthMode(mode)
}

type fakeColor struct {
	ev      *events
	initErr error
}

func (c *fakeColor) Init(hwinfo.ResourceInfo) error {
	if c.initErr != nil {
		return c.initErr
	}
	c.ev.add("color init")
	return nil
}

func (c *fakeColor) Deinit() { c.ev.add("color deinit") }

func (c *fakeColor) Features() ([]color.Feature, bool) {
	return []color.Feature{color.FeatureGammaRamp}, true
}

// reentrancyGuard flags two goroutines inside guarded collaborator calls at
// the same time.
type reentrancyGuard struct {
	held       atomic.Int32
	violations atomic.Int32
}

func (g *reentrancyGuard) enter() {
	if g == nil {
		return
	}
	if !g.held.CompareAndSwap(0, 1) {
		g.violations.Add(1)
	}
	time.Sleep(time.Millisecond)
}

func (g *reentrancyGuard) exit() {
	if g == nil {
		return
	}
	g.held.Store(0)
}

type harness struct {
	ev       *events
	loader   *fakeLoader
	hw       *fakeHW
	comp     *fakeComp
	color    *fakeColor
	alloc    *allocator.HeapAllocator
	hwErr    error
	sigpipes int
	logs     *zap.Logger
}

func newHarness() *harness {
	ev := &events{}
	static := hwinfo.NewStatic(hwinfo.StaticOptions{
		Displays: []hwinfo.StaticDisplay{
			{ID: 0, Status: display.Status{Type: display.TypeBuiltIn, Connected: true, Name: "DSI-1"}},
			{ID: 1, Status: display.Status{Type: display.TypePluggable, Connected: true, Name: "HDMI-1"}},
			{ID: 2, Status: display.Status{Type: display.TypePluggable, Connected: false, Name: "DP-1"}},
		},
	})
	return &harness{
		ev:     ev,
		loader: &fakeLoader{ev: ev},
		hw:     &fakeHW{Static: static, ev: ev},
		comp:   &fakeComp{Manager: comp.NewManager(), ev: ev},
		color:  &fakeColor{ev: ev},
		alloc:  allocator.NewHeapAllocator(0),
	}
}

func (h *harness) core(opts ...Option) *Core {
	base := []Option{
		WithExtensionLoader(h.loader, "libtest.so"),
		WithHWInfoFactory(func() (hwinfo.Provider, error) {
			if h.hwErr != nil {
				return nil, h.hwErr
			}
			h.ev.add("hw create")
			return h.hw, nil
		}),
		WithCompositionManager(h.comp),
		WithColorManager(h.color),
		WithSignalPolicy(func() { h.sigpipes++ }),
	}
	if h.logs != nil {
		base = append(base, WithLogger(h.logs))
	}
	return New(h.alloc, nil, append(base, opts...)...)
}

func (h *harness) ready(t *testing.T, opts ...Option) *Core {
	t.Helper()
	c := h.core(opts...)
	require.NoError(t, c.Init())
	return c
}

var handler = display.EventHandlerFunc(func(display.Event) error { return nil })

func TestInit_Order(t *testing.T) {
	h := newHarness()
	c := h.ready(t)

	assert.Equal(t, []string{"ext open", "ext create", "hw create", "comp init", "color init"}, h.ev.all())
	assert.Equal(t, extension.VersionTag, h.loader.gotTag)
	assert.Equal(t, 1, h.sigpipes)
	assert.True(t, c.Initialized())

	snap := c.Snapshot()
	assert.Equal(t, uint64(1), snap.Version)
	assert.Len(t, snap.Displays, 3)
}

func TestInit_Twice(t *testing.T) {
	h := newHarness()
	c := h.ready(t)
	assert.ErrorIs(t, c.Init(), display.ErrParameters)
}

func TestInit_ExtensionMissingIsTolerated(t *testing.T) {
	h := newHarness()
	l, logs := logger.TestLogger()
	h.logs = l
	h.loader.openErr = extension.ErrNotFound

	c := h.ready(t)
	assert.True(t, c.Initialized())
	assert.Equal(t, 1, logs.FilterMessage("extension module not loaded, continuing without it").Len())
	assert.False(t, c.IsRotatorSupportedFormat(display.FormatBGRA8888))
}

func TestInit_ExtensionSymbolsMissing(t *testing.T) {
	h := newHarness()
	h.loader.resolveErr = errors.New("symbol CreateExtensionInterface not found")
	c := h.core()

	err := c.Init()
	assert.ErrorIs(t, err, display.ErrUndefined)
	assert.False(t, c.Initialized())
	assert.Equal(t, []string{"ext open", "ext close"}, h.ev.all())
}

func TestInit_ExtensionCreateErrorPropagates(t *testing.T) {
	h := newHarness()
	createErr := display.E(display.KindNotSupported, "ext", "wrong tag")
	h.loader.createErr = createErr
	c := h.core()

	assert.Same(t, createErr, c.Init())
	assert.Equal(t, []string{"ext open", "ext close"}, h.ev.all())
}

func TestInit_HWFactoryFailureRollsBackExtension(t *testing.T) {
	h := newHarness()
	h.hwErr = errors.New("no X server")
	c := h.core()

	assert.Same(t, h.hwErr, c.Init())
	assert.Equal(t, []string{"ext open", "ext create", "ext destroy", "ext close"}, h.ev.all())
}

func TestInit_ResourceInfoFailure(t *testing.T) {
	h := newHarness()
	h.hw.resErr = display.E(display.KindHardware, "resource info", "probe failed")
	c := h.core()

	assert.Same(t, h.hw.resErr, c.Init())
	assert.Equal(t, []string{"ext open", "ext create", "hw create", "hw destroy", "ext destroy", "ext close"}, h.ev.all())
}

func TestInit_CompositionFailure(t *testing.T) {
	h := newHarness()
	h.comp.initErr = display.E(display.KindResources, "composition init", "no pipes")
	c := h.core()

	err := c.Init()
	assert.Same(t, h.comp.initErr, err)
	assert.Equal(t, []string{"ext open", "ext create", "hw create", "hw destroy", "ext destroy", "ext close"}, h.ev.all())
	assert.Equal(t, 0, h.sigpipes)

	_, err = c.CreateDisplay(display.TypeBuiltIn, handler)
	assert.ErrorIs(t, err, display.ErrUndefined)
	_, err = c.CreateDisplayByID(0, handler)
	assert.ErrorIs(t, err, display.ErrUndefined)
}

func TestInit_ColorFailureDegrades(t *testing.T) {
	h := newHarness()
	l, logs := logger.TestLogger()
	h.logs = l
	h.color.initErr = display.E(display.KindNotSupported, "color init", "no color management")

	c := h.ready(t)
	assert.Equal(t, 1, logs.FilterMessage("color manager unavailable, continuing without color management").Len())

	d, err := c.CreateDisplay(display.TypeBuiltIn, handler)
	require.NoError(t, err)
	require.NoError(t, c.DestroyDisplay(d))

	require.NoError(t, c.Deinit())
	assert.NotContains(t, h.ev.all(), "color deinit")
}

func TestInit_StatusFailureStartsEmpty(t *testing.T) {
	h := newHarness()
	l, logs := logger.TestLogger()
	h.logs = l
	h.hw.statusErr = errors.New("randr timeout")

	c := h.ready(t)
	assert.Equal(t, 1, logs.FilterMessage("failed to read displays status, starting with an empty snapshot").Len())
	snap := c.Snapshot()
	assert.Zero(t, snap.Version)
	assert.Empty(t, snap.Displays)

	_, err := c.CreateDisplayByID(0, handler)
	assert.ErrorIs(t, err, display.ErrParameters)
}

func TestInit_WithoutExtensionLoader(t *testing.T) {
	h := newHarness()
	h.loader = nil
	c := New(h.alloc, nil,
		WithHWInfoFactory(func() (hwinfo.Provider, error) { return h.hw, nil }),
		WithSignalPolicy(func() {}))

	require.NoError(t, c.Init())
	assert.True(t, c.IsRotatorSupportedFormat(display.FormatRGBA8888))
}

func TestDeinit(t *testing.T) {
	h := newHarness()
	c := h.ready(t)

	require.NoError(t, c.Deinit())
	assert.Equal(t, []string{
		"ext open", "ext create", "hw create", "comp init", "color init",
		"color deinit", "comp deinit", "hw destroy", "ext destroy", "ext close",
	}, h.ev.all())
	assert.False(t, c.Initialized())

	assert.ErrorIs(t, c.Deinit(), display.ErrUndefined)
	_, err := c.GetDisplaysStatus()
	assert.ErrorIs(t, err, display.ErrUndefined)
}

func TestReinit_SnapshotVersionKeepsIncreasing(t *testing.T) {
	h := newHarness()
	c := h.ready(t, WithHWInfoFactory(func() (hwinfo.Provider, error) {
		return hwinfo.NewStatic(hwinfo.StaticOptions{
			Displays: []hwinfo.StaticDisplay{
				{ID: 0, Status: display.Status{Type: display.TypeBuiltIn, Connected: true}},
			},
		}), nil
	}))
	_, err := c.GetDisplaysStatus()
	require.NoError(t, err)
	require.Equal(t, uint64(2), c.Snapshot().Version)

	require.NoError(t, c.Deinit())
	require.NoError(t, c.Init())
	assert.Equal(t, uint64(3), c.Snapshot().Version)
}

func TestDeinit_Uninitialized(t *testing.T) {
	c := newHarness().core()
	assert.ErrorIs(t, c.Deinit(), display.ErrUndefined)
}

func TestCreateDisplay_AllTypes(t *testing.T) {
	h := newHarness()
	c := h.ready(t)

	for _, typ := range display.Types() {
		d, err := c.CreateDisplay(typ, handler)
		require.NoError(t, err, typ.String())
		require.NotNil(t, d)
		assert.Equal(t, typ, d.Type())
		require.NoError(t, c.DestroyDisplay(d))
	}
	assert.Empty(t, h.comp.Displays())
}

func TestCreateDisplay_NilHandler(t *testing.T) {
	h := newHarness()
	c := h.ready(t)

	d, err := c.CreateDisplay(display.TypeBuiltIn, nil)
	assert.ErrorIs(t, err, display.ErrParameters)
	assert.Nil(t, d)

	d, err = c.CreateDisplayByID(0, nil)
	assert.ErrorIs(t, err, display.ErrParameters)
	assert.Nil(t, d)

	assert.Empty(t, h.comp.Displays())
	assert.Zero(t, h.alloc.Stats().Live)
}

func TestCreateDisplay_UnknownTypes(t *testing.T) {
	c := newHarness().ready(t)

	for _, typ := range []display.Type{-1, 3, 4, 100} {
		d, err := c.CreateDisplay(typ, handler)
		assert.ErrorIs(t, err, display.ErrParameters, typ.String())
		assert.Nil(t, d)
	}
}

func TestCreateDisplay_ConstructionFailureIsMemory(t *testing.T) {
	h := newHarness()
	c := h.ready(t, WithVariants(map[display.Type]display.Constructor{
		display.TypeBuiltIn: func(display.Deps, int32) (display.Object, error) {
			return nil, errors.New("out of objects")
		},
		display.TypeVirtual: func(display.Deps, int32) (display.Object, error) {
			return nil, nil
		},
	}))

	_, err := c.CreateDisplay(display.TypeBuiltIn, handler)
	assert.ErrorIs(t, err, display.ErrMemory)
	_, err = c.CreateDisplay(display.TypeVirtual, handler)
	assert.ErrorIs(t, err, display.ErrMemory)
	_, err = c.CreateDisplay(display.TypePluggable, handler)
	assert.ErrorIs(t, err, display.ErrParameters)
}

func TestCreateDisplay_InitFailureTearsDown(t *testing.T) {
	h := newHarness()
	c := h.ready(t)

	first, err := c.CreateDisplay(display.TypeBuiltIn, handler)
	require.NoError(t, err)

	// The only connected built-in display is already driven.
	second, err := c.CreateDisplay(display.TypeBuiltIn, handler)
	assert.ErrorIs(t, err, display.ErrResources)
	assert.Nil(t, second)
	assert.Equal(t, map[int32]display.Type{0: display.TypeBuiltIn}, h.comp.Displays())

	require.NoError(t, c.DestroyDisplay(first))
}

func TestCreateDisplay_DefaultPluggableUsesFreeOutput(t *testing.T) {
	h := newHarness()
	h.hw.SetStatus(3, display.Status{Type: display.TypePluggable, Connected: true, Name: "DP-2"})
	c := h.ready(t)

	first, err := c.CreateDisplay(display.TypePluggable, handler)
	require.NoError(t, err)
	second, err := c.CreateDisplay(display.TypePluggable, handler)
	require.NoError(t, err)

	assert.Equal(t, int32(1), first.ID())
	assert.Equal(t, int32(3), second.ID())
	assert.Equal(t, map[int32]display.Type{1: display.TypePluggable, 3: display.TypePluggable}, h.comp.Displays())

	require.NoError(t, c.DestroyDisplay(second))
	require.NoError(t, c.DestroyDisplay(first))
}

func TestCreateDisplay_InitErrorPassesThrough(t *testing.T) {
	h := newHarness()
	c := h.ready(t)
	hwErr := errors.New("status read failed")
	h.hw.statusErr = hwErr

	_, err := c.CreateDisplay(display.TypeBuiltIn, handler)
	assert.Same(t, hwErr, err)
	assert.Empty(t, h.comp.Displays())
}

func TestCreateDisplayByID(t *testing.T) {
	h := newHarness()
	c := h.ready(t)

	d, err := c.CreateDisplayByID(1, handler)
	require.NoError(t, err)
	assert.Equal(t, display.TypePluggable, d.Type())
	assert.Equal(t, int32(1), d.ID())

	_, err = c.CreateDisplayByID(42, handler)
	assert.ErrorIs(t, err, display.ErrParameters)

	// Known but disconnected: type resolution succeeds, init fails.
	_, err = c.CreateDisplayByID(2, handler)
	assert.ErrorIs(t, err, display.ErrResources)

	require.NoError(t, c.DestroyDisplay(d))
}

func TestCreateDisplayByID_StaleUntilRefresh(t *testing.T) {
	h := newHarness()
	c := h.ready(t)

	h.hw.SetStatus(7, display.Status{Type: display.TypePluggable, Connected: true, Name: "DP-3"})

	_, err := c.CreateDisplayByID(7, handler)
	assert.ErrorIs(t, err, display.ErrParameters)

	status, err := c.GetDisplaysStatus()
	require.NoError(t, err)
	assert.Contains(t, status, int32(7))
	assert.Equal(t, uint64(2), c.Snapshot().Version)

	d, err := c.CreateDisplayByID(7, handler)
	require.NoError(t, err)
	assert.Equal(t, int32(7), d.ID())
	require.NoError(t, c.DestroyDisplay(d))
}

func TestCreateDisplayByID_UnpluggedAfterSnapshot(t *testing.T) {
	h := newHarness()
	c := h.ready(t)

	h.hw.Remove(1)

	// The cached snapshot still lists id 1, but binding reads live status.
	assert.Contains(t, c.Snapshot().Displays, int32(1))
	_, err := c.CreateDisplayByID(1, handler)
	assert.ErrorIs(t, err, display.ErrParameters)
	assert.Empty(t, h.comp.Displays())

	status, err := c.GetDisplaysStatus()
	require.NoError(t, err)
	assert.NotContains(t, status, int32(1))
	assert.NotContains(t, c.Snapshot().Displays, int32(1))
}

func TestGetDisplaysStatus_FailureKeepsSnapshot(t *testing.T) {
	h := newHarness()
	c := h.ready(t)
	before := c.Snapshot()

	h.hw.statusErr = errors.New("gone")
	_, err := c.GetDisplaysStatus()
	assert.Same(t, h.hw.statusErr, err)
	assert.Equal(t, before, c.Snapshot())
}

func TestSnapshotIsACopy(t *testing.T) {
	c := newHarness().ready(t)

	snap := c.Snapshot()
	delete(snap.Displays, 0)
	assert.Contains(t, c.Snapshot().Displays, int32(0))
}

func TestDestroyDisplay(t *testing.T) {
	h := newHarness()
	c := h.ready(t)

	assert.ErrorIs(t, c.DestroyDisplay(nil), display.ErrParameters)

	d, err := c.CreateDisplay(display.TypeVirtual, handler)
	require.NoError(t, err)
	assert.Equal(t, 1, h.alloc.Stats().Live)

	require.NoError(t, c.DestroyDisplay(d))
	assert.Zero(t, h.alloc.Stats().Live)
	assert.Empty(t, h.comp.Displays())

	assert.ErrorIs(t, c.DestroyDisplay(d), display.ErrParameters)
}

type foreignDisplay struct{ display.Interface }

func TestDestroyDisplay_Foreign(t *testing.T) {
	c := newHarness().ready(t)
	assert.ErrorIs(t, c.DestroyDisplay(foreignDisplay{}), display.ErrParameters)
}

func TestPassthroughs(t *testing.T) {
	h := newHarness()
	c := h.ready(t)

	info, err := c.GetFirstDisplayInterfaceType()
	require.NoError(t, err)
	assert.Equal(t, "DSI-1", info.Name)

	n, err := c.GetMaxDisplaysSupported(display.TypePluggable)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.True(t, c.IsRotatorSupportedFormat(display.FormatRGBA8888))
	assert.True(t, c.IsRotatorSupportedFormat(display.FormatBGRA8888), "extension format")
	assert.False(t, c.IsRotatorSupportedFormat(display.FormatYCrCb420SP))

	require.NoError(t, c.SetMaxBandwidthMode(comp.BandwidthCamera))
	assert.Equal(t, comp.BandwidthCamera, h.comp.BandwidthMode())
	assert.Equal(t, comp.BandwidthCamera, c.BandwidthMode())
	assert.ErrorIs(t, c.SetMaxBandwidthMode(comp.BandwidthMode(99)), display.ErrParameters)

	res, err := c.ResourceInfo()
	require.NoError(t, err)
	assert.Equal(t, "generic", res.HWVersion)

	kbps, err := c.MaxBandwidthKbps()
	require.NoError(t, err)
	assert.Equal(t, res.MaxBandwidthLowKbps, kbps)
	require.NoError(t, c.SetMaxBandwidthMode(comp.BandwidthDefault))
	kbps, err = c.MaxBandwidthKbps()
	require.NoError(t, err)
	assert.Equal(t, res.MaxBandwidthHighKbps, kbps)

	assert.Equal(t, []color.Feature{color.FeatureGammaRamp}, c.ColorFeatures())
}

func TestColorFeatures_EmptyAfterSoftFailure(t *testing.T) {
	h := newHarness()
	h.color.initErr = errors.New("no lut")
	c := h.ready(t)
	assert.Empty(t, c.ColorFeatures())
}

func TestPassthroughs_Uninitialized(t *testing.T) {
	c := newHarness().core()

	_, err := c.GetFirstDisplayInterfaceType()
	assert.ErrorIs(t, err, display.ErrUndefined)
	_, err = c.GetMaxDisplaysSupported(display.TypeBuiltIn)
	assert.ErrorIs(t, err, display.ErrUndefined)
	assert.False(t, c.IsRotatorSupportedFormat(display.FormatRGBA8888))
	assert.ErrorIs(t, c.SetMaxBandwidthMode(comp.BandwidthDefault), display.ErrUndefined)
	_, err = c.ResourceInfo()
	assert.ErrorIs(t, err, display.ErrUndefined)
	_, err = c.MaxBandwidthKbps()
	assert.ErrorIs(t, err, display.ErrUndefined)
	assert.Nil(t, c.ColorFeatures())
}

func TestConcurrentCallsDoNotInterleave(t *testing.T) {
	h := newHarness()
	guard := &reentrancyGuard{}
	h.hw.guard = guard
	h.comp.guard = guard
	c := h.ready(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, _ = c.GetDisplaysStatus()
		}()
		go func() {
			defer wg.Done()
			_ = c.SetMaxBandwidthMode(comp.BandwidthVFlip)
		}()
		go func() {
			defer wg.Done()
			if d, err := c.CreateDisplay(display.TypeVirtual, handler); err == nil {
				_ = c.DestroyDisplay(d)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, guard.violations.Load())
}

func TestMetricsAreRecorded(t *testing.T) {
	h := newHarness()
	rec := metrics.New()
	c := h.ready(t, WithMetrics(rec))

	d, err := c.CreateDisplay(display.TypeBuiltIn, handler)
	require.NoError(t, err)
	require.NoError(t, c.DestroyDisplay(d))

	families, err := rec.Registry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "dispcore_operations_total")
	assert.Contains(t, names, "dispcore_snapshot_version")
}
