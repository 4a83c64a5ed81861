package comp

import (
	"errors"
	"sync"
	"testing"

	"github.com/1broseidon/dispcore/internal/allocator"
	"github.com/1broseidon/dispcore/internal/display"
	"github.com/1broseidon/dispcore/internal/hwinfo"
	"github.com/1broseidon/dispcore/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSocket struct {
	mu   sync.Mutex
	got  []Notification
	fail error
}

func (s *recordingSocket) Publish(n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return s.fail
}

type scalingExt struct{}

func (scalingExt) Name() string                     { return "scale" }
func (scalingExt) Version() string                  { return "1" }
func (scalingExt) RotatorFormats() []display.Format { return []display.Format{display.FormatBGRA8888} }
func (scalingExt) BandwidthScale(mode string) int {
	if mode == "camera" {
		return 50
	}
	return 100
}

func newReady(t *testing.T, sock SocketHandler) *Manager {
	t.Helper()
	m := NewManager()
	require.NoError(t, m.Init(hwinfo.DefaultResourceInfo(), nil, allocator.NewHeapAllocator(0), sock))
	return m
}

func TestParseBandwidthMode(t *testing.T) {
	modes := BandwidthModes()
	require.Len(t, modes, 4)
	for _, m := range modes {
		assert.True(t, m.Valid())
		got, err := ParseBandwidthMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseBandwidthMode("turbo")
	assert.Error(t, err)
}

func TestInit_Validation(t *testing.T) {
	m := NewManager()
	err := m.Init(hwinfo.DefaultResourceInfo(), nil, nil, nil)
	assert.ErrorIs(t, err, display.ErrParameters)

	err = m.Init(hwinfo.ResourceInfo{}, nil, allocator.NewHeapAllocator(0), nil)
	assert.ErrorIs(t, err, display.ErrResources)

	require.NoError(t, m.Init(hwinfo.DefaultResourceInfo(), nil, allocator.NewHeapAllocator(0), nil))
	err = m.Init(hwinfo.DefaultResourceInfo(), nil, allocator.NewHeapAllocator(0), nil)
	assert.ErrorIs(t, err, display.ErrParameters)
}

func TestNotInitialized(t *testing.T) {
	m := NewManager()

	assert.ErrorIs(t, m.SetMaxBandwidthMode(BandwidthCamera), display.ErrUndefined)
	assert.ErrorIs(t, m.RegisterDisplay(0, display.TypeBuiltIn), display.ErrUndefined)
	assert.False(t, m.IsRotatorSupportedFormat(display.FormatRGBA8888))
	assert.Zero(t, m.MaxBandwidthKbps())
	assert.NoError(t, m.Deinit())
}

func TestBandwidth(t *testing.T) {
	m := newReady(t, nil)
	res := hwinfo.DefaultResourceInfo()

	assert.Equal(t, res.MaxBandwidthHighKbps, m.MaxBandwidthKbps())

	require.NoError(t, m.SetMaxBandwidthMode(BandwidthVFlip))
	assert.Equal(t, BandwidthVFlip, m.BandwidthMode())
	assert.Equal(t, res.MaxBandwidthLowKbps, m.MaxBandwidthKbps())

	assert.ErrorIs(t, m.SetMaxBandwidthMode(BandwidthMode(9)), display.ErrParameters)
	assert.Equal(t, BandwidthVFlip, m.BandwidthMode())
}

func TestBandwidth_ExtensionScale(t *testing.T) {
	m := NewManager()
	res := hwinfo.DefaultResourceInfo()
	require.NoError(t, m.Init(res, scalingExt{}, allocator.NewHeapAllocator(0), nil))

	require.NoError(t, m.SetMaxBandwidthMode(BandwidthCamera))
	assert.Equal(t, res.MaxBandwidthLowKbps/2, m.MaxBandwidthKbps())
}

func TestRotatorFormats(t *testing.T) {
	plain := newReady(t, nil)
	assert.True(t, plain.IsRotatorSupportedFormat(display.FormatRGBA8888))
	assert.False(t, plain.IsRotatorSupportedFormat(display.FormatBGRA8888))

	withExt := NewManager()
	require.NoError(t, withExt.Init(hwinfo.DefaultResourceInfo(), scalingExt{}, allocator.NewHeapAllocator(0), nil))
	assert.True(t, withExt.IsRotatorSupportedFormat(display.FormatBGRA8888))
	assert.False(t, withExt.IsRotatorSupportedFormat(display.FormatYCrCb420SP))
}

func TestRegisterDisplay(t *testing.T) {
	sock := &recordingSocket{}
	m := newReady(t, sock)

	require.NoError(t, m.RegisterDisplay(0, display.TypeBuiltIn))
	assert.ErrorIs(t, m.RegisterDisplay(0, display.TypeBuiltIn), display.ErrResources)
	// One built-in display is supported by the default resources.
	assert.ErrorIs(t, m.RegisterDisplay(1, display.TypeBuiltIn), display.ErrResources)

	require.NoError(t, m.RegisterDisplay(2, display.TypePluggable))
	assert.Equal(t, map[int32]display.Type{0: display.TypeBuiltIn, 2: display.TypePluggable}, m.Displays())

	require.NoError(t, m.UnregisterDisplay(0))
	assert.ErrorIs(t, m.UnregisterDisplay(0), display.ErrParameters)
	require.NoError(t, m.RegisterDisplay(1, display.TypeBuiltIn))

	require.Len(t, sock.got, 4)
	assert.Equal(t, EventRegistered, sock.got[0].Event)
	assert.Equal(t, EventUnregistered, sock.got[2].Event)
	assert.Equal(t, int32(0), sock.got[2].DisplayID)
}

func TestPublishFailureIsLogged(t *testing.T) {
	l, logs := logger.TestLogger()
	sock := &recordingSocket{fail: errors.New("broken pipe")}
	m := NewManager(WithLogger(l))
	require.NoError(t, m.Init(hwinfo.DefaultResourceInfo(), nil, allocator.NewHeapAllocator(0), sock))

	require.NoError(t, m.RegisterDisplay(0, display.TypeBuiltIn))
	assert.Equal(t, 1, logs.FilterMessage("failed to publish composition event").Len())
}

func TestDeinit(t *testing.T) {
	l, logs := logger.TestLogger()
	m := NewManager(WithLogger(l))
	require.NoError(t, m.Init(hwinfo.DefaultResourceInfo(), nil, allocator.NewHeapAllocator(0), nil))
	require.NoError(t, m.RegisterDisplay(0, display.TypeBuiltIn))

	require.NoError(t, m.Deinit())
	assert.Equal(t, 1, logs.FilterMessage("composition deinit with displays still registered").Len())
	assert.Empty(t, m.Displays())

	// Can be initialized again.
	require.NoError(t, m.Init(hwinfo.DefaultResourceInfo(), nil, allocator.NewHeapAllocator(0), nil))
}
