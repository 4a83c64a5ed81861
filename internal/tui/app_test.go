package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/1broseidon/dispcore/internal/hwinfo"
	"github.com/1broseidon/dispcore/internal/ipc"
)

type fakeClient struct {
	status    ipc.StatusData
	err       error
	destroyed []string
	modes     []string
}

func (f *fakeClient) GetStatus() (*ipc.StatusData, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := f.status
	return &s, nil
}

func (f *fakeClient) GetDisplays() (*ipc.DisplaysData, error) {
	return &ipc.DisplaysData{
		Version:  4,
		Displays: []ipc.DisplayStatus{{ID: 0, Type: "builtin", Connected: true, Name: "DSI-1"}},
	}, nil
}

func (f *fakeClient) GetCapabilities() (*ipc.CapabilitiesData, error) {
	return &ipc.CapabilitiesData{
		Resources:         hwinfo.DefaultResourceInfo(),
		MaxDisplays:       map[string]int{"virtual": 1, "builtin": 1},
		SupportedRotation: []string{"RGBA_8888"},
		BandwidthMode:     "camera",
		MaxBandwidthKbps:  6000000,
		ColorFeatures:     []string{"gamma_ramp"},
	}, nil
}

func (f *fakeClient) DestroyDisplay(handle string) error {
	f.destroyed = append(f.destroyed, handle)
	return nil
}

func (f *fakeClient) SetBandwidthMode(mode string) error {
	f.modes = append(f.modes, mode)
	return nil
}

func newTestClient() *fakeClient {
	return &fakeClient{status: ipc.StatusData{
		Initialized:     true,
		BandwidthMode:   "default",
		SnapshotVersion: 4,
		LiveDisplays: []ipc.DisplayInfo{
			{Handle: "aaa", ID: 0, Type: "builtin", Power: "on"},
			{Handle: "bbb", ID: 1, Type: "virtual", Power: "off"},
		},
		RecentEvents: []ipc.EventRecord{
			{Source: "composition", Event: "display_registered", DisplayID: 0, At: time.Now()},
			{Source: "display", Event: "hotplug", DisplayID: 1, Detail: "added pluggable", At: time.Now()},
		},
	}}
}

func update(t *testing.T, m model, msg tea.Msg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return nm, cmd
}

// polled returns a sized model that has completed one poll.
func polled(t *testing.T, client *fakeClient) model {
	t.Helper()
	m := newModel(client, time.Second)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 30})
	msg := m.Init()()
	m, cmd := update(t, m, msg)
	if cmd == nil {
		t.Fatal("expected a tick to be scheduled after a poll")
	}
	return m
}

func key(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestPollPopulatesState(t *testing.T) {
	m := polled(t, newTestClient())

	if !m.connected {
		t.Fatal("expected connected after successful poll")
	}
	if m.displays == nil || m.displays.Version != 4 {
		t.Fatalf("displays not stored: %+v", m.displays)
	}
	view := m.View()
	for _, want := range []string{"daemon connected", "bw:default", "DSI-1", "1:Topology"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestPollFailureShowsError(t *testing.T) {
	client := newTestClient()
	client.err = errors.New("failed to connect to daemon")
	m := polled(t, client)

	if m.connected {
		t.Fatal("expected disconnected")
	}
	view := m.View()
	if !strings.Contains(view, "daemon not running") || !strings.Contains(view, "failed to connect") {
		t.Fatalf("unexpected view:\n%s", view)
	}
}

func TestTabSwitching(t *testing.T) {
	m := polled(t, newTestClient())

	m, _ = update(t, m, key("tab"))
	if m.activeTab != TabLive {
		t.Fatalf("activeTab = %v, want %v", m.activeTab, TabLive)
	}
	if !strings.Contains(m.View(), "bbb") {
		t.Fatal("live tab should list handles")
	}

	m, _ = update(t, m, key("3"))
	if !strings.Contains(m.View(), "hotplug") {
		t.Fatal("events tab should list events")
	}

	m, _ = update(t, m, key("4"))
	view := m.View()
	if !strings.Contains(view, "builtin=1 virtual=1") {
		t.Fatalf("capabilities tab should list sorted limits:\n%s", view)
	}
	if !strings.Contains(view, "6000000 kbps (camera)") || !strings.Contains(view, "gamma_ramp") {
		t.Fatalf("capabilities tab should show the effective bandwidth and color features:\n%s", view)
	}
}

func TestDestroySelectedDisplay(t *testing.T) {
	client := newTestClient()
	m := polled(t, client)
	m, _ = update(t, m, key("2"))

	m, _ = update(t, m, key("j"))
	m, _ = update(t, m, key("j")) // clamped at the last row
	if m.selected != 1 {
		t.Fatalf("selected = %d, want 1", m.selected)
	}

	m, cmd := update(t, m, key("d"))
	if cmd == nil {
		t.Fatal("expected destroy command")
	}
	m, _ = update(t, m, cmd())
	if len(client.destroyed) != 1 || client.destroyed[0] != "bbb" {
		t.Fatalf("destroyed = %v", client.destroyed)
	}
	if m.notice != "destroyed bbb" {
		t.Fatalf("notice = %q", m.notice)
	}
}

func TestDestroyIgnoredOutsideLiveTab(t *testing.T) {
	m := polled(t, newTestClient())
	if _, cmd := update(t, m, key("d")); cmd != nil {
		t.Fatal("d should do nothing on the topology tab")
	}
}

func TestBandwidthModeCycles(t *testing.T) {
	client := newTestClient()
	client.status.BandwidthMode = "hflip"
	m := polled(t, client)

	_, cmd := update(t, m, key("b"))
	if cmd == nil {
		t.Fatal("expected bandwidth command")
	}
	cmd()
	if len(client.modes) != 1 || client.modes[0] != "default" {
		t.Fatalf("modes = %v, want [default]", client.modes)
	}
}

func TestQuit(t *testing.T) {
	m := polled(t, newTestClient())
	_, cmd := update(t, m, key("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
}

func TestViewEmptyBeforeSize(t *testing.T) {
	m := newModel(newTestClient(), 0)
	if m.interval != DefaultInterval {
		t.Fatalf("interval = %v", m.interval)
	}
	if m.View() != "" {
		t.Fatal("expected empty view before the first WindowSizeMsg")
	}
}
