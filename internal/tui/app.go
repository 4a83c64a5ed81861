package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/1broseidon/dispcore/internal/comp"
	"github.com/1broseidon/dispcore/internal/ipc"
)

type tickMsg time.Time

// pollMsg carries one round of daemon reads.
type pollMsg struct {
	status   *ipc.StatusData
	displays *ipc.DisplaysData
	caps     *ipc.CapabilitiesData
	err      error
}

// actionMsg reports the result of a user action.
type actionMsg struct {
	what string
	err  error
}

// model is the root bubbletea model for the watch view.
type model struct {
	client   Client
	interval time.Duration

	activeTab Tab
	selected  int // row in the live displays tab

	// Daemon state
	connected bool
	status    *ipc.StatusData
	displays  *ipc.DisplaysData
	caps      *ipc.CapabilitiesData
	lastError string
	notice    string

	// Terminal dimensions
	width  int
	height int
}

func newModel(client Client, interval time.Duration) model {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return model{
		client:   client,
		interval: interval,
	}
}

func (m model) poll() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		var msg pollMsg
		if msg.status, msg.err = client.GetStatus(); msg.err != nil {
			return msg
		}
		if msg.displays, msg.err = client.GetDisplays(); msg.err != nil {
			return msg
		}
		msg.caps, msg.err = client.GetCapabilities()
		return msg
	}
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init implements tea.Model.
func (m model) Init() tea.Cmd {
	return m.poll()
}

// Update implements tea.Model.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, m.poll()

	case pollMsg:
		if msg.err != nil {
			m.connected = false
			m.lastError = msg.err.Error()
			return m, m.tick()
		}
		m.connected = true
		m.lastError = ""
		m.status = msg.status
		m.displays = msg.displays
		m.caps = msg.caps
		m.clampSelection()
		return m, m.tick()

	case actionMsg:
		if msg.err != nil {
			m.lastError = msg.err.Error()
			m.notice = ""
		} else {
			m.lastError = ""
			m.notice = msg.what
		}
		return m, m.poll()
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "tab":
		m.activeTab = (m.activeTab + 1) % tabCount
	case "shift+tab":
		m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
	case "1":
		m.activeTab = TabTopology
	case "2":
		m.activeTab = TabLive
	case "3":
		m.activeTab = TabEvents
	case "4":
		m.activeTab = TabCapabilities

	case "r":
		return m, m.poll()

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		m.selected++
		m.clampSelection()

	case "d":
		if m.activeTab != TabLive {
			return m, nil
		}
		handle := m.selectedHandle()
		if handle == "" {
			return m, nil
		}
		client := m.client
		return m, func() tea.Msg {
			return actionMsg{what: "destroyed " + handle, err: client.DestroyDisplay(handle)}
		}

	case "b":
		next := m.nextBandwidthMode()
		client := m.client
		return m, func() tea.Msg {
			return actionMsg{what: "bandwidth mode " + next, err: client.SetBandwidthMode(next)}
		}
	}
	return m, nil
}

func (m *model) clampSelection() {
	n := 0
	if m.status != nil {
		n = len(m.status.LiveDisplays)
	}
	if m.selected >= n {
		m.selected = n - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

func (m model) selectedHandle() string {
	if m.status == nil || m.selected >= len(m.status.LiveDisplays) {
		return ""
	}
	return m.status.LiveDisplays[m.selected].Handle
}

// nextBandwidthMode cycles through the bandwidth modes.
func (m model) nextBandwidthMode() string {
	current := comp.BandwidthDefault
	if m.status != nil {
		if mode, err := comp.ParseBandwidthMode(m.status.BandwidthMode); err == nil {
			current = mode
		}
	}
	modes := comp.BandwidthModes()
	for i, mode := range modes {
		if mode == current {
			return modes[(i+1)%len(modes)].String()
		}
	}
	return comp.BandwidthDefault.String()
}

// View implements tea.Model.
func (m model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	statusBar := renderStatusBar(m.connected, m.status, m.width)
	tabBar := renderTabBar(m.activeTab, m.width)
	helpBar := renderHelpBar(m.lastError, m.notice, m.width)

	usedHeight := lipgloss.Height(statusBar) + lipgloss.Height(tabBar) + lipgloss.Height(helpBar)
	contentHeight := m.height - usedHeight
	if contentHeight < 1 {
		contentHeight = 1
	}

	var content string
	switch {
	case !m.connected && m.status == nil:
		content = renderPlaceholder("waiting for daemon...", m.width, contentHeight)
	case m.activeTab == TabTopology:
		content = renderTopology(m.displays, m.width)
	case m.activeTab == TabLive:
		content = renderLive(m.status, m.selected, m.width)
	case m.activeTab == TabEvents:
		content = renderEvents(m.status, contentHeight, m.width)
	case m.activeTab == TabCapabilities:
		content = renderCapabilities(m.caps, m.width)
	}
	content = lipgloss.NewStyle().Height(contentHeight).MaxHeight(contentHeight).Render(content)

	return lipgloss.JoinVertical(lipgloss.Left,
		statusBar,
		tabBar,
		content,
		helpBar,
	)
}
