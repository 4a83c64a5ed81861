// Package tui renders a live view of the display daemon.
package tui

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/1broseidon/dispcore/internal/ipc"
)

// DefaultInterval is how often the view polls the daemon.
const DefaultInterval = 2 * time.Second

// Client is the daemon API the view polls. *ipc.Client implements it.
type Client interface {
	GetStatus() (*ipc.StatusData, error)
	GetDisplays() (*ipc.DisplaysData, error)
	GetCapabilities() (*ipc.CapabilitiesData, error)
	DestroyDisplay(handle string) error
	SetBandwidthMode(mode string) error
}

var _ Client = (*ipc.Client)(nil)

// Run starts the watch view, blocking until the user quits.
func Run(client Client, interval time.Duration) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("watch requires an interactive terminal (stdin/stdout must be TTYs)")
	}

	p := tea.NewProgram(newModel(client, interval), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
