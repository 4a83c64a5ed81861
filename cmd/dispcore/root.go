package main

import (
	"github.com/spf13/cobra"

	"github.com/1broseidon/dispcore/internal/config"
	"github.com/1broseidon/dispcore/internal/ipc"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	socketPath string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "dispcore",
		Short: "Display core daemon and client",
		Long: `dispcore runs the display core as a daemon and talks to it over a unix
socket. The daemon owns the hardware info provider, composition and color
managers and every display object created through it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default is ~/.config/dispcore/config.yaml)")
	root.PersistentFlags().StringVar(&flags.socketPath, "socket", "", "daemon socket path (default is $XDG_RUNTIME_DIR/dispcore.sock)")

	root.AddCommand(
		newDaemonCmd(flags),
		newStatusCmd(flags),
		newDisplaysCmd(flags),
		newCapabilitiesCmd(flags),
		newCreateCmd(flags),
		newDestroyCmd(flags),
		newBWModeCmd(flags),
		newConfigCmd(flags),
		newMCPCmd(flags),
		newWatchCmd(flags),
	)
	return root
}

func (f *globalFlags) loadConfig() (*config.LoadResult, error) {
	path := f.configPath
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}
	return config.LoadFromPath(path)
}

// client returns a daemon client, preferring --socket, then the configured
// socket, then the default runtime path.
func (f *globalFlags) client() *ipc.Client {
	if f.socketPath != "" {
		return ipc.NewClientWithPath(f.socketPath)
	}
	if res, err := f.loadConfig(); err == nil && res.Config.Daemon.Socket != "" {
		return ipc.NewClientWithPath(res.Config.Daemon.Socket)
	}
	return ipc.NewClient()
}
