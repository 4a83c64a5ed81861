package main

import (
	"github.com/spf13/cobra"

	"github.com/1broseidon/dispcore/internal/tui"
)

func newWatchCmd(flags *globalFlags) *cobra.Command {
	var interval = tui.DefaultInterval
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Open a live view of the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return tui.Run(flags.client(), interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", interval, "poll interval")
	return cmd
}
