package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/1broseidon/dispcore/internal/ipc"
)

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := flags.client().GetStatus()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, status)
			}
			fmt.Fprintf(out, "initialized:      %v\n", status.Initialized)
			fmt.Fprintf(out, "uptime_seconds:   %d\n", status.UptimeSeconds)
			fmt.Fprintf(out, "snapshot_version: %d\n", status.SnapshotVersion)
			fmt.Fprintf(out, "bandwidth_mode:   %s\n", status.BandwidthMode)
			fmt.Fprintf(out, "live_displays:    %d\n", len(status.LiveDisplays))
			if len(status.LiveDisplays) > 0 {
				fmt.Fprintln(out)
				writeTable(out, []string{"HANDLE", "ID", "TYPE", "POWER"}, liveRows(status.LiveDisplays))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newDisplaysCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "displays",
		Short: "Refresh and list the hardware display topology",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := flags.client().GetDisplays()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, data)
			}
			writeTable(out, []string{"ID", "TYPE", "CONNECTED", "NAME"}, topologyRows(data.Displays))
			fmt.Fprintf(out, "snapshot v%d taken %s\n", data.Version, data.TakenAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newCapabilitiesCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "capabilities",
		Short: "Show hardware resources and display limits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			caps, err := flags.client().GetCapabilities()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, caps)
			}
			res := caps.Resources
			fmt.Fprintf(out, "hw_version:       %s\n", res.HWVersion)
			fmt.Fprintf(out, "blend_stages:     %d\n", res.NumBlendStages)
			fmt.Fprintf(out, "max_mixer_width:  %d\n", res.MaxMixerWidth)
			fmt.Fprintf(out, "bandwidth_kbps:   low=%d high=%d\n", res.MaxBandwidthLowKbps, res.MaxBandwidthHighKbps)
			fmt.Fprintf(out, "bandwidth_mode:   %s (%d kbps)\n", caps.BandwidthMode, caps.MaxBandwidthKbps)
			fmt.Fprintf(out, "color_management: %v\n", res.HasColorManagement)
			if len(caps.ColorFeatures) > 0 {
				fmt.Fprintf(out, "color_features:   %s\n", strings.Join(caps.ColorFeatures, " "))
			}
			if fi := caps.FirstInterface; fi != nil {
				fmt.Fprintf(out, "first_interface:  %s %s\n", fi.Type, fi.Name)
			}
			fmt.Fprintf(out, "max_displays:     %s\n", formatLimits(caps.MaxDisplays))
			fmt.Fprintf(out, "rotator_formats:  %s\n", strings.Join(caps.SupportedRotation, " "))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newCreateCmd(flags *globalFlags) *cobra.Command {
	var id int32
	cmd := &cobra.Command{
		Use:   "create [builtin|pluggable|virtual]",
		Short: "Create a display object held by the daemon",
		Long: `Create a display object by type, or bound to a hardware display id with
--id. The printed handle is used with 'dispcore destroy'.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := flags.client()
			var (
				info *ipc.DisplayInfo
				err  error
			)
			switch {
			case cmd.Flags().Changed("id"):
				if len(args) > 0 {
					return fmt.Errorf("pass either a display type or --id, not both")
				}
				info, err = client.CreateDisplayByID(id)
			case len(args) == 1:
				info, err = client.CreateDisplay(args[0])
			default:
				return fmt.Errorf("a display type or --id is required")
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), info.Handle)
			return nil
		},
	}
	cmd.Flags().Int32Var(&id, "id", 0, "hardware display id to bind")
	return cmd
}

func newDestroyCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <handle>",
		Short: "Destroy a display object created with 'dispcore create'",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.client().DestroyDisplay(args[0])
		},
	}
}

func newBWModeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "bw-mode <default|camera|vflip|hflip>",
		Short:     "Set the composition bandwidth mode",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"default", "camera", "vflip", "hflip"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.client().SetBandwidthMode(args[0])
		},
	}
}

func liveRows(live []ipc.DisplayInfo) [][]string {
	rows := make([][]string, 0, len(live))
	for _, d := range live {
		rows = append(rows, []string{d.Handle, strconv.Itoa(int(d.ID)), d.Type, d.Power})
	}
	return rows
}

func topologyRows(displays []ipc.DisplayStatus) [][]string {
	rows := make([][]string, 0, len(displays))
	for _, d := range displays {
		rows = append(rows, []string{strconv.Itoa(int(d.ID)), d.Type, strconv.FormatBool(d.Connected), d.Name})
	}
	return rows
}

func formatLimits(limits map[string]int) string {
	names := make([]string, 0, len(limits))
	for name := range limits {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", name, limits[name]))
	}
	return strings.Join(parts, " ")
}
