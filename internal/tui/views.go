package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/1broseidon/dispcore/internal/ipc"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	selectedStyle = lipgloss.NewStyle().Reverse(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

func renderTopology(data *ipc.DisplaysData, width int) string {
	if data == nil || len(data.Displays) == 0 {
		return dimStyle.Render("no hardware displays reported")
	}

	var sb strings.Builder
	sb.WriteString(headerStyle.Render(fmt.Sprintf("%-4s %-10s %-13s %s", "ID", "TYPE", "STATE", "NAME")))
	sb.WriteString("\n")
	for _, d := range data.Displays {
		state := dimStyle.Render("disconnected")
		if d.Connected {
			state = okStyle.Render("connected   ")
		}
		fmt.Fprintf(&sb, "%-4d %-10s %s  %s\n", d.ID, d.Type, state, d.Name)
	}
	fmt.Fprintf(&sb, "\n%s", dimStyle.Render(fmt.Sprintf("snapshot v%d taken %s", data.Version, data.TakenAt.Format("15:04:05"))))
	return lipgloss.NewStyle().MaxWidth(width).Render(sb.String())
}

func renderLive(status *ipc.StatusData, selected, width int) string {
	if status == nil || len(status.LiveDisplays) == 0 {
		return dimStyle.Render("the daemon holds no display objects")
	}

	var sb strings.Builder
	sb.WriteString(headerStyle.Render(fmt.Sprintf("%-38s %-4s %-10s %s", "HANDLE", "ID", "TYPE", "POWER")))
	sb.WriteString("\n")
	for i, d := range status.LiveDisplays {
		line := fmt.Sprintf("%-38s %-4d %-10s %s", d.Handle, d.ID, d.Type, d.Power)
		if i == selected {
			line = selectedStyle.Render(line)
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return lipgloss.NewStyle().MaxWidth(width).Render(strings.TrimRight(sb.String(), "\n"))
}

// renderEvents shows the newest events first, as many as fit.
func renderEvents(status *ipc.StatusData, height, width int) string {
	if status == nil || len(status.RecentEvents) == 0 {
		return dimStyle.Render("no events yet")
	}

	var lines []string
	for i := len(status.RecentEvents) - 1; i >= 0 && len(lines) < height; i-- {
		ev := status.RecentEvents[i]
		line := fmt.Sprintf("%s  %-11s %-20s display %d", ev.At.Format("15:04:05"), ev.Source, ev.Event, ev.DisplayID)
		if ev.Detail != "" {
			line += "  " + dimStyle.Render(ev.Detail)
		}
		lines = append(lines, line)
	}
	return lipgloss.NewStyle().MaxWidth(width).Render(strings.Join(lines, "\n"))
}

func renderCapabilities(caps *ipc.CapabilitiesData, width int) string {
	if caps == nil {
		return dimStyle.Render("capabilities unavailable")
	}
	res := caps.Resources

	var sb strings.Builder
	row := func(k, v string) {
		fmt.Fprintf(&sb, "%s %s\n", headerStyle.Render(fmt.Sprintf("%-22s", k)), v)
	}
	row("hardware", res.HWVersion)
	row("blend stages", fmt.Sprintf("%d", res.NumBlendStages))
	row("max mixer width", fmt.Sprintf("%d", res.MaxMixerWidth))
	row("bandwidth (kbps)", fmt.Sprintf("low %d / high %d", res.MaxBandwidthLowKbps, res.MaxBandwidthHighKbps))
	row("color management", fmt.Sprintf("%t", res.HasColorManagement))
	if len(caps.ColorFeatures) > 0 {
		row("color features", strings.Join(caps.ColorFeatures, " "))
	}
	row("effective bandwidth", fmt.Sprintf("%d kbps (%s)", caps.MaxBandwidthKbps, caps.BandwidthMode))
	if fi := caps.FirstInterface; fi != nil {
		row("first interface", strings.TrimSpace(fmt.Sprintf("%s %s", fi.Type, fi.Name)))
	}

	types := make([]string, 0, len(caps.MaxDisplays))
	for t := range caps.MaxDisplays {
		types = append(types, t)
	}
	sort.Strings(types)
	limits := make([]string, 0, len(types))
	for _, t := range types {
		limits = append(limits, fmt.Sprintf("%s=%d", t, caps.MaxDisplays[t]))
	}
	row("max displays", strings.Join(limits, " "))
	row("rotator formats", strings.Join(caps.SupportedRotation, " "))
	return lipgloss.NewStyle().MaxWidth(width).Render(strings.TrimRight(sb.String(), "\n"))
}
