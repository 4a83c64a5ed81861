// Package mcp exposes the display daemon to MCP clients over stdio.
package mcp

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/1broseidon/dispcore/internal/ipc"
)

const (
	ServerName    = "dispcore"
	ServerVersion = "0.1.0"
)

// DisplayClient is the daemon API the tools call. *ipc.Client implements it.
type DisplayClient interface {
	GetStatus() (*ipc.StatusData, error)
	GetDisplays() (*ipc.DisplaysData, error)
	GetCapabilities() (*ipc.CapabilitiesData, error)
	CreateDisplay(displayType string) (*ipc.DisplayInfo, error)
	CreateDisplayByID(id int32) (*ipc.DisplayInfo, error)
	DestroyDisplay(handle string) error
	SetBandwidthMode(mode string) error
}

var _ DisplayClient = (*ipc.Client)(nil)

// Server is the MCP server for dispcore.
type Server struct {
	mcpServer *mcpsdk.Server
	client    DisplayClient
	logger    *zap.Logger
}

// NewServer creates an MCP server that forwards tool calls to the daemon.
func NewServer(client DisplayClient, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		client: client,
		logger: logger,
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		},
		nil,
	)

	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport, blocking until done.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "get_status",
		Description: "Report whether the display core is initialized, the current bandwidth mode, the displays the daemon holds and recent composition events.",
	}, s.handleGetStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "list_displays",
		Description: "Refresh and list the hardware display topology: every display id with its type, connection state and name.",
	}, s.handleListDisplays)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "display_capabilities",
		Description: "Report the composition hardware resources, the first display interface, the per-type display limits and the supported rotator formats.",
	}, s.handleCapabilities)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "create_display",
		Description: "Create a display object by type, or bound to a hardware id when id is given. Returns a handle for destroy_display.",
	}, s.handleCreateDisplay)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "destroy_display",
		Description: "Destroy a display object previously returned by create_display.",
	}, s.handleDestroyDisplay)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "set_bandwidth_mode",
		Description: "Switch the composition bandwidth mode (default, camera, vflip, hflip).",
	}, s.handleSetBandwidthMode)
}

func (s *Server) handleGetStatus(_ context.Context, _ *mcpsdk.CallToolRequest, _ GetStatusInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	status, err := s.client.GetStatus()
	if err != nil {
		return nil, StatusOutput{}, s.toolError("get_status", err)
	}

	out := StatusOutput{
		Initialized:     status.Initialized,
		UptimeSeconds:   status.UptimeSeconds,
		SnapshotVersion: status.SnapshotVersion,
		BandwidthMode:   status.BandwidthMode,
		LiveDisplays:    append([]ipc.DisplayInfo{}, status.LiveDisplays...),
		RecentEvents:    make([]EventOutput, 0, len(status.RecentEvents)),
	}
	for _, ev := range status.RecentEvents {
		out.RecentEvents = append(out.RecentEvents, EventOutput{
			Source:    ev.Source,
			Event:     ev.Event,
			DisplayID: ev.DisplayID,
			Detail:    ev.Detail,
			At:        ev.At.Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

func (s *Server) handleListDisplays(_ context.Context, _ *mcpsdk.CallToolRequest, args ListDisplaysInput) (*mcpsdk.CallToolResult, ListDisplaysOutput, error) {
	data, err := s.client.GetDisplays()
	if err != nil {
		return nil, ListDisplaysOutput{}, s.toolError("list_displays", err)
	}

	out := ListDisplaysOutput{
		Version:  data.Version,
		Displays: make([]ipc.DisplayStatus, 0, len(data.Displays)),
	}
	for _, d := range data.Displays {
		if args.ConnectedOnly && !d.Connected {
			continue
		}
		out.Displays = append(out.Displays, d)
	}
	return nil, out, nil
}

func (s *Server) handleCapabilities(_ context.Context, _ *mcpsdk.CallToolRequest, _ CapabilitiesInput) (*mcpsdk.CallToolResult, CapabilitiesOutput, error) {
	caps, err := s.client.GetCapabilities()
	if err != nil {
		return nil, CapabilitiesOutput{}, s.toolError("display_capabilities", err)
	}

	res := caps.Resources
	out := CapabilitiesOutput{
		HWVersion:            res.HWVersion,
		NumBlendStages:       res.NumBlendStages,
		MaxMixerWidth:        res.MaxMixerWidth,
		MaxBandwidthLowKbps:  res.MaxBandwidthLowKbps,
		MaxBandwidthHighKbps: res.MaxBandwidthHighKbps,
		ColorManagement:      res.HasColorManagement,
		MaxDisplays:          make(map[string]int, len(caps.MaxDisplays)),
		SupportedRotation:    append([]string{}, caps.SupportedRotation...),
		BandwidthMode:        caps.BandwidthMode,
		MaxBandwidthKbps:     caps.MaxBandwidthKbps,
		ColorFeatures:        append([]string{}, caps.ColorFeatures...),
	}
	for t, n := range caps.MaxDisplays {
		out.MaxDisplays[t] = n
	}
	if fi := caps.FirstInterface; fi != nil {
		out.FirstInterface = &InterfaceOutput{
			Type:      fi.Type.String(),
			Connected: fi.Connected,
			Name:      fi.Name,
		}
	}
	return nil, out, nil
}

func (s *Server) handleCreateDisplay(_ context.Context, _ *mcpsdk.CallToolRequest, args CreateDisplayInput) (*mcpsdk.CallToolResult, ipc.DisplayInfo, error) {
	var (
		info *ipc.DisplayInfo
		err  error
	)
	switch {
	case args.ID != nil:
		info, err = s.client.CreateDisplayByID(*args.ID)
	case args.Type != "":
		info, err = s.client.CreateDisplay(args.Type)
	default:
		return nil, ipc.DisplayInfo{}, fmt.Errorf("create_display: either type or id is required")
	}
	if err != nil {
		return nil, ipc.DisplayInfo{}, s.toolError("create_display", err)
	}

	s.logger.Info("display created via mcp",
		zap.String("handle", info.Handle),
		zap.Int32("display_id", info.ID),
		zap.String("type", info.Type))
	return nil, *info, nil
}

func (s *Server) handleDestroyDisplay(_ context.Context, _ *mcpsdk.CallToolRequest, args DestroyDisplayInput) (*mcpsdk.CallToolResult, DestroyDisplayOutput, error) {
	if args.Handle == "" {
		return nil, DestroyDisplayOutput{}, fmt.Errorf("destroy_display: handle is required")
	}
	if err := s.client.DestroyDisplay(args.Handle); err != nil {
		return nil, DestroyDisplayOutput{}, s.toolError("destroy_display", err)
	}

	s.logger.Info("display destroyed via mcp", zap.String("handle", args.Handle))
	return nil, DestroyDisplayOutput{Handle: args.Handle, Destroyed: true}, nil
}

func (s *Server) handleSetBandwidthMode(_ context.Context, _ *mcpsdk.CallToolRequest, args SetBandwidthModeInput) (*mcpsdk.CallToolResult, SetBandwidthModeOutput, error) {
	if err := s.client.SetBandwidthMode(args.Mode); err != nil {
		return nil, SetBandwidthModeOutput{}, s.toolError("set_bandwidth_mode", err)
	}
	return nil, SetBandwidthModeOutput{Mode: args.Mode}, nil
}

func (s *Server) toolError(tool string, err error) error {
	s.logger.Warn("mcp tool failed", zap.String("tool", tool), zap.Error(err))
	return fmt.Errorf("%s: %w", tool, err)
}
