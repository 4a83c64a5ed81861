package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/1broseidon/dispcore/internal/color"
	"github.com/1broseidon/dispcore/internal/comp"
	"github.com/1broseidon/dispcore/internal/core"
	"github.com/1broseidon/dispcore/internal/display"
	"github.com/1broseidon/dispcore/internal/hwinfo"
	"github.com/1broseidon/dispcore/internal/runtimepath"
	"go.uber.org/zap"
)

// maxEvents bounds the event history reported by GET_STATUS.
const maxEvents = 32

// Core is the part of the display core the server drives.
type Core interface {
	Initialized() bool
	Snapshot() core.Snapshot
	GetDisplaysStatus() (map[int32]display.Status, error)
	CreateDisplay(t display.Type, h display.EventHandler) (display.Interface, error)
	CreateDisplayByID(id int32, h display.EventHandler) (display.Interface, error)
	DestroyDisplay(d display.Interface) error
	SetMaxBandwidthMode(mode comp.BandwidthMode) error
	BandwidthMode() comp.BandwidthMode
	ResourceInfo() (hwinfo.ResourceInfo, error)
	GetFirstDisplayInterfaceType() (hwinfo.InterfaceInfo, error)
	GetMaxDisplaysSupported(t display.Type) (int, error)
	IsRotatorSupportedFormat(f display.Format) bool
	MaxBandwidthKbps() (uint64, error)
	ColorFeatures() []color.Feature
}

// Server handles IPC requests from clients. It also receives composition
// notifications as the core's socket handler, and display events for the
// displays it creates on behalf of clients.
type Server struct {
	socketPath string
	logger     *zap.Logger
	listener   net.Listener
	startTime  time.Time

	coreMu sync.RWMutex
	core   Core

	mu       sync.Mutex
	displays map[string]display.Interface
	events   []EventRecord

	shuttingDown bool
	shutdownMu   sync.Mutex
}

var (
	_ comp.SocketHandler   = (*Server)(nil)
	_ display.EventHandler = (*Server)(nil)
)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithSocketPath overrides the runtime directory socket.
func WithSocketPath(path string) ServerOption {
	return func(s *Server) {
		s.socketPath = path
	}
}

func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new IPC server. The core is attached later with
// Attach because the server is one of the core's constructor arguments.
func NewServer(opts ...ServerOption) (*Server, error) {
	s := &Server{
		logger:    zap.NewNop(),
		startTime: time.Now(),
		displays:  make(map[string]display.Interface),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.socketPath == "" {
		socketPath, err := runtimepath.SocketPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve IPC socket path: %w", err)
		}
		s.socketPath = socketPath
	}
	return s, nil
}

// Attach sets the core that requests are served from.
func (s *Server) Attach(c Core) {
	s.coreMu.Lock()
	defer s.coreMu.Unlock()
	s.core = c
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Start begins listening for IPC connections
func (s *Server) Start() error {
	// Remove a stale socket left by a previous daemon
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create IPC socket: %w", err)
	}
	s.listener = listener

	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.logger.Info("IPC server listening", zap.String("socket", s.socketPath))

	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.shutdownMu.Lock()
			if s.shuttingDown {
				s.shutdownMu.Unlock()
				return
			}
			s.shutdownMu.Unlock()
			s.logger.Warn("IPC accept error", zap.Error(err))
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		go s.handleConnection(conn)
	}
}

// handleConnection serves one request per connection
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)

	data, err := reader.ReadBytes('\n')
	if err != nil && err != io.EOF {
		s.logger.Warn("IPC read error", zap.Error(err))
		return
	}

	req, err := ParseRequest(data)
	if err != nil {
		s.sendError(conn, fmt.Sprintf("Invalid request: %v", err))
		return
	}

	resp := s.handleCommand(req)

	respData, err := resp.Marshal()
	if err != nil {
		s.logger.Error("failed to marshal IPC response", zap.Error(err))
		return
	}

	respData = append(respData, '\n')
	if _, err := conn.Write(respData); err != nil {
		s.logger.Warn("failed to send IPC response", zap.Error(err))
	}
}

func (s *Server) handleCommand(req *Request) *Response {
	c := s.attached()
	if c == nil {
		return NewErrorResponse("display core not attached")
	}

	switch req.Command {
	case CommandGetStatus:
		return s.handleGetStatus(c)
	case CommandGetDisplays:
		return s.handleGetDisplays(c)
	case CommandGetCapabilities:
		return s.handleGetCapabilities(c)
	case CommandCreateDisplay:
		return s.handleCreateDisplay(c, req.Payload)
	case CommandDestroyDisplay:
		return s.handleDestroyDisplay(c, req.Payload)
	case CommandSetBWMode:
		return s.handleSetBWMode(c, req.Payload)
	default:
		return NewErrorResponse(fmt.Sprintf("Unknown command: %s", req.Command))
	}
}

func (s *Server) handleGetStatus(c Core) *Response {
	s.mu.Lock()
	live := make([]DisplayInfo, 0, len(s.displays))
	for _, d := range s.displays {
		live = append(live, describe(d))
	}
	events := append([]EventRecord(nil), s.events...)
	s.mu.Unlock()

	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })

	status := StatusData{
		Initialized:     c.Initialized(),
		UptimeSeconds:   int64(time.Since(s.startTime).Seconds()),
		SnapshotVersion: c.Snapshot().Version,
		BandwidthMode:   c.BandwidthMode().String(),
		LiveDisplays:    live,
		RecentEvents:    events,
	}

	resp, _ := NewOKResponse(status)
	return resp
}

// handleGetDisplays refreshes the core snapshot before reporting it
func (s *Server) handleGetDisplays(c Core) *Response {
	if _, err := c.GetDisplaysStatus(); err != nil {
		return errorResponse("Failed to get displays", err)
	}
	snap := c.Snapshot()

	data := DisplaysData{
		Version:  snap.Version,
		TakenAt:  snap.TakenAt,
		Displays: make([]DisplayStatus, 0, len(snap.Displays)),
	}
	for id, st := range snap.Displays {
		data.Displays = append(data.Displays, DisplayStatus{
			ID:        id,
			Type:      st.Type.String(),
			Connected: st.Connected,
			Name:      st.Name,
		})
	}
	sort.Slice(data.Displays, func(i, j int) bool { return data.Displays[i].ID < data.Displays[j].ID })

	resp, _ := NewOKResponse(data)
	return resp
}

func (s *Server) handleGetCapabilities(c Core) *Response {
	res, err := c.ResourceInfo()
	if err != nil {
		return errorResponse("Failed to get resource info", err)
	}

	data := CapabilitiesData{
		Resources:   res,
		MaxDisplays: make(map[string]int),
	}
	if info, err := c.GetFirstDisplayInterfaceType(); err == nil {
		data.FirstInterface = &info
	}
	for _, t := range display.Types() {
		if n, err := c.GetMaxDisplaysSupported(t); err == nil {
			data.MaxDisplays[t.String()] = n
		}
	}
	for _, f := range knownFormats {
		if c.IsRotatorSupportedFormat(f) {
			data.SupportedRotation = append(data.SupportedRotation, string(f))
		}
	}
	data.BandwidthMode = c.BandwidthMode().String()
	if kbps, err := c.MaxBandwidthKbps(); err == nil {
		data.MaxBandwidthKbps = kbps
	}
	for _, f := range c.ColorFeatures() {
		data.ColorFeatures = append(data.ColorFeatures, string(f))
	}

	resp, _ := NewOKResponse(data)
	return resp
}

var knownFormats = []display.Format{
	display.FormatRGBA8888,
	display.FormatRGBX8888,
	display.FormatBGRA8888,
	display.FormatRGB565,
	display.FormatYCbCr420SP,
	display.FormatYCrCb420SP,
	display.FormatYCbCr420UBW,
}

func (s *Server) handleCreateDisplay(c Core, payload json.RawMessage) *Response {
	var req CreateDisplayPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return NewErrorResponse(fmt.Sprintf("Invalid create payload: %v", err))
	}

	var (
		d   display.Interface
		err error
	)
	switch {
	case req.ID != nil:
		d, err = c.CreateDisplayByID(*req.ID, s)
	case req.Type != "":
		t, perr := display.ParseType(req.Type)
		if perr != nil {
			return errorResponse("Invalid display type", display.Wrap(display.KindParameters, "create display", perr))
		}
		d, err = c.CreateDisplay(t, s)
	default:
		return NewErrorResponse("type or id is required")
	}
	if err != nil {
		return errorResponse("Failed to create display", err)
	}

	s.mu.Lock()
	s.displays[d.Handle()] = d
	s.mu.Unlock()

	s.logger.Info("display created for client",
		zap.String("handle", d.Handle()),
		zap.Int32("id", d.ID()),
		zap.Stringer("type", d.Type()))

	resp, _ := NewOKResponse(describe(d))
	return resp
}

func (s *Server) handleDestroyDisplay(c Core, payload json.RawMessage) *Response {
	var req DestroyDisplayPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return NewErrorResponse(fmt.Sprintf("Invalid destroy payload: %v", err))
	}
	if req.Handle == "" {
		return NewErrorResponse("handle is required")
	}

	s.mu.Lock()
	d, ok := s.displays[req.Handle]
	delete(s.displays, req.Handle)
	s.mu.Unlock()
	if !ok {
		return errorResponse("Failed to destroy display",
			display.E(display.KindParameters, "destroy display", "unknown handle %s", req.Handle))
	}

	if err := c.DestroyDisplay(d); err != nil {
		return errorResponse("Failed to destroy display", err)
	}

	resp, _ := NewOKResponse(nil)
	return resp
}

func (s *Server) handleSetBWMode(c Core, payload json.RawMessage) *Response {
	var req SetBWModePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return NewErrorResponse(fmt.Sprintf("Invalid bandwidth payload: %v", err))
	}
	mode, err := comp.ParseBandwidthMode(req.Mode)
	if err != nil {
		return errorResponse("Invalid bandwidth mode", display.Wrap(display.KindParameters, "set bandwidth mode", err))
	}

	if err := c.SetMaxBandwidthMode(mode); err != nil {
		return errorResponse("Failed to set bandwidth mode", err)
	}

	resp, _ := NewOKResponse(nil)
	return resp
}

// Publish records a composition notification.
func (s *Server) Publish(n comp.Notification) error {
	s.record(EventRecord{
		Source:    "composition",
		Event:     n.Event,
		DisplayID: n.DisplayID,
		Detail:    n.Type.String(),
		At:        n.At,
	})
	return nil
}

// HandleEvent records an event from a display created for a client.
func (s *Server) HandleEvent(ev display.Event) error {
	s.record(EventRecord{
		Source:    "display",
		Event:     string(ev.Kind),
		DisplayID: ev.DisplayID,
		Detail:    ev.Detail,
		At:        ev.At,
	})
	return nil
}

func (s *Server) record(ev EventRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if over := len(s.events) - maxEvents; over > 0 {
		s.events = append(s.events[:0], s.events[over:]...)
	}
}

// Stop shuts down the listener and destroys the displays still held for
// clients, so the core can be deinitialized afterwards.
func (s *Server) Stop() {
	s.shutdownMu.Lock()
	s.shuttingDown = true
	s.shutdownMu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	_ = os.Remove(s.socketPath)

	s.mu.Lock()
	held := s.displays
	s.displays = make(map[string]display.Interface)
	s.mu.Unlock()

	c := s.attached()
	if c == nil {
		return
	}
	for handle, d := range held {
		if err := c.DestroyDisplay(d); err != nil {
			s.logger.Warn("failed to destroy display on shutdown", zap.String("handle", handle), zap.Error(err))
		}
	}
}

func (s *Server) attached() Core {
	s.coreMu.RLock()
	defer s.coreMu.RUnlock()
	return s.core
}

func (s *Server) sendError(conn net.Conn, errMsg string) {
	resp := NewErrorResponse(errMsg)
	data, _ := resp.Marshal()
	data = append(data, '\n')
	_, _ = conn.Write(data)
}

func describe(d display.Interface) DisplayInfo {
	return DisplayInfo{
		Handle: d.Handle(),
		ID:     d.ID(),
		Type:   d.Type().String(),
		Power:  d.PowerState().String(),
	}
}

// errorResponse carries the display error kind so clients can tell
// parameter errors from hardware failures.
func errorResponse(prefix string, err error) *Response {
	resp := NewErrorResponse(fmt.Sprintf("%s: %v", prefix, err))
	var de *display.Error
	if errors.As(err, &de) {
		resp.Kind = de.Kind.String()
	}
	return resp
}
