package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/1broseidon/dispcore/internal/runtimepath"
)

// RemoteError is an ERROR response from the daemon.
type RemoteError struct {
	Message string
	Kind    string
}

func (e *RemoteError) Error() string {
	return "daemon error: " + e.Message
}

// Client handles IPC communication with the daemon
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a client for the default socket path
func NewClient() *Client {
	socketPath, err := runtimepath.SocketPath()
	if err != nil {
		// Keep constructor non-failing; sendRequest surfaces connection errors.
		socketPath = ""
	}
	return NewClientWithPath(socketPath)
}

// NewClientWithPath creates a client for an explicit socket path
func NewClientWithPath(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// sendRequest sends a request and waits for a response
func (c *Client) sendRequest(req *Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w (is the daemon running?)", err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	reqData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	reqData = append(reqData, '\n')
	if _, err := conn.Write(reqData); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	reader := bufio.NewReader(conn)
	respData, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if resp.Status == "ERROR" {
		return nil, &RemoteError{Message: resp.Error, Kind: resp.Kind}
	}

	return &resp, nil
}

func (c *Client) call(cmd CommandType, payload any, out any) error {
	req := &Request{Command: cmd}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", cmd, err)
		}
		req.Payload = data
	}

	resp, err := c.sendRequest(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("failed to parse %s data: %w", cmd, err)
	}
	return nil
}

// GetStatus retrieves daemon status
func (c *Client) GetStatus() (*StatusData, error) {
	var status StatusData
	if err := c.call(CommandGetStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetDisplays refreshes and retrieves the hardware display topology
func (c *Client) GetDisplays() (*DisplaysData, error) {
	var data DisplaysData
	if err := c.call(CommandGetDisplays, nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetCapabilities retrieves the hardware resource info and derived limits
func (c *Client) GetCapabilities() (*CapabilitiesData, error) {
	var data CapabilitiesData
	if err := c.call(CommandGetCapabilities, nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// CreateDisplay asks the daemon to create a display of the given type
func (c *Client) CreateDisplay(displayType string) (*DisplayInfo, error) {
	var info DisplayInfo
	if err := c.call(CommandCreateDisplay, CreateDisplayPayload{Type: displayType}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CreateDisplayByID asks the daemon to create a display bound to a hardware id
func (c *Client) CreateDisplayByID(id int32) (*DisplayInfo, error) {
	var info DisplayInfo
	if err := c.call(CommandCreateDisplay, CreateDisplayPayload{ID: &id}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DestroyDisplay destroys a display previously created through the daemon
func (c *Client) DestroyDisplay(handle string) error {
	return c.call(CommandDestroyDisplay, DestroyDisplayPayload{Handle: handle}, nil)
}

// SetBandwidthMode switches the composition bandwidth mode
func (c *Client) SetBandwidthMode(mode string) error {
	return c.call(CommandSetBWMode, SetBWModePayload{Mode: mode}, nil)
}

// Ping checks if the daemon is responding
func (c *Client) Ping() error {
	_, err := c.GetStatus()
	return err
}
