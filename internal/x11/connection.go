package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
)

// Connection manages the X11 connection and the RandR extension state
type Connection struct {
	XUtil *xgbutil.XUtil
	Root  xproto.Window

	randrMajor uint32
	randrMinor uint32
}

// NewConnection establishes a connection to the X11 server and initializes RandR
func NewConnection() (*Connection, error) {
	xu, err := xgbutil.NewConn()
	if err != nil {
		return nil, err
	}

	if err := randr.Init(xu.Conn()); err != nil {
		xu.Conn().Close()
		return nil, fmt.Errorf("randr init failed: %w", err)
	}

	version, err := randr.QueryVersion(xu.Conn(), 1, 5).Reply()
	if err != nil {
		xu.Conn().Close()
		return nil, fmt.Errorf("randr version query failed: %w", err)
	}

	return &Connection{
		XUtil:      xu,
		Root:       xu.RootWin(),
		randrMajor: version.MajorVersion,
		randrMinor: version.MinorVersion,
	}, nil
}

// RandRVersion returns the negotiated RandR protocol version
func (c *Connection) RandRVersion() (major, minor uint32) {
	return c.randrMajor, c.randrMinor
}

// Close cleanly disconnects from the X11 server
func (c *Connection) Close() {
	c.XUtil.Conn().Close()
}
