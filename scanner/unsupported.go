//go:build !linux

package scanner

import (
	"fmt"
	"net/netip"
)

type socketConnector struct{}

func (socketConnector) start(netip.Addr, uint16) (conn, PortState, bool, error) {
	return nil, "", false, fmt.Errorf("%w: %v", ErrSystemic, ErrUnsupportedPlatform)
}

func newTimer() (timer, error) {
	return nil, ErrUnsupportedPlatform
}

// NewPoller returns the platform poller.
func NewPoller() (Poller, error) {
	return nil, ErrUnsupportedPlatform
}
