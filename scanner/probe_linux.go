//go:build linux

package scanner

import (
	"errors"
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// socketConnector opens non-blocking TCP sockets.
type socketConnector struct{}

func (socketConnector) start(addr netip.Addr, port uint16) (conn, PortState, bool, error) {
	domain, sa := sockaddr(addr, port)

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		if isExhausted(err) {
			return nil, "", false, fmt.Errorf("%w: socket: %v", ErrResourceExhausted, err)
		}
		return nil, "", false, fmt.Errorf("%w: socket: %v", ErrSystemic, err)
	}

	err = unix.Connect(fd, sa)
	switch {
	case err == nil:
		_ = unix.Close(fd)
		return nil, StateOpen, true, nil
	case errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EINTR):
		return &socketProbe{sock: fd, port: port}, "", false, nil
	case isExhausted(err):
		_ = unix.Close(fd)
		return nil, "", false, fmt.Errorf("%w: connect: %v", ErrResourceExhausted, err)
	default:
		_ = unix.Close(fd)
		return nil, classifyErrno(err), true, nil
	}
}

func sockaddr(addr netip.Addr, port uint16) (int, unix.Sockaddr) {
	if addr.Is4() {
		return unix.AF_INET, &unix.SockaddrInet4{Port: int(port), Addr: addr.As4()}
	}
	return unix.AF_INET6, &unix.SockaddrInet6{Port: int(port), Addr: addr.As16()}
}

// socketProbe is one in-flight connect.
type socketProbe struct {
	sock int
	port uint16
}

func (p *socketProbe) fd() int {
	return p.sock
}

func (p *socketProbe) interest() Interest {
	return Readable | Writable
}

// onWritable checks whether the connect finished. SO_ERROR is zero both for a
// completed handshake and for one still in flight, so a zero value is only
// trusted once the socket has a peer.
func (p *socketProbe) onWritable() (PortState, bool) {
	if state, ok := p.pendingError(); ok {
		return state, true
	}
	if _, err := unix.Getpeername(p.sock); err != nil {
		return "", false
	}
	return StateOpen, true
}

// onReadable catches a refusal or reset that is reported through readability
// before writability fires.
func (p *socketProbe) onReadable() (PortState, bool) {
	if state, ok := p.pendingError(); ok {
		return state, true
	}

	var buf [1]byte
	n, _, err := unix.Recvfrom(p.sock, buf[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
	switch {
	case err == nil && n > 0:
		return StateOpen, true
	case err == nil:
		// Accepted and immediately shut down.
		return StateClosed, true
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.ENOTCONN), errors.Is(err, unix.EINTR):
		return "", false
	default:
		return classifyErrno(err), true
	}
}

func (p *socketProbe) pendingError() (PortState, bool) {
	v, err := unix.GetsockoptInt(p.sock, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return classifyErrno(err), true
	}
	if v == 0 {
		return "", false
	}
	switch errno := unix.Errno(v); errno {
	case unix.EINPROGRESS, unix.EALREADY, unix.EAGAIN, unix.EINTR:
		return "", false
	default:
		return classifyErrno(errno), true
	}
}

func (p *socketProbe) close() error {
	if p.sock < 0 {
		return nil
	}
	err := unix.Close(p.sock)
	p.sock = -1
	return err
}
