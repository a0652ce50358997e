//go:build linux

package scanner

import (
	"errors"

	"golang.org/x/sys/unix"
)

// classifyErrno maps a connect-time errno onto a port state. Only an explicit
// refusal or reset from the peer proves the port closed; everything else,
// including ICMP unreachables and local firewall rejections, is reported as
// filtered.
func classifyErrno(err error) PortState {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return StateFiltered
	}

	switch errno {
	case unix.ECONNREFUSED, unix.ECONNRESET:
		return StateClosed
	default:
		// ETIMEDOUT, EHOSTUNREACH, ENETUNREACH, EHOSTDOWN, ENETDOWN, EACCES,
		// EPERM and anything unrecognised.
		return StateFiltered
	}
}

// isExhausted reports errors that mean this process or host ran out of
// descriptors, buffers or ephemeral ports.
func isExhausted(err error) bool {
	return errors.Is(err, unix.EMFILE) ||
		errors.Is(err, unix.ENFILE) ||
		errors.Is(err, unix.ENOBUFS) ||
		errors.Is(err, unix.ENOMEM) ||
		errors.Is(err, unix.EADDRNOTAVAIL)
}
