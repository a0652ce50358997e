package scanner

import "errors"

var (
	// ErrInvalidTarget rejects an unresolvable address or an empty/out of range
	// port range. It is returned before any socket is created.
	ErrInvalidTarget = errors.New("invalid target")

	// ErrSystemic fails a whole session: the host cannot create sockets or
	// timers at all, or the reactor driving the session is unusable.
	ErrSystemic = errors.New("systemic scan failure")

	// ErrResourceExhausted is local to one port: descriptors or ephemeral ports
	// ran out while starting its probe.
	ErrResourceExhausted = errors.New("probe resources exhausted")

	// ErrSessionAbandoned is delivered to waiters of a session closed before it
	// finished.
	ErrSessionAbandoned = errors.New("scan session abandoned")

	// ErrReactorClosed is returned when attaching to a reactor that has stopped.
	ErrReactorClosed = errors.New("reactor closed")

	ErrUnsupportedPlatform = errors.New("non-blocking scanning is only supported on linux")
)
