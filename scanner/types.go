package scanner

import "strings"

// PortState is the classification recorded for a single probed port.
type PortState string

const (
	// StateOpen means the TCP handshake completed.
	StateOpen PortState = "Open"
	// StateClosed means the connection was actively refused or reset.
	StateClosed PortState = "Closed"
	// StateFiltered means no definitive answer arrived before the port deadline.
	StateFiltered PortState = "Filtered"
)

// PortResult is the outcome of probing one port.
type PortResult struct {
	Port  uint16    `json:"port" example:"8080"`
	State PortState `json:"state" enums:"Open,Closed,Filtered" example:"Open"`
}

// Event is a readiness or timeout notification delivered to a Session.
type Event uint8

const (
	EventReadable Event = iota + 1
	EventWritable
	EventTimedOut
)

func (e Event) String() string {
	switch e {
	case EventReadable:
		return "readable"
	case EventWritable:
		return "writable"
	case EventTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// Interest is a readiness-interest bitmask.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// None is the empty interest set. A session reports it only once terminal.
const None Interest = 0

func (i Interest) String() string {
	if i == None {
		return "none"
	}
	var parts []string
	if i&Readable != 0 {
		parts = append(parts, "readable")
	}
	if i&Writable != 0 {
		parts = append(parts, "writable")
	}
	return strings.Join(parts, "|")
}

// Delta is the interest held on one handle before and after a transition.
type Delta struct {
	Old Interest
	New Interest
}

// Changed reports whether the transition altered the interest.
func (d Delta) Changed() bool {
	return d.Old != d.New
}

// Added returns the conditions that must start being watched.
func (d Delta) Added() Interest {
	return d.New &^ d.Old
}

// Removed returns the conditions that must stop being watched.
func (d Delta) Removed() Interest {
	return d.Old &^ d.New
}

// Change describes how a Session's handles moved across one Step.
//
// SocketReleased means the socket the caller had registered was closed by the
// session. The kernel has already forgotten it, so the caller must drop its own
// bookkeeping for it without unregistering, and then register Socket.New on the
// session's current socket if that is non-empty.
type Change struct {
	Socket         Delta
	Timer          Delta
	SocketReleased bool
}

// Interest returns the session-wide interest mask before and after the step.
func (c Change) Interest() Delta {
	return Delta{Old: c.Socket.Old | c.Timer.Old, New: c.Socket.New | c.Timer.New}
}
