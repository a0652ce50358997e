package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"portscan/logging"
)

// DefaultPortTimeout bounds how long a single port may stay unanswered.
const DefaultPortTimeout = 2 * time.Second

// connector starts one non-blocking connection attempt. When the attempt
// settles synchronously it returns the classification with settled set and a
// nil conn.
type connector interface {
	start(addr netip.Addr, port uint16) (c conn, state PortState, settled bool, err error)
}

// conn is a pending connection attempt for one port.
type conn interface {
	fd() int
	interest() Interest
	onWritable() (PortState, bool)
	onReadable() (PortState, bool)
	close() error
}

// timer is the deadline source. expired consumes a pending tick and reports
// false for spurious wakeups.
type timer interface {
	fd() int
	arm(d time.Duration) error
	disarm() error
	expired() (bool, error)
	close() error
}

// Session scans one target's port range, one port at a time. It never blocks
// and never starts goroutines: a caller-owned reactor watches SocketFD and
// TimerFD according to the Change returned by every Step.
//
// A Session is not safe for concurrent use; all calls must come from the
// goroutine driving it.
type Session struct {
	target  Target
	timeout time.Duration
	logger  *slog.Logger

	connect  connector
	deadline timer

	cursor     int
	probe      conn
	generation uint64
	results    []PortResult
	done       bool
	closed     bool
	result     *completion
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithPortTimeout sets the per-port deadline.
func WithPortTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSessionLogger sets the logger used for per-port diagnostics.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func withConnector(c connector) SessionOption {
	return func(s *Session) { s.connect = c }
}

func withTimer(t timer) SessionOption {
	return func(s *Session) { s.deadline = t }
}

// NewSession validates target, starts the probe for its first port and arms
// the deadline. Ports whose connect attempt settles immediately are recorded
// straight away, so a session may already be terminal when returned.
func NewSession(target Target, opts ...SessionOption) (*Session, error) {
	if err := target.validate(); err != nil {
		return nil, err
	}

	s := &Session{
		target:  target,
		timeout: DefaultPortTimeout,
		cursor:  int(target.PortStart),
		results: make([]PortResult, 0, target.Len()),
		result:  newCompletion(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Logger()
	}
	s.logger = s.logger.With("target", target.Addr.String())
	if s.connect == nil {
		s.connect = socketConnector{}
	}
	if s.deadline == nil {
		t, err := newTimer()
		if err != nil {
			return nil, fmt.Errorf("%w: create deadline: %v", ErrSystemic, err)
		}
		s.deadline = t
	}

	if err := s.advance(); err != nil {
		s.release()
		return nil, err
	}
	return s, nil
}

// Target returns the target being scanned.
func (s *Session) Target() Target {
	return s.target
}

// SocketFD returns the active probe's socket, or -1 when no probe is live.
func (s *Session) SocketFD() int {
	if s.probe == nil {
		return -1
	}
	return s.probe.fd()
}

// TimerFD returns the deadline's timer descriptor, or -1 once released.
func (s *Session) TimerFD() int {
	if s.closed {
		return -1
	}
	return s.deadline.fd()
}

// Interest returns the union of what the probe and the deadline are waiting
// for. It is None if and only if the session is terminal.
func (s *Session) Interest() Interest {
	return s.socketInterest() | s.timerInterest()
}

func (s *Session) socketInterest() Interest {
	if s.done || s.probe == nil {
		return None
	}
	return s.probe.interest()
}

func (s *Session) timerInterest() Interest {
	if s.done {
		return None
	}
	return Readable
}

// Done reports whether the session is terminal.
func (s *Session) Done() bool {
	return s.done
}

// Results returns a copy of the results recorded so far, in ascending port
// order.
func (s *Session) Results() []PortResult {
	out := make([]PortResult, len(s.results))
	copy(out, s.results)
	return out
}

// Wait blocks until the session finishes and returns its results. It may be
// called from any goroutine.
func (s *Session) Wait(ctx context.Context) ([]PortResult, error) {
	return s.result.wait(ctx)
}

type snapshot struct {
	socket     Interest
	timer      Interest
	generation uint64
}

func (s *Session) snapshot() snapshot {
	return snapshot{socket: s.socketInterest(), timer: s.timerInterest(), generation: s.generation}
}

func (s *Session) diff(before snapshot) Change {
	return Change{
		Socket:         Delta{Old: before.socket, New: s.socketInterest()},
		Timer:          Delta{Old: before.timer, New: s.timerInterest()},
		SocketReleased: before.socket != None && (before.generation != s.generation || s.probe == nil),
	}
}

// Step handles one event and returns how the session's interest moved. A
// terminal session ignores events and returns an empty Change.
//
// A non-nil error means the session failed systemically; it is terminal and
// the returned Change drops all interest.
func (s *Session) Step(ev Event) (Change, error) {
	if s.done {
		return Change{}, nil
	}

	before := s.snapshot()

	var (
		state   PortState
		settled bool
	)
	switch ev {
	case EventWritable:
		state, settled = s.probe.onWritable()
	case EventReadable:
		state, settled = s.probe.onReadable()
	case EventTimedOut:
		fired, err := s.deadline.expired()
		if err != nil {
			return s.fail(before, fmt.Errorf("%w: read deadline: %v", ErrSystemic, err))
		}
		if fired {
			state, settled = StateFiltered, true
		}
	default:
		return Change{}, fmt.Errorf("unknown event %d", ev)
	}

	if settled {
		s.settle(state)
		if err := s.advance(); err != nil {
			return s.fail(before, err)
		}
	}

	return s.diff(before), nil
}

// settle records the active probe's classification and releases it.
func (s *Session) settle(state PortState) {
	port := uint16(s.cursor)
	if err := s.probe.close(); err != nil {
		s.logger.Debug("probe close failed", "port", port, "error", err)
	}
	s.probe = nil
	if err := s.deadline.disarm(); err != nil {
		s.logger.Debug("deadline disarm failed", "port", port, "error", err)
	}
	s.record(port, state)
}

func (s *Session) record(port uint16, state PortState) {
	s.results = append(s.results, PortResult{Port: port, State: state})
	s.cursor++
	s.logger.Debug("port classified", "port", port, "state", state)
}

// advance starts probes from the cursor until one is pending or the range is
// exhausted.
func (s *Session) advance() error {
	for s.cursor <= int(s.target.PortEnd) {
		port := uint16(s.cursor)

		c, state, settled, err := s.connect.start(s.target.Addr, port)
		if err != nil {
			if !errors.Is(err, ErrResourceExhausted) {
				return err
			}
			s.logger.Warn("probe could not start", "port", port, "error", err)
			state, settled = StateFiltered, true
		}
		if settled {
			s.record(port, state)
			continue
		}

		if err := s.deadline.arm(s.timeout); err != nil {
			_ = c.close()
			return fmt.Errorf("%w: arm deadline: %v", ErrSystemic, err)
		}
		s.probe = c
		s.generation++
		return nil
	}

	s.done = true
	s.result.resolve(s.Results(), nil)
	return nil
}

func (s *Session) fail(before snapshot, err error) (Change, error) {
	s.logger.Error("scan session failed", "port", s.cursor, "error", err)
	if s.probe != nil {
		_ = s.probe.close()
		s.probe = nil
	}
	_ = s.deadline.disarm()
	s.done = true
	s.result.resolve(nil, err)
	return s.diff(before), err
}

// Close releases the probe socket and the timer. Closing a session that has
// not finished abandons it and wakes waiters with ErrSessionAbandoned. Close
// is idempotent.
func (s *Session) Close() error {
	return s.Abort(ErrSessionAbandoned)
}

// Abort is Close with a caller-chosen error for waiters of an unfinished
// session.
func (s *Session) Abort(cause error) error {
	if s.closed {
		return nil
	}
	if !s.done {
		s.done = true
		s.result.resolve(nil, cause)
	}
	return s.release()
}

func (s *Session) release() error {
	s.closed = true
	var errs []error
	if s.probe != nil {
		errs = append(errs, s.probe.close())
		s.probe = nil
	}
	if s.deadline != nil {
		errs = append(errs, s.deadline.close())
	}
	return errors.Join(errs...)
}
