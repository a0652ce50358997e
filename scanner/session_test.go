package scanner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// outcome scripts how the fake connector treats one port. A port with no
// script stays pending until the deadline fires.
type outcome struct {
	immediate PortState
	onWrite   PortState
	onRead    PortState
	err       error
}

type fakeConnector struct {
	script  map[uint16]outcome
	started []uint16
	conns   []*fakeConn
	nextFD  int
	// reuseFD hands every probe the same descriptor number, as the kernel
	// does when the previous socket was just closed.
	reuseFD bool
	onClose func(fd int)
}

func (f *fakeConnector) start(_ netip.Addr, port uint16) (conn, PortState, bool, error) {
	f.started = append(f.started, port)
	o := f.script[port]
	if o.err != nil {
		return nil, "", false, o.err
	}
	if o.immediate != "" {
		return nil, o.immediate, true, nil
	}
	if !f.reuseFD || f.nextFD == 0 {
		f.nextFD++
	}
	c := &fakeConn{sock: 100 + f.nextFD, port: port, outcome: o, onClose: f.onClose}
	f.conns = append(f.conns, c)
	return c, "", false, nil
}

type fakeConn struct {
	sock    int
	port    uint16
	outcome outcome
	closed  int
	reads   int
	onClose func(fd int)
}

func (c *fakeConn) fd() int            { return c.sock }
func (c *fakeConn) interest() Interest { return Readable | Writable }

func (c *fakeConn) onWritable() (PortState, bool) {
	return c.outcome.onWrite, c.outcome.onWrite != ""
}

func (c *fakeConn) onReadable() (PortState, bool) {
	c.reads++
	return c.outcome.onRead, c.outcome.onRead != ""
}

func (c *fakeConn) close() error {
	c.closed++
	if c.onClose != nil && c.closed == 1 {
		c.onClose(c.sock)
	}
	return nil
}

type fakeTimer struct {
	tfd     int
	armed   bool
	arms    int
	last    time.Duration
	fired   bool
	closed  bool
	readErr error
}

func (t *fakeTimer) fd() int {
	if t.tfd == 0 {
		return 7
	}
	return t.tfd
}

func (t *fakeTimer) arm(d time.Duration) error {
	t.armed, t.fired = true, false
	t.arms++
	t.last = d
	return nil
}

func (t *fakeTimer) disarm() error {
	t.armed, t.fired = false, false
	return nil
}

func (t *fakeTimer) expired() (bool, error) {
	if t.readErr != nil {
		return false, t.readErr
	}
	fired := t.fired
	t.fired = false
	return fired, nil
}

func (t *fakeTimer) close() error {
	t.closed = true
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTarget(start, end uint16) Target {
	return Target{Host: "192.0.2.10", Addr: netip.MustParseAddr("192.0.2.10"), PortStart: start, PortEnd: end}
}

func newTestSession(t *testing.T, target Target, script map[uint16]outcome) (*Session, *fakeConnector, *fakeTimer) {
	t.Helper()
	fc := &fakeConnector{script: script}
	ft := &fakeTimer{}
	s, err := NewSession(target,
		withConnector(fc),
		withTimer(ft),
		WithPortTimeout(5*time.Second),
		WithSessionLogger(discardLogger()),
	)
	require.NoError(t, err)
	requireInterestInvariant(t, s)
	return s, fc, ft
}

func requireInterestInvariant(t *testing.T, s *Session) {
	t.Helper()
	if s.Done() {
		require.Equal(t, None, s.Interest(), "terminal session must not want events")
	} else {
		require.NotEqual(t, None, s.Interest(), "live session must want events")
	}
}

func step(t *testing.T, s *Session, ev Event) Change {
	t.Helper()
	change, err := s.Step(ev)
	require.NoError(t, err)
	requireInterestInvariant(t, s)
	return change
}

func waitResults(t *testing.T, s *Session) []PortResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	results, err := s.Wait(ctx)
	require.NoError(t, err)
	return results
}

func TestSessionScansRangeInOrder(t *testing.T) {
	s, fc, ft := newTestSession(t, testTarget(1000, 1002), map[uint16]outcome{
		1000: {onWrite: StateClosed},
		1001: {onWrite: StateOpen},
		1002: {onWrite: StateClosed},
	})

	assert.Equal(t, Readable|Writable, s.Interest())
	assert.Equal(t, 101, s.SocketFD())
	assert.Equal(t, 7, s.TimerFD())

	change := step(t, s, EventWritable)
	assert.True(t, change.SocketReleased)
	assert.Equal(t, Delta{Old: Readable | Writable, New: Readable | Writable}, change.Socket)
	assert.False(t, change.Timer.Changed())
	assert.Equal(t, 102, s.SocketFD())

	step(t, s, EventWritable)

	change = step(t, s, EventWritable)
	assert.True(t, s.Done())
	assert.True(t, change.SocketReleased)
	assert.Equal(t, Delta{Old: Readable | Writable, New: None}, change.Socket)
	assert.Equal(t, Delta{Old: Readable, New: None}, change.Timer)
	assert.Equal(t, Readable|Writable, change.Interest().Removed())
	assert.Equal(t, -1, s.SocketFD())

	assert.Equal(t, []PortResult{
		{Port: 1000, State: StateClosed},
		{Port: 1001, State: StateOpen},
		{Port: 1002, State: StateClosed},
	}, waitResults(t, s))

	assert.Equal(t, []uint16{1000, 1001, 1002}, fc.started)
	assert.Equal(t, 3, ft.arms, "deadline is rearmed for every probe")
	assert.Equal(t, 5*time.Second, ft.last)
	assert.False(t, ft.armed)
	for _, c := range fc.conns {
		assert.Equal(t, 1, c.closed, "port %d", c.port)
	}
}

func TestSessionTimeoutMarksFiltered(t *testing.T) {
	s, fc, ft := newTestSession(t, testTarget(31337, 31337), nil)

	// A wakeup with no expiration pending changes nothing.
	change := step(t, s, EventTimedOut)
	assert.False(t, s.Done())
	assert.False(t, change.SocketReleased)
	assert.False(t, change.Interest().Changed())

	// Readiness that does not settle the connect leaves interest untouched.
	change = step(t, s, EventWritable)
	assert.False(t, change.Interest().Changed())

	ft.fired = true
	step(t, s, EventTimedOut)
	require.True(t, s.Done())
	assert.Equal(t, []PortResult{{Port: 31337, State: StateFiltered}}, waitResults(t, s))
	assert.Equal(t, 1, fc.conns[0].closed)
}

func TestSessionReadableRefusal(t *testing.T) {
	s, _, _ := newTestSession(t, testTarget(9999, 9999), map[uint16]outcome{
		9999: {onRead: StateClosed},
	})

	step(t, s, EventReadable)
	assert.Equal(t, []PortResult{{Port: 9999, State: StateClosed}}, waitResults(t, s))
}

func TestSessionSettledAtCreation(t *testing.T) {
	s, fc, ft := newTestSession(t, testTarget(65534, 65535), map[uint16]outcome{
		65534: {immediate: StateClosed},
		65535: {immediate: StateOpen},
	})

	assert.True(t, s.Done())
	assert.Equal(t, None, s.Interest())
	assert.Empty(t, fc.conns)
	assert.Zero(t, ft.arms)
	assert.Equal(t, []PortResult{
		{Port: 65534, State: StateClosed},
		{Port: 65535, State: StateOpen},
	}, waitResults(t, s))
}

func TestSessionMixesImmediateAndPending(t *testing.T) {
	s, fc, ft := newTestSession(t, testTarget(20, 23), map[uint16]outcome{
		20: {immediate: StateClosed},
		21: {onWrite: StateOpen},
		22: {immediate: StateClosed},
	})

	assert.Equal(t, []PortResult{{Port: 20, State: StateClosed}}, s.Results())

	step(t, s, EventWritable)
	assert.Equal(t, []uint16{20, 21, 22, 23}, fc.started)
	assert.False(t, s.Done(), "port 23 is still pending")

	ft.fired = true
	step(t, s, EventTimedOut)

	assert.Equal(t, []PortResult{
		{Port: 20, State: StateClosed},
		{Port: 21, State: StateOpen},
		{Port: 22, State: StateClosed},
		{Port: 23, State: StateFiltered},
	}, waitResults(t, s))
	assert.Equal(t, 2, ft.arms)
}

func TestSessionResourceExhaustionIsLocal(t *testing.T) {
	s, _, _ := newTestSession(t, testTarget(1, 2), map[uint16]outcome{
		1: {err: fmt.Errorf("%w: socket: too many open files", ErrResourceExhausted)},
		2: {onWrite: StateOpen},
	})

	step(t, s, EventWritable)
	assert.Equal(t, []PortResult{
		{Port: 1, State: StateFiltered},
		{Port: 2, State: StateOpen},
	}, waitResults(t, s))
}

func TestSessionSystemicFailure(t *testing.T) {
	s, fc, ft := newTestSession(t, testTarget(1, 3), map[uint16]outcome{
		1: {onWrite: StateOpen},
		2: {err: fmt.Errorf("%w: socket: address family not supported", ErrSystemic)},
	})

	change, err := s.Step(EventWritable)
	require.ErrorIs(t, err, ErrSystemic)
	requireInterestInvariant(t, s)
	assert.True(t, s.Done())
	assert.True(t, change.SocketReleased)
	assert.Equal(t, None, change.Timer.New)
	assert.Equal(t, 1, fc.conns[0].closed)

	_, err = s.Wait(context.Background())
	assert.ErrorIs(t, err, ErrSystemic)

	require.NoError(t, s.Close())
	assert.True(t, ft.closed)
}

func TestSessionDeadlineReadFailure(t *testing.T) {
	s, fc, ft := newTestSession(t, testTarget(80, 81), nil)
	ft.readErr = fmt.Errorf("bad file descriptor")

	_, err := s.Step(EventTimedOut)
	require.ErrorIs(t, err, ErrSystemic)
	assert.True(t, s.Done())
	assert.Equal(t, 1, fc.conns[0].closed)
}

func TestNewSessionSystemicFailure(t *testing.T) {
	fc := &fakeConnector{script: map[uint16]outcome{
		1: {err: fmt.Errorf("%w: socket: permission denied", ErrSystemic)},
	}}
	ft := &fakeTimer{}

	_, err := NewSession(testTarget(1, 1), withConnector(fc), withTimer(ft), WithSessionLogger(discardLogger()))
	require.ErrorIs(t, err, ErrSystemic)
	assert.True(t, ft.closed)
}

func TestNewSessionRejectsInvalidTarget(t *testing.T) {
	tests := []struct {
		name   string
		target Target
	}{
		{name: "start after end", target: testTarget(10, 9)},
		{name: "port zero", target: testTarget(0, 10)},
		{name: "missing address", target: Target{Host: "", PortStart: 1, PortEnd: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeConnector{}
			_, err := NewSession(tt.target, withConnector(fc), withTimer(&fakeTimer{}))
			require.ErrorIs(t, err, ErrInvalidTarget)
			assert.Empty(t, fc.started, "no socket may be opened for an invalid target")
		})
	}
}

func TestSessionCloseAbandons(t *testing.T) {
	s, fc, ft := newTestSession(t, testTarget(1, 100), nil)

	require.NoError(t, s.Close())
	assert.True(t, s.Done())
	assert.Equal(t, None, s.Interest())
	assert.Equal(t, 1, fc.conns[0].closed)
	assert.True(t, ft.closed)
	assert.Equal(t, -1, s.TimerFD())

	_, err := s.Wait(context.Background())
	assert.ErrorIs(t, err, ErrSessionAbandoned)

	require.NoError(t, s.Close())
	assert.Equal(t, 1, fc.conns[0].closed, "close is idempotent")

	change, err := s.Step(EventWritable)
	require.NoError(t, err)
	assert.Equal(t, Change{}, change)
}

func TestSessionCloseAfterFinishKeepsResults(t *testing.T) {
	s, _, ft := newTestSession(t, testTarget(443, 443), map[uint16]outcome{
		443: {onWrite: StateOpen},
	})
	step(t, s, EventWritable)

	require.NoError(t, s.Close())
	assert.True(t, ft.closed)
	assert.Equal(t, []PortResult{{Port: 443, State: StateOpen}}, waitResults(t, s))
}

func TestSessionRejectsUnknownEvent(t *testing.T) {
	s, _, _ := newTestSession(t, testTarget(1, 1), nil)

	_, err := s.Step(Event(42))
	require.Error(t, err)
	assert.False(t, s.Done())
}

func TestSessionWaitHonoursContext(t *testing.T) {
	s, _, _ := newTestSession(t, testTarget(1, 1), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
