package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"portscan/logging"
)

// PollEvent reports which conditions are ready on a descriptor. Error and
// hang-up conditions are reported as both Readable and Writable.
type PollEvent struct {
	FD    int
	Ready Interest
}

// Poller is the readiness facility a Reactor drives.
type Poller interface {
	Add(fd int, in Interest) error
	Modify(fd int, in Interest) error
	Remove(fd int) error
	// Wait blocks until descriptors are ready, Wake is called or timeout
	// elapses. A negative timeout waits indefinitely.
	Wait(events []PollEvent, timeout time.Duration) (int, error)
	Wake() error
	Close() error
}

const reactorBatch = 128

// binding is the reactor's record of one attached session.
type binding struct {
	session *Session
	socket  int
	sockIn  Interest
	timer   int
	timerIn Interest
}

type handle struct {
	b     *binding
	timer bool
}

type command struct {
	session *Session
	detach  bool
}

// Reactor drives any number of Sessions from a single goroutine. It owns the
// poller registration table; sessions only report interest diffs.
type Reactor struct {
	poller Poller
	logger *slog.Logger

	mu       sync.Mutex
	commands []command
	stopped  bool

	// Owned by the goroutine in Run.
	handles  map[int]handle
	bindings map[*Session]*binding
}

// NewReactor creates a reactor on top of poller. Run must be called for
// attached sessions to make progress.
func NewReactor(poller Poller, logger *slog.Logger) *Reactor {
	if logger == nil {
		logger = logging.Logger()
	}
	return &Reactor{
		poller:   poller,
		logger:   logger,
		handles:  make(map[int]handle),
		bindings: make(map[*Session]*binding),
	}
}

// Attach hands a session to the reactor. The reactor closes the session once
// it is terminal, detached or the reactor stops.
func (r *Reactor) Attach(s *Session) error {
	return r.submit(command{session: s})
}

// Detach abandons a session: its handles are unregistered and released and
// its waiters receive ErrSessionAbandoned.
func (r *Reactor) Detach(s *Session) {
	if err := r.submit(command{session: s, detach: true}); err != nil {
		r.logger.Debug("detach after reactor stop", "error", err)
	}
}

func (r *Reactor) submit(cmd command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrReactorClosed
	}
	r.commands = append(r.commands, cmd)
	return r.poller.Wake()
}

// wake interrupts Wait unless the poller has already been closed.
func (r *Reactor) wake() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopped {
		_ = r.poller.Wake()
	}
}

// Run dispatches readiness until ctx is cancelled or the poller fails. On
// return every session still attached or queued has been aborted and the
// poller is closed.
func (r *Reactor) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, r.wake)
	defer stop()

	events := make([]PollEvent, reactorBatch)
	var runErr error
	for {
		r.drainCommands()

		if ctx.Err() != nil {
			break
		}

		n, err := r.poller.Wait(events, -1)
		if err != nil {
			runErr = fmt.Errorf("%w: poll: %v", ErrSystemic, err)
			break
		}
		for i := 0; i < n; i++ {
			r.dispatch(events[i])
		}
	}

	r.shutdown(runErr)
	return runErr
}

func (r *Reactor) drainCommands() {
	r.mu.Lock()
	cmds := r.commands
	r.commands = nil
	r.mu.Unlock()

	for _, cmd := range cmds {
		if cmd.detach {
			r.detach(cmd.session, ErrSessionAbandoned)
			continue
		}
		r.attach(cmd.session)
	}
}

func (r *Reactor) attach(s *Session) {
	if s.Done() {
		_ = s.Close()
		return
	}
	if _, ok := r.bindings[s]; ok {
		return
	}

	b := &binding{session: s, socket: -1, timer: -1}
	r.bindings[s] = b

	if err := r.register(b, s.SocketFD(), s.socketInterest(), false); err != nil {
		r.detach(s, fmt.Errorf("%w: register socket: %v", ErrSystemic, err))
		return
	}
	if err := r.register(b, s.TimerFD(), s.timerInterest(), true); err != nil {
		r.detach(s, fmt.Errorf("%w: register timer: %v", ErrSystemic, err))
		return
	}
}

func (r *Reactor) register(b *binding, fd int, in Interest, isTimer bool) error {
	if fd < 0 || in == None {
		return nil
	}
	if err := r.poller.Add(fd, in); err != nil {
		return err
	}
	r.handles[fd] = handle{b: b, timer: isTimer}
	if isTimer {
		b.timer, b.timerIn = fd, in
	} else {
		b.socket, b.sockIn = fd, in
	}
	return nil
}

func (r *Reactor) dispatch(ev PollEvent) {
	h, ok := r.handles[ev.FD]
	if !ok {
		return
	}
	b := h.b

	if h.timer {
		if ev.Ready&Readable != 0 {
			r.step(b, EventTimedOut)
		}
		return
	}

	// Writability carries connect completion, so it goes first. A readable
	// condition reported in the same batch belongs to the same socket only if
	// the first step did not replace it.
	if ev.Ready&Writable != 0 {
		if released := r.step(b, EventWritable); released {
			return
		}
	}
	if ev.Ready&Readable != 0 && r.bindings[b.session] == b {
		r.step(b, EventReadable)
	}
}

// step feeds one event to the session and mirrors its Change into the
// poller. It reports whether the socket the event was delivered for is gone.
func (r *Reactor) step(b *binding, ev Event) bool {
	s := b.session
	change, err := s.Step(ev)
	if err != nil {
		r.logger.Warn("session step failed", "event", ev.String(), "error", err)
	}

	if applyErr := r.apply(b, change); applyErr != nil {
		r.detach(s, fmt.Errorf("%w: update registration: %v", ErrSystemic, applyErr))
		return true
	}

	if s.Done() {
		r.detach(s, nil)
		return true
	}
	return change.SocketReleased
}

// apply translates a Change into poller calls.
func (r *Reactor) apply(b *binding, change Change) error {
	s := b.session

	if change.SocketReleased {
		// Closing the descriptor already removed it from the kernel set.
		delete(r.handles, b.socket)
		b.socket, b.sockIn = -1, None
		if err := r.register(b, s.SocketFD(), change.Socket.New, false); err != nil {
			return err
		}
	} else if change.Socket.Changed() {
		if err := r.update(b, b.socket, change.Socket, false); err != nil {
			return err
		}
	}

	if change.Timer.Changed() {
		if err := r.update(b, b.timer, change.Timer, true); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reactor) update(b *binding, fd int, d Delta, isTimer bool) error {
	switch {
	case d.Old == None:
		fd = b.session.SocketFD()
		if isTimer {
			fd = b.session.TimerFD()
		}
		return r.register(b, fd, d.New, isTimer)
	case d.New == None:
		delete(r.handles, fd)
		if isTimer {
			b.timer, b.timerIn = -1, None
		} else {
			b.socket, b.sockIn = -1, None
		}
		return r.poller.Remove(fd)
	default:
		if isTimer {
			b.timerIn = d.New
		} else {
			b.sockIn = d.New
		}
		return r.poller.Modify(fd, d.New)
	}
}

// detach unregisters whatever is still registered for s and closes it. A nil
// cause is used for sessions that finished normally.
func (r *Reactor) detach(s *Session, cause error) {
	if b, ok := r.bindings[s]; ok {
		for _, fd := range []int{b.socket, b.timer} {
			if fd < 0 {
				continue
			}
			delete(r.handles, fd)
			if err := r.poller.Remove(fd); err != nil {
				r.logger.Debug("unregister failed", "fd", fd, "error", err)
			}
		}
		delete(r.bindings, s)
	}

	var err error
	if cause == nil {
		err = s.Close()
	} else {
		err = s.Abort(cause)
	}
	if err != nil {
		r.logger.Debug("session release failed", "error", err)
	}
}

func (r *Reactor) shutdown(cause error) {
	if cause == nil {
		cause = ErrReactorClosed
	}

	r.mu.Lock()
	r.stopped = true
	cmds := r.commands
	r.commands = nil
	r.mu.Unlock()

	for _, cmd := range cmds {
		_ = cmd.session.Abort(cause)
	}
	for s := range r.bindings {
		r.detach(s, cause)
	}
	if err := r.poller.Close(); err != nil {
		r.logger.Debug("poller close failed", "error", err)
	}
}
