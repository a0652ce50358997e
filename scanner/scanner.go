package scanner

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"portscan/logging"
)

// Scanner runs port-range scans on a shared Reactor.
type Scanner struct {
	reactor  *Reactor
	timeout  time.Duration
	resolver Resolver
	logger   *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithTimeout sets the per-port deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithResolver replaces the resolver used for host names.
func WithResolver(r Resolver) Option {
	return func(s *Scanner) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithLogger sets the logger shared by the scanner and its sessions.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPoller replaces the platform poller.
func WithPoller(p Poller) Option {
	return func(s *Scanner) {
		if p != nil {
			s.reactor = NewReactor(p, s.logger)
		}
	}
}

// New creates a scanner. Scans make progress only while Run is executing.
func New(opts ...Option) (*Scanner, error) {
	s := &Scanner{
		timeout:  DefaultPortTimeout,
		resolver: net.DefaultResolver,
		logger:   logging.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.reactor == nil {
		poller, err := NewPoller()
		if err != nil {
			return nil, err
		}
		s.reactor = NewReactor(poller, s.logger)
	}
	return s, nil
}

// Run drives all scans until ctx is cancelled. Scans still in progress when
// it returns fail with ErrReactorClosed.
func (s *Scanner) Run(ctx context.Context) error {
	return s.reactor.Run(ctx)
}

// Timeout returns the per-port deadline.
func (s *Scanner) Timeout() time.Duration {
	return s.timeout
}

// Scan probes host over [start, end] one port at a time and returns one
// result per port in ascending order. An invalid range or unresolvable host
// fails with ErrInvalidTarget before any socket is opened. Cancelling ctx
// abandons the scan.
func (s *Scanner) Scan(ctx context.Context, host string, start, end int) ([]PortResult, error) {
	target, err := ResolveTarget(ctx, s.resolver, host, start, end)
	if err != nil {
		return nil, err
	}

	session, err := NewSession(target, WithPortTimeout(s.timeout), WithSessionLogger(s.logger))
	if err != nil {
		return nil, err
	}
	if err := s.reactor.Attach(session); err != nil {
		_ = session.Close()
		return nil, err
	}

	begin := time.Now()
	results, err := session.Wait(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.reactor.Detach(session)
		}
		return nil, err
	}

	s.logger.Debug("scan finished",
		"target", target.Addr.String(),
		"port_start", target.PortStart,
		"port_end", target.PortEnd,
		"duration_ms", float64(time.Since(begin))/float64(time.Millisecond),
	)
	return results, nil
}
