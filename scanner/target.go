package scanner

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

const (
	MinPort = 1
	MaxPort = 65535
)

// Target is a resolved host address plus an inclusive port range.
type Target struct {
	Host      string
	Addr      netip.Addr
	PortStart uint16
	PortEnd   uint16
}

// Len returns the number of ports in the range.
func (t Target) Len() int {
	return int(t.PortEnd) - int(t.PortStart) + 1
}

func (t Target) validate() error {
	if !t.Addr.IsValid() {
		return fmt.Errorf("%w: address %q is not valid", ErrInvalidTarget, t.Host)
	}
	if t.Addr.Zone() != "" {
		return fmt.Errorf("%w: zoned address %s is not supported", ErrInvalidTarget, t.Addr)
	}
	return ValidateRange(int(t.PortStart), int(t.PortEnd))
}

// ValidateRange checks that start..end is a non-empty range of TCP ports.
func ValidateRange(start, end int) error {
	if start < MinPort || start > MaxPort || end < MinPort || end > MaxPort {
		return fmt.Errorf("%w: ports must be within %d-%d", ErrInvalidTarget, MinPort, MaxPort)
	}
	if start > end {
		return fmt.Errorf("%w: start port %d is greater than end port %d", ErrInvalidTarget, start, end)
	}
	return nil
}

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// ResolveTarget validates the range and turns host into a single address.
// IP literals are used as-is; names are resolved and the first IPv4 answer is
// preferred over IPv6.
func ResolveTarget(ctx context.Context, resolver Resolver, host string, start, end int) (Target, error) {
	if err := ValidateRange(start, end); err != nil {
		return Target{}, err
	}

	host = strings.TrimSpace(host)
	if host == "" {
		return Target{}, fmt.Errorf("%w: empty address", ErrInvalidTarget)
	}

	addr, err := resolveHost(ctx, resolver, host)
	if err != nil {
		return Target{}, err
	}

	target := Target{
		Host:      host,
		Addr:      addr,
		PortStart: uint16(start),
		PortEnd:   uint16(end),
	}
	if err := target.validate(); err != nil {
		return Target{}, err
	}
	return target, nil
}

func resolveHost(ctx context.Context, resolver Resolver, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		return addr.Unmap(), nil
	}

	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: resolve %q: %v", ErrInvalidTarget, host, err)
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("%w: %q has no addresses", ErrInvalidTarget, host)
	}

	for _, addr := range addrs {
		if addr.Unmap().Is4() {
			return addr.Unmap(), nil
		}
	}
	return addrs[0], nil
}
