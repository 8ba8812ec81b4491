// Package resolve resolves hostnames to IP addresses.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"time"

	"github.com/miekg/dns"
)

// ResolutionError is returned when a hostname could not be resolved.
type ResolutionError struct {
	Host string
	Err  error
}

func (err *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", err.Host, err.Err)
}

func (err *ResolutionError) Unwrap() error {
	return err.Err
}

// ErrNoAddresses is wrapped by ResolutionError if the host has no usable
// records.
var ErrNoAddresses = errors.New("no addresses found")

// Resolver resolves hostnames to IP addresses. All errors are
// *ResolutionError.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]netip.Addr, error)
}

// Family filters resolved addresses.
type Family string

const (
	FamilyAny  Family = "any"
	FamilyIPv4 Family = "4"
	FamilyIPv6 Family = "6"
)

// ParseFamily parses a family name.
func ParseFamily(s string) (Family, error) {
	switch s {
	case "", "any", "all":
		return FamilyAny, nil
	case "4", "ipv4", "inet":
		return FamilyIPv4, nil
	case "6", "ipv6", "inet6":
		return FamilyIPv6, nil
	default:
		return "", fmt.Errorf("unknown address family %q", s)
	}
}

// Filter returns the addresses in f.
func (f Family) Filter(as []netip.Addr) []netip.Addr {
	if f == FamilyAny || f == "" {
		return as
	}
	r := make([]netip.Addr, 0, len(as))
	for _, a := range as {
		if (f == FamilyIPv4) == a.Unmap().Is4() {
			r = append(r, a)
		}
	}
	return r
}

// Filtered wraps r to only return addresses in f.
func Filtered(r Resolver, f Family) Resolver {
	if f == FamilyAny || f == "" {
		return r
	}
	return filtered{r, f}
}

type filtered struct {
	r Resolver
	f Family
}

func (x filtered) Resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	as, err := x.r.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	if as = x.f.Filter(as); len(as) == 0 {
		return nil, &ResolutionError{host, fmt.Errorf("%w for ipv%s", ErrNoAddresses, string(x.f))}
	}
	return as, nil
}

// System resolves hostnames using the Go resolver, which uses the system
// configuration.
type System struct {
	// Resolver to use. If not provided, a Go resolver is used.
	Resolver *net.Resolver

	// Timeout is the per-host timeout. If zero, there is no timeout other
	// than the one from the context.
	Timeout time.Duration
}

func (s *System) Resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if a, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{a.Unmap()}, nil
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	r := s.Resolver
	if r == nil {
		r = &net.Resolver{PreferGo: true}
	}

	as, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, &ResolutionError{host, err}
	}
	if as = normalize(as); len(as) == 0 {
		return nil, &ResolutionError{host, ErrNoAddresses}
	}
	return as, nil
}

// DNS resolves hostnames by querying A and AAAA records from specific DNS
// servers. Servers are tried in order until one answers.
type DNS struct {
	servers []string
	client  *dns.Client
	tcp     *dns.Client // for truncated responses
}

// NewDNS creates a resolver querying the provided servers over UDP, retrying
// over TCP if the response is truncated. The port defaults to 53.
func NewDNS(servers []string, timeout time.Duration) (*DNS, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("no dns servers provided")
	}
	r := &DNS{
		client: &dns.Client{
			Net:     "udp",
			Timeout: timeout,
		},
		tcp: &dns.Client{
			Net:     "tcp",
			Timeout: timeout,
		},
	}
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			if a, err := netip.ParseAddr(s); err == nil {
				s = netip.AddrPortFrom(a, 53).String()
			} else {
				s = net.JoinHostPort(s, "53")
			}
		}
		if _, _, err := net.SplitHostPort(s); err != nil {
			return nil, fmt.Errorf("invalid dns server %q: %w", s, err)
		}
		r.servers = append(r.servers, s)
	}
	return r, nil
}

func (d *DNS) Resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if a, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{a.Unmap()}, nil
	}

	// a failed query only fails the host if the other one didn't return
	// anything either
	var (
		as   []netip.Addr
		nx   bool
		errs []error
	)
	for _, qt := range []uint16{dns.TypeA, dns.TypeAAAA} {
		r, err := d.query(ctx, host, qt)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		switch r.Rcode {
		case dns.RcodeSuccess:
		case dns.RcodeNameError:
			nx = true
			continue
		default:
			errs = append(errs, fmt.Errorf("query %s: server returned %s", dns.TypeToString[qt], dns.RcodeToString[r.Rcode]))
			continue
		}
		for _, rr := range r.Answer {
			switch rr := rr.(type) {
			case *dns.A:
				if a, ok := netip.AddrFromSlice(rr.A); ok {
					as = append(as, a)
				}
			case *dns.AAAA:
				if a, ok := netip.AddrFromSlice(rr.AAAA); ok {
					as = append(as, a)
				}
			}
		}
	}
	if as = normalize(as); len(as) == 0 {
		if len(errs) != 0 {
			return nil, &ResolutionError{host, errors.Join(errs...)}
		}
		if nx {
			return nil, &ResolutionError{host, fmt.Errorf("%w (nxdomain)", ErrNoAddresses)}
		}
		return nil, &ResolutionError{host, ErrNoAddresses}
	}
	return as, nil
}

func (d *DNS) query(ctx context.Context, host string, qt uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qt)

	var lastErr error
	for _, s := range d.servers {
		r, _, err := d.client.ExchangeContext(ctx, m, s)
		if err == nil && r.Truncated {
			r, _, err = d.tcp.ExchangeContext(ctx, m, s)
		}
		if err == nil {
			return r, nil
		}
		lastErr = fmt.Errorf("query %s from %s: %w", dns.TypeToString[qt], s, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// normalize unmaps, deduplicates, and orders addresses IPv4 first, otherwise
// keeping the original order.
func normalize(as []netip.Addr) []netip.Addr {
	seen := make(map[netip.Addr]struct{}, len(as))
	r := make([]netip.Addr, 0, len(as))
	for _, a := range as {
		a = a.Unmap()
		if !a.IsValid() {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		r = append(r, a)
	}
	sort.SliceStable(r, func(i, j int) bool {
		return r[i].Is4() && !r[j].Is4()
	})
	return r
}
