// Package cloudflare fetches, caches, and matches against the Cloudflare IP
// ranges.
package cloudflare

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strings"
)

// The published Cloudflare IP lists.
const (
	IPv4URL = "https://www.cloudflare.com/ips-v4/"
	IPv6URL = "https://www.cloudflare.com/ips-v6/"
)

// Family is an IP address family (4 or 6).
type Family int

const (
	IPv4 Family = 4
	IPv6 Family = 6
)

func (f Family) String() string {
	switch f {
	case IPv4:
		return "ipv4"
	case IPv6:
		return "ipv6"
	default:
		return fmt.Sprintf("Family(%d)", int(f))
	}
}

// Is returns true if a is in the address family.
func (f Family) Is(a netip.Addr) bool {
	a = a.Unmap()
	switch f {
	case IPv4:
		return a.Is4()
	case IPv6:
		return a.Is6()
	}
	return false
}

var ErrNoPrefixes = errors.New("no prefixes")

// RangeSet is the list of prefixes for a single address family, in the order
// they were listed.
type RangeSet struct {
	Family   Family
	URL      string
	Prefixes []netip.Prefix
}

// Match returns the first prefix containing a.
func (rs RangeSet) Match(a netip.Addr) (netip.Prefix, bool) {
	for _, p := range rs.Prefixes {
		if Contains(p, a) {
			return p, true
		}
	}
	return netip.Prefix{}, false
}

// Contains checks if a is in p. Addresses are only ever contained in prefixes
// of the same family (IPv4-mapped IPv6 addresses are treated as IPv4).
func Contains(p netip.Prefix, a netip.Addr) bool {
	if !p.IsValid() || !a.IsValid() {
		return false
	}
	a = a.Unmap().WithZone("")
	if a.BitLen() != p.Addr().BitLen() {
		return false
	}
	m, err := a.Prefix(p.Bits())
	if err != nil {
		return false
	}
	return m.Addr() == p.Masked().Addr()
}

// ParseRanges parses a newline-separated list of prefixes for the specified
// family. Blank lines and lines starting with # are ignored, and bare
// addresses are treated as single-address prefixes. Prefixes are masked.
func ParseRanges(r io.Reader, f Family) ([]netip.Prefix, error) {
	var ps []netip.Prefix
	s := bufio.NewScanner(r)
	for n := 1; s.Scan(); n++ {
		t := strings.TrimSpace(s.Text())
		if t == "" || t[0] == '#' {
			continue
		}
		var p netip.Prefix
		if strings.ContainsRune(t, '/') {
			if x, err := netip.ParsePrefix(t); err == nil {
				p = x.Masked()
			} else {
				return nil, fmt.Errorf("line %d: invalid prefix %q: %w", n, t, err)
			}
		} else {
			if x, err := netip.ParseAddr(t); err == nil {
				x = x.Unmap()
				if p, err = x.Prefix(x.BitLen()); err != nil {
					panic(err)
				}
			} else {
				return nil, fmt.Errorf("line %d: invalid ip %q: %w", n, t, err)
			}
		}
		if f != 0 && !f.Is(p.Addr()) {
			return nil, fmt.Errorf("line %d: prefix %s is not %s", n, p, f)
		}
		ps = append(ps, p)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, ErrNoPrefixes
	}
	return ps, nil
}

// Index is an immutable snapshot of the Cloudflare ranges for both address
// families. It is safe for concurrent use.
type Index struct {
	V4 RangeSet
	V6 RangeSet
}

// Blocks returns all prefixes, IPv4 first, in list order.
func (x *Index) Blocks() []netip.Prefix {
	r := make([]netip.Prefix, 0, len(x.V4.Prefixes)+len(x.V6.Prefixes))
	r = append(r, x.V4.Prefixes...)
	r = append(r, x.V6.Prefixes...)
	return r
}

// Match returns the first prefix containing a.
func (x *Index) Match(a netip.Addr) (netip.Prefix, bool) {
	if IPv4.Is(a) {
		return x.V4.Match(a)
	}
	return x.V6.Match(a)
}

// Len returns the total number of prefixes.
func (x *Index) Len() int {
	return len(x.V4.Prefixes) + len(x.V6.Prefixes)
}
