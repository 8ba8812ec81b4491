package clowdflare

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strings"

	"golang.org/x/net/idna"
)

// InvalidInputError is returned for malformed hostnames.
type InvalidInputError struct {
	Input  string
	Reason error
}

func (err *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid host %q: %v", err.Input, err.Reason)
}

func (err *InvalidInputError) Unwrap() error {
	return err.Reason
}

// hostProfile is like idna.Lookup, but allows underscores, which are common in
// DNS names even if they aren't valid hostnames.
var hostProfile = idna.New(
	idna.MapForLookup(),
	idna.BidiRule(),
	idna.Transitional(false),
	idna.VerifyDNSLength(true),
	idna.StrictDomainName(false),
)

// NormalizeHost validates a hostname or IP address, returning the ASCII form
// to resolve.
func NormalizeHost(s string) (string, error) {
	h := strings.TrimSpace(s)
	if h == "" {
		return "", &InvalidInputError{s, errors.New("empty")}
	}
	if a, err := netip.ParseAddr(strings.TrimSuffix(strings.TrimPrefix(h, "["), "]")); err == nil {
		return a.String(), nil
	}
	h = strings.TrimSuffix(h, ".")

	x, err := hostProfile.ToASCII(h)
	if err != nil {
		return "", &InvalidInputError{s, err}
	}
	for _, l := range strings.Split(x, ".") {
		if l == "" {
			return "", &InvalidInputError{s, errors.New("empty label")}
		}
		if l[0] == '-' || l[len(l)-1] == '-' {
			return "", &InvalidInputError{s, fmt.Errorf("label %q starts or ends with a hyphen", l)}
		}
		for _, c := range l {
			switch {
			case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
			default:
				return "", &InvalidInputError{s, fmt.Errorf("invalid character %q", c)}
			}
		}
	}
	return x, nil
}

// NormalizeHosts normalizes hosts, removing duplicates. It stops at the first
// invalid host, returning its error.
func NormalizeHosts(hs []string) ([]string, error) {
	seen := make(map[string]struct{}, len(hs))
	r := make([]string, 0, len(hs))
	for _, h := range hs {
		x, err := NormalizeHost(h)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[x]; ok {
			continue
		}
		seen[x] = struct{}{}
		r = append(r, x)
	}
	return r, nil
}

// ReadHosts reads a newline-separated host list. Blank lines and lines
// starting with # are ignored.
func ReadHosts(r io.Reader) ([]string, error) {
	var hs []string
	s := bufio.NewScanner(r)
	for s.Scan() {
		if t := strings.TrimSpace(s.Text()); t != "" && t[0] != '#' {
			hs = append(hs, t)
		}
	}
	return hs, s.Err()
}
