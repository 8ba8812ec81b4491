package clowdflare

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/r2northstar/clowdflare/pkg/cloudflare"
	"github.com/r2northstar/clowdflare/pkg/resolve"
	"github.com/rs/zerolog"
)

// Verdict is the result of checking a host.
type Verdict int

const (
	NotInCloudflare Verdict = iota
	InCloudflare
	ResolutionFailed

	// Cancelled is used if the context was cancelled before the host was
	// resolved. It is not reported.
	Cancelled
)

func (v Verdict) String() string {
	switch v {
	case NotInCloudflare:
		return "NOT_IN_CLOUDFLARE"
	case InCloudflare:
		return "IN_CLOUDFLARE"
	case ResolutionFailed:
		return "RESOLUTION_FAILED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// TraceEntry is a single address tested against a single block. Match is true
// if the address is in the block (reported as FAIL).
type TraceEntry struct {
	Addr   netip.Addr
	Prefix netip.Prefix
	Match  bool
}

// HostResult is the outcome of checking a single host.
type HostResult struct {
	Host    string
	Addrs   []netip.Addr
	Trace   []TraceEntry
	Verdict Verdict

	// The first matching block and the address which matched it, if the
	// verdict is InCloudflare.
	Matched     netip.Prefix
	MatchedAddr netip.Addr

	// The *resolve.ResolutionError if the verdict is ResolutionFailed.
	Err error

	// The location of the matched (or first) address, if a geolocation
	// database is available.
	Country string
	Geohash string

	Duration time.Duration
}

// Checker checks whether hosts resolve to Cloudflare addresses. It is safe for
// concurrent use as long as the fields are not modified.
type Checker struct {
	Resolver resolve.Resolver
	Ranges   *cloudflare.Index

	// FullTrace tests all addresses against all blocks rather than stopping
	// at the first match.
	FullTrace bool

	// Locate optionally looks up the location of an address.
	Locate func(netip.Addr) Location

	// Reporter, if provided, receives the trace as it is produced.
	Reporter *Reporter

	Metrics *Metrics
	Logger  zerolog.Logger
}

// Check resolves host and tests each address against the blocks in order.
func (c *Checker) Check(ctx context.Context, host string) (res HostResult) {
	start := time.Now()
	res.Host = host
	defer func() {
		res.Duration = time.Since(start)
		if c.Metrics != nil {
			c.Metrics.m().check_duration_seconds.Update(res.Duration.Seconds())
			c.Metrics.verdict(res.Verdict)
		}
	}()

	as, err := c.Resolver.Resolve(ctx, host)
	if c.Metrics != nil {
		c.Metrics.m().resolve_duration_seconds.UpdateDuration(start)
	}
	if err != nil && ctx.Err() != nil {
		c.Logger.Debug().Err(err).Str("host", host).Msg("check cancelled")
		res.Verdict = Cancelled
		res.Err = ctx.Err()
		return res
	}
	if err != nil {
		var re *resolve.ResolutionError
		if !errors.As(err, &re) {
			err = &resolve.ResolutionError{Host: host, Err: err}
		}
		c.Logger.Debug().Err(err).Str("host", host).Msg("failed to resolve host")
		if c.Reporter != nil {
			c.Reporter.AddressNotFound(host)
		}
		res.Verdict = ResolutionFailed
		res.Err = err
		return res
	}
	res.Addrs = as

	blocks := c.Ranges.Blocks()

addrs:
	for _, a := range as {
		if c.Metrics != nil {
			c.Metrics.m().addresses_checked_total.Inc()
		}
		for _, p := range blocks {
			m := cloudflare.Contains(p, a)
			res.Trace = append(res.Trace, TraceEntry{a, p, m})
			if c.Metrics != nil {
				c.Metrics.m().prefixes_tested_total.Inc()
			}
			if c.Reporter != nil {
				c.Reporter.Check(host, a, p, m)
			}
			if m {
				if res.Verdict != InCloudflare {
					res.Verdict = InCloudflare
					res.Matched = p
					res.MatchedAddr = a
				}
				if !c.FullTrace {
					break addrs
				}
			}
		}
	}

	if c.Locate != nil {
		a := res.MatchedAddr
		if !a.IsValid() {
			a = as[0]
		}
		l := c.Locate(a)
		res.Country, res.Geohash = l.Country, l.Geohash
		if c.Metrics != nil {
			c.Metrics.m().hosts_located_total(res.Geohash).Inc()
		}
	}

	e := c.Logger.Debug().
		Str("host", host).
		Stringer("verdict", res.Verdict).
		Int("addrs", len(as)).
		Int("tested", len(res.Trace))
	if res.Verdict == InCloudflare {
		e = e.Stringer("addr", res.MatchedAddr).Stringer("prefix", res.Matched)
	}
	if res.Country != "" {
		e = e.Str("country", res.Country)
	}
	if res.Geohash != "" {
		e = e.Str("geohash", res.Geohash)
	}
	e.Msg("checked host")

	if res.Verdict == InCloudflare && c.Reporter != nil {
		c.Reporter.DetectedCloudflare(host)
	}
	return res
}
