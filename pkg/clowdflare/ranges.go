package clowdflare

import (
	"context"
	"errors"
	"fmt"

	"github.com/r2northstar/clowdflare/pkg/cloudflare"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrNoRanges is returned by LoadRanges if no range list could be loaded for
// any family.
var ErrNoRanges = errors.New("no usable cloudflare range lists")

// RangeLoader loads the range lists for all families.
type RangeLoader struct {
	Fetcher  *cloudflare.Fetcher
	Sources  []Source
	Reporter *Reporter
	Metrics  *Metrics
	Logger   zerolog.Logger
}

// Load fetches all sources concurrently, then reports the results in order.
// A family which fails to load is left empty. An error is only returned if
// every family failed.
func (l *RangeLoader) Load(ctx context.Context) (*cloudflare.Index, error) {
	res := make([]*cloudflare.Resource, len(l.Sources))
	errs := make([]error, len(l.Sources))

	var g errgroup.Group
	for i, src := range l.Sources {
		i, src := i, src
		g.Go(func() error {
			res[i], errs[i] = l.Fetcher.Fetch(ctx, src.Family, src.URL, src.Path)
			return nil
		})
	}
	g.Wait()

	var (
		idx    cloudflare.Index
		loaded int
		errl   []error
	)
	for i, src := range l.Sources {
		r, err := res[i], errs[i]
		if err != nil {
			l.Logger.Error().Err(err).Stringer("family", src.Family).Str("url", src.URL).Msg("failed to load range list")
			if l.Reporter != nil {
				l.Reporter.Error(err)
			}
			if l.Metrics != nil {
				l.Metrics.m().range_fetch_errors_total(src.Family).Inc()
			}
			errl = append(errl, err)
			continue
		}

		if l.Reporter != nil {
			switch r.Status {
			case cloudflare.StatusDownloaded:
				l.Reporter.Retrieved(src.URL, r.Path)
			case cloudflare.StatusNotModified:
				l.Reporter.NotModified(src.URL)
			case cloudflare.StatusStale:
				l.Reporter.Error(r.DownloadErr)
			}
		}
		if l.Metrics != nil {
			l.Metrics.m().range_fetches_total(src.Family, r.Status).Inc()
			l.Metrics.m().range_prefixes(src.Family).Set(uint64(len(r.Ranges.Prefixes)))
			if r.Status == cloudflare.StatusStale {
				l.Metrics.m().range_fetch_errors_total(src.Family).Inc()
			}
		}
		l.Logger.Info().
			Stringer("family", src.Family).
			Stringer("status", r.Status).
			Str("path", r.Path).
			Int("prefixes", len(r.Ranges.Prefixes)).
			Msg("loaded range list")

		switch src.Family {
		case cloudflare.IPv4:
			idx.V4 = r.Ranges
		case cloudflare.IPv6:
			idx.V6 = r.Ranges
		default:
			panic(fmt.Errorf("unknown family %d", src.Family))
		}
		loaded++
	}
	if loaded == 0 {
		if len(errl) == 0 {
			return nil, ErrNoRanges
		}
		return nil, fmt.Errorf("%w: %w", ErrNoRanges, errors.Join(errl...))
	}
	return &idx, nil
}
