package clowdflare

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ResultStore persists host results.
type ResultStore interface {
	SaveResult(ctx context.Context, run string, r HostResult) error
}

// Summary contains the totals for a run.
type Summary struct {
	Total            int
	Workers          int
	Checked          int
	InCloudflare     int
	NotInCloudflare  int
	ResolutionFailed int
	Cancelled        int
	Interrupted      bool
	Duration         time.Duration
}

// Dispatcher checks hosts in parallel.
type Dispatcher struct {
	Checker *Checker

	// Workers is the maximum number of concurrent checks. It is clamped to
	// [1, len(hosts)].
	Workers int

	Reporter *Reporter

	// Store, if provided, receives every result under RunID.
	Store ResultStore
	RunID string

	Metrics *Metrics
	Logger  zerolog.Logger
}

// Run checks hosts. Results are collected by a single goroutine, which writes
// the hosts not behind Cloudflare to the reporter. If ctx is cancelled, no more
// checks are started, checks which were still resolving are dropped, and the
// results for the rest are still collected.
func (d *Dispatcher) Run(ctx context.Context, hosts []string) Summary {
	start := time.Now()

	w := d.Workers
	if w > len(hosts) {
		w = len(hosts)
	}
	if w < 1 {
		w = 1
	}

	s := Summary{
		Total:   len(hosts),
		Workers: w,
	}
	if d.Reporter != nil {
		d.Reporter.TotalHosts(s.Total, s.Workers)
	}
	d.Logger.Info().Int("hosts", s.Total).Int("workers", s.Workers).Msg("checking hosts")

	results := make(chan HostResult)
	go func() {
		defer close(results)

		var g errgroup.Group
		g.SetLimit(w)
		for _, host := range hosts {
			if ctx.Err() != nil {
				break
			}
			host := host
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				results <- d.Checker.Check(ctx, host)
				return nil
			})
		}
		g.Wait()
	}()

	sctx := context.WithoutCancel(ctx)
	for r := range results {
		if r.Verdict == Cancelled {
			s.Cancelled++
			continue
		}
		s.Checked++
		switch r.Verdict {
		case InCloudflare:
			s.InCloudflare++
		case NotInCloudflare:
			s.NotInCloudflare++
		case ResolutionFailed:
			s.ResolutionFailed++
		}

		if d.Reporter != nil {
			if r.Verdict == NotInCloudflare {
				d.Reporter.Host(r.Host)
			} else {
				d.Reporter.SkipHost(r.Host)
			}
		}

		if d.Store != nil {
			if err := d.Store.SaveResult(sctx, d.RunID, r); err != nil {
				d.Logger.Error().Err(err).Str("host", r.Host).Msg("failed to save result")
				if d.Metrics != nil {
					d.Metrics.m().results_store_errors.Inc()
				}
			}
		}
	}

	s.Duration = time.Since(start)
	s.Interrupted = s.Cancelled != 0 || (ctx.Err() != nil && s.Checked < s.Total)

	if d.Reporter != nil {
		if s.Interrupted {
			d.Reporter.Interrupted()
		} else {
			d.Reporter.Finished()
		}
	}
	d.Logger.Info().
		Int("checked", s.Checked).
		Int("in_cloudflare", s.InCloudflare).
		Int("not_in_cloudflare", s.NotInCloudflare).
		Int("resolution_failed", s.ResolutionFailed).
		Int("cancelled", s.Cancelled).
		Bool("interrupted", s.Interrupted).
		Dur("duration", s.Duration).
		Msg("finished checking hosts")
	return s
}
