package clowdflare

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cardigann/harhar"
	"github.com/r2northstar/clowdflare/db/resultdb"
	"github.com/r2northstar/clowdflare/pkg/cloudflare"
	"github.com/r2northstar/clowdflare/pkg/resolve"
	"github.com/rs/zerolog"
)

// App checks hosts using the provided configuration.
type App struct {
	Logger   zerolog.Logger
	Reporter *Reporter
	Metrics  *Metrics

	c        *Config
	client   *http.Client
	har      *harhar.Recorder
	resolver resolve.Resolver
	geo      *geoDB
	results  *resultdb.DB
	closers  []func() error
}

// New configures a new App. If an error is returned, anything already opened
// is closed.
func New(c *Config) (a *App, err error) {
	a = &App{
		c:       c,
		Metrics: new(Metrics),
	}
	defer func() {
		if err != nil {
			a.close()
			a = nil
		}
	}()

	if a.Reporter, err = NewReporter(c.Color, c.NoColor != ""); err != nil {
		return a, fmt.Errorf("initialize reporter: %w", err)
	}
	if l, closer, err := configureLogging(c, os.Stderr, a.Reporter.Color); err != nil {
		return a, fmt.Errorf("initialize logging: %w", err)
	} else {
		a.Logger = l
		a.closers = append(a.closers, closer)
	}

	a.client = &http.Client{
		Timeout: c.HTTPTimeout,
	}
	if c.HAR != "" {
		a.har = harhar.NewRecorder()
		a.har.RoundTripper, a.client.Transport = http.DefaultTransport, a.har
	}

	if a.resolver, err = configureResolver(c); err != nil {
		return a, fmt.Errorf("initialize resolver: %w", err)
	}

	if c.IP2Location != "" {
		if a.geo, err = openGeoDB(c.IP2Location); err != nil {
			return a, fmt.Errorf("initialize ip2location: %w", err)
		}
		a.closers = append(a.closers, a.geo.Close)
	}

	if a.results, err = configureResults(c); err != nil {
		return a, fmt.Errorf("initialize result storage: %w", err)
	}
	if a.results != nil {
		a.closers = append(a.closers, a.results.Close)
	}
	return a, nil
}

func configureResolver(c *Config) (resolve.Resolver, error) {
	fam, err := resolve.ParseFamily(c.Family)
	if err != nil {
		return nil, err
	}
	var r resolve.Resolver
	if len(c.DNSServers) == 0 {
		r = &resolve.System{
			Resolver: &net.Resolver{PreferGo: true},
			Timeout:  c.Timeout,
		}
	} else {
		d, err := resolve.NewDNS(c.DNSServers, c.Timeout)
		if err != nil {
			return nil, err
		}
		r = d
	}
	return resolve.Filtered(r, fam), nil
}

func configureResults(c *Config) (*resultdb.DB, error) {
	switch typ, arg, _ := strings.Cut(c.Results, ":"); typ {
	case "", "none":
		if arg != "" {
			return nil, fmt.Errorf("none: invalid argument %q", arg)
		}
		return nil, nil
	case "sqlite3":
		p, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("sqlite3: resolve %q: %w", arg, err)
		}
		s, err := resultdb.Open(p)
		if err != nil {
			return nil, fmt.Errorf("sqlite3: %w", err)
		}
		if cur, to, err := s.Version(); err != nil {
			s.Close()
			return nil, fmt.Errorf("sqlite3: migrate: %w", err)
		} else if cur > to {
			s.Close()
			return nil, fmt.Errorf("sqlite3: migrate: database version %d is too new", cur)
		} else if cur != to {
			if err := s.MigrateUp(context.Background(), to); err != nil {
				s.Close()
				return nil, fmt.Errorf("sqlite3: migrate (%d to %d): %w", cur, to, err)
			}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown type %q", typ)
	}
}

// Ranges loads the range lists.
func (a *App) Ranges(ctx context.Context) (*cloudflare.Index, error) {
	srcs, err := a.c.Sources()
	if err != nil {
		return nil, err
	}
	l := &RangeLoader{
		Fetcher: &cloudflare.Fetcher{
			Client:    a.client,
			UserAgent: a.c.UserAgent,
			Force:     a.c.ForceDownload,
			Offline:   a.c.SkipDownload,
			Logger:    a.Logger.With().Str("component", "fetch").Logger(),
		},
		Sources:  srcs,
		Reporter: a.Reporter,
		Metrics:  a.Metrics,
		Logger:   a.Logger.With().Str("component", "ranges").Logger(),
	}
	return l.Load(ctx)
}

// Run loads the range lists, then checks hosts. An error is only returned if
// the range lists could not be loaded.
func (a *App) Run(ctx context.Context, hosts []string) (Summary, error) {
	idx, err := a.Ranges(ctx)
	if err != nil {
		return Summary{}, err
	}

	ck := &Checker{
		Resolver:  a.resolver,
		Ranges:    idx,
		FullTrace: a.c.FullTrace,
		Reporter:  a.Reporter,
		Metrics:   a.Metrics,
		Logger:    a.Logger.With().Str("component", "check").Logger(),
	}
	if a.geo != nil {
		ck.Locate = a.geo.Locate
	}

	d := &Dispatcher{
		Checker:  ck,
		Workers:  a.c.Workers(len(hosts)),
		Reporter: a.Reporter,
		RunID:    time.Now().UTC().Format("20060102T150405.000000000Z"),
		Metrics:  a.Metrics,
		Logger:   a.Logger.With().Str("component", "dispatch").Logger(),
	}
	if a.results != nil {
		d.Store = resultStore{a.results}
	}
	return d.Run(ctx, hosts), nil
}

// Close writes the HAR and metrics files if configured, then closes open
// resources.
func (a *App) Close() error {
	var errs []error
	if a.har != nil && a.c.HAR != "" {
		if _, err := a.har.WriteFile(a.c.HAR); err != nil {
			errs = append(errs, fmt.Errorf("write har: %w", err))
		}
	}
	if fn := a.c.Metrics; fn != "" {
		if err := a.writeMetrics(fn); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if err := a.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) writeMetrics(fn string) error {
	if fn == "-" {
		a.Metrics.WritePrometheus(os.Stderr)
		return nil
	}
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	a.Metrics.WritePrometheus(f)
	return f.Close()
}

// resultStore adapts a *resultdb.DB to a ResultStore.
type resultStore struct {
	db *resultdb.DB
}

func (s resultStore) SaveResult(ctx context.Context, run string, r HostResult) error {
	x := resultdb.Result{
		RunID:     run,
		Host:      r.Host,
		Verdict:   r.Verdict.String(),
		Addrs:     r.Addrs,
		Addr:      r.MatchedAddr,
		Prefix:    r.Matched,
		Country:   r.Country,
		Geohash:   r.Geohash,
		CheckedAt: time.Now(),
		Duration:  r.Duration,
	}
	if r.Err != nil {
		x.Error = r.Err.Error()
	}
	return s.db.SaveResult(ctx, x)
}
