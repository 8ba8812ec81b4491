package clowdflare

import (
	"io"
	"strings"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/r2northstar/clowdflare/pkg/cloudflare"
)

type runMetrics struct {
	set                 *metrics.Set
	hosts_checked_total struct {
		in_cloudflare     *metrics.Counter
		not_in_cloudflare *metrics.Counter
		resolution_failed *metrics.Counter
	}
	hosts_located_total      func(geohash string) *metrics.Counter
	addresses_checked_total  *metrics.Counter
	prefixes_tested_total    *metrics.Counter
	resolve_duration_seconds *metrics.Histogram
	check_duration_seconds   *metrics.Histogram
	results_store_errors     *metrics.Counter
	range_fetches_total      func(f cloudflare.Family, s cloudflare.Status) *metrics.Counter
	range_fetch_errors_total func(f cloudflare.Family) *metrics.Counter
	range_prefixes           func(f cloudflare.Family) *metrics.Counter
}

// Metrics contains the metrics for a run. The zero value is ready to use.
type Metrics struct {
	init sync.Once
	obj  runMetrics
}

func (m *Metrics) m() *runMetrics {
	m.init.Do(func() {
		mo := &m.obj
		mo.set = metrics.NewSet()
		mo.hosts_checked_total.in_cloudflare = mo.set.NewCounter(`clowdflare_hosts_checked_total{verdict="in_cloudflare"}`)
		mo.hosts_checked_total.not_in_cloudflare = mo.set.NewCounter(`clowdflare_hosts_checked_total{verdict="not_in_cloudflare"}`)
		mo.hosts_checked_total.resolution_failed = mo.set.NewCounter(`clowdflare_hosts_checked_total{verdict="resolution_failed"}`)
		mo.hosts_located_total = func(geohash string) *metrics.Counter {
			if len(geohash) > 2 {
				geohash = geohash[:2]
			}
			return mo.set.GetOrCreateCounter(metricName(`clowdflare_hosts_located_total`, "geohash", geohash))
		}
		mo.addresses_checked_total = mo.set.NewCounter(`clowdflare_addresses_checked_total`)
		mo.prefixes_tested_total = mo.set.NewCounter(`clowdflare_prefixes_tested_total`)
		mo.resolve_duration_seconds = mo.set.NewHistogram(`clowdflare_resolve_duration_seconds`)
		mo.check_duration_seconds = mo.set.NewHistogram(`clowdflare_check_duration_seconds`)
		mo.results_store_errors = mo.set.NewCounter(`clowdflare_results_store_errors_total`)
		mo.range_fetches_total = func(f cloudflare.Family, s cloudflare.Status) *metrics.Counter {
			return mo.set.GetOrCreateCounter(metricName(`clowdflare_range_fetches_total`, "family", f.String(), "status", s.String()))
		}
		mo.range_fetch_errors_total = func(f cloudflare.Family) *metrics.Counter {
			return mo.set.GetOrCreateCounter(metricName(`clowdflare_range_fetch_errors_total`, "family", f.String()))
		}
		mo.range_prefixes = func(f cloudflare.Family) *metrics.Counter {
			return mo.set.GetOrCreateCounter(metricName(`clowdflare_range_prefixes`, "family", f.String()))
		}
	})
	return &m.obj
}

func (m *Metrics) verdict(v Verdict) {
	switch v {
	case InCloudflare:
		m.m().hosts_checked_total.in_cloudflare.Inc()
	case NotInCloudflare:
		m.m().hosts_checked_total.not_in_cloudflare.Inc()
	case ResolutionFailed:
		m.m().hosts_checked_total.resolution_failed.Inc()
	}
}

// WritePrometheus writes metrics in the Prometheus text format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	m.m().set.WritePrometheus(w)
}

// metricName formats a metric name with label key/value pairs. Values must not
// contain quotes.
func metricName(base string, kv ...string) string {
	if len(kv) < 2 {
		return base
	}
	var b strings.Builder
	b.WriteString(base)
	b.WriteByte('{')
	for i := 1; i < len(kv); i += 2 {
		if i > 1 {
			b.WriteByte(',')
		}
		b.WriteString(kv[i-1])
		b.WriteString(`="`)
		b.WriteString(kv[i])
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}
