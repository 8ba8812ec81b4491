// Package resultdb implements sqlite3 database storage for host check results.
package resultdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// DB stores check results in a sqlite3 database.
type DB struct {
	x *sqlx.DB
}

// Result is a stored host check result.
type Result struct {
	RunID     string
	Host      string
	Verdict   string
	Addrs     []netip.Addr
	Addr      netip.Addr   // matched address, if any
	Prefix    netip.Prefix // matched prefix, if any
	Country   string
	Geohash   string // location of Addr (or the first address), if known
	Error     string
	CheckedAt time.Time
	Duration  time.Duration
}

type resultRow struct {
	RunID      string `db:"run_id"`
	Host       string `db:"host"`
	Verdict    string `db:"verdict"`
	Addrs      string `db:"addrs"`
	Addr       string `db:"addr"`
	Prefix     string `db:"prefix"`
	Country    string `db:"country"`
	Geohash    string `db:"geohash"`
	Error      string `db:"error"`
	CheckedAt  int64  `db:"checked_at"`
	DurationUS int64  `db:"duration_us"`
}

// Open opens a DB from the provided sqlite3 uri.
func Open(name string) (*DB, error) {
	x, err := sqlx.Connect("sqlite3", (&url.URL{
		Path: name,
		RawQuery: (url.Values{
			"_journal":      {"WAL"},
			"_busy_timeout": {"6000"},
		}).Encode(),
	}).String())
	if err != nil {
		return nil, err
	}
	return &DB{x}, nil
}

func (db *DB) Close() error {
	return db.x.Close()
}

// SaveResult inserts r, replacing any existing result for the same run and
// host.
func (db *DB) SaveResult(ctx context.Context, r Result) error {
	if r.RunID == "" {
		return fmt.Errorf("save result: missing run id")
	}
	if r.Host == "" {
		return fmt.Errorf("save result: missing host")
	}
	row := resultRow{
		RunID:      r.RunID,
		Host:       r.Host,
		Verdict:    r.Verdict,
		Addrs:      joinAddrs(r.Addrs),
		Country:    r.Country,
		Geohash:    r.Geohash,
		Error:      r.Error,
		CheckedAt:  r.CheckedAt.UnixMilli(),
		DurationUS: r.Duration.Microseconds(),
	}
	if r.Addr.IsValid() {
		row.Addr = r.Addr.String()
	}
	if r.Prefix.IsValid() {
		row.Prefix = r.Prefix.String()
	}
	if _, err := db.x.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO results (run_id, host, verdict, addrs, addr, prefix, country, geohash, error, checked_at, duration_us)
		VALUES (:run_id, :host, :verdict, :addrs, :addr, :prefix, :country, :geohash, :error, :checked_at, :duration_us)
	`, row); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// Results gets all results for a run, sorted by host.
func (db *DB) Results(ctx context.Context, run string) ([]Result, error) {
	var rows []resultRow
	if err := db.x.SelectContext(ctx, &rows, `SELECT * FROM results WHERE run_id = ? ORDER BY host`, run); err != nil {
		return nil, fmt.Errorf("get results: %w", err)
	}
	rs := make([]Result, len(rows))
	for i, row := range rows {
		r, err := row.result()
		if err != nil {
			return nil, fmt.Errorf("get results: host %q: %w", row.Host, err)
		}
		rs[i] = r
	}
	return rs, nil
}

// LatestResult gets the most recent result for host.
func (db *DB) LatestResult(ctx context.Context, host string) (Result, bool, error) {
	var row resultRow
	if err := db.x.GetContext(ctx, &row, `SELECT * FROM results WHERE host = ? ORDER BY checked_at DESC LIMIT 1`, host); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{}, false, nil
		}
		return Result{}, false, fmt.Errorf("get result: %w", err)
	}
	r, err := row.result()
	if err != nil {
		return Result{}, false, fmt.Errorf("get result: %w", err)
	}
	return r, true, nil
}

func (row resultRow) result() (r Result, err error) {
	r = Result{
		RunID:     row.RunID,
		Host:      row.Host,
		Verdict:   row.Verdict,
		Country:   row.Country,
		Geohash:   row.Geohash,
		Error:     row.Error,
		CheckedAt: time.UnixMilli(row.CheckedAt),
		Duration:  time.Duration(row.DurationUS) * time.Microsecond,
	}
	if row.Addrs != "" {
		for _, s := range strings.Split(row.Addrs, ",") {
			a, err := netip.ParseAddr(s)
			if err != nil {
				return r, fmt.Errorf("parse addrs: %w", err)
			}
			r.Addrs = append(r.Addrs, a)
		}
	}
	if row.Addr != "" {
		if r.Addr, err = netip.ParseAddr(row.Addr); err != nil {
			return r, fmt.Errorf("parse addr: %w", err)
		}
	}
	if row.Prefix != "" {
		if r.Prefix, err = netip.ParsePrefix(row.Prefix); err != nil {
			return r, fmt.Errorf("parse prefix: %w", err)
		}
	}
	return r, nil
}

func joinAddrs(as []netip.Addr) string {
	var b strings.Builder
	for i, a := range as {
		if i != 0 {
			b.WriteByte(',')
		}
		b.WriteString(a.String())
	}
	return b.String()
}
