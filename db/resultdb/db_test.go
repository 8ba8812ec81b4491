package resultdb

import (
	"context"
	"net/netip"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *DB {
	db, err := Open(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		panic(err)
	}
	t.Cleanup(func() { db.Close() })

	_, tgt, err := db.Version()
	if err != nil {
		panic(err)
	}
	if err := db.MigrateUp(context.Background(), tgt); err != nil {
		panic(err)
	}
	return db
}

func TestResults(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	t0 := time.UnixMilli(time.Now().UnixMilli())
	in := []Result{
		{
			RunID:     "run1",
			Host:      "www.goodfirms.co",
			Verdict:   "IN_CLOUDFLARE",
			Addrs:     []netip.Addr{netip.MustParseAddr("188.114.98.224"), netip.MustParseAddr("2a06:98c1:3120::1")},
			Addr:      netip.MustParseAddr("188.114.98.224"),
			Prefix:    netip.MustParsePrefix("188.114.96.0/20"),
			Country:   "NL",
			Geohash:   "u173z",
			CheckedAt: t0,
			Duration:  1500 * time.Microsecond,
		},
		{
			RunID:     "run1",
			Host:      "example.com",
			Verdict:   "NOT_IN_CLOUDFLARE",
			Addrs:     []netip.Addr{netip.MustParseAddr("93.184.216.34")},
			CheckedAt: t0,
		},
		{
			RunID:     "run1",
			Host:      "nonexistent.invalid",
			Verdict:   "RESOLUTION_FAILED",
			Error:     "resolve nonexistent.invalid: no such host",
			CheckedAt: t0,
		},
		{
			RunID:     "run2",
			Host:      "example.com",
			Verdict:   "NOT_IN_CLOUDFLARE",
			Addrs:     []netip.Addr{netip.MustParseAddr("93.184.216.34")},
			CheckedAt: t0.Add(time.Second),
		},
	}
	for _, r := range in {
		if err := db.SaveResult(ctx, r); err != nil {
			t.Fatalf("save %s/%s: %v", r.RunID, r.Host, err)
		}
	}

	t.Run("Results", func(t *testing.T) {
		rs, err := db.Results(ctx, "run1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		exp := []Result{in[1], in[2], in[0]}
		if !reflect.DeepEqual(rs, exp) {
			t.Errorf("expected %#v, got %#v", exp, rs)
		}
	})

	t.Run("Replace", func(t *testing.T) {
		r := in[1]
		r.Country = "US"
		if err := db.SaveResult(ctx, r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rs, err := db.Results(ctx, "run1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(rs) != 3 {
			t.Fatalf("expected 3 results, got %d", len(rs))
		}
		if rs[0].Host != r.Host || rs[0].Country != "US" {
			t.Errorf("expected replaced result, got %#v", rs[0])
		}
	})

	t.Run("LatestResult", func(t *testing.T) {
		r, ok, err := db.LatestResult(ctx, "EXAMPLE.COM")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			t.Fatalf("expected result")
		}
		if r.RunID != "run2" {
			t.Errorf("expected latest result from run2, got %q", r.RunID)
		}
		if _, ok, err := db.LatestResult(ctx, "missing.example"); err != nil || ok {
			t.Errorf("expected no result, got ok=%t err=%v", ok, err)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		if err := db.SaveResult(ctx, Result{Host: "example.com"}); err == nil {
			t.Errorf("expected error for missing run id")
		}
		if err := db.SaveResult(ctx, Result{RunID: "run1"}); err == nil {
			t.Errorf("expected error for missing host")
		}
	})
}
