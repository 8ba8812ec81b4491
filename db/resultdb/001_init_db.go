package resultdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

func init() {
	migrate(up001, down001)
}

func up001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, strings.ReplaceAll(`
		CREATE TABLE results (
			run_id      TEXT    NOT NULL,
			host        TEXT    NOT NULL COLLATE NOCASE,
			verdict     TEXT    NOT NULL,
			addrs       TEXT    NOT NULL,
			addr        TEXT    NOT NULL,
			prefix      TEXT    NOT NULL,
			country     TEXT    NOT NULL,
			error       TEXT    NOT NULL,
			checked_at  INTEGER NOT NULL,
			duration_us INTEGER NOT NULL,
			PRIMARY KEY (run_id, host)
		) STRICT;
	`, `
		`, "\n")); err != nil {
		return fmt.Errorf("create results table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `CREATE INDEX results_host_idx ON results(host, checked_at)`); err != nil {
		return fmt.Errorf("create results index: %w", err)
	}
	return nil
}

func down001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `DROP INDEX results_host_idx`); err != nil {
		return fmt.Errorf("drop results index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE results`); err != nil {
		return fmt.Errorf("drop results table: %w", err)
	}
	return nil
}
