package resultdb

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

func init() {
	migrate(up002, down002)
}

func up002(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `ALTER TABLE results ADD COLUMN geohash TEXT NOT NULL DEFAULT ''`); err != nil {
		return fmt.Errorf("add geohash column: %w", err)
	}
	return nil
}

func down002(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `ALTER TABLE results DROP COLUMN geohash`); err != nil {
		return fmt.Errorf("drop geohash column: %w", err)
	}
	return nil
}
