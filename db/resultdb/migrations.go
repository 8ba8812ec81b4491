package resultdb

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
)

type migration struct {
	Name string
	Up   func(context.Context, *sqlx.Tx) error
	Down func(context.Context, *sqlx.Tx) error
}

var migrations = map[uint64]migration{}

// migrate registers a migration. The version is the numeric prefix of the
// caller's filename (e.g., 001_init_db.go is version 1).
func migrate(up, down func(context.Context, *sqlx.Tx) error) {
	_, fn, _, ok := runtime.Caller(1)
	if !ok {
		panic("add migration: failed to get filename")
	}
	fn = path.Base(strings.ReplaceAll(fn, `\`, `/`))

	n, name, ok := strings.Cut(strings.TrimSuffix(fn, ".go"), "_")
	if !ok {
		panic("add migration: failed to parse filename")
	}
	v, err := strconv.ParseUint(n, 10, 64)
	if err != nil {
		panic("add migration: failed to parse filename: " + err.Error())
	}
	if v == 0 {
		panic("add migration: version must not be 0")
	}
	if _, exists := migrations[v]; exists {
		panic("add migration: duplicate version " + n)
	}
	migrations[v] = migration{name, up, down}
}

// Version gets the current and required database versions. It should be checked
// before using the database.
func (db *DB) Version() (current, required uint64, err error) {
	if err = db.x.Get(&current, `PRAGMA user_version`); err != nil {
		err = fmt.Errorf("get version: %w", err)
		return
	}
	for v := range migrations {
		if v > required {
			required = v
		}
	}
	return
}

// MigrateUp migrates the database to the provided version.
func (db *DB) MigrateUp(ctx context.Context, to uint64) error {
	return db.migrateTx(ctx, to, true)
}

// MigrateDown migrates the database down to the provided version, dropping
// any results stored in the removed tables.
func (db *DB) MigrateDown(ctx context.Context, to uint64) error {
	return db.migrateTx(ctx, to, false)
}

func (db *DB) migrateTx(ctx context.Context, to uint64, up bool) error {
	tx, err := db.x.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var cv uint64
	if err = tx.GetContext(ctx, &cv, `PRAGMA user_version`); err != nil {
		return fmt.Errorf("get version: %w", err)
	}

	ms, err := plan(cv, to, up)
	if err != nil {
		return err
	}
	for _, v := range ms {
		m := migrations[v]
		fn := m.Up
		if !up {
			fn = m.Down
		}
		if err := fn(ctx, tx); err != nil {
			return fmt.Errorf("migrate %d (%s): %w", v, m.Name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `PRAGMA user_version = `+strconv.FormatUint(to, 10)); err != nil {
		return fmt.Errorf("update version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// plan returns the migrations to apply, in order, to get from version cv to
// version to.
func plan(cv, to uint64, up bool) ([]uint64, error) {
	if up && to < cv {
		return nil, fmt.Errorf("target version %d is less than current version %d", to, cv)
	}
	if !up && cv < to {
		return nil, fmt.Errorf("current version %d is less than target version %d", cv, to)
	}

	var ms []uint64
	foundC, foundT := cv == 0, to == 0
	for v := range migrations {
		foundC = foundC || v == cv
		foundT = foundT || v == to
		if up && v > cv && v <= to {
			ms = append(ms, v)
		}
		if !up && v <= cv && v > to {
			ms = append(ms, v)
		}
	}
	if !foundC {
		return nil, fmt.Errorf("unsupported db version %d", cv)
	}
	if !foundT {
		return nil, fmt.Errorf("unknown db version %d", to)
	}

	sort.Slice(ms, func(i, j int) bool {
		if up {
			return ms[i] < ms[j]
		}
		return ms[i] > ms[j]
	})
	return ms, nil
}
