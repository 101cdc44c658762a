package store

import (
	"context"
	"database/sql"
	"errors"
	"log"
)

var tuningPragmas = []string{
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA wal_autocheckpoint=1000;",
	"PRAGMA temp_store=MEMORY;",
}

// ApplySQLitePragmas applies the optional tuning statements and logs each
// result. WAL and busy_timeout are always set through the DSN.
func ApplySQLitePragmas(ctx context.Context, db *sql.DB) {
	for _, pragma := range tuningPragmas {
		if value, err := applyPragma(ctx, db, pragma); err != nil {
			log.Printf("store: pragma %s failed: %v", pragma, err)
		} else {
			log.Printf("store: pragma %s => %v", pragma, value)
		}
	}
}

func applyPragma(ctx context.Context, db *sql.DB, pragma string) (any, error) {
	row := db.QueryRowContext(ctx, pragma)
	var value any
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
				return nil, execErr
			}
			return "ok", nil
		}
		return nil, err
	}
	return value, nil
}
