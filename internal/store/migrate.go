package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/you/recurse-review/internal/core"
)

const (
	nameIndex = "recursers_uq_name"
	slugIndex = "recursers_ix_slug"
)

type sqliteColumn struct {
	Name        string
	Type        string
	NotNull     bool
	DefaultText string
}

// columns added to tables written by older deployments, in order
var requiredColumns = []struct {
	name string
	def  string
}{
	{"profile_picture_url", "TEXT"},
	{"zulip_messages", "INTEGER NOT NULL DEFAULT 0"},
	{"zulip_messages_updated_at", "TEXT"},
	{"journey", "TEXT NOT NULL DEFAULT ''"},
	{"journey_updated_at", "TEXT"},
	{"created_at", "TEXT NOT NULL DEFAULT ''"},
	{"slug", "TEXT NOT NULL DEFAULT ''"},
}

// Migrate brings an existing recursers table up to the current shape. It adds
// missing columns, fills NULLs the readers cannot use, and adds the unique
// index on name unless duplicate names already exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	path := sqlitePath(ctx, db)
	columns, err := sqliteTableInfo(ctx, db, "recursers")
	if err != nil {
		return fmt.Errorf("sqlite: describe recursers: %w", err)
	}
	if len(columns) == 0 {
		log.Printf("store: sqlite: path=%s recursers table missing; skipping migration", path)
		return nil
	}

	var added []string
	for _, col := range requiredColumns {
		if _, ok := columns[col.name]; ok {
			continue
		}
		stmt := fmt.Sprintf(`ALTER TABLE recursers ADD COLUMN %s %s;`, col.name, col.def)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: add column %s: %w", col.name, err)
		}
		added = append(added, col.name)
	}
	if len(added) > 0 {
		log.Printf("store: sqlite: added columns %s", strings.Join(added, ","))
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	normalize := []struct {
		query string
		args  []any
		label string
	}{
		{`UPDATE recursers SET journey='' WHERE journey IS NULL;`, nil, "journey"},
		{`UPDATE recursers SET zulip_messages=0 WHERE zulip_messages IS NULL;`, nil, "zulip_messages"},
		{`UPDATE recursers SET created_at=COALESCE(NULLIF(zulip_messages_updated_at, ''), ?) WHERE created_at IS NULL OR created_at='';`, []any{now}, "created_at"},
	}
	for _, step := range normalize {
		res, execErr := db.ExecContext(ctx, step.query, step.args...)
		if execErr != nil {
			return fmt.Errorf("sqlite: normalize %s: %w", step.label, execErr)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			log.Printf("store: sqlite: normalized %s rows=%d", step.label, n)
		}
	}

	if n, err := backfillSlugs(ctx, db); err != nil {
		return fmt.Errorf("sqlite: backfill slugs: %w", err)
	} else if n > 0 {
		log.Printf("store: sqlite: backfilled slug rows=%d", n)
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS `+slugIndex+` ON recursers(slug);`); err != nil {
		return fmt.Errorf("sqlite: ensure %s: %w", slugIndex, err)
	}

	var dupes int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM (SELECT name FROM recursers GROUP BY name HAVING COUNT(*) > 1);`).Scan(&dupes); err != nil {
		return fmt.Errorf("sqlite: count duplicate names: %w", err)
	}
	if dupes > 0 {
		log.Printf("store: sqlite: %d duplicated names; not creating %s", dupes, nameIndex)
	} else if _, err := db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS `+nameIndex+` ON recursers(name);`); err != nil {
		return fmt.Errorf("sqlite: ensure %s: %w", nameIndex, err)
	}

	hasIndex, err := sqliteHasIndex(ctx, db, "recursers", nameIndex)
	if err != nil {
		return fmt.Errorf("sqlite: inspect indices: %w", err)
	}
	var rows int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recursers;`).Scan(&rows); err != nil {
		return fmt.Errorf("sqlite: count recursers: %w", err)
	}
	log.Printf("store: sqlite: path=%s recursers=%d %s=%v", path, rows, nameIndex, hasIndex)
	return nil
}

// backfillSlugs derives the slug column for rows that predate it.
func backfillSlugs(ctx context.Context, db *sql.DB) (int, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name FROM recursers WHERE slug IS NULL OR slug = '';`)
	if err != nil {
		return 0, err
	}
	type pending struct{ id, slug string }
	var todo []pending
	for rows.Next() {
		var (
			id   string
			name sql.NullString
		)
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return 0, err
		}
		if slug := core.Slug(name.String); slug != "" {
			todo = append(todo, pending{id: id, slug: slug})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, p := range todo {
		if _, err := db.ExecContext(ctx, `UPDATE recursers SET slug = ? WHERE id = ?;`, p.slug, p.id); err != nil {
			return 0, err
		}
	}
	return len(todo), nil
}

func sqlitePath(ctx context.Context, db *sql.DB) string {
	rows, err := db.QueryContext(ctx, `PRAGMA database_list;`)
	if err != nil {
		return "(unknown)"
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq  int
			name string
			file sql.NullString
		)
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return "(unknown)"
		}
		if strings.EqualFold(strings.TrimSpace(name), "main") {
			if file.Valid && strings.TrimSpace(file.String) != "" {
				return file.String
			}
			return "(memory)"
		}
	}
	return "(unknown)"
}

func sqliteTableInfo(ctx context.Context, db *sql.DB, table string) (map[string]sqliteColumn, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s);`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]sqliteColumn)
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		out[strings.ToLower(strings.TrimSpace(name))] = sqliteColumn{
			Name:        name,
			Type:        strings.TrimSpace(colType),
			NotNull:     notNull == 1,
			DefaultText: strings.TrimSpace(defaultVal.String),
		}
	}
	return out, rows.Err()
}

func sqliteHasIndex(ctx context.Context, db *sql.DB, table, index string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_list('%s');`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return false, err
		}
		if strings.EqualFold(strings.TrimSpace(name), index) {
			return true, nil
		}
	}
	return false, rows.Err()
}
