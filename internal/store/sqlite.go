// Package store persists Person Records in SQLite.
package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/you/recurse-review/internal/core"
	"github.com/you/recurse-review/internal/httpapi"
)

const schema = `CREATE TABLE IF NOT EXISTS recursers (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  profile_picture_url TEXT,
  zulip_messages INTEGER NOT NULL DEFAULT 0,
  zulip_messages_updated_at TEXT,
  journey TEXT NOT NULL DEFAULT '',
  journey_updated_at TEXT,
  created_at TEXT NOT NULL DEFAULT '',
  slug TEXT NOT NULL DEFAULT ''
);`

// busy_timeout lets concurrent writers wait for the lock instead of failing
// with SQLITE_BUSY.
const connectionPragmas = `_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)`

const personColumns = `id, name, profile_picture_url, zulip_messages, zulip_messages_updated_at, journey, journey_updated_at, created_at`

type Options struct {
	// Tuning applies the optional performance pragmas.
	Tuning bool
}

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func OpenSQLite(path string, opts Options) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	ctx := context.Background()
	if opts.Tuning {
		ApplySQLitePragmas(ctx, db)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// sqliteDSN attaches the per-connection pragmas. database/sql opens
// connections lazily, so a one-off PRAGMA would only reach one of them.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + connectionPragmas
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping() error { return s.db.Ping() }

func (s *SQLiteStore) String() string {
	return fmt.Sprintf("SQLiteStore{%p}", s.db)
}

func (s *SQLiteStore) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// UpsertPersonMessageData records the latest fetch for name and returns the
// person id, creating the row with an empty journey on first sight. An empty
// avatarURL leaves a previously stored avatar in place.
func (s *SQLiteStore) UpsertPersonMessageData(ctx context.Context, name string, messageCount int, avatarURL string) (string, error) {
	const op = "upsert person"
	now := s.stamp()

	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM recursers WHERE name = ?;`, name).Scan(&id)
	switch {
	case err == nil:
		const q = `UPDATE recursers
SET zulip_messages = ?, zulip_messages_updated_at = ?, profile_picture_url = COALESCE(?, profile_picture_url)
WHERE id = ?;`
		if _, err := s.db.ExecContext(ctx, q, messageCount, now, nullable(avatarURL), id); err != nil {
			return "", core.EP(core.KindRepository, op, name, errors.Wrap(err, "update message data"))
		}
		return id, nil
	case stderrors.Is(err, sql.ErrNoRows):
		id = uuid.NewString()
		const q = `INSERT INTO recursers (id, name, zulip_messages, zulip_messages_updated_at, created_at, profile_picture_url, journey, slug)
VALUES (?, ?, ?, ?, ?, ?, '', ?);`
		if _, err := s.db.ExecContext(ctx, q, id, name, messageCount, now, now, nullable(avatarURL), core.Slug(name)); err != nil {
			return "", core.EP(core.KindRepository, op, name, errors.Wrap(err, "insert person"))
		}
		return id, nil
	default:
		return "", core.EP(core.KindRepository, op, name, errors.Wrap(err, "lookup person"))
	}
}

// UpdatePersonJourney replaces the journey of an existing person. An unknown id
// is reported as core.ErrNotFound.
func (s *SQLiteStore) UpdatePersonJourney(ctx context.Context, personID, payload string) error {
	const op = "update journey"
	res, err := s.db.ExecContext(ctx, `UPDATE recursers SET journey = ?, journey_updated_at = ? WHERE id = ?;`,
		payload, s.stamp(), personID)
	if err != nil {
		return core.E(core.KindRepository, op, errors.Wrap(err, "update journey"))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.E(core.KindRepository, op, errors.Wrap(err, "rows affected"))
	}
	if n == 0 {
		return core.E(core.KindRepository, op, fmt.Errorf("person id %s: %w", personID, core.ErrNotFound))
	}
	return nil
}

// UpdateJourneyByName replaces the journey of the person called name and
// returns the updated record.
func (s *SQLiteStore) UpdateJourneyByName(ctx context.Context, name, payload string) (core.Person, error) {
	const op = "update journey"
	q := `UPDATE recursers SET journey = ?, journey_updated_at = ? WHERE name = ? RETURNING ` + personColumns + `;`
	p, err := s.scanPerson(s.db.QueryRowContext(ctx, q, payload, s.stamp(), name))
	if stderrors.Is(err, sql.ErrNoRows) {
		return core.Person{}, core.EP(core.KindRepository, op, name, core.ErrNotFound)
	}
	if err != nil {
		return core.Person{}, core.EP(core.KindRepository, op, name, errors.Wrap(err, "update journey by name"))
	}
	return p, nil
}

// GetPersonByName returns nil when no row matches.
func (s *SQLiteStore) GetPersonByName(ctx context.Context, name string) (*core.Person, error) {
	q := `SELECT ` + personColumns + ` FROM recursers WHERE name = ?;`
	p, err := s.scanPerson(s.db.QueryRowContext(ctx, q, name))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, core.EP(core.KindRepository, "get person", name, errors.Wrap(err, "select person"))
	}
	return &p, nil
}

// GetPersonByID returns nil when no row matches.
func (s *SQLiteStore) GetPersonByID(ctx context.Context, id string) (*core.Person, error) {
	q := `SELECT ` + personColumns + ` FROM recursers WHERE id = ?;`
	p, err := s.scanPerson(s.db.QueryRowContext(ctx, q, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, core.E(core.KindRepository, "get person", errors.Wrap(err, "select person by id"))
	}
	return &p, nil
}

// GetPersonBySlug resolves a URL slug against stored names. It returns nil when
// no name produces slug. Rows written without a slug are matched on name.
func (s *SQLiteStore) GetPersonBySlug(ctx context.Context, slug string) (*core.Person, error) {
	const op = "get person by slug"
	slug = core.Slug(slug)
	if slug == "" {
		return nil, nil
	}
	q := `SELECT ` + personColumns + ` FROM recursers WHERE slug = ? OR slug = '' ORDER BY created_at ASC, rowid ASC;`
	rows, err := s.db.QueryContext(ctx, q, slug)
	if err != nil {
		return nil, core.E(core.KindRepository, op, errors.Wrap(err, "select by slug"))
	}
	defer rows.Close()

	for rows.Next() {
		p, err := s.scanPerson(rows)
		if err != nil {
			return nil, core.E(core.KindRepository, op, errors.Wrap(err, "scan person"))
		}
		if p.Slug() == slug {
			return &p, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, core.E(core.KindRepository, op, errors.Wrap(err, "iterate persons"))
	}
	return nil, nil
}

// GetAllPersons lists every person, newest first.
func (s *SQLiteStore) GetAllPersons(ctx context.Context) ([]core.Person, error) {
	return s.ListPersons(ctx, httpapi.Filters{Order: httpapi.OrderDesc})
}

func (s *SQLiteStore) CountPersons(ctx context.Context, filters httpapi.Filters) (int64, error) {
	query, args := buildPersonQuery(filters, true)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, core.E(core.KindRepository, "count persons", errors.Wrap(err, "count"))
	}
	return n, nil
}

func (s *SQLiteStore) ListPersons(ctx context.Context, filters httpapi.Filters) ([]core.Person, error) {
	const op = "list persons"
	query, args := buildPersonQuery(filters, false)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.E(core.KindRepository, op, errors.Wrap(err, "list persons"))
	}
	defer rows.Close()

	out := []core.Person{}
	for rows.Next() {
		p, err := s.scanPerson(rows)
		if err != nil {
			return nil, core.E(core.KindRepository, op, errors.Wrap(err, "scan person"))
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, core.E(core.KindRepository, op, errors.Wrap(err, "iterate persons"))
	}
	return out, nil
}

func buildPersonQuery(filters httpapi.Filters, count bool) (string, []any) {
	var builder strings.Builder
	if count {
		builder.WriteString("SELECT COUNT(*) FROM recursers")
	} else {
		builder.WriteString("SELECT " + personColumns + " FROM recursers")
	}

	var (
		conditions []string
		args       []any
	)

	if len(filters.Names) > 0 {
		ors := make([]string, 0, len(filters.Names))
		for _, n := range filters.Names {
			ors = append(ors, "LOWER(name) LIKE '%' || ? || '%'")
			args = append(args, strings.ToLower(n))
		}
		conditions = append(conditions, fmt.Sprintf("(%s)", strings.Join(ors, " OR ")))
	}

	if filters.HasJourney != nil {
		if *filters.HasJourney {
			conditions = append(conditions, "TRIM(COALESCE(journey, '')) != ''")
		} else {
			conditions = append(conditions, "TRIM(COALESCE(journey, '')) = ''")
		}
	}

	if filters.Since != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filters.Since.UTC().Format(time.RFC3339Nano))
	}

	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	if !count {
		order := "DESC"
		if filters.Order == httpapi.OrderAsc {
			order = "ASC"
		}
		builder.WriteString(" ORDER BY created_at " + order + ", rowid " + order)
		if filters.Limit > 0 {
			builder.WriteString(" LIMIT ?")
			args = append(args, filters.Limit)
		}
	}

	builder.WriteString(";")
	return builder.String(), args
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
