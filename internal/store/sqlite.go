package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"

	"github.com/rcliao/working-memory/internal/model"
)

// casefoldFunc is a SQL function lowering text with Go's Unicode case
// mapping. SQLite's LOWER only folds ASCII.
const casefoldFunc = "casefold"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(casefoldFunc, 1,
		func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			switch v := args[0].(type) {
			case string:
				return strings.ToLower(v), nil
			case []byte:
				return strings.ToLower(string(v)), nil
			default:
				return v, nil
			}
		})
}

// SQLiteStore implements Store using SQLite. Timestamps are stored as unix
// nanoseconds so range filters compare numerically.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := Open(dbPath)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Open opens a SQLite handle with the pragmas every store in this module
// relies on. The directory is created when missing.
func Open(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return db, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id            TEXT PRIMARY KEY,
		session_id    TEXT NOT NULL,
		framework     TEXT NOT NULL DEFAULT '',
		content       TEXT NOT NULL,
		priority      INTEGER NOT NULL,
		importance    REAL NOT NULL,
		confidence    REAL NOT NULL,
		created       INTEGER NOT NULL,
		expires       INTEGER NOT NULL,
		last_accessed INTEGER NOT NULL,
		access_count  INTEGER NOT NULL DEFAULT 0,
		tags          TEXT,
		metadata      TEXT,
		CHECK (expires >= created)
	);
	CREATE INDEX IF NOT EXISTS idx_entries_session_expires ON entries(session_id, expires);
	CREATE INDEX IF NOT EXISTS idx_entries_expires ON entries(expires);
	CREATE INDEX IF NOT EXISTS idx_entries_eviction ON entries(priority, importance, created);
	`
	_, err := s.db.Exec(schema)
	return err
}

const entryColumns = `id, session_id, framework, content, priority, importance, confidence,
	created, expires, last_accessed, access_count, tags, metadata`

func (s *SQLiteStore) Insert(ctx context.Context, e *model.Entry) error {
	if !e.Priority.Valid() {
		return storageErr("insert", fmt.Errorf("invalid priority %d", int(e.Priority)))
	}

	tagsJSON, err := encodeTags(e.Tags)
	if err != nil {
		return storageErr("insert", err)
	}
	metaJSON, err := encodeMeta(e.Metadata)
	if err != nil {
		return storageErr("insert", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries (`+entryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Framework, e.Content, int(e.Priority), e.Importance, e.Confidence,
		toNanos(e.Created), toNanos(e.Expires), toNanos(e.LastAccessed), e.AccessCount,
		tagsJSON, metaJSON)
	return storageErr("insert", err)
}

func (s *SQLiteStore) Query(ctx context.Context, f Filter, sort []SortKey, limit int) ([]model.Entry, error) {
	where, args := f.where()
	order, err := orderBy(sort)
	if err != nil {
		return nil, storageErr("query", err)
	}

	query := `SELECT ` + entryColumns + ` FROM entries` + where + order
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query", err)
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storageErr("query", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("query", err)
	}

	return entries, nil
}

func (s *SQLiteStore) BulkUpdate(ctx context.Context, ids []string, p Patch) (int, error) {
	if len(ids) == 0 || p.IsZero() {
		return 0, nil
	}

	var set []string
	var args []interface{}

	if p.AccessIncrement != 0 {
		set = append(set, "access_count = access_count + ?")
		args = append(args, p.AccessIncrement)
	}
	if p.Importance != nil {
		set = append(set, "importance = MAX(0.0, MIN(1.0, ?))")
		args = append(args, *p.Importance)
	} else if p.ImportanceBoost != 0 {
		set = append(set, "importance = MAX(0.0, MIN(1.0, importance + ?))")
		args = append(args, p.ImportanceBoost)
	}
	if p.Priority != nil {
		if !p.Priority.Valid() {
			return 0, storageErr("update", fmt.Errorf("invalid priority %d", int(*p.Priority)))
		}
		set = append(set, "priority = ?")
		args = append(args, int(*p.Priority))
	}
	if !p.LastAccessed.IsZero() {
		set = append(set, "last_accessed = ?")
		args = append(args, toNanos(p.LastAccessed))
	}
	if !p.Expires.IsZero() {
		set = append(set, "expires = MAX(created, ?)")
		args = append(args, toNanos(p.Expires))
	}
	if p.Metadata != nil {
		metaJSON, err := encodeMeta(p.Metadata)
		if err != nil {
			return 0, storageErr("update", err)
		}
		set = append(set, "metadata = ?")
		args = append(args, metaJSON)
	}

	in, inArgs := inClause(ids)
	args = append(args, inArgs...)

	res, err := s.db.ExecContext(ctx,
		`UPDATE entries SET `+strings.Join(set, ", ")+` WHERE id IN `+in, args...)
	if err != nil {
		return 0, storageErr("update", err)
	}
	n, err := res.RowsAffected()
	return int(n), storageErr("update", err)
}

func (s *SQLiteStore) BulkDelete(ctx context.Context, f Filter) (int, error) {
	if f.IsZero() {
		return 0, storageErr("delete", errUnfilteredDelete)
	}

	where, args := f.where()
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries`+where, args...)
	if err != nil {
		return 0, storageErr("delete", err)
	}
	n, err := res.RowsAffected()
	return int(n), storageErr("delete", err)
}

func (s *SQLiteStore) Count(ctx context.Context, f Filter) (int, error) {
	where, args := f.where()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`+where, args...).Scan(&n)
	if err != nil {
		return 0, storageErr("count", err)
	}
	return n, nil
}

func (s *SQLiteStore) Aggregate(ctx context.Context, f Filter) (*Aggregate, error) {
	where, args := f.where()
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, COUNT(*), AVG(created) FROM entries`+where+` GROUP BY session_id`, args...)
	if err != nil {
		return nil, storageErr("aggregate", err)
	}
	defer rows.Close()

	agg := &Aggregate{SessionCounts: map[string]int{}}
	var weighted float64
	for rows.Next() {
		var session string
		var count int
		var avg float64
		if err := rows.Scan(&session, &count, &avg); err != nil {
			return nil, storageErr("aggregate", err)
		}
		agg.SessionCounts[session] = count
		agg.Count += count
		weighted += avg * float64(count)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("aggregate", err)
	}

	if agg.Count > 0 {
		agg.MeanCreated = fromNanos(int64(weighted / float64(agg.Count)))
	}
	return agg, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (f Filter) where() (string, []interface{}) {
	var where []string
	var args []interface{}

	if len(f.IDs) > 0 {
		in, inArgs := inClause(f.IDs)
		where = append(where, "id IN "+in)
		args = append(args, inArgs...)
	}
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Framework != "" {
		where = append(where, "framework = ?")
		args = append(args, f.Framework)
	}
	if len(f.Priorities) > 0 {
		levels := make([]interface{}, len(f.Priorities))
		for i, p := range f.Priorities {
			levels[i] = int(p)
		}
		where = append(where, "priority IN "+placeholders(len(levels)))
		args = append(args, levels...)
	}
	if !f.LiveAt.IsZero() {
		where = append(where, "expires >= ?")
		args = append(args, toNanos(f.LiveAt))
	}
	if !f.ExpiresBefore.IsZero() {
		where = append(where, "expires < ?")
		args = append(args, toNanos(f.ExpiresBefore))
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created < ?")
		args = append(args, toNanos(f.CreatedBefore))
	}
	if f.ImportanceBelow != nil {
		where = append(where, "importance < ?")
		args = append(args, *f.ImportanceBelow)
	}
	if f.ImportanceAtLeast != nil {
		where = append(where, "importance >= ?")
		args = append(args, *f.ImportanceAtLeast)
	}
	if f.Text != "" {
		// Tags match per element so the query never sees JSON punctuation.
		needle := strings.ToLower(f.Text)
		where = append(where, `(instr(`+casefoldFunc+`(content), ?) > 0
			OR EXISTS (SELECT 1 FROM json_each(entries.tags) WHERE instr(`+casefoldFunc+`(json_each.value), ?) > 0))`)
		args = append(args, needle, needle)
	}
	if c := f.Promotable; c != nil {
		where = append(where, `(access_count >= ? OR importance >= ? OR priority = ?
			OR json_type(metadata, '$.`+model.MetaPromotionCandidate+`') = 'true')`)
		args = append(args, c.MinAccessCount, c.MinImportance, int(model.PriorityCritical))
	}

	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

var sortColumns = map[SortField]bool{
	SortPriority:     true,
	SortImportance:   true,
	SortCreated:      true,
	SortLastAccessed: true,
	SortExpires:      true,
	SortAccessCount:  true,
}

// orderBy renders a compound sort. The id breaks ties; ULIDs follow creation order.
func orderBy(keys []SortKey) (string, error) {
	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		if !sortColumns[k.Field] {
			return "", fmt.Errorf("unknown sort field %q", k.Field)
		}
		dir := "ASC"
		if k.Desc {
			dir = "DESC"
		}
		parts = append(parts, string(k.Field)+" "+dir)
	}
	parts = append(parts, "id ASC")
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func inClause(ids []string) (string, []interface{}) {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return placeholders(len(ids)), args
}

func placeholders(n int) string {
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (model.Entry, error) {
	var e model.Entry
	var priority int
	var created, expires, lastAccessed int64
	var tagsJSON, metaJSON sql.NullString

	err := row.Scan(
		&e.ID, &e.SessionID, &e.Framework, &e.Content, &priority, &e.Importance, &e.Confidence,
		&created, &expires, &lastAccessed, &e.AccessCount, &tagsJSON, &metaJSON,
	)
	if err != nil {
		return e, err
	}

	e.Priority = model.Priority(priority)
	e.Created = fromNanos(created)
	e.Expires = fromNanos(expires)
	e.LastAccessed = fromNanos(lastAccessed)
	if tagsJSON.Valid {
		if err := json.Unmarshal([]byte(tagsJSON.String), &e.Tags); err != nil {
			return e, fmt.Errorf("decode tags of %s: %w", e.ID, err)
		}
	}
	if metaJSON.Valid {
		if err := json.Unmarshal([]byte(metaJSON.String), &e.Metadata); err != nil {
			return e, fmt.Errorf("decode metadata of %s: %w", e.ID, err)
		}
	}

	return e, nil
}

func encodeTags(tags []string) (*string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	s := string(b)
	return &s, nil
}

func encodeMeta(meta model.Metadata) (*string, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	s := string(b)
	return &s, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
