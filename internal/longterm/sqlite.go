package longterm

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/working-memory/internal/model"
	"github.com/rcliao/working-memory/internal/store"
)

// SQLiteStore implements Store and Reader using SQLite.
type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *rand.Rand
}

// NewSQLiteStore opens or creates the long-term tables at the given path.
// It may share a database file with the working-memory entry store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id          TEXT PRIMARY KEY,
		source_id   TEXT,
		content     TEXT NOT NULL,
		session_id  TEXT,
		framework   TEXT,
		importance  REAL NOT NULL,
		confidence  REAL NOT NULL,
		tags        TEXT,
		origin      TEXT,
		meta        TEXT,
		created_at  TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_source ON memories(source_id) WHERE source_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id);
	CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// StoreMemory inserts a memory. When meta.SourceID was already stored the
// existing id is returned, which makes promotion retries safe.
func (s *SQLiteStore) StoreMemory(ctx context.Context, content string, meta Metadata) (string, error) {
	id := s.newID()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var tagsJSON *string
	if len(meta.Tags) > 0 {
		b, _ := json.Marshal(meta.Tags)
		t := string(b)
		tagsJSON = &t
	}

	var metaJSON *string
	if len(meta.Extra) > 0 {
		b, err := json.Marshal(meta.Extra)
		if err != nil {
			return "", fmt.Errorf("encode meta: %w", err)
		}
		m := string(b)
		metaJSON = &m
	}

	var sourceID *string
	if meta.SourceID != "" {
		sourceID = &meta.SourceID
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, source_id, content, session_id, framework, importance, confidence, tags, origin, meta, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_id) WHERE source_id IS NOT NULL DO NOTHING`,
		id, sourceID, content, meta.SessionID, meta.Framework, meta.Importance, meta.Confidence,
		tagsJSON, meta.Origin, metaJSON, now)
	if err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}

	if sourceID == nil {
		return id, nil
	}

	// Either our row or the one that won the conflict.
	var stored string
	err = s.db.QueryRowContext(ctx, `SELECT id FROM memories WHERE source_id = ?`, meta.SourceID).Scan(&stored)
	if err != nil {
		return "", fmt.Errorf("resolve memory for source %s: %w", meta.SourceID, err)
	}
	return stored, nil
}

const memoryColumns = `id, source_id, content, session_id, framework, importance, confidence, tags, origin, meta, created_at`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Memory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	return scanOne(row)
}

func (s *SQLiteStore) FindBySource(ctx context.Context, sourceID string) (*model.Memory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE source_id = ?`, sourceID)
	return scanOne(row)
}

func (s *SQLiteStore) List(ctx context.Context, p ListParams) ([]model.Memory, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + memoryColumns + ` FROM memories`
	var args []interface{}
	if p.SessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, p.SessionID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memories []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOne(row scanner) (*model.Memory, error) {
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMemory(row scanner) (model.Memory, error) {
	var m model.Memory
	var sourceID, session, framework, tagsJSON, origin, meta sql.NullString
	var createdAt string

	err := row.Scan(
		&m.ID, &sourceID, &m.Content, &session, &framework,
		&m.Importance, &m.Confidence, &tagsJSON, &origin, &meta, &createdAt,
	)
	if err != nil {
		return m, err
	}

	m.SourceID = sourceID.String
	m.SessionID = session.String
	m.Framework = framework.String
	m.Origin = origin.String
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &m.Tags)
	}
	if meta.Valid {
		json.Unmarshal([]byte(meta.String), &m.Meta)
	}

	return m, nil
}
