// Package memory is the durable state of the assistant: extracted facts with
// a full-text index, conversation turns, extraction idempotency markers and
// the append-only audit table. Everything lives in one sqlite database.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// =============================================================================
// STORE
// =============================================================================

// ErrNotFound means the requested row does not exist.
var ErrNotFound = errors.New("memory: not found")

// Fact is an immutable memory row. A correction never updates in place; a
// new fact is inserted with Supersedes pointing at the old one.
type Fact struct {
	ID         int64
	Content    string
	Source     string
	Confidence float64
	Supersedes int64 // 0 when the fact supersedes nothing
	CreatedAt  time.Time
}

// Turn is one message of a conversation.
type Turn struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// AuditRow is one persisted audit entry.
type AuditRow struct {
	ID             int64
	ConversationID string
	Step           int
	Action         string
	Outcome        string
	Detail         string
	CreatedAt      time.Time
}

// Store wraps the sqlite database. Reads take the read lock, writes the
// write lock; multi-statement writes run in one transaction so readers see
// none of a batch or all of it.
type Store struct {
	mu  sync.RWMutex
	db  *sql.DB
	log *zap.Logger
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS facts (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		content    TEXT NOT NULL,
		source     TEXT NOT NULL DEFAULT 'extracted',
		confidence REAL NOT NULL DEFAULT 0.8,
		supersedes INTEGER,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS facts_fts USING fts5(
		content,
		content='facts',
		content_rowid='id'
	)`,
	`CREATE TRIGGER IF NOT EXISTS facts_ai AFTER INSERT ON facts BEGIN
		INSERT INTO facts_fts(rowid, content) VALUES (new.id, new.content);
	END`,
	`CREATE TRIGGER IF NOT EXISTS facts_ad AFTER DELETE ON facts BEGIN
		INSERT INTO facts_fts(facts_fts, rowid, content) VALUES ('delete', old.id, old.content);
	END`,
	`CREATE TRIGGER IF NOT EXISTS facts_au AFTER UPDATE ON facts BEGIN
		INSERT INTO facts_fts(facts_fts, rowid, content) VALUES ('delete', old.id, old.content);
		INSERT INTO facts_fts(rowid, content) VALUES (new.id, new.content);
	END`,
	`CREATE TABLE IF NOT EXISTS turns (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS extractions (
		turn_id    TEXT NOT NULL UNIQUE,
		fact_count INTEGER NOT NULL,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		step            INTEGER NOT NULL,
		action          TEXT NOT NULL,
		outcome         TEXT NOT NULL,
		detail          TEXT NOT NULL DEFAULT '',
		created_at      TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_conversation ON audit_log(conversation_id, step)`,
}

// Open creates or opens the database at path and applies the schema.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single connection sidesteps SQLITE_BUSY between the pool's handles.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	log.Info("memory store opened", zap.String("path", path))
	return &Store{db: db, log: log}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// =============================================================================
// FACTS
// =============================================================================

// PutFact inserts an immutable fact and returns its id.
func (s *Store) PutFact(ctx context.Context, f Fact) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertFact(ctx, s.db, f)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertFact(ctx context.Context, db execer, f Fact) (int64, error) {
	var supersedes any
	if f.Supersedes > 0 {
		supersedes = f.Supersedes
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO facts (content, source, confidence, supersedes) VALUES (?, ?, ?, ?)`,
		f.Content, f.Source, f.Confidence, supersedes)
	if err != nil {
		return 0, fmt.Errorf("insert fact: %w", err)
	}
	return res.LastInsertId()
}

// SupersedeFact records a replacement for oldID. The old row stays; ranked
// retrieval filters superseded facts out.
func (s *Store) SupersedeFact(ctx context.Context, oldID int64, f Fact) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM facts WHERE id = ?`, oldID).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("check fact %d: %w", oldID, err)
	}
	if exists == 0 {
		return 0, fmt.Errorf("%w: fact %d", ErrNotFound, oldID)
	}

	f.Supersedes = oldID
	return s.insertFact(ctx, s.db, f)
}

// DeleteFact removes a fact outright. Only the CLI uses this; the model
// corrects memory through supersession.
func (s *Store) DeleteFact(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete fact %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: fact %d", ErrNotFound, id)
	}
	return nil
}

// ListFacts returns the newest non-superseded facts.
func (s *Store) ListFacts(ctx context.Context, limit int) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, source, confidence, COALESCE(supersedes, 0), created_at
		FROM facts
		WHERE id NOT IN (SELECT supersedes FROM facts WHERE supersedes IS NOT NULL)
		ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

func scanFacts(rows *sql.Rows) ([]Fact, error) {
	var out []Fact
	for rows.Next() {
		var f Fact
		var created string
		if err := rows.Scan(&f.ID, &f.Content, &f.Source, &f.Confidence, &f.Supersedes, &created); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, f)
	}
	return out, rows.Err()
}

// =============================================================================
// TURNS
// =============================================================================

// RecordTurn persists one conversation message.
func (s *Store) RecordTurn(ctx context.Context, t Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, conversation_id, role, content) VALUES (?, ?, ?, ?)`,
		t.ID, t.ConversationID, t.Role, t.Content)
	if err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	return nil
}

// RecentTurns returns the last n turns of a conversation, oldest first.
func (s *Store) RecentTurns(ctx context.Context, conversationID string, n int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// rowid must be aliased into the derived table; the outer query cannot
	// reference it otherwise.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at FROM (
			SELECT rowid AS rid, id, conversation_id, role, content, created_at
			FROM turns WHERE conversation_id = ?
			ORDER BY created_at DESC, rid DESC LIMIT ?
		) ORDER BY created_at ASC, rid ASC`, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		var created string
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Role, &t.Content, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// EXTRACTIONS
// =============================================================================

// SaveExtraction persists the facts extracted from one turn, exactly once.
// The UNIQUE(turn_id) marker and the fact inserts share a transaction: a
// second call for the same turn returns false and writes nothing.
func (s *Store) SaveExtraction(ctx context.Context, turnID string, facts []Fact) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin extraction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO extractions (turn_id, fact_count) VALUES (?, ?) ON CONFLICT(turn_id) DO NOTHING`,
		turnID, len(facts))
	if err != nil {
		return false, fmt.Errorf("mark extraction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil // already extracted
	}

	for _, f := range facts {
		if _, err := s.insertFact(ctx, tx, f); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit extraction: %w", err)
	}
	return true, nil
}

// =============================================================================
// AUDIT TABLE
// =============================================================================

// AppendAudit adds one row to the append-only audit table.
func (s *Store) AppendAudit(ctx context.Context, r AuditRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (conversation_id, step, action, outcome, detail) VALUES (?, ?, ?, ?, ?)`,
		r.ConversationID, r.Step, r.Action, r.Outcome, r.Detail)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// AuditTail returns the newest audit rows, newest first.
func (s *Store) AuditTail(ctx context.Context, limit int) ([]AuditRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, step, action, outcome, detail, created_at
		FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit tail: %w", err)
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var r AuditRow
		var created string
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.Step, &r.Action, &r.Outcome, &r.Detail, &created); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AuditSteps returns the ordered audit rows of one conversation.
func (s *Store) AuditSteps(ctx context.Context, conversationID string) ([]AuditRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, step, action, outcome, detail, created_at
		FROM audit_log WHERE conversation_id = ? ORDER BY step ASC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("audit steps: %w", err)
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var r AuditRow
		var created string
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.Step, &r.Action, &r.Outcome, &r.Detail, &created); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats reports row counts for the status command.
func (s *Store) Stats(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64, 4)
	for _, table := range []string{"facts", "turns", "extractions", "audit_log"} {
		var n int64
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM `+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		stats[table] = n
	}
	return stats, nil
}
