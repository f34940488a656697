package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/joss/clash/internal/domain"
)

// StateKey is the fixed key of the live session record.
const StateKey = "debate_state"

// filterColumns maps Filter.Where keys to history columns.
var filterColumns = map[string]string{
	"mode":       "mode",
	"left":       "left_agent",
	"right":      "right_agent",
	"status":     "status",
	"end_reason": "end_reason",
}

// SQLite implements StateStore and HistoryStore on a single database file.
type SQLite struct {
	db     *sql.DB
	path   string
	mu     sync.RWMutex
	closed bool
}

var (
	_ Store        = (*SQLite)(nil)
	_ StateStore   = (*SQLite)(nil)
	_ HistoryStore = (*SQLite)(nil)
)

// Open opens (creating if needed) the database at path. ":memory:" is accepted for tests.
func Open(path string) (*SQLite, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = path + "?_journal=WAL&_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	s := &SQLite{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS history (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		mode TEXT NOT NULL,
		left_agent TEXT NOT NULL,
		right_agent TEXT NOT NULL,
		status TEXT NOT NULL,
		end_reason TEXT NOT NULL DEFAULT '',
		rounds INTEGER NOT NULL DEFAULT 0,
		transcript_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_created ON history(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_history_session ON history(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database location.
func (s *SQLite) Path() string { return s.path }

// Ping verifies the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Close releases the database handle. Further calls return ErrClosed.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLite) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Live state
// ─────────────────────────────────────────────────────────────────────────────

// LoadState returns the persisted session record.
func (s *SQLite) LoadState(ctx context.Context) (*domain.Session, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, StateKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("state", StateKey)
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, corrupt("state", StateKey, err)
	}
	return &sess, nil
}

// SaveState upserts the session record.
func (s *SQLite) SaveState(ctx context.Context, sess *domain.Session) error {
	if err := s.check(); err != nil {
		return err
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, StateKey, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// ClearState deletes the session record. Clearing an absent record is not an error.
func (s *SQLite) ClearState(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM state WHERE key = ?`, StateKey); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}

// StateUpdatedAt returns when the live record was last written.
func (s *SQLite) StateUpdatedAt(ctx context.Context) (time.Time, error) {
	if err := s.check(); err != nil {
		return time.Time{}, err
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT updated_at FROM state WHERE key = ?`, StateKey).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, notFound("state", StateKey)
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// Touch refreshes the heartbeat of the live record without rewriting it.
func (s *SQLite) Touch(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE state SET updated_at = ? WHERE key = ?`, time.Now().UnixMilli(), StateKey)
	return err
}

// ─────────────────────────────────────────────────────────────────────────────
// History
// ─────────────────────────────────────────────────────────────────────────────

// SaveHistory stores a finished session. Saving the same ID twice replaces it.
func (s *SQLite) SaveHistory(ctx context.Context, h domain.HistoryEntry) error {
	if err := s.check(); err != nil {
		return err
	}
	if h.ID == "" {
		return ErrInvalidID
	}

	transcript, err := json.Marshal(h.Transcript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO history (id, session_id, topic, mode, left_agent, right_agent, status, end_reason, rounds, transcript_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			end_reason = excluded.end_reason,
			rounds = excluded.rounds,
			transcript_json = excluded.transcript_json
	`, h.ID, h.SessionID, h.Topic, string(h.Mode), h.Left, h.Right, string(h.Status), string(h.EndReason),
		h.Rounds, string(transcript), h.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

// GetHistory fetches one entry by ID.
func (s *SQLite) GetHistory(ctx context.Context, id string) (*domain.HistoryEntry, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrInvalidID
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, topic, mode, left_agent, right_agent, status, end_reason, rounds, transcript_json, created_at
		FROM history WHERE id = ?
	`, id)
	h, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("history", id)
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

// ListHistory returns entries newest first.
func (s *SQLite) ListHistory(ctx context.Context, filter Filter) ([]domain.HistoryEntry, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	query := `SELECT id, session_id, topic, mode, left_agent, right_agent, status, end_reason, rounds, transcript_json, created_at FROM history`
	var (
		conds []string
		args  []any
	)
	keys := make([]string, 0, len(filter.Where))
	for k := range filter.Where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		col, ok := filterColumns[k]
		if !ok {
			return nil, fmt.Errorf("unknown history filter %q", k)
		}
		conds = append(conds, col+" = ?")
		args = append(args, filter.Where[k])
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	} else if filter.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

// DeleteHistory removes an entry.
func (s *SQLite) DeleteHistory(ctx context.Context, id string) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("history", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHistory(row scanner) (*domain.HistoryEntry, error) {
	var (
		h                                   domain.HistoryEntry
		mode, status, endReason, transcript string
		createdAt                           int64
	)
	err := row.Scan(&h.ID, &h.SessionID, &h.Topic, &mode, &h.Left, &h.Right, &status, &endReason,
		&h.Rounds, &transcript, &createdAt)
	if err != nil {
		return nil, err
	}
	h.Mode = domain.Mode(mode)
	h.Status = domain.Status(status)
	h.EndReason = domain.EndReason(endReason)
	h.CreatedAt = time.UnixMilli(createdAt).UTC()
	if err := json.Unmarshal([]byte(transcript), &h.Transcript); err != nil {
		return nil, corrupt("history", h.ID, err)
	}
	return &h, nil
}
