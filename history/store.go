// Package history keeps a local SQLite log of finished refinements.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/prepcli/prep/models"
)

// ErrNotFound is returned by Get for an unknown entry id.
var ErrNotFound = errors.New("history entry not found")

const searchLimit = 50

// Entry is one stored refinement. API keys are never part of it.
type Entry struct {
	ID             int64                          `json:"id"`
	RunID          string                         `json:"runId"`
	OriginalPrompt string                         `json:"originalPrompt"`
	RefinedPrompt  string                         `json:"refinedPrompt"`
	Provider       string                         `json:"provider"`
	Model          string                         `json:"model"`
	Template       string                         `json:"template,omitempty"`
	Rounds         int                            `json:"rounds"`
	LatencyMs      int64                          `json:"latencyMs"`
	Clarifications []models.ClarificationExchange `json:"clarifications,omitempty"`
	CreatedAt      time.Time                      `json:"createdAt"`
}

// EntryFromResult converts a finished run into a history row.
func EntryFromResult(r *models.RefinementResult) Entry {
	return Entry{
		RunID:          r.RunID,
		OriginalPrompt: r.OriginalPrompt,
		RefinedPrompt:  r.RefinedPrompt,
		Provider:       r.Provider.String(),
		Model:          r.Model,
		Template:       r.Template,
		Rounds:         r.Rounds(),
		LatencyMs:      r.LatencyMs,
		Clarifications: r.Clarifications,
		CreatedAt:      r.CreatedAt,
	}
}

type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open creates or opens the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create history directory '%s'", dir)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open history database '%s'", path)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		original_prompt TEXT NOT NULL,
		refined_prompt TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		template TEXT NOT NULL DEFAULT '',
		rounds INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		clarifications TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to create history table")
	}
	index := `CREATE INDEX IF NOT EXISTS idx_history_created_at ON history(created_at DESC)`
	if _, err := s.db.ExecContext(ctx, index); err != nil {
		return errors.Wrap(err, "failed to create history index")
	}
	return nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores an entry and returns its id.
func (s *Store) Append(ctx context.Context, e Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clarifications, err := json.Marshal(e.Clarifications)
	if err != nil {
		return 0, errors.Wrap(err, "failed to encode clarifications")
	}
	if e.Clarifications == nil {
		clarifications = []byte("[]")
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO history (run_id, original_prompt, refined_prompt, provider, model, template, rounds, latency_ms, clarifications, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.OriginalPrompt, e.RefinedPrompt, e.Provider, e.Model, e.Template,
		e.Rounds, e.LatencyMs, string(clarifications), createdAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, errors.Wrap(err, "failed to insert history entry")
	}
	return res.LastInsertId()
}

const selectColumns = `SELECT id, run_id, original_prompt, refined_prompt, provider, model, template, rounds, latency_ms, clarifications, created_at FROM history`

// List returns the most recent entries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.query(ctx, selectColumns+` ORDER BY id DESC LIMIT ?`, limit)
}

// Get returns one entry or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*Entry, error) {
	entries, err := s.query(ctx, selectColumns+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "id %d", id)
	}
	return &entries[0], nil
}

// Search matches query against original and refined prompts, case-insensitively.
func (s *Store) Search(ctx context.Context, query string) ([]Entry, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	return s.query(ctx, selectColumns+`
		WHERE original_prompt LIKE ? ESCAPE '\' OR refined_prompt LIKE ? ESCAPE '\'
		ORDER BY id DESC LIMIT ?`, pattern, pattern, searchLimit)
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count history entries")
	}
	return n, nil
}

// Clear deletes every entry and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM history`)
	if err != nil {
		return 0, errors.Wrap(err, "failed to clear history")
	}
	return res.RowsAffected()
}

// Prune keeps the newest maxEntries entries. maxEntries <= 0 disables pruning.
func (s *Store) Prune(ctx context.Context, maxEntries int) (int64, error) {
	if maxEntries <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM history WHERE id NOT IN (
			SELECT id FROM history ORDER BY id DESC LIMIT ?
		)`, maxEntries)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune history")
	}
	return res.RowsAffected()
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query history")
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e              Entry
			clarifications string
			createdAt      string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.OriginalPrompt, &e.RefinedPrompt, &e.Provider, &e.Model,
			&e.Template, &e.Rounds, &e.LatencyMs, &clarifications, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan history row")
		}
		if clarifications != "" {
			if err := json.Unmarshal([]byte(clarifications), &e.Clarifications); err != nil {
				return nil, errors.Wrapf(err, "history entry %d has invalid clarifications", e.ID)
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = t
		}
		entries = append(entries, e)
	}
	return entries, errors.Wrap(rows.Err(), "failed to read history rows")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
