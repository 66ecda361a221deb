// Package store persists review rounds in SQLite and serializes all
// mutation through an atomic per-item read-modify-write.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"content-review-bot/review"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database connection and provides review
// persistence. Apply serializes concurrent updates to the same item.
type Store struct {
	conn *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore opens the database at path and initializes the schema.
func NewStore(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{conn: conn, locks: make(map[string]*sync.Mutex)}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reviews (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		status TEXT NOT NULL,
		thread_ref TEXT NOT NULL DEFAULT '',
		selected_idx INTEGER NOT NULL DEFAULT 0,
		publish_retries INTEGER NOT NULL DEFAULT 0,
		generate_retries INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reviews_status ON reviews(status);
	CREATE INDEX IF NOT EXISTS idx_reviews_thread_ref ON reviews(thread_ref);

	CREATE TABLE IF NOT EXISTS candidates (
		review_id TEXT NOT NULL REFERENCES reviews(id),
		idx INTEGER NOT NULL,
		topic TEXT NOT NULL,
		content TEXT NOT NULL,
		angle_type TEXT NOT NULL DEFAULT '',
		quality_score REAL NOT NULL DEFAULT 0,
		uniqueness_score REAL NOT NULL DEFAULT 0,
		word_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (review_id, idx)
	);

	CREATE TABLE IF NOT EXISTS history (
		review_id TEXT NOT NULL REFERENCES reviews(id),
		seq INTEGER NOT NULL,
		entry TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (review_id, seq)
	);

	CREATE TABLE IF NOT EXISTS seen_messages (
		message_id TEXT PRIMARY KEY,
		thread_ref TEXT NOT NULL,
		seen_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS dispatches (
		review_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		dispatched_at DATETIME NOT NULL,
		PRIMARY KEY (review_id, seq)
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// Create inserts a new review round with its candidates and history.
func (s *Store) Create(ctx context.Context, item *review.Item) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO reviews (id, topic, status, thread_ref, selected_idx, publish_retries, generate_retries, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Topic, string(item.Status), item.ThreadRef,
		item.SelectedIndex, item.PublishRetries, item.GenerateRetries,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}

	for _, c := range item.Candidates {
		_, err = tx.ExecContext(ctx, `
		INSERT INTO candidates (review_id, idx, topic, content, angle_type, quality_score, uniqueness_score, word_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, c.Index, c.Topic, c.Content, c.AngleType,
			c.QualityScore, c.UniquenessScore, c.WordCount,
		)
		if err != nil {
			return fmt.Errorf("insert candidate %d: %w", c.Index, err)
		}
	}

	if err := insertHistory(ctx, tx, item.ID, 0, item.History); err != nil {
		return err
	}

	return tx.Commit()
}

// Get retrieves a review round by id, including candidates and history.
func (s *Store) Get(ctx context.Context, id string) (*review.Item, error) {
	item := &review.Item{}
	var status string
	err := s.conn.QueryRowContext(ctx, `
	SELECT id, topic, status, thread_ref, selected_idx, publish_retries, generate_retries, created_at, updated_at
	FROM reviews WHERE id = ?`, id).Scan(
		&item.ID, &item.Topic, &status, &item.ThreadRef,
		&item.SelectedIndex, &item.PublishRetries, &item.GenerateRetries,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	item.Status = review.Status(status)

	if item.Candidates, err = s.loadCandidates(ctx, id); err != nil {
		return nil, err
	}
	if item.History, err = s.loadHistory(ctx, id); err != nil {
		return nil, err
	}

	return item, nil
}

// ListOpen returns all rounds in a non-terminal status, oldest first.
func (s *Store) ListOpen(ctx context.Context) ([]*review.Item, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT id FROM reviews
	WHERE status NOT IN ('published', 'skipped', 'expired', 'superseded')
	ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items := make([]*review.Item, 0, len(ids))
	for _, id := range ids {
		item, err := s.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load review %s: %w", id, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Apply performs an atomic read-modify-write of one round. Calls for
// the same id serialize through a per-id lock, so a concurrent writer
// always observes the previous writer's result and is evaluated
// against the updated status. The mutation and its appended history
// entries are written in a single transaction.
func (s *Store) Apply(ctx context.Context, id string, fn func(*review.Item) error) (*review.Item, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	before := len(item.History)
	if err := fn(item); err != nil {
		return nil, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	UPDATE reviews SET status = ?, thread_ref = ?, selected_idx = ?, publish_retries = ?, generate_retries = ?, updated_at = ?
	WHERE id = ?`,
		string(item.Status), item.ThreadRef, item.SelectedIndex,
		item.PublishRetries, item.GenerateRetries, item.UpdatedAt, item.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update review: %w", err)
	}

	if err := insertHistory(ctx, tx, item.ID, before, item.History); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return item, nil
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

func insertHistory(ctx context.Context, tx *sql.Tx, reviewID string, from int, entries []review.HistoryEntry) error {
	for seq := from; seq < len(entries); seq++ {
		entryJSON, err := json.Marshal(entries[seq])
		if err != nil {
			return fmt.Errorf("marshal history entry: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
		INSERT INTO history (review_id, seq, entry, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
			reviewID, seq, string(entryJSON), string(entries[seq].Status), entries[seq].At,
		)
		if err != nil {
			return fmt.Errorf("insert history entry %d: %w", seq, err)
		}
	}
	return nil
}

func (s *Store) loadCandidates(ctx context.Context, id string) ([]review.Candidate, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT idx, topic, content, angle_type, quality_score, uniqueness_score, word_count
	FROM candidates WHERE review_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []review.Candidate
	for rows.Next() {
		var c review.Candidate
		if err := rows.Scan(&c.Index, &c.Topic, &c.Content, &c.AngleType,
			&c.QualityScore, &c.UniquenessScore, &c.WordCount); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

func (s *Store) loadHistory(ctx context.Context, id string) ([]review.HistoryEntry, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT entry FROM history WHERE review_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []review.HistoryEntry
	for rows.Next() {
		var entryJSON string
		if err := rows.Scan(&entryJSON); err != nil {
			return nil, err
		}
		var entry review.HistoryEntry
		if err := json.Unmarshal([]byte(entryJSON), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SeenMessage reports whether an inbound message id was already
// processed.
func (s *Store) SeenMessage(ctx context.Context, messageID string) (bool, error) {
	var dummy int
	err := s.conn.QueryRowContext(ctx,
		`SELECT 1 FROM seen_messages WHERE message_id = ?`, messageID).Scan(&dummy)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecordSeen marks an inbound message id as processed (idempotent).
func (s *Store) RecordSeen(ctx context.Context, messageID, threadRef string) error {
	_, err := s.conn.ExecContext(ctx, `
	INSERT OR IGNORE INTO seen_messages (message_id, thread_ref, seen_at)
	VALUES (?, ?, ?)`, messageID, threadRef, time.Now())
	return err
}

// WasDispatched reports whether the action for a history sequence was
// already dispatched.
func (s *Store) WasDispatched(ctx context.Context, reviewID string, seq int) (bool, error) {
	var dummy int
	err := s.conn.QueryRowContext(ctx,
		`SELECT 1 FROM dispatches WHERE review_id = ? AND seq = ?`, reviewID, seq).Scan(&dummy)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecordDispatch marks the action for a history sequence as dispatched
// (idempotent).
func (s *Store) RecordDispatch(ctx context.Context, reviewID string, seq int) error {
	_, err := s.conn.ExecContext(ctx, `
	INSERT OR IGNORE INTO dispatches (review_id, seq, dispatched_at)
	VALUES (?, ?, ?)`, reviewID, seq, time.Now())
	return err
}

// GetSetting retrieves a setting value by key.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// SetSetting stores or updates a setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
