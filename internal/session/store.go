// Package session persists story records and their control state in SQLite.
// The control state write is the durability boundary of the whole pipeline:
// a suspension only counts once SaveControlState has returned.
package session

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dotcommander/loom/internal/core"
)

//go:embed schema.sql
var schema string

// Store is the SQLite-backed session store. A single writer connection keeps
// SQLite's locking out of the picture.
type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening session database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying session schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Create inserts a new story record. The record's control state may be nil;
// the driver initializes it on first run.
func (s *Store) Create(ctx context.Context, rec *core.StoryRecord) error {
	genres, err := json.Marshal(rec.Genres)
	if err != nil {
		return fmt.Errorf("encoding genres: %w", err)
	}
	control, err := encodeControl(rec.Control)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stories (id, owner_id, title, prompt, genres, control_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, rec.Title, rec.Prompt, string(genres), control, now, now)
	if err != nil {
		return fmt.Errorf("inserting story %s: %w", rec.ID, err)
	}
	return nil
}

// GetRecord loads a story by id regardless of owner. Used by the driver,
// which is only ever invoked on already-authorized stories.
func (s *Store) GetRecord(ctx context.Context, storyID string) (*core.StoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, prompt, genres, control_state, created_at, updated_at
		FROM stories WHERE id = ?`, storyID)
	return scanRecord(row)
}

// GetOwned loads a story only if ownerID owns it. A mismatch is
// indistinguishable from absence, so ownership is never leaked.
func (s *Store) GetOwned(ctx context.Context, storyID, ownerID string) (*core.StoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, prompt, genres, control_state, created_at, updated_at
		FROM stories WHERE id = ? AND owner_id = ?`, storyID, ownerID)
	return scanRecord(row)
}

// ListByOwner returns the owner's stories, newest first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]*core.StoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, prompt, genres, control_state, created_at, updated_at
		FROM stories WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing stories for owner %s: %w", ownerID, err)
	}
	defer rows.Close()

	var out []*core.StoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveControlState atomically replaces the serialized control state.
func (s *Store) SaveControlState(ctx context.Context, storyID string, state *core.ControlState) error {
	control, err := encodeControl(state)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE stories SET control_state = ?, updated_at = ? WHERE id = ?`,
		control, time.Now().UTC(), storyID)
	if err != nil {
		return fmt.Errorf("saving control state for story %s: %w", storyID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("story %s: %w", storyID, core.ErrNotFound)
	}
	return nil
}

// Delete removes the owner's story record.
func (s *Store) Delete(ctx context.Context, storyID, ownerID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM stories WHERE id = ? AND owner_id = ?`, storyID, ownerID)
	if err != nil {
		return fmt.Errorf("deleting story %s: %w", storyID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("story %s: %w", storyID, core.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*core.StoryRecord, error) {
	var (
		rec     core.StoryRecord
		genres  string
		control sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.Title, &rec.Prompt, &genres,
		&control, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("story: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning story record: %w", err)
	}
	if err := json.Unmarshal([]byte(genres), &rec.Genres); err != nil {
		return nil, fmt.Errorf("decoding genres: %w", err)
	}
	if control.Valid && control.String != "" {
		rec.Control = &core.ControlState{}
		if err := json.Unmarshal([]byte(control.String), rec.Control); err != nil {
			return nil, fmt.Errorf("decoding control state: %w", err)
		}
	}
	return &rec, nil
}

func encodeControl(state *core.ControlState) (any, error) {
	if state == nil {
		return nil, nil
	}
	b, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encoding control state: %w", err)
	}
	return string(b), nil
}
