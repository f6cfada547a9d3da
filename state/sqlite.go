/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package state

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteTracker persists thread state in SQLite so duplicate deliveries are
// suppressed across restarts. The connection pool is held at a single
// connection, so transactions serialize and the CAS observes no torn state.
type SQLiteTracker struct {
	db *sql.DB
}

var _ Tracker = (*SQLiteTracker)(nil)

// OpenSQLite opens (creating if needed) the tracker database at path and
// applies any pending migrations.
func OpenSQLite(path string) (*SQLiteTracker, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single writer; SQLite serializes anyway and this keeps the CAS honest.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteTracker) Close() error {
	return s.db.Close()
}

func applyMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Get implements Tracker.
func (s *SQLiteTracker) Get(ctx context.Context, repo string, number int) (Thread, bool, error) {
	var th Thread
	var posted int
	var conversation string
	err := s.db.QueryRowContext(ctx, `
		SELECT phase, initial_comment_posted, last_reviewed_revision, conversation, updated_at
		FROM threads WHERE repo = ? AND number = ?`, repo, number).
		Scan(&th.Phase, &posted, &th.LastReviewedRevision, &conversation, &th.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Thread{}, false, nil
	}
	if err != nil {
		return Thread{}, false, fmt.Errorf("querying thread %s#%d: %w", repo, number, err)
	}

	th.Repo = repo
	th.Number = number
	th.InitialCommentPosted = posted != 0
	if err := json.Unmarshal([]byte(conversation), &th.Conversation); err != nil {
		return Thread{}, false, fmt.Errorf("decoding conversation for %s#%d: %w", repo, number, err)
	}
	return th, true, nil
}

// CompareAndSetPhase implements Tracker.
func (s *SQLiteTracker) CompareAndSetPhase(ctx context.Context, repo string, number int, expected, next Phase) (won bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var current Phase
	err = tx.QueryRowContext(ctx,
		`SELECT phase FROM threads WHERE repo = ? AND number = ?`, repo, number).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if expected != PhaseNew {
			return false, tx.Rollback()
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO threads (repo, number, phase, updated_at) VALUES (?, ?, ?, ?)`,
			repo, number, next, time.Now().UTC()); err != nil {
			return false, fmt.Errorf("inserting thread %s#%d: %w", repo, number, err)
		}
	case err != nil:
		return false, fmt.Errorf("reading phase for %s#%d: %w", repo, number, err)
	case current != expected:
		return false, tx.Rollback()
	default:
		if _, err = tx.ExecContext(ctx, `
			UPDATE threads SET phase = ?, updated_at = ? WHERE repo = ? AND number = ?`,
			next, time.Now().UTC(), repo, number); err != nil {
			return false, fmt.Errorf("updating phase for %s#%d: %w", repo, number, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("committing phase transition for %s#%d: %w", repo, number, err)
	}
	return true, nil
}

// MarkCommented implements Tracker.
func (s *SQLiteTracker) MarkCommented(ctx context.Context, repo string, number int, revision string, ex Exchange) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var prevRevision, conversation string
	err = tx.QueryRowContext(ctx,
		`SELECT last_reviewed_revision, conversation FROM threads WHERE repo = ? AND number = ?`,
		repo, number).Scan(&prevRevision, &conversation)

	var conv []Exchange
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Re-review on a thread the tracker never saw; recreate it.
		conv = appendBounded(nil, ex)
		encoded, jsonErr := json.Marshal(conv)
		if jsonErr != nil {
			return fmt.Errorf("encoding conversation: %w", jsonErr)
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO threads (repo, number, phase, initial_comment_posted, last_reviewed_revision, conversation, updated_at)
			VALUES (?, ?, ?, 1, ?, ?, ?)`,
			repo, number, PhaseReviewed, revision, string(encoded), time.Now().UTC()); err != nil {
			return fmt.Errorf("inserting thread %s#%d: %w", repo, number, err)
		}
	case err != nil:
		return fmt.Errorf("reading thread %s#%d: %w", repo, number, err)
	default:
		if err = json.Unmarshal([]byte(conversation), &conv); err != nil {
			return fmt.Errorf("decoding conversation for %s#%d: %w", repo, number, err)
		}
		conv = appendBounded(conv, ex)
		encoded, jsonErr := json.Marshal(conv)
		if jsonErr != nil {
			return fmt.Errorf("encoding conversation: %w", jsonErr)
		}
		if revision == "" {
			revision = prevRevision
		}
		if _, err = tx.ExecContext(ctx, `
			UPDATE threads
			SET initial_comment_posted = 1, last_reviewed_revision = ?, conversation = ?, updated_at = ?
			WHERE repo = ? AND number = ?`,
			revision, string(encoded), time.Now().UTC(), repo, number); err != nil {
			return fmt.Errorf("updating thread %s#%d: %w", repo, number, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing comment record for %s#%d: %w", repo, number, err)
	}
	return nil
}

// SweepClosed implements Tracker.
func (s *SQLiteTracker) SweepClosed(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-retention)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM threads WHERE phase IN (?, ?) AND updated_at < ?`,
		PhaseClosed, PhaseClosedAsChatter, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweeping closed threads: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting swept threads: %w", err)
	}
	return int(n), nil
}

// RecordEvent appends to the audit log of opened subjects. Audit rows are
// informational only and never consulted by the orchestrator.
func (s *SQLiteTracker) RecordEvent(ctx context.Context, kind, repo string, number int, title, author string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (kind, repo, number, title, author, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		kind, repo, number, title, author, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording %s event for %s#%d: %w", kind, repo, number, err)
	}
	return nil
}
