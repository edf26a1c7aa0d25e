// Package audit keeps a SQLite log of replies that could not be delivered.
// Only chat identifiers and platform error details are stored.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"callerbot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.DeliveryRecorder using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS delivery_failures (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		channel     TEXT NOT NULL,
		chat_id     TEXT NOT NULL,
		kind        TEXT NOT NULL,
		detail      TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_delivery_failures_time ON delivery_failures(created_at);
	CREATE INDEX IF NOT EXISTS idx_delivery_failures_chat ON delivery_failures(chat_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) RecordDeliveryFailure(ctx context.Context, f domain.DeliveryFailure) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_failures (channel, chat_id, kind, detail, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		f.Channel, f.ChatID, f.Kind, f.Detail, f.CreatedAt,
	)
	return err
}

// RecentFailures returns the newest failures first.
func (s *SQLiteStore) RecentFailures(ctx context.Context, limit int) ([]domain.DeliveryFailure, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel, chat_id, kind, detail, created_at
		 FROM delivery_failures ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DeliveryFailure
	for rows.Next() {
		var f domain.DeliveryFailure
		var detail sql.NullString
		if err := rows.Scan(&f.ID, &f.Channel, &f.ChatID, &f.Kind, &detail, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Detail = detail.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// CountByKind returns how many failures of the given kind are recorded for chatID.
func (s *SQLiteStore) CountByKind(ctx context.Context, chatID, kind string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delivery_failures WHERE chat_id = ? AND kind = ?`, chatID, kind,
	).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
