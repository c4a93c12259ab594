package gobtcmini

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStore persists the watchlist in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (and creates if needed) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS watchlist (
			position INTEGER NOT NULL,
			address TEXT PRIMARY KEY,
			label TEXT NOT NULL DEFAULT '',
			balance_btc REAL NOT NULL DEFAULT 0,
			quantum_risk TEXT NOT NULL,
			api_status TEXT NOT NULL,
			api_error_message TEXT,
			added_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create watchlist table: %w", err)
	}

	eventSchema := []string{
		`CREATE TABLE IF NOT EXISTS event (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			user_id TEXT,
			payload_json TEXT NOT NULL DEFAULT '{}'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_event_type ON event (event_type);`,
		`CREATE INDEX IF NOT EXISTS idx_event_ts ON event (ts);`,
	}
	for _, stmt := range eventSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create event table: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Load returns the entries in display order.
func (s *SQLiteStore) Load(ctx context.Context) ([]WatchlistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, label, balance_btc, quantum_risk, api_status, api_error_message, added_at
		FROM watchlist
		ORDER BY position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query watchlist: %w", err)
	}
	defer rows.Close()

	var entries []WatchlistEntry
	for rows.Next() {
		var (
			entry    WatchlistEntry
			risk     string
			status   string
			errMsg   sql.NullString
			addedAtN int64
		)
		if err := rows.Scan(&entry.Address, &entry.Label, &entry.BalanceBTC, &risk, &status, &errMsg, &addedAtN); err != nil {
			return nil, fmt.Errorf("scan watchlist row: %w", err)
		}
		entry.QuantumRisk = RiskLevel(risk)
		entry.APIStatus = APIStatus(status)
		if errMsg.Valid {
			msg := errMsg.String
			entry.APIErrorMessage = &msg
		}
		entry.AddedAt = time.UnixMilli(addedAtN).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watchlist: %w", err)
	}
	return entries, nil
}

// Save replaces the stored watchlist with entries in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, entries []WatchlistEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM watchlist"); err != nil {
		return fmt.Errorf("clear watchlist: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO watchlist (position, address, label, balance_btc, quantum_risk, api_status, api_error_message, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, entry := range entries {
		var errMsg sql.NullString
		if entry.APIErrorMessage != nil {
			errMsg = sql.NullString{String: *entry.APIErrorMessage, Valid: true}
		}
		_, err := stmt.ExecContext(ctx, i, entry.Address, entry.Label, entry.BalanceBTC,
			string(entry.QuantumRisk), string(entry.APIStatus), errMsg, entry.AddedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert %s: %w", entry.Address, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit watchlist: %w", err)
	}
	return nil
}

// Record appends event and returns its row id.
func (s *SQLiteStore) Record(ctx context.Context, event Event) (int64, error) {
	var userID sql.NullString
	if event.UserID != "" {
		userID = sql.NullString{String: event.UserID, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO event (ts, event_type, user_id, payload_json) VALUES (?, ?, ?, ?)`,
		event.CreatedAt.UnixMilli(), event.Type, userID, string(event.Payload))
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("event id: %w", err)
	}
	return id, nil
}

// CountsByType aggregates events per type, most frequent first.
func (s *SQLiteStore) CountsByType(ctx context.Context) ([]EventCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*) AS n
		FROM event
		GROUP BY event_type
		ORDER BY n DESC, event_type ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	counts := make([]EventCount, 0)
	for rows.Next() {
		var count EventCount
		if err := rows.Scan(&count.Type, &count.Count); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts = append(counts, count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return counts, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
