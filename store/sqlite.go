package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/homemade/vaultsync/sync"
)

// SQLiteStore is a single-file store for local runs.
type SQLiteStore struct {
	db           *sql.DB
	eventsTable  string
	cursorsTable string
}

// openSQLite accepts sqlite://<path>, e.g. sqlite://./vaultsync.db or sqlite://:memory:.
func openSQLite(ctx context.Context, uri string, opts Options) (Store, error) {
	path := strings.TrimPrefix(uri, "sqlite://")
	if path == "" {
		return nil, errors.New("sqlite store requires a path")
	}
	events, err := tableName(opts.Collection)
	if err != nil {
		return nil, err
	}
	cursors, err := tableName(opts.CursorCollection)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports one writer at a time; one connection also keeps :memory: databases alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, eventsTable: events, cursorsTable: cursors}
	if err := s.applySchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) applySchema(ctx context.Context) error {
	statements := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id              TEXT PRIMARY KEY,
			type            TEXT NOT NULL,
			category        TEXT NOT NULL,
			block_timestamp TEXT NOT NULL,
			document        TEXT NOT NULL,
			created_at      TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, s.eventsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_type_ts ON %[1]s (type, block_timestamp)`, s.eventsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			event_type           TEXT PRIMARY KEY,
			last_block_timestamp TEXT NOT NULL,
			run_id               TEXT NOT NULL DEFAULT '',
			updated_at           TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, s.cursorsTable),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// InsertEvents writes the batch in one transaction; INSERT OR IGNORE skips existing ids.
func (s *SQLiteStore) InsertEvents(ctx context.Context, events []sync.StoredEvent) (sync.InsertResult, error) {
	result := sync.InsertResult{Attempted: len(events)}
	if len(events) == 0 {
		return result, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT OR IGNORE INTO %s (id, type, category, block_timestamp, document) VALUES (?, ?, ?, ?, ?)`,
		s.eventsTable))
	if err != nil {
		return result, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int
	for _, e := range events {
		res, err := stmt.ExecContext(ctx, e.ID, e.Type, e.Category, string(e.BlockTimestamp), string(e.Document))
		if err != nil {
			return result, fmt.Errorf("insert event %s: %w", e.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return result, err
		}
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("commit insert: %w", err)
	}
	result.Inserted = inserted
	result.Duplicates = result.Attempted - inserted
	return result, nil
}

func (s *SQLiteStore) GetCursor(ctx context.Context, category string) (sync.Watermark, bool, error) {
	var w string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT last_block_timestamp FROM %s WHERE event_type = ?`, s.cursorsTable),
		category,
	).Scan(&w)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read cursor %s: %w", category, err)
	}
	return sync.Watermark(w), true, nil
}

func (s *SQLiteStore) SetCursor(ctx context.Context, category string, w sync.Watermark, runID string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (event_type, last_block_timestamp, run_id) VALUES (?, ?, ?)
		ON CONFLICT (event_type) DO UPDATE
		SET last_block_timestamp = excluded.last_block_timestamp,
		    run_id = excluded.run_id,
		    updated_at = CURRENT_TIMESTAMP`, s.cursorsTable),
		category, string(w), runID)
	if err != nil {
		return fmt.Errorf("upsert cursor %s: %w", category, err)
	}
	return nil
}

func (s *SQLiteStore) LatestEvents(ctx context.Context, eventType string, limit int) ([]sync.StoredEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, type, category, block_timestamp, document
		FROM %s
		WHERE type = ?
		ORDER BY length(block_timestamp) DESC, block_timestamp DESC
		LIMIT ?`, s.eventsTable), eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("query %s events: %w", eventType, err)
	}
	defer rows.Close()

	var result []sync.StoredEvent
	for rows.Next() {
		var e sync.StoredEvent
		var ts, doc string
		if err := rows.Scan(&e.ID, &e.Type, &e.Category, &ts, &doc); err != nil {
			return nil, err
		}
		e.BlockTimestamp = sync.Watermark(ts)
		e.Document = []byte(doc)
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
