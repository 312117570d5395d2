package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/homemade/vaultsync/sync"
)

// PostgresStore keeps event documents as JSONB rows keyed by id.
type PostgresStore struct {
	pool         *pgxpool.Pool
	eventsTable  string
	cursorsTable string
}

func openPostgres(ctx context.Context, uri string, opts Options) (Store, error) {
	events, err := tableName(opts.Collection)
	if err != nil {
		return nil, err
	}
	cursors, err := tableName(opts.CursorCollection)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	s := &PostgresStore{pool: pool, eventsTable: events, cursorsTable: cursors}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the tables if needed. Safe to run multiple times.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id              TEXT PRIMARY KEY,
	type            TEXT NOT NULL,
	category        TEXT NOT NULL,
	block_timestamp TEXT NOT NULL,
	document        JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS %[1]s_type_ts ON %[1]s (type, block_timestamp DESC);
CREATE TABLE IF NOT EXISTS %[2]s (
	event_type           TEXT PRIMARY KEY,
	last_block_timestamp TEXT NOT NULL,
	run_id               TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);`, s.eventsTable, s.cursorsTable)
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

// InsertEvents writes the batch in one statement; ON CONFLICT DO NOTHING
// turns existing ids into duplicates instead of errors.
func (s *PostgresStore) InsertEvents(ctx context.Context, events []sync.StoredEvent) (sync.InsertResult, error) {
	result := sync.InsertResult{Attempted: len(events)}
	if len(events) == 0 {
		return result, nil
	}
	ids := make([]string, len(events))
	types := make([]string, len(events))
	categories := make([]string, len(events))
	timestamps := make([]string, len(events))
	docs := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
		types[i] = e.Type
		categories[i] = e.Category
		timestamps[i] = string(e.BlockTimestamp)
		docs[i] = string(e.Document)
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, type, category, block_timestamp, document)
		SELECT id, type, category, ts, doc::jsonb
		FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::text[]) AS t(id, type, category, ts, doc)
		ON CONFLICT (id) DO NOTHING
	`, s.eventsTable), ids, types, categories, timestamps, docs)
	if err != nil {
		return result, fmt.Errorf("insert events: %w", err)
	}
	result.Inserted = int(tag.RowsAffected())
	result.Duplicates = result.Attempted - result.Inserted
	return result, nil
}

func (s *PostgresStore) GetCursor(ctx context.Context, category string) (sync.Watermark, bool, error) {
	var w string
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT last_block_timestamp FROM %s WHERE event_type = $1`, s.cursorsTable),
		category,
	).Scan(&w)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read cursor %s: %w", category, err)
	}
	return sync.Watermark(w), true, nil
}

func (s *PostgresStore) SetCursor(ctx context.Context, category string, w sync.Watermark, runID string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (event_type, last_block_timestamp, run_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_type) DO UPDATE
		SET last_block_timestamp = EXCLUDED.last_block_timestamp,
		    run_id = EXCLUDED.run_id,
		    updated_at = now()
	`, s.cursorsTable), category, string(w), runID)
	if err != nil {
		return fmt.Errorf("upsert cursor %s: %w", category, err)
	}
	return nil
}

func (s *PostgresStore) LatestEvents(ctx context.Context, eventType string, limit int) ([]sync.StoredEvent, error) {
	query := fmt.Sprintf(`
		SELECT id, type, category, block_timestamp, document::text
		FROM %s
		WHERE type = $1
		ORDER BY length(block_timestamp) DESC, block_timestamp DESC`, s.eventsTable)
	args := []any{eventType}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}
