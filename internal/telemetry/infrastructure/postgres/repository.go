package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	telemetry "factory-telemetry/internal/telemetry/domain"
)

const defaultRawTable = "telemetry_raw"

// Repository stores canonical records as JSONB rows.
type Repository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*Repository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *Repository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewRepository constructs a repository.
func NewRepository(db *sql.DB, opts ...RepositoryOption) *Repository {
	repo := &Repository{db: db, table: defaultRawTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Append inserts a record.
func (r *Repository) Append(ctx context.Context, record telemetry.Record) error {
	if r == nil || r.db == nil {
		return errors.New("telemetry repo: nil db")
	}
	payload, err := json.Marshal(record.Payload())
	if err != nil {
		return fmt.Errorf("telemetry repo: encode payload: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (station_id, ts, received_at, topic, payload)
VALUES ($1, $2, $3, $4, $5)`, r.table)
	_, err = r.db.ExecContext(ctx, query,
		record.StationID,
		record.Timestamp.UTC(),
		record.ReceivedAt.UTC(),
		record.Topic,
		payload,
	)
	return err
}

// LatestPerStation returns the max-timestamp row of each station.
func (r *Repository) LatestPerStation(ctx context.Context) ([]telemetry.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("telemetry repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT DISTINCT ON (station_id) received_at, topic, payload
FROM %s
ORDER BY station_id, ts DESC, id DESC`, r.table)
	return r.query(ctx, query)
}

// Recent returns up to limit rows, newest first by receipt.
func (r *Repository) Recent(ctx context.Context, limit int) ([]telemetry.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("telemetry repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT received_at, topic, payload
FROM %s
ORDER BY received_at DESC, id DESC
LIMIT $1`, r.table)
	return r.query(ctx, query, limit)
}

// Count returns the number of stored rows.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("telemetry repo: nil db")
	}
	var n int64
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, r.table)).Scan(&n)
	return n, err
}

// CountSince counts rows received at or after since.
func (r *Repository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("telemetry repo: nil db")
	}
	var n int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE received_at >= $1`, r.table)
	err := r.db.QueryRowContext(ctx, query, since.UTC()).Scan(&n)
	return n, err
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]telemetry.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []telemetry.Record
	for rows.Next() {
		var (
			receivedAt time.Time
			topic      sql.NullString
			payload    []byte
		)
		if err := rows.Scan(&receivedAt, &topic, &payload); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(payload, receivedAt)
		if err != nil {
			return nil, err
		}
		rec.Topic = topic.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func decodeRecord(payload []byte, receivedAt time.Time) (telemetry.Record, error) {
	raw, err := telemetry.DecodeMap(payload)
	if err != nil {
		return telemetry.Record{}, fmt.Errorf("telemetry repo: decode payload: %w", err)
	}
	rec, err := telemetry.Normalize(raw, receivedAt)
	if err != nil {
		return telemetry.Record{}, err
	}
	rec.ReceivedAt = receivedAt.UTC()
	return rec, nil
}
