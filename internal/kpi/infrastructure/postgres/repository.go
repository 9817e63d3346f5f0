package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	kpi "factory-telemetry/internal/kpi/domain"
	telemetry "factory-telemetry/internal/telemetry/domain"
)

const defaultKPITable = "kpi_data"

// Repository stores KPI records in Postgres with one JSONB column per metric.
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
	repo := &Repository{db: db, table: defaultKPITable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

const selectColumns = `
	id,
	station_id,
	ts,
	total_cycles,
	runtime_hours,
	oee,
	fty,
	otd,
	quality_score,
	throughput,
	avg_cycle_time,
	received_at`

// Append inserts a record.
func (r *Repository) Append(ctx context.Context, record kpi.Record) error {
	if r == nil || r.db == nil {
		return errors.New("kpi repo: nil db")
	}
	if record.StationID == "" {
		return kpi.ErrEmptyStationID
	}
	args := []any{
		record.ID,
		record.StationID,
		record.Timestamp.UTC(),
		record.TotalCycles,
		record.RuntimeHours,
	}
	for _, name := range kpi.MetricNames {
		encoded, err := encodeMetric(record.Metrics[name])
		if err != nil {
			return fmt.Errorf("kpi repo: encode %s: %w", name, err)
		}
		args = append(args, encoded)
	}
	args = append(args, record.ReceivedAt.UTC())

	query := fmt.Sprintf(`
INSERT INTO %s (%s
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
)`, r.table, selectColumns)
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// LatestPerStation returns the max-timestamp row of each station.
func (r *Repository) LatestPerStation(ctx context.Context) ([]kpi.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("kpi repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT DISTINCT ON (station_id) %s
FROM %s
ORDER BY station_id, ts DESC, received_at DESC`, selectColumns, r.table)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []kpi.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LatestForStation returns the max-timestamp row of one station.
func (r *Repository) LatestForStation(ctx context.Context, stationID string) (kpi.Record, error) {
	if r == nil || r.db == nil {
		return kpi.Record{}, errors.New("kpi repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE station_id = $1
ORDER BY ts DESC, received_at DESC
LIMIT 1`, selectColumns, r.table)
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, stationID))
	if errors.Is(err, sql.ErrNoRows) {
		return kpi.Record{}, kpi.ErrKPINotFound
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (kpi.Record, error) {
	var (
		rec     kpi.Record
		metrics = make([][]byte, len(kpi.MetricNames))
	)
	dest := []any{&rec.ID, &rec.StationID, &rec.Timestamp, &rec.TotalCycles, &rec.RuntimeHours}
	for i := range metrics {
		dest = append(dest, &metrics[i])
	}
	dest = append(dest, &rec.ReceivedAt)
	if err := row.Scan(dest...); err != nil {
		return kpi.Record{}, err
	}
	rec.Timestamp = rec.Timestamp.UTC()
	rec.ReceivedAt = rec.ReceivedAt.UTC()
	rec.Metrics = make(map[string]telemetry.Map, len(kpi.MetricNames))
	for i, name := range kpi.MetricNames {
		if len(metrics[i]) == 0 {
			continue
		}
		m, err := telemetry.DecodeMap(metrics[i])
		if err != nil {
			return kpi.Record{}, fmt.Errorf("kpi repo: decode %s: %w", name, err)
		}
		rec.Metrics[name] = m
	}
	return rec, nil
}

func encodeMetric(m telemetry.Map) (any, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
