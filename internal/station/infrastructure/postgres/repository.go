package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	station "factory-telemetry/internal/station/domain"
	telemetry "factory-telemetry/internal/telemetry/domain"
)

const defaultStationTable = "station_status"

// Repository stores station snapshots in Postgres, one row per station.
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
	repo := &Repository{db: db, table: defaultStationTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

const selectColumns = `
	station_id,
	station_name,
	process_type,
	status,
	efficiency,
	temperature,
	alert_count,
	metrics,
	current_alerts,
	current_operation,
	cycle_time,
	target_cycle_time,
	production_count,
	progress,
	event_time,
	last_update`

// Get loads a snapshot by station id.
func (r *Repository) Get(ctx context.Context, stationID string) (*station.Snapshot, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("station repo: nil db")
	}
	if stationID == "" {
		return nil, station.ErrEmptyStationID
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE station_id = $1`, selectColumns, r.table)
	snap, err := scanSnapshot(r.db.QueryRowContext(ctx, query, stationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, station.ErrStationNotFound
	}
	return snap, err
}

// Save upserts a snapshot keyed by station id.
func (r *Repository) Save(ctx context.Context, s *station.Snapshot) error {
	if r == nil || r.db == nil {
		return errors.New("station repo: nil db")
	}
	if s == nil {
		return station.ErrNilSnapshot
	}
	if s.StationID == "" {
		return station.ErrEmptyStationID
	}
	metricsJSON, err := json.Marshal(nonNil(s.Metrics))
	if err != nil {
		return err
	}
	alertsJSON, err := json.Marshal(nonNil(s.CurrentAlerts))
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (%s
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
)
ON CONFLICT (station_id)
DO UPDATE SET
	station_name = EXCLUDED.station_name,
	process_type = EXCLUDED.process_type,
	status = EXCLUDED.status,
	efficiency = EXCLUDED.efficiency,
	temperature = EXCLUDED.temperature,
	alert_count = EXCLUDED.alert_count,
	metrics = EXCLUDED.metrics,
	current_alerts = EXCLUDED.current_alerts,
	current_operation = EXCLUDED.current_operation,
	cycle_time = EXCLUDED.cycle_time,
	target_cycle_time = EXCLUDED.target_cycle_time,
	production_count = EXCLUDED.production_count,
	progress = EXCLUDED.progress,
	event_time = EXCLUDED.event_time,
	last_update = EXCLUDED.last_update`, r.table, selectColumns)

	_, err = r.db.ExecContext(ctx, query,
		s.StationID,
		s.StationName,
		s.ProcessType,
		s.Status,
		nullFloat(s.Efficiency),
		nullFloat(s.Temperature),
		s.AlertCount,
		metricsJSON,
		alertsJSON,
		s.CurrentOperation,
		nullFloat(s.CycleTime),
		nullFloat(s.TargetCycleTime),
		nullInt(s.ProductionCount),
		nullFloat(s.Progress),
		nullTime(s),
		s.LastUpdate.UTC(),
	)
	return err
}

// List returns all snapshots.
func (r *Repository) List(ctx context.Context) ([]*station.Snapshot, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("station repo: nil db")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY last_update DESC`, selectColumns, r.table)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*station.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*station.Snapshot, error) {
	var (
		s               station.Snapshot
		efficiency      sql.NullFloat64
		temperature     sql.NullFloat64
		cycleTime       sql.NullFloat64
		targetCycleTime sql.NullFloat64
		productionCount sql.NullInt64
		progress        sql.NullFloat64
		eventTime       sql.NullTime
		metricsJSON     []byte
		alertsJSON      []byte
	)
	if err := row.Scan(
		&s.StationID,
		&s.StationName,
		&s.ProcessType,
		&s.Status,
		&efficiency,
		&temperature,
		&s.AlertCount,
		&metricsJSON,
		&alertsJSON,
		&s.CurrentOperation,
		&cycleTime,
		&targetCycleTime,
		&productionCount,
		&progress,
		&eventTime,
		&s.LastUpdate,
	); err != nil {
		return nil, err
	}

	s.Efficiency = floatPtr(efficiency)
	s.Temperature = floatPtr(temperature)
	s.CycleTime = floatPtr(cycleTime)
	s.TargetCycleTime = floatPtr(targetCycleTime)
	s.Progress = floatPtr(progress)
	if productionCount.Valid {
		v := productionCount.Int64
		s.ProductionCount = &v
	}
	if eventTime.Valid {
		s.EventTime = eventTime.Time.UTC()
	}
	s.LastUpdate = s.LastUpdate.UTC()

	var err error
	if s.Metrics, err = decodeMap(metricsJSON); err != nil {
		return nil, fmt.Errorf("station repo: decode metrics: %w", err)
	}
	if s.CurrentAlerts, err = decodeMap(alertsJSON); err != nil {
		return nil, fmt.Errorf("station repo: decode alerts: %w", err)
	}
	return &s, nil
}

func decodeMap(data []byte) (telemetry.Map, error) {
	if len(data) == 0 {
		return telemetry.Map{}, nil
	}
	return telemetry.DecodeMap(data)
}

func nonNil(m telemetry.Map) telemetry.Map {
	if m == nil {
		return telemetry.Map{}
	}
	return m
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(s *station.Snapshot) sql.NullTime {
	if s.EventTime.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: s.EventTime.UTC(), Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
