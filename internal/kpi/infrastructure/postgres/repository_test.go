package postgres_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kpi "factory-telemetry/internal/kpi/domain"
	"factory-telemetry/internal/kpi/infrastructure/postgres"
	"factory-telemetry/internal/migrations"
	telemetry "factory-telemetry/internal/telemetry/domain"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger, _ := test.NewNullLogger()
	runner, err := migrations.New(db, logger)
	require.NoError(t, err)
	require.NoError(t, runner.Up(context.Background()))
	_, err = db.Exec("DELETE FROM kpi_data")
	require.NoError(t, err)
	return db
}

func record(t *testing.T, id, stationID string, ts time.Time, oee float64) kpi.Record {
	t.Helper()
	rec, err := kpi.NewRecord(telemetry.Map{
		"station_id": telemetry.String(stationID),
		"timestamp":  telemetry.String(ts.Format(time.RFC3339)),
		"oee":        telemetry.Object(telemetry.Map{"value": telemetry.Float(oee)}),
	}, id, ts)
	require.NoError(t, err)
	return rec
}

func TestRepositoryLatest(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	repo := postgres.NewRepository(db)
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Append(ctx, record(t, "k1", "ST1", base, 70)))
	require.NoError(t, repo.Append(ctx, record(t, "k2", "ST1", base.Add(time.Minute), 80)))
	require.NoError(t, repo.Append(ctx, record(t, "k3", "ST2", base, 60)))

	latest, err := repo.LatestPerStation(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)

	one, err := repo.LatestForStation(ctx, "ST1")
	require.NoError(t, err)
	assert.Equal(t, "k2", one.ID)
	assert.InDelta(t, 80.0, one.Metrics[kpi.MetricOEE].Float("value", 0), 1e-9)
	assert.Nil(t, one.Metrics[kpi.MetricFTY])
}

func TestRepositoryLatestForStationMissing(t *testing.T) {
	db := openDB(t)
	_, err := postgres.NewRepository(db).LatestForStation(context.Background(), "ghost")
	assert.ErrorIs(t, err, kpi.ErrKPINotFound)
}
