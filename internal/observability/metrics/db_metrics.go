package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const dbGaugeTimeout = 2 * time.Second

var dbGauges = []struct {
	name  string
	help  string
	query string
}{
	{"stations_known", "Stations with a current-state snapshot", "SELECT COUNT(*) FROM station_status"},
	{"kpi_records", "Stored KPI records", "SELECT COUNT(*) FROM kpi_data"},
	{"raw_records", "Stored raw telemetry records", "SELECT COUNT(*) FROM telemetry_raw"},
}

func registerDBMetrics(db *sql.DB, logger logrus.FieldLogger) {
	for _, g := range dbGauges {
		query := g.query
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: metricPrefix + g.name, Help: g.help},
			func() float64 { return rowCount(db, logger, query) },
		))
	}
}

// rowCount returns 0 when the query fails.
func rowCount(db *sql.DB, logger logrus.FieldLogger, query string) float64 {
	ctx, cancel := context.WithTimeout(context.Background(), dbGaugeTimeout)
	defer cancel()
	var n int64
	if err := db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		if logger != nil {
			logger.WithError(err).WithField("query", query).Warn("metrics gauge query failed")
		}
		return 0
	}
	return float64(max(n, 0))
}
