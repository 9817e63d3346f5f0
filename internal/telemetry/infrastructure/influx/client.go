package influx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"factory-telemetry/internal/observability/metrics"
	telemetry "factory-telemetry/internal/telemetry/domain"
)

const (
	defaultWritePath  = "/api/v2/write"
	defaultQueryPath  = "/api/v3/query/sql"
	defaultHealthPath = "/health"

	maxResponseBytes = 16 << 20
)

// Row is one result row of a SQL query.
type Row map[string]any

// Config holds time-series store endpoints and timeouts.
type Config struct {
	BaseURL  string
	Token    string
	Database string

	WritePath  string
	QueryPath  string
	HealthPath string

	WriteTimeout  time.Duration
	BatchTimeout  time.Duration
	QueryTimeout  time.Duration
	HealthTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.WritePath == "" {
		c.WritePath = defaultWritePath
	}
	if c.QueryPath == "" {
		c.QueryPath = defaultQueryPath
	}
	if c.HealthPath == "" {
		c.HealthPath = defaultHealthPath
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 2 * c.WriteTimeout
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 30 * time.Second
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 5 * time.Second
	}
	return c
}

// Client talks to an InfluxDB 3 compatible HTTP API. Every operation
// degrades to false or an empty result instead of returning an error.
type Client struct {
	cfg    Config
	client *http.Client
	logger logrus.FieldLogger
}

// NewClient constructs a time-series client.
func NewClient(cfg Config, logger logrus.FieldLogger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("influx: empty base url")
	}
	if cfg.Database == "" {
		return nil, errors.New("influx: empty database")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg = cfg.withDefaults()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger.WithField("component", "influx"),
	}, nil
}

// Database returns the configured database name.
func (c *Client) Database() string { return c.cfg.Database }

// Write sends a single line.
func (c *Client) Write(ctx context.Context, line string) bool {
	return c.send(ctx, []string{line}, c.cfg.WriteTimeout)
}

// WriteBatch joins lines with newlines and sends them in one request. A
// failure fails the whole batch; nothing is retried.
func (c *Client) WriteBatch(ctx context.Context, lines []string) bool {
	if len(lines) == 0 {
		return true
	}
	return c.send(ctx, lines, c.cfg.BatchTimeout)
}

// WritePoint encodes and sends one point.
func (c *Client) WritePoint(ctx context.Context, measurement string, tags map[string]string, fields map[string]any, ts time.Time) bool {
	return c.Write(ctx, EncodePoint(measurement, tags, fields, ts))
}

// WriteRecord encodes a canonical record and sends its points as a batch.
func (c *Client) WriteRecord(ctx context.Context, rec telemetry.Record) bool {
	return c.WriteBatch(ctx, RecordPoints(rec))
}

func (c *Client) send(ctx context.Context, lines []string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := c.cfg.BaseURL + c.cfg.WritePath + "?bucket=" + url.QueryEscape(c.cfg.Database)
	body := strings.Join(lines, "\n")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		c.writeFailed(len(lines), err)
		return false
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		c.writeFailed(len(lines), err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode >= 300 {
		c.writeFailed(len(lines), fmt.Errorf("influx: write http %d", resp.StatusCode))
		return false
	}
	metrics.ObserveTSDBWrite(metrics.ResultSuccess, len(lines))
	c.logger.WithField("lines", len(lines)).Debug("time-series write ok")
	return true
}

func (c *Client) writeFailed(lines int, err error) {
	metrics.ObserveTSDBWrite(metrics.ResultError, lines)
	c.logger.WithError(err).WithField("lines", lines).Error("time-series write failed")
}

// Query runs a SQL statement. Transport, status and parse errors are logged
// and yield an empty slice.
func (c *Client) Query(ctx context.Context, sql string) []Row {
	rows, err := c.query(ctx, sql)
	if err != nil {
		metrics.IncTSDBQueryFailure()
		c.logger.WithError(err).WithField("sql", sql).Error("time-series query failed")
		return []Row{}
	}
	return rows
}

func (c *Client) query(ctx context.Context, sql string) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{"query": sql, "format": "json"})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+c.cfg.QueryPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("influx: query http %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	return ParseRows(body)
}

// ParseRows accepts a JSON array of objects or a single object. Blank input
// yields no rows.
func ParseRows(body []byte) ([]Row, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return []Row{}, nil
	}
	switch body[0] {
	case '[':
		var rows []Row
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, err
		}
		out := make([]Row, 0, len(rows))
		for _, row := range rows {
			if row != nil {
				out = append(out, row)
			}
		}
		return out, nil
	case '{':
		var row Row
		if err := json.Unmarshal(body, &row); err != nil {
			return nil, err
		}
		return []Row{row}, nil
	default:
		return nil, fmt.Errorf("influx: unexpected response %q", body[0])
	}
}

// RecentSensorData returns the latest sensor rows for a station.
func (c *Client) RecentSensorData(ctx context.Context, stationID string, limit int) []Row {
	if limit <= 0 {
		limit = 100
	}
	sql := fmt.Sprintf(
		"SELECT * FROM %s WHERE station_id = '%s' ORDER BY time DESC LIMIT %d",
		MeasurementName(telemetry.SectionSensors), escapeLiteral(stationID), limit,
	)
	return c.Query(ctx, sql)
}

// SensorDataByRange returns sensor rows for a station in [from, to].
func (c *Client) SensorDataByRange(ctx context.Context, stationID string, from, to time.Time) []Row {
	sql := fmt.Sprintf(
		"SELECT * FROM %s WHERE station_id = '%s' AND time >= '%s' AND time <= '%s' ORDER BY time ASC",
		MeasurementName(telemetry.SectionSensors), escapeLiteral(stationID),
		from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano),
	)
	return c.Query(ctx, sql)
}

// Tables lists the tables of the database.
func (c *Client) Tables(ctx context.Context) []Row {
	return c.Query(ctx, "SHOW TABLES")
}

// CheckHealth probes the health endpoint. Any 2xx response with a non-empty
// body counts as healthy.
func (c *Client) CheckHealth(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+c.cfg.HealthPath, nil)
	if err != nil {
		return false
	}
	c.authorize(req)
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithError(err).Warn("time-series health check failed")
		return false
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || resp.StatusCode >= 300 {
		c.logger.WithField("status", resp.StatusCode).Warn("time-series health check failed")
		return false
	}
	return len(bytes.TrimSpace(body)) > 0
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
