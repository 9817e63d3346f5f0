package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"factory-telemetry/internal/auth"
)

var processTypes = []string{"welding", "painting", "assembly", "inspection", "stamping"}

type config struct {
	baseURL      string
	token        string
	ingestSecret string
	stations     int
	vehicles     int
	interval     time.Duration
	rounds       int
	seed         int64
}

type simulator struct {
	cfg    config
	client *http.Client
	rng    *rand.Rand
	logger logrus.FieldLogger

	stationIDs []string
	counts     map[string]int64
	progress   []int
	sent       int
	failed     int
}

func main() {
	cfg := parseConfig()
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if cfg.baseURL == "" {
		logger.Fatal("base-url is required")
	}
	if cfg.stations <= 0 {
		logger.Fatal("stations must be > 0")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim := newSimulator(cfg, logger)
	logger.WithFields(logrus.Fields{
		"base_url": cfg.baseURL,
		"stations": cfg.stations,
		"vehicles": cfg.vehicles,
		"interval": cfg.interval,
		"rounds":   cfg.rounds,
		"signed":   cfg.ingestSecret != "",
	}).Info("telemetry simulator started")

	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()
loop:
	for round := 1; ; round++ {
		sim.runRound(ctx, round)
		if cfg.rounds > 0 && round >= cfg.rounds {
			break
		}
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}
	}
	logger.WithFields(logrus.Fields{"sent": sim.sent, "failed": sim.failed}).Info("telemetry simulator finished")
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.baseURL, "base-url", envOrDefault("BASE_URL", "http://localhost:8080/api/v1"), "API base URL")
	flag.StringVar(&cfg.token, "token", envOrDefault("AUTH_TOKEN", ""), "bearer token")
	flag.StringVar(&cfg.ingestSecret, "ingest-secret", envOrDefault("INGEST_HMAC_SECRET", ""), "HMAC secret for signed ingest")
	flag.IntVar(&cfg.stations, "stations", envOrInt("SIM_STATIONS", 5), "number of stations")
	flag.IntVar(&cfg.vehicles, "vehicles", envOrInt("SIM_VEHICLES", 3), "number of tracked vehicles")
	flag.DurationVar(&cfg.interval, "interval", envOrDuration("SIM_INTERVAL", 2*time.Second), "delay between rounds")
	flag.IntVar(&cfg.rounds, "rounds", envOrInt("SIM_ROUNDS", 0), "rounds to send (0 runs until interrupted)")
	flag.Int64Var(&cfg.seed, "seed", int64(envOrInt("SIM_SEED", 0)), "random seed (0 uses the clock)")
	flag.Parse()
	cfg.baseURL = strings.TrimRight(cfg.baseURL, "/")
	if cfg.interval <= 0 {
		cfg.interval = time.Second
	}
	return cfg
}

func newSimulator(cfg config, logger logrus.FieldLogger) *simulator {
	seed := cfg.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	ids := make([]string, 0, cfg.stations)
	for i := 0; i < cfg.stations; i++ {
		ids = append(ids, fmt.Sprintf("%s_%02d", strings.ToUpper(processTypes[i%len(processTypes)]), i+1))
	}
	return &simulator{
		cfg:        cfg,
		client:     &http.Client{Timeout: 10 * time.Second},
		rng:        rand.New(rand.NewSource(seed)),
		logger:     logger,
		stationIDs: ids,
		counts:     make(map[string]int64, len(ids)),
		progress:   make([]int, cfg.vehicles),
	}
}

func (s *simulator) runRound(ctx context.Context, round int) {
	now := time.Now().UTC()
	for i, id := range s.stationIDs {
		s.post(ctx, "/telemetry", s.telemetry(id, processTypes[i%len(processTypes)], now))
		if round%5 == 0 {
			s.post(ctx, "/kpi", s.kpi(id, now))
		}
	}
	if s.cfg.vehicles > 0 {
		s.post(ctx, "/vehicles", s.fleet(now))
	}
	if round%10 == 0 {
		var total int64
		for _, c := range s.counts {
			total += c
		}
		s.post(ctx, "/production-stats", map[string]any{
			"daily_production":   total,
			"completed_vehicles": total / int64(max(1, len(s.stationIDs))),
			"timestamp":          now.Format(time.RFC3339),
		})
	}
	s.logger.WithFields(logrus.Fields{"round": round, "sent": s.sent, "failed": s.failed}).Debug("round complete")
}

func (s *simulator) telemetry(stationID, processType string, now time.Time) map[string]any {
	status := "RUNNING"
	switch r := s.rng.Float64(); {
	case r < 0.03:
		status = "ERROR"
	case r < 0.10:
		status = "IDLE"
	}
	if status == "RUNNING" {
		s.counts[stationID]++
	}
	temperature := 55 + s.rng.Float64()*35
	payload := map[string]any{
		"stationId":   stationID,
		"processType": processType,
		"location":    "line-1",
		"timestamp":   now.Format(time.RFC3339Nano),
		"sensors": map[string]any{
			"temperature":       round1(temperature),
			"vibration":         round1(s.rng.Float64() * 5),
			"power_consumption": 180 + s.rng.Intn(120),
		},
		"production": map[string]any{
			"status":     status,
			"count":      s.counts[stationID],
			"cycle_time": round1(12 + s.rng.Float64()*16),
		},
		"quality": map[string]any{
			"score": round1(90+s.rng.Float64()*10) / 100,
		},
		"derivedMetrics": map[string]any{
			"efficiency": round1(70+s.rng.Float64()*30) / 100,
		},
	}
	payload["alerts"] = map[string]any{
		"high_temperature": temperature > 85,
		"station_fault":    status == "ERROR",
	}
	return payload
}

func (s *simulator) kpi(stationID string, now time.Time) map[string]any {
	return map[string]any{
		"station_id":     stationID,
		"timestamp":      now.Format(time.RFC3339),
		"total_cycles":   s.counts[stationID],
		"runtime_hours":  round1(float64(s.counts[stationID]) * 20 / 3600),
		"oee":            map[string]any{"value": round1(70 + s.rng.Float64()*25)},
		"fty":            map[string]any{"value": round1(90 + s.rng.Float64()*10)},
		"otd":            map[string]any{"value": round1(85 + s.rng.Float64()*15)},
		"quality_score":  map[string]any{"value": math.Round((0.9+s.rng.Float64()*0.1)*1000) / 1000},
		"throughput":     map[string]any{"value": round1(150 + s.rng.Float64()*50)},
		"avg_cycle_time": map[string]any{"average": round1(15 + s.rng.Float64()*10)},
	}
}

func (s *simulator) fleet(now time.Time) map[string]any {
	total := len(s.stationIDs)
	vehicles := make([]map[string]any, 0, len(s.progress))
	for i := range s.progress {
		if s.rng.Float64() < 0.5 {
			s.progress[i]++
		}
		if s.progress[i] > total {
			s.progress[i] = 0
		}
		idx := s.progress[i]
		status := "in_process"
		station := ""
		switch {
		case idx == 0:
			status = "waiting"
		case idx >= total:
			status = "completed"
		default:
			station = s.stationIDs[idx]
		}
		vehicles = append(vehicles, map[string]any{
			"vehicle_id":            fmt.Sprintf("VH-%04d", i+1),
			"status":                status,
			"current_station_index": idx,
			"total_stations":        total,
			"position":              map[string]any{"station_id": station},
		})
	}
	return map[string]any{
		"timestamp":      now.Format(time.RFC3339),
		"total_vehicles": len(vehicles),
		"vehicles":       vehicles,
	}
}

func (s *simulator) post(ctx context.Context, path string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.failed++
		s.logger.WithError(err).WithField("path", path).Error("encode payload")
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.baseURL+path, bytes.NewReader(body))
	if err != nil {
		s.failed++
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if s.cfg.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.token)
	}
	if s.cfg.ingestSecret != "" {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set(auth.HeaderIngestTimestamp, ts)
		req.Header.Set(auth.HeaderIngestSignature, auth.SignIngest([]byte(s.cfg.ingestSecret), ts, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.failed++
		s.logger.WithError(err).WithField("path", path).Warn("post failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		s.failed++
		s.logger.WithFields(logrus.Fields{
			"path":   path,
			"status": resp.StatusCode,
			"body":   strings.TrimSpace(string(msg)),
		}).Warn("post rejected")
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	s.sent++
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
