package application

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"factory-telemetry/internal/cache"
	kpi "factory-telemetry/internal/kpi/domain"
	telemetry "factory-telemetry/internal/telemetry/domain"
)

// DashboardDefaults are the fallbacks and constants of the dashboard rollup.
type DashboardDefaults struct {
	DailyTarget         int
	Availability        float64
	PerformanceBaseline float64
	CycleTimeSeconds    float64
	StationCycleTimes   map[string]float64
	Efficiency          float64
	Quality             float64
	EnergyConsumption   int64
}

// DefaultDashboardDefaults returns the standard line defaults.
func DefaultDashboardDefaults() DashboardDefaults {
	return DashboardDefaults{
		DailyTarget:         1000,
		Availability:        0.90,
		PerformanceBaseline: 100,
		CycleTimeSeconds:    20,
		StationCycleTimes: map[string]float64{
			"WELDING_01":    18,
			"PAINTING_02":   25,
			"ASSEMBLY_03":   22,
			"INSPECTION_04": 15,
			"STAMPING_05":   12,
		},
		Efficiency:        0.85,
		Quality:           0.95,
		EnergyConsumption: 250,
	}
}

// StationStats provides station-level aggregates for system statistics.
type StationStats interface {
	CountRunning(ctx context.Context) (int, error)
	AverageEfficiency(ctx context.Context) (*float64, error)
	TotalAlerts(ctx context.Context) (int, error)
}

type DashboardProduction struct {
	Current    int64   `json:"current"`
	Target     int     `json:"target"`
	HourlyRate float64 `json:"hourlyRate"`
	CycleTime  float64 `json:"cycleTime"`
}

type DashboardKPI struct {
	OEE float64 `json:"oee"`
	OTD float64 `json:"otd"`
	FTY float64 `json:"fty"`
}

type DashboardQuality struct {
	OverallScore float64 `json:"overallScore"`
	DefectRate   float64 `json:"defectRate"`
	Grade        string  `json:"grade"`
}

type DashboardEfficiency struct {
	PowerEfficiency   float64 `json:"powerEfficiency"`
	EnergyConsumption int64   `json:"energyConsumption"`
}

// Dashboard is the factory snapshot computed from the latest record per station.
type Dashboard struct {
	Production  DashboardProduction `json:"production"`
	KPI         DashboardKPI        `json:"kpi"`
	Quality     DashboardQuality    `json:"quality"`
	Efficiency  DashboardEfficiency `json:"efficiency"`
	Stations    int                 `json:"stations"`
	Timestamp   time.Time           `json:"timestamp"`
	LastUpdated string              `json:"lastUpdated"`
	NoData      bool                `json:"noData"`
}

// SystemStatistics summarizes stored records and station state.
type SystemStatistics struct {
	TotalRecords      int64     `json:"totalRecords"`
	TodayRecords      int64     `json:"todayRecords"`
	RunningStations   int       `json:"runningStations"`
	AverageEfficiency *float64  `json:"averageEfficiency"`
	TotalAlerts       int       `json:"totalAlerts"`
	LastUpdate        time.Time `json:"lastUpdate"`
}

// DashboardService serves dashboard reads over raw records and station state.
type DashboardService struct {
	repo     telemetry.RecordRepository
	stations StationStats
	defaults DashboardDefaults
	cache    cache.Cache
	cacheTTL time.Duration
	now      func() time.Time
	logger   logrus.FieldLogger
}

// DashboardOption configures a DashboardService.
type DashboardOption func(*DashboardService)

// WithDashboardDefaults overrides the defaults table.
func WithDashboardDefaults(d DashboardDefaults) DashboardOption {
	return func(s *DashboardService) { s.defaults = d }
}

// WithDashboardCache enables read-through caching of the latest dashboard.
func WithDashboardCache(c cache.Cache, ttl time.Duration) DashboardOption {
	return func(s *DashboardService) {
		s.cache = c
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithDashboardClock overrides the clock.
func WithDashboardClock(now func() time.Time) DashboardOption {
	return func(s *DashboardService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDashboardLogger sets the logger.
func WithDashboardLogger(logger logrus.FieldLogger) DashboardOption {
	return func(s *DashboardService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewDashboardService constructs a service.
func NewDashboardService(repo telemetry.RecordRepository, stations StationStats, opts ...DashboardOption) (*DashboardService, error) {
	if repo == nil {
		return nil, errors.New("dashboard: nil repository")
	}
	if stations == nil {
		return nil, errors.New("dashboard: nil station stats")
	}
	s := &DashboardService{
		repo:     repo,
		stations: stations,
		defaults: DefaultDashboardDefaults(),
		cacheTTL: cache.DefaultTTL,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Latest computes the dashboard from the newest record of each station.
func (s *DashboardService) Latest(ctx context.Context) (Dashboard, error) {
	if s.cache != nil {
		var cached Dashboard
		hit, err := s.cache.GetJSON(ctx, cache.KeyDashboard, &cached)
		if err != nil {
			s.logger.WithError(err).Debug("dashboard cache read failed")
		}
		if hit {
			return cached, nil
		}
	}

	latest, err := s.repo.LatestPerStation(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	d := BuildDashboard(latest, s.defaults, s.now())

	if s.cache != nil && !d.NoData {
		if err := s.cache.SetJSON(ctx, cache.KeyDashboard, d, s.cacheTTL); err != nil {
			s.logger.WithError(err).Debug("dashboard cache write failed")
		}
	}
	return d, nil
}

// SystemStatistics reports record counts and station aggregates.
func (s *DashboardService) SystemStatistics(ctx context.Context) (SystemStatistics, error) {
	now := s.now()
	total, err := s.repo.Count(ctx)
	if err != nil {
		return SystemStatistics{}, err
	}
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	today, err := s.repo.CountSince(ctx, startOfDay)
	if err != nil {
		return SystemStatistics{}, err
	}
	running, err := s.stations.CountRunning(ctx)
	if err != nil {
		return SystemStatistics{}, err
	}
	avg, err := s.stations.AverageEfficiency(ctx)
	if err != nil {
		return SystemStatistics{}, err
	}
	alerts, err := s.stations.TotalAlerts(ctx)
	if err != nil {
		return SystemStatistics{}, err
	}
	return SystemStatistics{
		TotalRecords:      total,
		TodayRecords:      today,
		RunningStations:   running,
		AverageEfficiency: avg,
		TotalAlerts:       alerts,
		LastUpdate:        now,
	}, nil
}

// Recent returns the most recent raw records as canonical payloads.
func (s *DashboardService) Recent(ctx context.Context, limit int) ([]telemetry.Map, error) {
	if limit <= 0 {
		limit = 10
	}
	records, err := s.repo.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]telemetry.Map, 0, len(records))
	for _, rec := range records {
		payload := rec.Payload()
		payload["processedAt"] = telemetry.String(rec.ReceivedAt.UTC().Format(time.RFC3339Nano))
		out = append(out, payload)
	}
	return out, nil
}

// BuildDashboard computes the dashboard rollup.
func BuildDashboard(latest []telemetry.Record, d DashboardDefaults, now time.Time) Dashboard {
	now = now.UTC()
	out := Dashboard{
		Production:  DashboardProduction{Target: d.DailyTarget},
		Quality:     DashboardQuality{Grade: "N/A"},
		Stations:    len(latest),
		Timestamp:   now,
		LastUpdated: now.Format("15:04:05"),
	}
	if len(latest) == 0 {
		out.NoData = true
		return out
	}

	var (
		production      int64
		cycle, eff, qty float64
		energy          int64
	)
	for _, rec := range latest {
		production += rec.Production.Int("count", 0)
		cycle += cycleTime(rec, d)
		eff += efficiency(rec, d)
		qty += quality(rec, d)
		energy += rec.Sensors.Int("power_consumption", 0)
	}
	n := float64(len(latest))
	avgCycle := cycle / n
	avgEff := eff / n
	avgQuality := qty / n
	hourlyRate := kpi.HourlyRate(avgCycle)
	if energy <= 0 {
		energy = d.EnergyConsumption
	}

	out.Production.Current = production
	out.Production.HourlyRate = kpi.Round(hourlyRate, 1)
	out.Production.CycleTime = kpi.Round(avgCycle, 1)
	out.KPI = DashboardKPI{
		OEE: kpi.Round(kpi.OEE(d.Availability, hourlyRate, avgQuality, d.PerformanceBaseline), 1),
		OTD: kpi.Round(min(100, avgEff*100), 1),
		FTY: kpi.Round(avgQuality*100, 1),
	}
	out.Quality = DashboardQuality{
		OverallScore: kpi.Round(avgQuality, 3),
		DefectRate:   kpi.Round(1-avgQuality, 3),
		Grade:        QualityGrade(avgQuality),
	}
	out.Efficiency = DashboardEfficiency{
		PowerEfficiency:   kpi.Round(avgEff*100, 1),
		EnergyConsumption: energy,
	}
	return out
}

// QualityGrade maps a 0-1 quality score onto a letter grade.
func QualityGrade(q float64) string {
	switch {
	case q >= 0.98:
		return "A+"
	case q >= 0.95:
		return "A"
	case q >= 0.90:
		return "B+"
	case q >= 0.85:
		return "B"
	default:
		return "C"
	}
}

func cycleTime(rec telemetry.Record, d DashboardDefaults) float64 {
	if v, ok := rec.Production.Get("cycle_time").FloatOK(); ok {
		return v
	}
	if v, ok := d.StationCycleTimes[rec.StationID]; ok {
		return v
	}
	return d.CycleTimeSeconds
}

func efficiency(rec telemetry.Record, d DashboardDefaults) float64 {
	if v, ok := rec.Efficiency(); ok {
		return v
	}
	if v, ok := rec.Sensors.Get("efficiency_raw").FloatOK(); ok {
		return telemetry.NormalizeRatio(v)
	}
	return d.Efficiency
}

func quality(rec telemetry.Record, d DashboardDefaults) float64 {
	if v, ok := rec.Quality.First("score", "overall_score"); ok {
		if f, ok := v.FloatOK(); ok {
			return f
		}
	}
	return d.Quality
}
