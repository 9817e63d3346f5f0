package kpi

import (
	"math"
	"time"
)

// NoDataMessage accompanies summaries computed from an empty record set.
const NoDataMessage = "no KPI data reported"

// Defaults are the fallbacks used by factory rollups.
type Defaults struct {
	CycleTimeSeconds float64
	DailyTarget      int
	QualityScore     float64
}

// DefaultDefaults returns the standard factory fallbacks.
func DefaultDefaults() Defaults {
	return Defaults{CycleTimeSeconds: 90, DailyTarget: 480, QualityScore: 0.95}
}

// ProductionSummary is the production block of a factory summary.
type ProductionSummary struct {
	Current    int64   `json:"current"`
	Target     int     `json:"target"`
	HourlyRate float64 `json:"hourlyRate"`
	CycleTime  float64 `json:"cycleTime"`
}

// Figures holds the averaged KPI percentages.
type Figures struct {
	OEE float64 `json:"oee"`
	FTY float64 `json:"fty"`
	OTD float64 `json:"otd"`
}

// QualitySummary is the quality block of a factory summary.
type QualitySummary struct {
	OverallScore float64 `json:"overallScore"`
}

// FactorySummary is the factory-wide rollup of the latest record per station.
type FactorySummary struct {
	Timestamp       time.Time         `json:"timestamp"`
	Production      ProductionSummary `json:"production"`
	KPI             Figures           `json:"kpi"`
	Quality         QualitySummary    `json:"quality"`
	TotalThroughput float64           `json:"totalThroughput"`
	ActiveStations  int               `json:"active_stations"`
	LastUpdated     string            `json:"last_updated"`
	NoData          bool              `json:"noData"`
	Message         string            `json:"message,omitempty"`
}

// Summarize computes the factory summary. A missing metric counts as 0 and
// the station stays in the denominator.
func Summarize(latest []Record, d Defaults, now time.Time) FactorySummary {
	now = now.UTC()
	s := FactorySummary{
		Timestamp:      now,
		LastUpdated:    now.Format("15:04:05"),
		ActiveStations: len(latest),
	}
	if len(latest) == 0 {
		s.NoData = true
		s.Message = NoDataMessage
		s.Production = ProductionSummary{Target: d.DailyTarget, CycleTime: Round(d.CycleTimeSeconds, 1)}
		s.Quality.OverallScore = Round(d.QualityScore, 4)
		return s
	}

	var oee, fty, otd, throughput, cycle, quality float64
	for _, rec := range latest {
		oee += rec.Value(MetricOEE)
		fty += rec.Value(MetricFTY)
		otd += rec.Value(MetricOTD)
		throughput += rec.Value(MetricThroughput)
		cycle += rec.Value(MetricAvgCycleTime)
		quality += rec.Value(MetricQualityScore)
	}
	n := float64(len(latest))
	avgCycle := cycle / n

	s.KPI = Figures{OEE: Round(oee/n, 2), FTY: Round(fty/n, 2), OTD: Round(otd/n, 2)}
	s.TotalThroughput = throughput
	s.Production = ProductionSummary{
		Current:    int64(math.Round(throughput)),
		Target:     d.DailyTarget,
		HourlyRate: Round(HourlyRate(avgCycle), 1),
		CycleTime:  Round(avgCycle, 1),
	}
	s.Quality.OverallScore = Round(quality/n, 4)
	return s
}

// HourlyRate is 3600 / cycleSeconds, or 0 for a non-positive cycle.
func HourlyRate(cycleSeconds float64) float64 {
	if cycleSeconds <= 0 {
		return 0
	}
	return 3600 / cycleSeconds
}

// OEE is availability * min(1, hourlyRate/baseline) * quality as a
// percentage rounded to two places.
func OEE(availability, hourlyRate, quality, baseline float64) float64 {
	if baseline <= 0 {
		return 0
	}
	performance := math.Min(1, hourlyRate/baseline)
	if performance < 0 {
		performance = 0
	}
	return Round(availability*performance*quality*100, 2)
}

// Round rounds half away from zero to places decimals.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// StationFigures is the flat per-station KPI view.
type StationFigures struct {
	StationID    string    `json:"stationId"`
	Timestamp    time.Time `json:"timestamp"`
	TotalCycles  int64     `json:"totalCycles"`
	RuntimeHours float64   `json:"runtimeHours"`
	OEE          float64   `json:"oee"`
	FTY          float64   `json:"fty"`
	OTD          float64   `json:"otd"`
	QualityScore float64   `json:"qualityScore"`
	Throughput   float64   `json:"throughput"`
	CycleTime    float64   `json:"cycleTime"`
}

// Flatten extracts the value of every metric.
func Flatten(rec Record) StationFigures {
	return StationFigures{
		StationID:    rec.StationID,
		Timestamp:    rec.Timestamp,
		TotalCycles:  rec.TotalCycles,
		RuntimeHours: rec.RuntimeHours,
		OEE:          rec.Value(MetricOEE),
		FTY:          rec.Value(MetricFTY),
		OTD:          rec.Value(MetricOTD),
		QualityScore: rec.Value(MetricQualityScore),
		Throughput:   rec.Value(MetricThroughput),
		CycleTime:    rec.Value(MetricAvgCycleTime),
	}
}

// OverviewSummary averages OEE and FTY over reporting stations.
type OverviewSummary struct {
	AvgOEE        float64   `json:"avg_oee"`
	AvgFTY        float64   `json:"avg_fty"`
	TotalStations int       `json:"total_stations"`
	Timestamp     time.Time `json:"timestamp"`
}

// Overview is the latest KPI view of every station.
type Overview struct {
	Stations []StationFigures `json:"stations"`
	Summary  OverviewSummary  `json:"summary"`
	NoData   bool             `json:"noData"`
	Message  string           `json:"message,omitempty"`
}

// BuildOverview flattens the latest records and averages OEE and FTY.
func BuildOverview(latest []Record, now time.Time) Overview {
	o := Overview{
		Stations: make([]StationFigures, 0, len(latest)),
		Summary:  OverviewSummary{TotalStations: len(latest), Timestamp: now.UTC()},
	}
	if len(latest) == 0 {
		o.NoData = true
		o.Message = NoDataMessage
		return o
	}
	var oee, fty float64
	for _, rec := range latest {
		fig := Flatten(rec)
		o.Stations = append(o.Stations, fig)
		oee += fig.OEE
		fty += fig.FTY
	}
	n := float64(len(latest))
	o.Summary.AvgOEE = Round(oee/n, 2)
	o.Summary.AvgFTY = Round(fty/n, 2)
	return o
}
