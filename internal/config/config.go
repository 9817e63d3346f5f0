package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration. Values come from the built-in
// defaults, then the YAML file named by CONFIG_FILE, then the environment.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	DatabaseURL string `yaml:"database_url"`
	AutoMigrate bool   `yaml:"auto_migrate"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`

	TSDB     TSDBConfig     `yaml:"tsdb"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Auth     AuthConfig     `yaml:"auth"`
	Station  StationConfig  `yaml:"station"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

type TSDBConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Token         string        `yaml:"token"`
	Database      string        `yaml:"database"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	QueryTimeout  time.Duration `yaml:"query_timeout"`
	HealthTimeout time.Duration `yaml:"health_timeout"`
	Buffered      bool          `yaml:"buffered"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type AuthConfig struct {
	JWTSecret         string `yaml:"jwt_secret"`
	IngestSecret      string `yaml:"ingest_secret"`
	IngestSkewSeconds int    `yaml:"ingest_skew_seconds"`
}

type StationConfig struct {
	StrictOrdering     bool          `yaml:"strict_ordering"`
	EfficientThreshold float64       `yaml:"efficient_threshold"`
	ActiveWindow       time.Duration `yaml:"active_window"`
}

// DefaultsConfig is the table of rollup fallbacks and line constants.
type DefaultsConfig struct {
	CycleTimeSeconds    float64            `yaml:"cycle_time_seconds"`
	KPICycleTimeSeconds float64            `yaml:"kpi_cycle_time_seconds"`
	StationCycleTimes   map[string]float64 `yaml:"station_cycle_times"`
	Efficiency          float64            `yaml:"efficiency"`
	QualityScore        float64            `yaml:"quality_score"`
	Availability        float64            `yaml:"availability"`
	PerformanceBaseline float64            `yaml:"performance_baseline"`
	DailyTarget         int                `yaml:"daily_target"`
	DashboardTarget     int                `yaml:"dashboard_target"`
	EnergyConsumption   int64              `yaml:"energy_consumption"`
	MinutesPerStation   int                `yaml:"minutes_per_station"`
	RawRetention        int                `yaml:"raw_retention"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr:    ":8080",
		AutoMigrate: true,
		LogLevel:    "info",
		LogFormat:   "json",
		TSDB: TSDBConfig{
			Database:      "factory_data",
			WriteTimeout:  5 * time.Second,
			QueryTimeout:  10 * time.Second,
			HealthTimeout: 5 * time.Second,
			BatchSize:     1000,
			FlushInterval: 5 * time.Second,
		},
		Redis: RedisConfig{CacheTTL: 5 * time.Second},
		NATS:  NATSConfig{SubjectPrefix: "factory"},
		Auth:  AuthConfig{IngestSkewSeconds: 300},
		Station: StationConfig{
			EfficientThreshold: 0.80,
			ActiveWindow:       5 * time.Minute,
		},
		Defaults: DefaultsConfig{
			CycleTimeSeconds:    20,
			KPICycleTimeSeconds: 90,
			StationCycleTimes: map[string]float64{
				"WELDING_01":    18,
				"PAINTING_02":   25,
				"ASSEMBLY_03":   22,
				"INSPECTION_04": 15,
				"STAMPING_05":   12,
			},
			Efficiency:          0.85,
			QualityScore:        0.95,
			Availability:        0.90,
			PerformanceBaseline: 100,
			DailyTarget:         480,
			DashboardTarget:     1000,
			EnergyConsumption:   250,
			MinutesPerStation:   5,
			RawRetention:        10000,
		},
	}
}

// Load builds the configuration.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DatabaseURL = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.DatabaseURL))
	cfg.AutoMigrate = getenvBool("AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.LogLevel = getenvDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenvDefault("LOG_FORMAT", cfg.LogFormat)

	cfg.TSDB.BaseURL = getenvDefault("INFLUX_URL", cfg.TSDB.BaseURL)
	cfg.TSDB.Token = getenvDefault("INFLUX_TOKEN", cfg.TSDB.Token)
	cfg.TSDB.Database = getenvDefault("INFLUX_DATABASE", cfg.TSDB.Database)
	cfg.TSDB.WriteTimeout = getenvDuration("INFLUX_WRITE_TIMEOUT", cfg.TSDB.WriteTimeout)
	cfg.TSDB.QueryTimeout = getenvDuration("INFLUX_QUERY_TIMEOUT", cfg.TSDB.QueryTimeout)
	cfg.TSDB.HealthTimeout = getenvDuration("INFLUX_HEALTH_TIMEOUT", cfg.TSDB.HealthTimeout)
	cfg.TSDB.Buffered = getenvBool("INFLUX_BUFFERED", cfg.TSDB.Buffered)
	cfg.TSDB.BatchSize = getenvIntDefault("INFLUX_BATCH_SIZE", cfg.TSDB.BatchSize)
	cfg.TSDB.FlushInterval = getenvDuration("INFLUX_FLUSH_INTERVAL", cfg.TSDB.FlushInterval)

	cfg.Redis.Addr = getenvDefault("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getenvDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getenvIntDefault("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.CacheTTL = getenvDuration("CACHE_TTL", cfg.Redis.CacheTTL)

	cfg.NATS.URL = getenvDefault("NATS_URL", cfg.NATS.URL)
	cfg.NATS.SubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", cfg.NATS.SubjectPrefix)

	cfg.Auth.JWTSecret = getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", cfg.Auth.JWTSecret))
	cfg.Auth.IngestSecret = getenvDefault("INGEST_HMAC_SECRET", cfg.Auth.IngestSecret)
	cfg.Auth.IngestSkewSeconds = getenvIntDefault("INGEST_MAX_SKEW_SECONDS", cfg.Auth.IngestSkewSeconds)

	cfg.Station.StrictOrdering = getenvBool("STATION_STRICT_ORDERING", cfg.Station.StrictOrdering)
	cfg.Station.EfficientThreshold = getenvFloatDefault("STATION_EFFICIENT_THRESHOLD", cfg.Station.EfficientThreshold)
	cfg.Station.ActiveWindow = getenvDuration("STATION_ACTIVE_WINDOW", cfg.Station.ActiveWindow)

	cfg.Defaults.DailyTarget = getenvIntDefault("KPI_DAILY_TARGET", cfg.Defaults.DailyTarget)
	cfg.Defaults.DashboardTarget = getenvIntDefault("DASHBOARD_TARGET", cfg.Defaults.DashboardTarget)
	cfg.Defaults.MinutesPerStation = getenvIntDefault("VEHICLE_MINUTES_PER_STATION", cfg.Defaults.MinutesPerStation)
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("config: http_addr is required"))
	}
	if c.Station.EfficientThreshold <= 0 || c.Station.EfficientThreshold > 1 {
		errs = append(errs, fmt.Errorf("config: station efficient_threshold %v out of (0,1]", c.Station.EfficientThreshold))
	}
	if c.TSDB.BatchSize <= 0 {
		errs = append(errs, errors.New("config: tsdb batch_size must be positive"))
	}
	if c.TSDB.WriteTimeout <= 0 || c.TSDB.QueryTimeout <= 0 {
		errs = append(errs, errors.New("config: tsdb timeouts must be positive"))
	}
	if c.Defaults.PerformanceBaseline <= 0 {
		errs = append(errs, errors.New("config: performance_baseline must be positive"))
	}
	if c.Defaults.MinutesPerStation <= 0 {
		errs = append(errs, errors.New("config: minutes_per_station must be positive"))
	}
	return errors.Join(errs...)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
