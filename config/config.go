package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	CORS       CORSConfig
	MQTT       MQTTConfig
	Complaints ComplaintsConfig
	Engine     EngineConfig
	Topology   TopologyConfig
	Aggregator AggregatorConfig
	Risk       RiskConfig
	Tracing    TracingConfig

	MetricsAddr string
}

type ServerConfig struct {
	Port int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (d DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins string
}

type MQTTConfig struct {
	Broker string
	Topic  string
}

// ComplaintsConfig points at the complaint intake database. An empty DSN
// disables the complaint component of the risk score.
type ComplaintsConfig struct {
	DSN string
	// MatchRadius is the distance in meters within which a complaint is
	// attached to a road segment.
	MatchRadius float64
}

type EngineConfig struct {
	ModelPath        string
	ProfilesPath     string
	HistoryWindow    time.Duration
	TimeZone         string
	MaxInferenceRows int
	// ModelReload is the artifact change polling interval; zero leaves
	// reloads to SIGHUP only.
	ModelReload time.Duration
	// StoreBackend is "postgres" or "memory".
	StoreBackend string
}

// Location resolves TimeZone, falling back to UTC.
func (e EngineConfig) Location() *time.Location {
	loc, err := time.LoadLocation(e.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type TopologyConfig struct {
	// Source is "postgres", "overpass" or "linear".
	Source      string
	OverpassURL string
	BBox        string
	Refresh     time.Duration
}

type AggregatorConfig struct {
	Interval time.Duration
	Lookback time.Duration
}

// TracingConfig selects the span exporter. "none" keeps tracing off.
type TracingConfig struct {
	Exporter    string
	SampleRatio float64
}

// RiskConfig holds the blend weights of the risk score.
type RiskConfig struct {
	DensityWeight   float64
	ForecastWeight  float64
	ComplaintWeight float64
}

func LoadConfig() (*Config, error) {
	var errs []string
	intEnv := func(key string, fallback int) int {
		v, err := getIntEnv(key, fallback)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}
	floatEnv := func(key string, fallback float64) float64 {
		v, err := getFloatEnv(key, fallback)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}
	durationEnv := func(key string, fallback time.Duration) time.Duration {
		v, err := getDurationEnv(key, fallback)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: intEnv("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     intEnv("DB_PORT", 5432),
			User:     getEnv("DB_USER", "cityflow"),
			Password: getEnv("DB_PASSWORD", "cityflow_dev_password"),
			Name:     getEnv("DB_NAME", "cityflow"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     intEnv("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       intEnv("REDIS_DB", 0),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		MQTT: MQTTConfig{
			Broker: getEnv("MQTT_BROKER", "tcp://localhost:1883"),
			Topic:  getEnv("MQTT_TOPIC", "cityflow/traffic/+/counts"),
		},
		Complaints: ComplaintsConfig{
			DSN:         getEnv("COMPLAINTS_DSN", ""),
			MatchRadius: floatEnv("COMPLAINT_MATCH_RADIUS_M", 200),
		},
		Engine: EngineConfig{
			ModelPath:        getEnv("MODEL_PATH", "models/density.json"),
			ProfilesPath:     getEnv("IMPACT_PROFILES_PATH", ""),
			HistoryWindow:    durationEnv("HISTORY_WINDOW", 7*24*time.Hour),
			TimeZone:         getEnv("ENGINE_TZ", "UTC"),
			MaxInferenceRows: intEnv("MAX_INFERENCE_ROWS", 10000),
			ModelReload:      durationEnv("MODEL_RELOAD_INTERVAL", time.Minute),
			StoreBackend:     strings.ToLower(getEnv("STORE_BACKEND", "postgres")),
		},
		Topology: TopologyConfig{
			Source:      strings.ToLower(getEnv("TOPOLOGY_SOURCE", "postgres")),
			OverpassURL: getEnv("OVERPASS_URL", "https://overpass-api.de/api/interpreter"),
			BBox:        getEnv("OVERPASS_BBOX", ""),
			Refresh:     durationEnv("TOPOLOGY_REFRESH", time.Hour),
		},
		Aggregator: AggregatorConfig{
			Interval: durationEnv("AGGREGATOR_INTERVAL", 15*time.Minute),
			Lookback: durationEnv("AGGREGATOR_LOOKBACK", 48*time.Hour),
		},
		Risk: RiskConfig{
			DensityWeight:   floatEnv("RISK_WEIGHT_DENSITY", 0.5),
			ForecastWeight:  floatEnv("RISK_WEIGHT_FORECAST", 0.2),
			ComplaintWeight: floatEnv("RISK_WEIGHT_COMPLAINTS", 0.3),
		},
		Tracing: TracingConfig{
			Exporter:    strings.ToLower(getEnv("TRACING_EXPORTER", "none")),
			SampleRatio: floatEnv("TRACING_SAMPLE_RATIO", 1),
		},
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	switch cfg.Engine.StoreBackend {
	case "postgres", "memory":
	default:
		return nil, fmt.Errorf("config: unknown STORE_BACKEND %q", cfg.Engine.StoreBackend)
	}
	switch cfg.Tracing.Exporter {
	case "none", "stdout":
	default:
		return nil, fmt.Errorf("config: unknown TRACING_EXPORTER %q", cfg.Tracing.Exporter)
	}
	if cfg.Engine.MaxInferenceRows <= 0 {
		return nil, fmt.Errorf("config: MAX_INFERENCE_ROWS must be positive")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getIntEnv(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func getFloatEnv(key string, fallback float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(value, 64)
}

func getDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}
