package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the reference gateway.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers        []string
	KafkaLocationTopic  string
	KafkaResponderTopic string
	KafkaGroup          string

	PGDSN string

	SearchRadiiMeters []float64
	SearchLimit       int
	DefaultSpeedMps   float64
	OSRMEndpoint      string
	ETACacheTTL       time.Duration

	LogLevel      string
	RunMigrations bool
}

// ClientConfig drives the tracker: gateway access, polling and SOS capture.
type ClientConfig struct {
	GatewayURL      string
	AuthToken       string
	RequestTimeout  time.Duration
	RetryCount      int
	PollInterval    time.Duration
	LocationTimeout time.Duration
	LogLevel        string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:            ":8080",
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        10 * time.Second,
		IdleTimeout:         120 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		RedisGeoKey:         "responders_geo",
		KafkaLocationTopic:  "device-locations",
		KafkaResponderTopic: "responder-locations",
		KafkaGroup:          "safety-tracking-consumer",
		SearchRadiiMeters:   []float64{1000, 2500, 5000, 10000},
		SearchLimit:         10,
		DefaultSpeedMps:     12,
		ETACacheTTL:         time.Minute,
		LogLevel:            "info",
	}
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		GatewayURL:      "http://localhost:8080",
		RequestTimeout:  10 * time.Second,
		RetryCount:      2,
		PollInterval:    20 * time.Second,
		LocationTimeout: 15 * time.Second,
		LogLevel:        "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaLocationTopic, "KAFKA_LOCATION_TOPIC")
	setStringFromEnv(&cfg.KafkaResponderTopic, "KAFKA_RESPONDER_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setRadiiFromEnv(&cfg.SearchRadiiMeters, "SEARCH_RADII_M", &errs)
	setIntFromEnv(&cfg.SearchLimit, "SEARCH_LIMIT", &errs)
	setFloatFromEnv(&cfg.DefaultSpeedMps, "SEARCH_DEFAULT_SPEED_MPS", &errs)
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setDurationFromEnv(&cfg.ETACacheTTL, "ETA_CACHE_TTL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.SearchLimit <= 0 {
		errs = append(errs, fmt.Errorf("SEARCH_LIMIT must be > 0"))
	}
	if len(cfg.SearchRadiiMeters) == 0 {
		errs = append(errs, fmt.Errorf("SEARCH_RADII_M must name at least one radius"))
	}

	return cfg, errors.Join(errs...)
}

func LoadClientConfig() (ClientConfig, error) {
	cfg := defaultClientConfig()
	var errs []error

	setStringFromEnv(&cfg.GatewayURL, "GATEWAY_URL")
	cfg.AuthToken = strings.TrimSpace(os.Getenv("GATEWAY_TOKEN"))
	setDurationFromEnv(&cfg.RequestTimeout, "GATEWAY_TIMEOUT", &errs)
	setIntFromEnv(&cfg.RetryCount, "GATEWAY_RETRIES", &errs)
	setDurationFromEnv(&cfg.PollInterval, "TRACKING_POLL_INTERVAL", &errs)
	setDurationFromEnv(&cfg.LocationTimeout, "SOS_LOCATION_TIMEOUT", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("TRACKING_POLL_INTERVAL must be > 0"))
	}
	if cfg.LocationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SOS_LOCATION_TIMEOUT must be > 0"))
	}
	if cfg.RetryCount < 0 {
		errs = append(errs, fmt.Errorf("GATEWAY_RETRIES must be >= 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

// setRadiiFromEnv parses a comma separated list of positive radii and keeps
// them ascending, since the search widens step by step.
func setRadiiFromEnv(target *[]float64, key string, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	out := make([]float64, 0, 4)
	for _, part := range splitAndTrim(v) {
		f, err := strconv.ParseFloat(part, 64)
		if err != nil || f <= 0 {
			*errs = append(*errs, fmt.Errorf("invalid %s entry %q", key, part))
			return
		}
		out = append(out, f)
	}
	sort.Float64s(out)
	*target = out
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
