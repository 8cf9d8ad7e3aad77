package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/storm-data-wind-service/internal/domain"
)

// DefaultRegions are the US state codes requested from the wind server.
var DefaultRegions = []string{
	"al", "ak", "az", "ar", "ca", "co", "nj", "ct", "de", "fl", "ga", "hi", "id", "il", "in", "ia", "ks",
	"ky", "la", "me", "md", "ma", "mi", "mn", "ms", "mo", "mt", "ne", "nv", "nh", "nm", "ny", "nc", "nd",
	"oh", "ok", "or", "pa", "ri", "sc", "sd", "tn", "tx", "ut", "vt", "va", "wa", "wv", "wi", "wy",
}

// Config holds all run settings, populated from environment variables.
type Config struct {
	WindServerURL   string
	DownloadTimeout time.Duration
	BoundaryPath    string
	ContourCommand  []string
	Levels          []float64

	Regions                 []string
	ExcludedRegions         []string
	ContinueOnRegionFailure bool
	PartitionWorkers        int

	LogLevel        string
	LogFormat       string
	HTTPAddr        string
	MetricsPushURL  string
	ShutdownTimeout time.Duration

	// Kafka artifact notifications; disabled when no brokers are set.
	KafkaBrokers       []string
	KafkaArtifactTopic string
}

// KafkaEnabled reports whether artifact notifications should be published.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	downloadTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("WIND_DOWNLOAD_TIMEOUT", "60s"))
	if err != nil || downloadTimeout <= 0 {
		return nil, errors.New("invalid WIND_DOWNLOAD_TIMEOUT")
	}

	levels, err := parseLevels(sharedcfg.EnvOrDefault("CONTOUR_LEVELS", "39,47,55,64,73"))
	if err != nil {
		return nil, fmt.Errorf("invalid CONTOUR_LEVELS: %w", err)
	}

	workers, err := strconv.Atoi(sharedcfg.EnvOrDefault("PARTITION_WORKERS", "4"))
	if err != nil || workers < 1 || workers > 64 {
		return nil, errors.New("invalid PARTITION_WORKERS: must be between 1 and 64")
	}

	continueOnFailure, err := strconv.ParseBool(sharedcfg.EnvOrDefault("CONTINUE_ON_REGION_FAILURE", "false"))
	if err != nil {
		return nil, errors.New("invalid CONTINUE_ON_REGION_FAILURE")
	}

	regions := DefaultRegions
	if v := os.Getenv("REGIONS"); v != "" {
		regions = parseList(v)
	}

	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = sharedcfg.ParseBrokers(v)
	}

	cfg := &Config{
		WindServerURL:   sharedcfg.EnvOrDefault("WIND_SERVER_URL", "http://sams.mapforensics.com"),
		DownloadTimeout: downloadTimeout,
		BoundaryPath:    sharedcfg.EnvOrDefault("BOUNDARY_PATH", "data/states/states.geojson"),
		ContourCommand:  strings.Fields(sharedcfg.EnvOrDefault("CONTOUR_COMMAND", "python3 scripts/contour.py")),
		Levels:          levels,

		Regions:                 regions,
		ExcludedRegions:         parseList(sharedcfg.EnvOrDefault("EXCLUDED_REGIONS", "ak,hi")),
		ContinueOnRegionFailure: continueOnFailure,
		PartitionWorkers:        workers,

		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		MetricsPushURL:  os.Getenv("METRICS_PUSH_URL"),
		ShutdownTimeout: shutdownTimeout,

		KafkaBrokers:       brokers,
		KafkaArtifactTopic: sharedcfg.EnvOrDefault("KAFKA_ARTIFACT_TOPIC", "wind-hazard-artifacts"),
	}

	if cfg.WindServerURL == "" {
		return nil, errors.New("WIND_SERVER_URL is required")
	}
	if cfg.BoundaryPath == "" {
		return nil, errors.New("BOUNDARY_PATH is required")
	}
	if len(cfg.ContourCommand) == 0 {
		return nil, errors.New("CONTOUR_COMMAND is required")
	}
	if len(cfg.Regions) == 0 {
		return nil, errors.New("REGIONS is required")
	}
	known := domain.NewRegionFilter(cfg.Regions...)
	for _, r := range cfg.ExcludedRegions {
		if !known.Contains(r) {
			return nil, fmt.Errorf("EXCLUDED_REGIONS entry %q is not in REGIONS", r)
		}
	}
	if cfg.KafkaEnabled() && cfg.KafkaArtifactTopic == "" {
		return nil, errors.New("KAFKA_ARTIFACT_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// parseLevels parses a comma-separated, strictly increasing list of speeds.
func parseLevels(s string) ([]float64, error) {
	parts := parseList(s)
	if len(parts) == 0 {
		return nil, errors.New("at least one level is required")
	}
	levels := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("level %q is not a finite number", p)
		}
		if i > 0 && v <= levels[i-1] {
			return nil, fmt.Errorf("levels must be strictly increasing at %q", p)
		}
		levels[i] = v
	}
	return levels, nil
}

func parseList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
