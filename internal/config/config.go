package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/2beens/fixfit/internal/fsm"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"
)

// CORSOriginsEnv overrides cors_origins with a comma separated list.
const CORSOriginsEnv = "CORS_ORIGINS"

type Config struct {
	Environment string `toml:"environment"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	SentryEnabled bool   `toml:"sentry_enabled"`
	// metrics
	PrometheusMetricsHost string `toml:"prometheus_metrics_host"`
	PrometheusMetricsPort string `toml:"prometheus_metrics_port"`
	// redis, used for rate limiting
	RedisHost                    string   `toml:"redis_host"`
	RedisPort                    string   `toml:"redis_port"`
	FramesRateLimitAllowedPerMin int      `toml:"frames_rate_limit_per_min"`
	CorsOrigins                  []string `toml:"cors_origins"`
	// sessions
	SessionTTL             time.Duration `toml:"session_ttl"`
	SessionCleanupInterval time.Duration `toml:"session_cleanup_interval"`
	StreamIdleTimeout      time.Duration `toml:"stream_idle_timeout"`
	DedupeCacheSizeMB      int           `toml:"dedupe_cache_size_mb"`
	DedupeTTL              time.Duration `toml:"dedupe_ttl"`
	// analysis
	DetectorURL           string         `toml:"detector_url"`
	DetectorTimeout       time.Duration  `toml:"detector_timeout"`
	MinLandmarkVisibility float64        `toml:"min_landmark_visibility"`
	ValgusRatioThreshold  float64        `toml:"valgus_ratio_threshold"`
	Thresholds            fsm.Thresholds `toml:"thresholds"`
	// events
	MQTT MQTTConfig `toml:"mqtt"`
}

type MQTTConfig struct {
	Enabled     bool   `toml:"enabled"`
	Broker      string `toml:"broker"`
	ClientID    string `toml:"client_id"`
	Username    string `toml:"username"`
	TopicPrefix string `toml:"topic_prefix"`
	QoS         byte   `toml:"qos"`
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	switch strings.ToLower(env) {
	case "dev", "development":
		return t.Development, nil
	case "prod", "production":
		return t.Production, nil
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
}

// Load reads the TOML file at path and returns the config for env,
// with defaults applied and env overrides in place.
func Load(env, path string) (*Config, error) {
	var tomlConfig Toml
	if _, err := toml.DecodeFile(path, &tomlConfig); err != nil {
		return nil, fmt.Errorf("decode config file [%s]: %w", path, err)
	}

	cfg, err := tomlConfig.Get(env)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("config for env [%s] missing in [%s]", env, path)
	}

	cfg.applyDefaults()
	if origins := os.Getenv(CORSOriginsEnv); origins != "" {
		cfg.CorsOrigins = ParseOrigins(origins)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = 30 * time.Minute
	}
	if c.SessionCleanupInterval == 0 {
		c.SessionCleanupInterval = 5 * time.Minute
	}
	if c.StreamIdleTimeout == 0 {
		c.StreamIdleTimeout = time.Minute
	}
	if c.DedupeCacheSizeMB == 0 {
		c.DedupeCacheSizeMB = 16
	}
	if c.DedupeTTL == 0 {
		c.DedupeTTL = time.Minute
	}
	if c.DetectorTimeout == 0 {
		c.DetectorTimeout = 5 * time.Second
	}
	if c.MinLandmarkVisibility == 0 {
		c.MinLandmarkVisibility = 0.5
	}
	if c.Thresholds == (fsm.Thresholds{}) {
		c.Thresholds = fsm.DefaultThresholds()
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "fixfit"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "fixfit-backend"
	}
	if len(c.CorsOrigins) == 0 {
		c.CorsOrigins = []string{"http://localhost:3000"}
	}
}

var ErrInvalidConfig = errors.New("invalid config")

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var err error
	if c.Port <= 0 || c.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port))
	}
	if c.PrometheusMetricsPort == "" {
		err = multierr.Append(err, fmt.Errorf("%w: prometheus_metrics_port not set", ErrInvalidConfig))
	}
	if c.RedisHost == "" || c.RedisPort == "" {
		err = multierr.Append(err, fmt.Errorf("%w: redis host and port must be set", ErrInvalidConfig))
	}
	if c.FramesRateLimitAllowedPerMin < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: frames_rate_limit_per_min must not be negative", ErrInvalidConfig))
	}
	if c.MinLandmarkVisibility < 0 || c.MinLandmarkVisibility > 1 {
		err = multierr.Append(err, fmt.Errorf("%w: min_landmark_visibility %.2f not in [0, 1]", ErrInvalidConfig, c.MinLandmarkVisibility))
	}
	if c.ValgusRatioThreshold < 0 || c.ValgusRatioThreshold > 1 {
		err = multierr.Append(err, fmt.Errorf("%w: valgus_ratio_threshold %.2f not in [0, 1]", ErrInvalidConfig, c.ValgusRatioThreshold))
	}
	if c.DetectorURL == "" {
		err = multierr.Append(err, fmt.Errorf("%w: detector_url not set", ErrInvalidConfig))
	}
	if tErr := c.Thresholds.Validate(); tErr != nil {
		err = multierr.Append(err, fmt.Errorf("%w: thresholds: %w", ErrInvalidConfig, tErr))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		err = multierr.Append(err, fmt.Errorf("%w: mqtt enabled without a broker", ErrInvalidConfig))
	}
	if c.MQTT.QoS > 2 {
		err = multierr.Append(err, fmt.Errorf("%w: mqtt qos %d not in [0, 2]", ErrInvalidConfig, c.MQTT.QoS))
	}
	return err
}

// ParseOrigins splits a comma separated origins list, dropping empty entries.
func ParseOrigins(origins string) []string {
	var res []string
	for _, origin := range strings.Split(origins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			res = append(res, origin)
		}
	}
	return res
}
