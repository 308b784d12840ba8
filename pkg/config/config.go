package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"mlass/pkg/nn"
	"mlass/pkg/util"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// Verification failure policies.
const (
	PolicyReject   = "reject"
	PolicyFallback = "fallback"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8000"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"5m"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		SlowThreshold   time.Duration `yaml:"slow_threshold" default:"2s"`
		CORS            bool          `yaml:"cors" default:"true"`
		BodyLimit       string        `yaml:"body_limit" default:"1M"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Telemetry struct {
		Enabled        bool          `yaml:"enabled" default:"false"`
		Endpoint       string        `yaml:"endpoint" default:"localhost:4317"`
		Insecure       bool          `yaml:"insecure" default:"true"`
		ServiceName    string        `yaml:"service_name" default:"mlass"`
		ServiceVersion string        `yaml:"service_version" default:"0.1.0"`
		SampleRatio    float64       `yaml:"sample_ratio" default:"1"`
		ExportInterval time.Duration `yaml:"export_interval" default:"15s"`
		ExportTimeout  time.Duration `yaml:"export_timeout" default:"10s"`
		ExportLogs     bool          `yaml:"export_logs" default:"true"`
	} `yaml:"telemetry"`
	Identity struct {
		Policy      string        `yaml:"policy" default:"reject"`
		Mode        string        `yaml:"mode" default:"static"` // static or http
		URL         string        `yaml:"url"`
		Timeout     time.Duration `yaml:"timeout" default:"5s"`
		CacheTTL    time.Duration `yaml:"cache_ttl" default:"5m"`
		ServiceID   string        `yaml:"service_id" default:"service-123"`
		AppID       string        `yaml:"app_id" default:"app-456"`
		AllowedKeys []string      `yaml:"allowed_keys"`
	} `yaml:"identity"`
	Data struct {
		Source  string `yaml:"source" default:"csv"` // csv or clickhouse
		Path    string `yaml:"path" default:"data/stock_prices.csv"`
		Symbol  string `yaml:"symbol"`
		MaxRows int    `yaml:"max_rows" default:"5000"`
	} `yaml:"data"`
	Model nn.Topology `yaml:"model"`
	Train struct {
		Timeout       time.Duration `yaml:"timeout" default:"4m"`
		RateCapacity  float64       `yaml:"rate_capacity" default:"2"`
		RatePerMinute float64       `yaml:"rate_per_minute" default:"1"`
	} `yaml:"train"`
	ClickHouse struct {
		Host        string        `yaml:"host"`
		Port        int           `yaml:"port" default:"9000"`
		Database    string        `yaml:"database" default:"default"`
		User        string        `yaml:"user" default:"default"`
		Password    string        `yaml:"password"`
		Table       string        `yaml:"table" default:"candles_1d"`
		UseHTTP     bool          `yaml:"use_http"`
		DialTimeout time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout time.Duration `yaml:"read_timeout" default:"30s"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled      bool          `yaml:"enabled"`
		Brokers      []string      `yaml:"brokers"`
		EventsTopic  string        `yaml:"events_topic" default:"mlass.events"`
		LogsTopic    string        `yaml:"logs_topic" default:"mlass.logs"`
		Compression  string        `yaml:"compression" default:"snappy"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled     bool          `yaml:"enabled"`
		Addr        string        `yaml:"addr" default:"localhost:6379"`
		Password    string        `yaml:"password"`
		DB          int           `yaml:"db"`
		Prefix      string        `yaml:"prefix" default:"mlass"`
		SnapshotTTL time.Duration `yaml:"snapshot_ttl" default:"168h"`
	} `yaml:"redis"`
	Log struct {
		Level         string        `yaml:"level" default:"info"`
		Format        string        `yaml:"format" default:"json"`
		Output        string        `yaml:"output" default:"stdout"`
		FlushInterval time.Duration `yaml:"flush_interval" default:"30s"`
	} `yaml:"log"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	_ = defaults.Set(&c)
	return &c
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse applies defaults, decodes YAML over them and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
// An empty path starts from defaults.
func LoadWithEnv(path string) (*Config, error) {
	var (
		c   *Config
		err error
	)
	if path == "" {
		c = Default()
	} else if c, err = Load(path); err != nil {
		return nil, err
	}

	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("MLASS_ENV", &c.Environment)
	str("MLASS_DATA_PATH", &c.Data.Path)
	str("MLASS_DATA_SOURCE", &c.Data.Source)
	str("MLASS_IDENTITY_POLICY", &c.Identity.Policy)
	str("MLASS_IDENTITY_URL", &c.Identity.URL)
	str("MLASS_LOG_LEVEL", &c.Log.Level)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("CLICKHOUSE_HOST", &c.ClickHouse.Host)

	c.Server.Port = util.ParseIntDefault(getenv("MLASS_PORT"), c.Server.Port)
	if v := getenv("MLASS_TELEMETRY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Telemetry.Enabled = b
		}
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if getenv("REDIS_ADDR") != "" {
		c.Redis.Enabled = true
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Identity.Policy != PolicyReject && c.Identity.Policy != PolicyFallback {
		return fmt.Errorf("identity.policy must be '%s' or '%s', got '%s'", PolicyReject, PolicyFallback, c.Identity.Policy)
	}
	switch c.Identity.Mode {
	case "static":
	case "http":
		if c.Identity.URL == "" {
			return fmt.Errorf("identity.url is required when identity.mode is http")
		}
	default:
		return fmt.Errorf("identity.mode must be 'static' or 'http', got '%s'", c.Identity.Mode)
	}
	switch c.Data.Source {
	case "csv":
		if c.Data.Path == "" {
			return fmt.Errorf("data.path is required for the csv source")
		}
	case "clickhouse":
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("clickhouse.host is required for the clickhouse source")
		}
		if c.Data.Symbol == "" {
			return fmt.Errorf("data.symbol is required for the clickhouse source")
		}
	default:
		return fmt.Errorf("data.source must be 'csv' or 'clickhouse', got '%s'", c.Data.Source)
	}
	if c.Server.WriteTimeout > 0 && c.Train.Timeout >= c.Server.WriteTimeout {
		return fmt.Errorf("train.timeout (%s) must be shorter than server.write_timeout (%s)", c.Train.Timeout, c.Server.WriteTimeout)
	}
	if c.Data.MaxRows <= 0 {
		return fmt.Errorf("data.max_rows must be positive")
	}
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be in [0,1]")
	}
	return nil
}
