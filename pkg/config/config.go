package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Log         struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		AllowedOrigins  []string      `yaml:"allowed_origins" default:"[\"*\"]"`
		RateLimit       struct {
			Enabled      bool    `yaml:"enabled" default:"true"`
			Capacity     float64 `yaml:"capacity" default:"20"`
			RefillPerSec float64 `yaml:"refill_per_sec" default:"5"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Engine Engine       `yaml:"engine"`
	Rules  []RuleConfig `yaml:"rules"`
	Ports  struct {
		MetaBrain   HTTPPort `yaml:"meta_brain"`
		Health      HTTPPort `yaml:"health"`
		Calibration struct {
			// Backend is neutral or clickhouse.
			Backend      string        `yaml:"backend" default:"neutral"`
			LookbackDays int           `yaml:"lookback_days" default:"90"`
			MinSamples   int           `yaml:"min_samples" default:"30"`
			MinModifier  float64       `yaml:"min_modifier" default:"0.5"`
			MaxModifier  float64       `yaml:"max_modifier" default:"1.2"`
			CacheTTL     time.Duration `yaml:"cache_ttl" default:"5m"`
			// Cache is none, memory, redis or layered.
			Cache string `yaml:"cache" default:"memory"`
		} `yaml:"calibration"`
	} `yaml:"ports"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"default"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
		Table            string        `yaml:"table" default:"verdict_outcomes"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size" default:"10"`
		Prefix   string `yaml:"prefix" default:"finverdict"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled      bool          `yaml:"enabled"`
		Brokers      []string      `yaml:"brokers" default:"[\"localhost:9092\"]"`
		Topic        string        `yaml:"topic" default:"verdicts"`
		RequiredAcks int           `yaml:"required_acks" default:"-1"`
		Compression  string        `yaml:"compression" default:"snappy"`
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"50ms"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	} `yaml:"kafka"`
	Queue struct {
		Enabled    bool          `yaml:"enabled"`
		Workers    int           `yaml:"workers" default:"4"`
		RetryLimit int           `yaml:"retry_limit" default:"3"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
		KeyPrefix  string        `yaml:"key_prefix" default:"finverdict:queue"`
	} `yaml:"queue"`
}

// Engine holds the decision thresholds and runtime limits of the verdict engine.
type Engine struct {
	MaxConcurrency int           `yaml:"max_concurrency" default:"8"`
	PortTimeout    time.Duration `yaml:"port_timeout" default:"2s"`
	MinConfidence  float64       `yaml:"min_confidence" default:"0.35"`
	MinEdge        float64       `yaml:"min_edge" default:"0.01"`
	KellyFraction  float64       `yaml:"kelly_fraction" default:"0.25"`
	OddsScale      float64       `yaml:"odds_scale" default:"10"`
	MaxPositionPct float64       `yaml:"max_position_pct" default:"0.25"`
}

// HTTPPort configures a remote port adapter.
type HTTPPort struct {
	Enabled    bool          `yaml:"enabled"`
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"timeout" default:"1s"`
	MaxRetries int           `yaml:"max_retries" default:"1"`
}

// RuleConfig declares one guardrail rule.
type RuleConfig struct {
	ID       string          `yaml:"id" json:"id"`
	Severity string          `yaml:"severity" json:"severity"`
	When     ConditionConfig `yaml:"when" json:"when"`
	Override string          `yaml:"override,omitempty" json:"override,omitempty"`
	Adjust   *AdjustConfig   `yaml:"adjust,omitempty" json:"adjust,omitempty"`
	Message  string          `yaml:"message" json:"message"`
}

// ConditionConfig is a field comparison against the snapshot, or a
// conjunction (All) / disjunction (Any) of nested conditions.
type ConditionConfig struct {
	Field string            `yaml:"field,omitempty" json:"field,omitempty"`
	Op    string            `yaml:"op,omitempty" json:"op,omitempty"`
	Value interface{}       `yaml:"value,omitempty" json:"value,omitempty"`
	All   []ConditionConfig `yaml:"all,omitempty" json:"all,omitempty"`
	Any   []ConditionConfig `yaml:"any,omitempty" json:"any,omitempty"`
}

// AdjustConfig is the numeric effect of a triggered rule.
type AdjustConfig struct {
	ConfidenceMul *float64 `yaml:"confidence_mul,omitempty" json:"confidenceMul,omitempty"`
	ReturnMul     *float64 `yaml:"return_mul,omitempty" json:"returnMul,omitempty"`
	RiskBump      int      `yaml:"risk_bump,omitempty" json:"riskBump,omitempty"`
}

// Default returns a configuration populated only from struct defaults.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		// struct tags are static; a failure here is a programming error
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads and parses a YAML configuration file over the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes over the defaults and validates the result.
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
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVER_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := getenv("META_BRAIN_URL"); v != "" {
		c.Ports.MetaBrain.URL = v
		c.Ports.MetaBrain.Enabled = true
	}
	if v := getenv("SHADOW_MONITOR_URL"); v != "" {
		c.Ports.Health.URL = v
		c.Ports.Health.Enabled = true
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	e := c.Engine
	if e.MaxConcurrency <= 0 {
		return fmt.Errorf("engine.max_concurrency must be positive, got %d", e.MaxConcurrency)
	}
	if e.PortTimeout <= 0 {
		return fmt.Errorf("engine.port_timeout must be positive")
	}
	if e.MinConfidence < 0 || e.MinConfidence > 1 {
		return fmt.Errorf("engine.min_confidence must be within [0,1], got %v", e.MinConfidence)
	}
	if e.MinEdge < 0 {
		return fmt.Errorf("engine.min_edge must be non-negative")
	}
	if e.KellyFraction <= 0 || e.KellyFraction > 1 {
		return fmt.Errorf("engine.kelly_fraction must be within (0,1], got %v", e.KellyFraction)
	}
	if e.OddsScale <= 0 {
		return fmt.Errorf("engine.odds_scale must be positive")
	}
	if e.MaxPositionPct < 0 || e.MaxPositionPct > 1 {
		return fmt.Errorf("engine.max_position_pct must be within [0,1], got %v", e.MaxPositionPct)
	}

	for i, r := range c.Rules {
		if r.ID == "" {
			return fmt.Errorf("rules[%d].id is required", i)
		}
		if r.When.Field == "" && len(r.When.All) == 0 && len(r.When.Any) == 0 {
			return fmt.Errorf("rules[%d] (%s): when needs a field, all or any", i, r.ID)
		}
	}

	for name, p := range map[string]HTTPPort{"meta_brain": c.Ports.MetaBrain, "health": c.Ports.Health} {
		if p.Enabled && p.URL == "" {
			return fmt.Errorf("ports.%s.url is required when enabled", name)
		}
	}

	cal := c.Ports.Calibration
	switch cal.Backend {
	case "neutral", "clickhouse":
	default:
		return fmt.Errorf("ports.calibration.backend must be 'neutral' or 'clickhouse', got '%s'", cal.Backend)
	}
	switch cal.Cache {
	case "none", "memory":
	case "redis", "layered":
		if !c.Redis.Enabled {
			return fmt.Errorf("ports.calibration.cache '%s' requires redis.enabled", cal.Cache)
		}
	default:
		return fmt.Errorf("ports.calibration.cache must be none, memory, redis or layered, got '%s'", cal.Cache)
	}
	if cal.MinModifier < 0 || cal.MaxModifier < cal.MinModifier {
		return fmt.Errorf("ports.calibration modifier bounds are invalid")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("queue.enabled requires redis.enabled")
	}
	return nil
}
