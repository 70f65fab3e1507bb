// Package config loads the settings Jervis needs at start-up: provider
// credentials and model catalogs, rate limiter thresholds, parallelism
// caps, and storage connection strings. Defaults come from environment
// variables; an optional YAML file overlays them for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully-resolved process configuration.
type Config struct {
	Providers   ProvidersConfig   `yaml:"providers"`
	RateLimit   RateLimitConfig   `yaml:"rateLimit"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	PlanExec    PlanExecConfig    `yaml:"planExec"`
	Mongo       MongoConfig       `yaml:"mongo"`
	Redis       RedisConfig       `yaml:"redis"`
}

// ProvidersConfig carries the per-provider API credentials and the ordered
// model catalog the candidate selector chooses from.
type ProvidersConfig struct {
	AnthropicAPIKey string         `yaml:"anthropicApiKey"`
	OpenAIAPIKey    string         `yaml:"openaiApiKey"`
	BedrockRegion   string         `yaml:"bedrockRegion"`
	Models          []ModelProfile `yaml:"models"`
}

// ModelProfile describes one entry in the model catalog: its provider, the
// wire name the provider SDK expects, and the capability tags the selector
// filters on (e.g. "vision", "long-context").
type ModelProfile struct {
	Name         string   `yaml:"name"`
	Provider     string   `yaml:"provider"`
	WireName     string   `yaml:"wireName"`
	Capabilities []string `yaml:"capabilities"`
	Priority     int      `yaml:"priority"`
}

// RateLimitConfig carries the per-domain adaptive limiter settings:
// T1 and T2 are consecutive item-count windows: a domain's first T1 items
// are served in the burst phase, the next T2 in the normal phase, and
// every item after T1+T2 in the sustained phase, each phase with its own
// bucket capacity (permits per second) and unconditional spacing delay.
type RateLimitConfig struct {
	T1 int `yaml:"t1"`
	T2 int `yaml:"t2"`

	Phase1PerSecond float64       `yaml:"phase1PerSecond"`
	Phase1Delay     time.Duration `yaml:"phase1Delay"`
	Phase2PerSecond float64       `yaml:"phase2PerSecond"`
	Phase2Delay     time.Duration `yaml:"phase2Delay"`
	Phase3PerSecond float64       `yaml:"phase3PerSecond"`
	Phase3Delay     time.Duration `yaml:"phase3Delay"`

	// InternalPrefixes names hostname prefixes exempt from rate limiting in
	// addition to loopback/RFC1918 detection.
	InternalPrefixes []string `yaml:"internalPrefixes"`

	// SharedCounterRedis enables the Redis-backed item counter so every
	// replica escalates through phases together.
	SharedCounterRedis bool `yaml:"sharedCounterRedis"`
}

// ConcurrencyConfig carries the per-provider semaphore size used to bound
// concurrent in-flight LLM calls.
type ConcurrencyConfig struct {
	MaxInFlightPerProvider int64 `yaml:"maxInFlightPerProvider"`
}

// PlanExecConfig carries the Plan Executor's scheduling parameters.
type PlanExecConfig struct {
	// ParallelismCap bounds how many ready steps of a single plan run
	// concurrently.
	ParallelismCap int64 `yaml:"parallelismCap"`
	// TemporalTaskQueue is the task queue the durable plan-execution
	// backend registers against, when enabled.
	TemporalTaskQueue string `yaml:"temporalTaskQueue"`
}

// MongoConfig carries the connection string and database name for the
// persistence layer (plans, indexed items, contexts, requirements).
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// RedisConfig carries the connection address used for the optional shared
// rate-limiter counter.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Default returns the built-in baseline configuration before any
// environment or file overlay is applied.
func Default() Config {
	return Config{
		RateLimit: RateLimitConfig{
			T1:              100,
			T2:              500,
			Phase1PerSecond: 100,
			Phase2PerSecond: 10,
			Phase2Delay:     50 * time.Millisecond,
			Phase3PerSecond: 1,
			Phase3Delay:     500 * time.Millisecond,
		},
		Concurrency: ConcurrencyConfig{MaxInFlightPerProvider: 16},
		PlanExec:    PlanExecConfig{ParallelismCap: 4, TemporalTaskQueue: "jervis-plans"},
		Mongo:       MongoConfig{Database: "jervis"},
	}
}

// Load builds a Config by starting from Default, overlaying an optional
// YAML file at path (skipped silently if path is empty or the file does not
// exist), and finally overlaying environment variables, which always take
// precedence so container orchestration can override a checked-in file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("JERVIS_ANTHROPIC_API_KEY"); v != "" {
		cfg.Providers.AnthropicAPIKey = v
	}
	if v := os.Getenv("JERVIS_OPENAI_API_KEY"); v != "" {
		cfg.Providers.OpenAIAPIKey = v
	}
	if v := os.Getenv("JERVIS_BEDROCK_REGION"); v != "" {
		cfg.Providers.BedrockRegion = v
	}
	if v := os.Getenv("JERVIS_MONGO_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("JERVIS_MONGO_DATABASE"); v != "" {
		cfg.Mongo.Database = v
	}
	if v := os.Getenv("JERVIS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("JERVIS_RATE_LIMIT_T1"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.T1 = n
		}
	}
	if v := os.Getenv("JERVIS_RATE_LIMIT_T2"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.T2 = n
		}
	}
	if v := os.Getenv("JERVIS_MAX_INFLIGHT_PER_PROVIDER"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Concurrency.MaxInFlightPerProvider = n
		}
	}
}
