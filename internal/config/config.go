// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Geocoder  GeocoderConfig  `mapstructure:"geocoder"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Harvester HarvesterConfig `mapstructure:"harvester"`
	Cluster   ClusterConfig   `mapstructure:"cluster"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int32  `mapstructure:"max_open_conns"`
	MinConns     int32  `mapstructure:"min_conns"`
}

// LLMConfig configures the language model provider.
type LLMConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	SummaryModel   string  `mapstructure:"summary_model"`
	Temperature    float32 `mapstructure:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// GeocoderConfig holds provider keys and identification.
type GeocoderConfig struct {
	GoogleAPIKey string `mapstructure:"google_api_key"`
	// ContactEmail identifies us to Nominatim per its usage policy.
	ContactEmail   string `mapstructure:"contact_email"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LimitProfile is one rate limiter's settings.
type LimitProfile struct {
	MaxConcurrent     int     `mapstructure:"max_concurrent"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// LimitsConfig carries the three per-provider limiter profiles.
type LimitsConfig struct {
	LLM       LimitProfile `mapstructure:"llm"`
	Google    LimitProfile `mapstructure:"google"`
	Nominatim LimitProfile `mapstructure:"nominatim"`
}

// ResolverConfig governs the resolution state machine.
type ResolverConfig struct {
	Concurrency         int     `mapstructure:"concurrency"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	ResearchAttempts    int     `mapstructure:"research_attempts"`
	GeocodeAttempts     int     `mapstructure:"geocode_attempts"`
	BackoffBaseSeconds  int     `mapstructure:"backoff_base_seconds"`
}

// HarvesterConfig controls the web harvester used by the search-pipeline
// fallback.
type HarvesterConfig struct {
	UserAgent    string `mapstructure:"user_agent"`
	CacheTTLDays int    `mapstructure:"cache_ttl_days"`
	SweepLimit   int    `mapstructure:"sweep_limit"`
	MaxResults   int    `mapstructure:"max_results"`
	TimeoutSec   int    `mapstructure:"timeout_seconds"`
}

// ClusterConfig controls batch clustering parameters.
type ClusterConfig struct {
	MinStories       int     `mapstructure:"min_stories"`
	AddressEpsMeters float64 `mapstructure:"address_eps_meters"`
	CityEpsMeters    float64 `mapstructure:"city_eps_meters"`
	MergeMeters      float64 `mapstructure:"merge_meters"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STORYATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.summary_model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 1500)
	v.SetDefault("llm.timeout_seconds", 60)
	v.SetDefault("geocoder.timeout_seconds", 10)
	v.SetDefault("limits.llm.max_concurrent", 10)
	v.SetDefault("limits.google.max_concurrent", 50)
	v.SetDefault("limits.nominatim.max_concurrent", 1)
	v.SetDefault("limits.nominatim.requests_per_second", 1)
	v.SetDefault("resolver.concurrency", 10)
	v.SetDefault("resolver.confidence_threshold", 0.7)
	v.SetDefault("resolver.research_attempts", 3)
	v.SetDefault("resolver.geocode_attempts", 2)
	v.SetDefault("resolver.backoff_base_seconds", 1)
	v.SetDefault("harvester.user_agent", "storyatlas/1.0 (story geocoding bot)")
	v.SetDefault("harvester.cache_ttl_days", 7)
	v.SetDefault("harvester.sweep_limit", 100)
	v.SetDefault("harvester.max_results", 5)
	v.SetDefault("harvester.timeout_seconds", 10)
	v.SetDefault("cluster.min_stories", 3)
	v.SetDefault("cluster.address_eps_meters", 500)
	v.SetDefault("cluster.city_eps_meters", 5000)
	v.SetDefault("cluster.merge_meters", 5000)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Resolver.Concurrency <= 0 {
		return fmt.Errorf("resolver.concurrency must be > 0")
	}
	if c.Resolver.ConfidenceThreshold < 0 || c.Resolver.ConfidenceThreshold > 1 {
		return fmt.Errorf("resolver.confidence_threshold must be in [0, 1]")
	}
	if c.Limits.Nominatim.MaxConcurrent != 1 {
		return fmt.Errorf("limits.nominatim.max_concurrent must be 1 (usage policy)")
	}
	if c.Limits.Nominatim.RequestsPerSecond > 1 {
		return fmt.Errorf("limits.nominatim.requests_per_second must be <= 1 (usage policy)")
	}
	if c.Cluster.MinStories <= 0 {
		return fmt.Errorf("cluster.min_stories must be > 0")
	}
	if c.Harvester.CacheTTLDays <= 0 {
		return fmt.Errorf("harvester.cache_ttl_days must be > 0")
	}
	return nil
}
