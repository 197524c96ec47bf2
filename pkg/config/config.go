// Package config loads service configuration from defaults, an optional YAML
// file and THRIFTER_ environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. THRIFTER_EMBED_PROVIDER.
const EnvPrefix = "THRIFTER"

// Known providers and backends.
var (
	EmbedProviders = []string{"none", "ollama", "openai", "clip"}
	IndexBackends  = []string{"local", "qdrant"}
	LLMProviders   = []string{"none", "openai"}
)

// Config is the full service configuration.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Server ServerConfig `mapstructure:"server"`
	Embed  EmbedConfig  `mapstructure:"embed"`
	Index  IndexConfig  `mapstructure:"index"`
	LLM    LLMConfig    `mapstructure:"llm"`
	Neo4j  Neo4jConfig  `mapstructure:"neo4j"`
	NATS   NATSConfig   `mapstructure:"nats"`
	Corpus CorpusConfig `mapstructure:"corpus"`
	Search SearchConfig `mapstructure:"search"`
}

// LogConfig sets the slog level: debug, info, warn or error.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	CORSOrigin      string        `mapstructure:"cors_origin"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
}

// EmbedConfig selects the embedding provider.
type EmbedConfig struct {
	Provider   string  `mapstructure:"provider"`
	URL        string  `mapstructure:"url"`
	Model      string  `mapstructure:"model"`
	APIKey     string  `mapstructure:"api_key"`
	Dimensions int     `mapstructure:"dimensions"`
	CacheDir   string  `mapstructure:"cache_dir"`
	Rate       float64 `mapstructure:"rate"`
	Burst      int     `mapstructure:"burst"`
}

// IndexConfig selects the vector index.
type IndexConfig struct {
	Backend    string `mapstructure:"backend"`
	QdrantAddr string `mapstructure:"qdrant_addr"`
	Collection string `mapstructure:"collection"`
}

// LLMConfig selects the answer generator used by the assistant.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider"`
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float32 `mapstructure:"temperature"`
}

// Neo4jConfig points at the profile graph. An empty URL keeps profiles in memory.
type Neo4jConfig struct {
	URL      string `mapstructure:"url"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// NATSConfig points at the broker. An empty URL disables the ingestion consumer.
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// CorpusConfig controls the initial corpus and index builds.
type CorpusConfig struct {
	SeedFile     string        `mapstructure:"seed_file"`
	Workers      int           `mapstructure:"workers"`
	BuildTimeout time.Duration `mapstructure:"build_timeout"`
}

// SearchConfig bounds query execution.
type SearchConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// SetDefaults registers every key with its default. Keys without a default
// cannot be overridden from the environment.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("server.rate_limit", 50.0)
	v.SetDefault("server.rate_burst", 100)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_upload_bytes", 10<<20)

	v.SetDefault("embed.provider", "none")
	v.SetDefault("embed.url", "")
	v.SetDefault("embed.model", "")
	v.SetDefault("embed.api_key", "")
	v.SetDefault("embed.dimensions", 0)
	v.SetDefault("embed.cache_dir", "")
	v.SetDefault("embed.rate", 20.0)
	v.SetDefault("embed.burst", 8)

	v.SetDefault("index.backend", "local")
	v.SetDefault("index.qdrant_addr", "localhost:6334")
	v.SetDefault("index.collection", "shops")

	v.SetDefault("llm.provider", "none")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 400)
	v.SetDefault("llm.temperature", 0.7)

	v.SetDefault("neo4j.url", "")
	v.SetDefault("neo4j.user", "neo4j")
	v.SetDefault("neo4j.password", "")

	v.SetDefault("nats.url", "")

	v.SetDefault("corpus.seed_file", "")
	v.SetDefault("corpus.workers", 8)
	v.SetDefault("corpus.build_timeout", 5*time.Minute)

	v.SetDefault("search.timeout", 5*time.Second)
}

// SetupEnv binds THRIFTER_ environment variables, with "." in keys replaced by "_".
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from path (optional) with environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	oneOf := func(key, got string, allowed []string) {
		if !slices.Contains(allowed, got) {
			errs = append(errs, fmt.Errorf("config: %s must be one of %v, got %q", key, allowed, got))
		}
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		errs = append(errs, fmt.Errorf("config: server.addr %q: %w", c.Server.Addr, err))
	}

	oneOf("embed.provider", c.Embed.Provider, EmbedProviders)
	switch c.Embed.Provider {
	case "ollama", "clip":
		if c.Embed.URL == "" {
			errs = append(errs, fmt.Errorf("config: embed.url is required for provider %q", c.Embed.Provider))
		}
	case "openai":
		if c.Embed.APIKey == "" && c.Embed.URL == "" {
			errs = append(errs, errors.New("config: embed.api_key or embed.url is required for provider \"openai\""))
		}
	}
	if c.Embed.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("config: embed.dimensions must not be negative, got %d", c.Embed.Dimensions))
	}

	oneOf("index.backend", c.Index.Backend, IndexBackends)
	if c.Index.Backend == "qdrant" && c.Index.QdrantAddr == "" {
		errs = append(errs, errors.New("config: index.qdrant_addr is required for backend \"qdrant\""))
	}

	oneOf("llm.provider", c.LLM.Provider, LLMProviders)
	if c.LLM.Provider == "openai" && c.LLM.APIKey == "" && c.LLM.BaseURL == "" {
		errs = append(errs, errors.New("config: llm.api_key or llm.base_url is required for provider \"openai\""))
	}

	if c.Corpus.Workers < 1 {
		errs = append(errs, fmt.Errorf("config: corpus.workers must be at least 1, got %d", c.Corpus.Workers))
	}
	if c.Search.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("config: search.timeout must be positive, got %s", c.Search.Timeout))
	}
	return errors.Join(errs...)
}

// Level returns the configured slog level.
func (c *Config) Level() slog.Level {
	l, _ := parseLevel(c.Log.Level)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: log.level %q: %w", s, err)
	}
	return l, nil
}
