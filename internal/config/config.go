// Package config loads the voxa server configuration from defaults, an
// optional YAML file and environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	TTS        TTSConfig        `mapstructure:"tts"`
	Transcoder TranscoderConfig `mapstructure:"transcoder"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	Environment string `mapstructure:"environment"`
	FrontendURL string `mapstructure:"frontend_url"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// OpenAIConfig holds the speech provider credentials. An empty APIKey is
// allowed at load time; requests fail with a configuration error instead.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type TTSConfig struct {
	Provider     string `mapstructure:"provider"`
	DefaultVoice string `mapstructure:"default_voice"`
	MaxChars     int    `mapstructure:"max_chars"`
}

type TranscoderConfig struct {
	Command string `mapstructure:"command"`
}

// RateLimitConfig configures the per-principal fixed window guard on the
// speech endpoint. Max of 0 means "pick the default for the environment".
type RateLimitConfig struct {
	Backend  string     `mapstructure:"backend"` // memory or nats
	Max      int        `mapstructure:"max"`
	WindowMS int        `mapstructure:"window_ms"`
	Disabled bool       `mapstructure:"disabled"`
	NATS     NATSConfig `mapstructure:"nats"`
}

func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMS) * time.Millisecond
}

type NATSConfig struct {
	URL      string `mapstructure:"url"`
	Embedded bool   `mapstructure:"embedded"`
	Port     int    `mapstructure:"port"`
	StoreDir string `mapstructure:"store_dir"`
	Bucket   string `mapstructure:"bucket"`
}

type DatabaseConfig struct {
	Driver           string `mapstructure:"driver"` // postgres or sqlite
	URL              string `mapstructure:"url"`
	ConnectTimeoutMS int    `mapstructure:"connect_timeout_ms"`
	MaxOpenConns     int    `mapstructure:"max_open_conns"`
}

func (d DatabaseConfig) ConnectTimeout() time.Duration {
	return time.Duration(d.ConnectTimeoutMS) * time.Millisecond
}

type AuthConfig struct {
	SupabaseURL string `mapstructure:"supabase_url"`
	JWTSecret   string `mapstructure:"jwt_secret"`
	Audience    string `mapstructure:"audience"`
}

type TelemetryConfig struct {
	Tracing      bool   `mapstructure:"tracing"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	ServiceName  string `mapstructure:"service_name"`
}

// envBindings maps config keys to the environment variables the deployment
// already uses. The first variable set wins.
var envBindings = map[string][]string{
	"server.port":                 {"PORT"},
	"server.environment":          {"VOXA_ENV", "NODE_ENV"},
	"server.frontend_url":         {"VITE_FRONTEND_URL", "FRONTEND_URL"},
	"server.metrics_port":         {"METRICS_PORT"},
	"logging.level":               {"LOG_LEVEL"},
	"logging.format":              {"LOG_FORMAT"},
	"openai.api_key":              {"OPENAI_API_KEY"},
	"openai.base_url":             {"OPENAI_BASE_URL"},
	"openai.model":                {"OPENAI_TTS_MODEL"},
	"tts.provider":                {"TTS_PROVIDER"},
	"tts.default_voice":           {"TTS_DEFAULT_VOICE"},
	"tts.max_chars":               {"TTS_MAX_CHARS"},
	"transcoder.command":          {"FFMPEG_COMMAND"},
	"rate_limit.backend":          {"TTS_RATE_LIMIT_BACKEND"},
	"rate_limit.max":              {"TTS_RATE_LIMIT_MAX"},
	"rate_limit.window_ms":        {"TTS_RATE_LIMIT_WINDOW_MS"},
	"rate_limit.disabled":         {"DISABLE_RATE_LIMIT"},
	"rate_limit.nats.url":         {"NATS_URL"},
	"rate_limit.nats.embedded":    {"NATS_EMBEDDED"},
	"rate_limit.nats.port":        {"NATS_PORT"},
	"rate_limit.nats.store_dir":   {"NATS_STORE_DIR"},
	"rate_limit.nats.bucket":      {"NATS_BUCKET"},
	"database.driver":             {"DATABASE_DRIVER"},
	"database.url":                {"DATABASE_URL"},
	"database.connect_timeout_ms": {"DB_CONNECTION_TIMEOUT_MS"},
	"auth.supabase_url":           {"SUPABASE_URL", "VITE_SUPABASE_URL"},
	"auth.jwt_secret":             {"SUPABASE_JWT_SECRET"},
	"telemetry.tracing":           {"TRACING_ENABLED"},
	"telemetry.otlp_endpoint":     {"OTEL_EXPORTER_OTLP_ENDPOINT"},
}

// Load reads the configuration. If configFile is empty the standard search
// order applies: ./voxa.yaml, ./configs/voxa.yaml, /etc/voxa/voxa.yaml. A
// missing file is not an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 4000)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.frontend_url", "http://localhost:3000")
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("openai.model", "gpt-4o-mini-tts")
	v.SetDefault("tts.provider", "openai")
	v.SetDefault("tts.default_voice", "alloy")
	v.SetDefault("tts.max_chars", 500)
	v.SetDefault("transcoder.command", "ffmpeg")
	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.window_ms", 15*60*1000)
	v.SetDefault("rate_limit.disabled", false)
	v.SetDefault("rate_limit.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("rate_limit.nats.embedded", false)
	v.SetDefault("rate_limit.nats.port", 4222)
	v.SetDefault("rate_limit.nats.store_dir", "./data/nats")
	v.SetDefault("rate_limit.nats.bucket", "tts_rate_limit")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.connect_timeout_ms", 30000)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("auth.audience", "authenticated")
	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.service_name", "voxa")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("voxa")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/voxa")
	}

	// VOXA_<KEY> works for every key and wins over the bound names.
	v.SetEnvPrefix("VOXA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envBindings {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Debug("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.applyDerivedDefaults()
	cfg.OpenAI.APIKey = resolveEnvRef(cfg.OpenAI.APIKey)
	cfg.Auth.JWTSecret = resolveEnvRef(cfg.Auth.JWTSecret)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDerivedDefaults() {
	c.Server.Environment = strings.ToLower(strings.TrimSpace(c.Server.Environment))
	if c.RateLimit.Max == 0 {
		if c.IsProduction() {
			c.RateLimit.Max = 10
		} else {
			c.RateLimit.Max = 50
		}
	}
	c.RateLimit.Backend = strings.ToLower(c.RateLimit.Backend)
	c.Database.Driver = strings.ToLower(c.Database.Driver)
	c.Auth.SupabaseURL = strings.TrimRight(c.Auth.SupabaseURL, "/")
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("server.metrics_port must be between 0 and 65535, got %d", c.Server.MetricsPort)
	}
	if c.TTS.MaxChars < 1 {
		return fmt.Errorf("tts.max_chars must be positive")
	}
	if c.RateLimit.Max < 1 {
		return fmt.Errorf("rate_limit.max must be positive")
	}
	if c.RateLimit.WindowMS <= 0 {
		return fmt.Errorf("rate_limit.window_ms must be positive")
	}
	switch c.RateLimit.Backend {
	case "memory", "nats":
	default:
		return fmt.Errorf("unsupported rate_limit.backend %q (supported: memory, nats)", c.RateLimit.Backend)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database.driver %q (supported: postgres, sqlite)", c.Database.Driver)
	}
	if strings.TrimSpace(c.Transcoder.Command) == "" {
		return fmt.Errorf("transcoder.command is required")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// RateLimitBypassed reports whether the speech rate limit is switched off.
// Production always enforces it.
func (c *Config) RateLimitBypassed() bool {
	return c.RateLimit.Disabled && !c.IsProduction()
}

// resolveEnvRef replaces "${VAR_NAME}" values with the named env var.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		if envVal := os.Getenv(val[2 : len(val)-1]); envVal != "" {
			return envVal
		}
	}
	return val
}

// SetupLogging configures the global slog logger and returns it.
func SetupLogging(cfg LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
