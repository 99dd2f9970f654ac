package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken  string          `yaml:"discord_token" toml:"discord_token"`
	LogLevel      string          `yaml:"log_level" toml:"log_level"`
	RetentionDays int             `yaml:"retention_days" toml:"retention_days"`
	Database      DatabaseConfig  `yaml:"database" toml:"database"`
	Health        HealthConfig    `yaml:"health" toml:"health"`
	RateLimit     RateLimitConfig `yaml:"ratelimit" toml:"ratelimit"`
	Cache         CacheConfig     `yaml:"cache" toml:"cache"`
	Automod       AutomodConfig   `yaml:"automod" toml:"automod"`
	Autoreact     AutoreactConfig `yaml:"autoreact" toml:"autoreact"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
}

// RateLimitConfig selects the counter backend. "memory" keeps counters in
// process, "redis" shares them between shards and "badger" keeps them on disk.
type RateLimitConfig struct {
	Backend       string `yaml:"backend" toml:"backend"`
	RedisAddr     string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string `yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" toml:"redis_db"`
	BadgerPath    string `yaml:"badger_path" toml:"badger_path"`
	CacheSize     int    `yaml:"cache_size" toml:"cache_size"`
}

type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds" toml:"ttl_seconds"`
	Size       int `yaml:"size" toml:"size"`
}

type AutomodConfig struct {
	DefaultTimeoutSeconds   int      `yaml:"default_timeout_seconds" toml:"default_timeout_seconds"`
	SpamTimeoutSeconds      int      `yaml:"spam_timeout_seconds" toml:"spam_timeout_seconds"`
	SlowmodeSeconds         int      `yaml:"slowmode_seconds" toml:"slowmode_seconds"`
	SlowmodeRevertMinutes   int      `yaml:"slowmode_revert_minutes" toml:"slowmode_revert_minutes"`
	AllowedLinkDomains      []string `yaml:"allowed_link_domains" toml:"allowed_link_domains"`
	PurgeLimit              int      `yaml:"purge_limit" toml:"purge_limit"`
	GuildBurstMessages      int      `yaml:"guild_burst_messages" toml:"guild_burst_messages"`
	GuildBurstWindowSeconds int      `yaml:"guild_burst_window_seconds" toml:"guild_burst_window_seconds"`
	ImageWindowSeconds      int      `yaml:"image_window_seconds" toml:"image_window_seconds"`
	SpamWindowSeconds       int      `yaml:"spam_window_seconds" toml:"spam_window_seconds"`
	EventTimeoutSeconds     int      `yaml:"event_timeout_seconds" toml:"event_timeout_seconds"`
	TimeoutNoticeSeconds    int      `yaml:"timeout_notice_seconds" toml:"timeout_notice_seconds"`
}

type AutoreactConfig struct {
	ReactionIntervalMS int `yaml:"reaction_interval_ms" toml:"reaction_interval_ms"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel:      "info",
		RetentionDays: 30,
		Database:      DatabaseConfig{Driver: "sqlite", DSN: "/data/sentinel.db"},
		Health:        HealthConfig{Enabled: false, Addr: ":8080"},
		RateLimit:     RateLimitConfig{Backend: "memory", RedisAddr: "localhost:6379", BadgerPath: "/data/ratelimit", CacheSize: 65536},
		Cache:         CacheConfig{TTLSeconds: 30, Size: 4096},
		Automod: AutomodConfig{
			DefaultTimeoutSeconds:   20,
			SpamTimeoutSeconds:      5,
			SlowmodeSeconds:         5,
			SlowmodeRevertMinutes:   5,
			AllowedLinkDomains:      []string{"tenor.com"},
			PurgeLimit:              10,
			GuildBurstMessages:      20,
			GuildBurstWindowSeconds: 10,
			ImageWindowSeconds:      10,
			SpamWindowSeconds:       5,
			EventTimeoutSeconds:     15,
			TimeoutNoticeSeconds:    5,
		},
		Autoreact: AutoreactConfig{ReactionIntervalMS: 500},
	}
}

// Path returns the config file location, CONFIG_PATH or config.yaml.
func Path() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return "config.yaml"
}

func Load() (Config, error) {
	return LoadFile(Path())
}

// LoadFile reads path on top of the defaults. A missing file is not an error;
// environment overrides are applied afterwards either way.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		if err := decode(path, data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}

	normalize(&cfg)
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.Database.Driver = envString("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = envString("DATABASE_DSN", cfg.Database.DSN)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.RateLimit.Backend = envString("RATELIMIT_BACKEND", cfg.RateLimit.Backend)
	cfg.RateLimit.RedisAddr = envString("REDIS_ADDR", cfg.RateLimit.RedisAddr)
	cfg.RateLimit.RedisPassword = envString("REDIS_PASSWORD", cfg.RateLimit.RedisPassword)
	cfg.RateLimit.RedisDB = envInt("REDIS_DB", cfg.RateLimit.RedisDB)
	cfg.RateLimit.BadgerPath = envString("BADGER_PATH", cfg.RateLimit.BadgerPath)
	cfg.Automod.DefaultTimeoutSeconds = envInt("AUTOMOD_TIMEOUT_SECONDS", cfg.Automod.DefaultTimeoutSeconds)
}

func normalize(cfg *Config) {
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	switch strings.ToLower(cfg.Database.Driver) {
	case "postgres", "postgresql", "pgx":
		cfg.Database.Driver = "postgres"
	default:
		cfg.Database.Driver = "sqlite"
	}

	switch strings.ToLower(cfg.RateLimit.Backend) {
	case "redis":
		cfg.RateLimit.Backend = "redis"
	case "badger":
		cfg.RateLimit.Backend = "badger"
	default:
		cfg.RateLimit.Backend = "memory"
	}

	domains := make([]string, 0, len(cfg.Automod.AllowedLinkDomains))
	for _, domain := range cfg.Automod.AllowedLinkDomains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain != "" {
			domains = append(domains, domain)
		}
	}
	cfg.Automod.AllowedLinkDomains = domains

	defaults := DefaultConfig().Automod
	cfg.Automod.DefaultTimeoutSeconds = positiveOr(cfg.Automod.DefaultTimeoutSeconds, defaults.DefaultTimeoutSeconds)
	cfg.Automod.SpamTimeoutSeconds = positiveOr(cfg.Automod.SpamTimeoutSeconds, defaults.SpamTimeoutSeconds)
	cfg.Automod.SlowmodeSeconds = positiveOr(cfg.Automod.SlowmodeSeconds, defaults.SlowmodeSeconds)
	cfg.Automod.SlowmodeRevertMinutes = positiveOr(cfg.Automod.SlowmodeRevertMinutes, defaults.SlowmodeRevertMinutes)
	cfg.Automod.GuildBurstMessages = positiveOr(cfg.Automod.GuildBurstMessages, defaults.GuildBurstMessages)
	cfg.Automod.GuildBurstWindowSeconds = positiveOr(cfg.Automod.GuildBurstWindowSeconds, defaults.GuildBurstWindowSeconds)
	cfg.Automod.ImageWindowSeconds = positiveOr(cfg.Automod.ImageWindowSeconds, defaults.ImageWindowSeconds)
	cfg.Automod.SpamWindowSeconds = positiveOr(cfg.Automod.SpamWindowSeconds, defaults.SpamWindowSeconds)
	cfg.Automod.EventTimeoutSeconds = positiveOr(cfg.Automod.EventTimeoutSeconds, defaults.EventTimeoutSeconds)
	// bulk delete accepts at most 100 ids
	if cfg.Automod.PurgeLimit <= 0 || cfg.Automod.PurgeLimit > 100 {
		cfg.Automod.PurgeLimit = defaults.PurgeLimit
	}
	if cfg.Cache.TTLSeconds <= 0 {
		cfg.Cache.TTLSeconds = 30
	}
}

// BuildLogger returns the logger together with its level handle so the level
// can be changed on reload.
func BuildLogger(level string) (*zap.Logger, zap.AtomicLevel, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))

	logger, err := cfg.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	return logger, cfg.Level, nil
}

func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
