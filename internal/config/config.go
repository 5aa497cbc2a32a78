package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig
	GitHub    GitHubConfig
	Retry     RetryConfig
	RateLimit RateLimitConfig
	Scoring   ScoringConfig
	Webhook   WebhookConfig
	Store     StoreConfig
	Lock      LockConfig
	Telemetry TelemetryConfig
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	AdminToken string `yaml:"admin_token"`
}

// GitHubConfig configures GitHub API interactions. A token and a GitHub App
// installation are both optional; when neither is set, requests run against
// unauthenticated rate limits.
type GitHubConfig struct {
	APIBaseURL     string
	Token          string
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
	RequestTimeout time.Duration
	PageSize       int
}

// RetryConfig configures retries for GitHub requests.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// RateLimitConfig configures rate-limit controls.
type RateLimitConfig struct {
	MinRemainingThreshold int
	MinResetBuffer        time.Duration
	SecondaryLimitBackoff time.Duration
}

// ScoringConfig configures the tier label to points table.
type ScoringConfig struct {
	Level1Points int    `yaml:"level1_points"`
	Level2Points int    `yaml:"level2_points"`
	Level3Points int    `yaml:"level3_points"`
	Level1Label  string `yaml:"level1_label"`
	Level2Label  string `yaml:"level2_label"`
	Level3Label  string `yaml:"level3_label"`
}

// WebhookConfig configures inbound webhook verification.
type WebhookConfig struct {
	Secret string `yaml:"secret"`
}

// StoreConfig configures contribution storage.
type StoreConfig struct {
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
}

// LockConfig configures the leaderboard rebuild lock.
type LockConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// TelemetryConfig configures OpenTelemetry behavior.
type TelemetryConfig struct {
	OTELEnabled          bool
	OTELTraceMode        string
	OTELTraceSampleRatio float64
}

// Load reads configuration from YAML and validates the result.
func Load(reader io.Reader) (*Config, error) {
	if reader == nil {
		return nil, fmt.Errorf("config reader is nil")
	}

	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)

	var raw rawConfig
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg := raw.toConfig()
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates configuration values.
func (c *Config) Validate() error {
	var errs []string

	if !slices.Contains(validLogLevels, c.Server.LogLevel) {
		errs = append(errs, "server.log_level must be one of debug|info|warn|error")
	}

	if c.GitHub.PageSize <= 0 || c.GitHub.PageSize > 100 {
		errs = append(errs, "github.page_size must be in 1..100")
	}
	appFieldsSet := 0
	if c.GitHub.AppID > 0 {
		appFieldsSet++
	}
	if c.GitHub.InstallationID > 0 {
		appFieldsSet++
	}
	if c.GitHub.PrivateKeyPath != "" {
		appFieldsSet++
	}
	if appFieldsSet > 0 && appFieldsSet < 3 {
		errs = append(errs, "github app auth requires app_id, installation_id, and private_key_path together")
	}
	if appFieldsSet == 3 && c.GitHub.Token != "" {
		errs = append(errs, "github.token and github app auth are mutually exclusive")
	}

	if c.Scoring.Level1Points < 0 || c.Scoring.Level2Points < 0 || c.Scoring.Level3Points < 0 {
		errs = append(errs, "scoring points must be >= 0")
	}
	labels := []string{c.Scoring.Level1Label, c.Scoring.Level2Label, c.Scoring.Level3Label}
	seenLabels := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		normalized := strings.ToLower(strings.TrimSpace(label))
		if normalized == "" {
			errs = append(errs, "scoring labels must be non-empty")
			continue
		}
		if _, ok := seenLabels[normalized]; ok {
			errs = append(errs, "scoring labels must be distinct: "+normalized)
		}
		seenLabels[normalized] = struct{}{}
	}

	if c.Store.Backend != "memory" && c.Store.Backend != "sqlite" {
		errs = append(errs, "store.backend must be memory or sqlite")
	}
	if c.Store.Backend == "sqlite" && c.Store.SQLitePath == "" {
		errs = append(errs, "store.sqlite_path is required when store.backend=sqlite")
	}

	if c.Lock.Backend != "local" && c.Lock.Backend != "redis" {
		errs = append(errs, "lock.backend must be local or redis")
	}
	if c.Lock.Backend == "redis" && c.Lock.RedisAddr == "" {
		errs = append(errs, "lock.redis_addr is required when lock.backend=redis")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.GitHub.PageSize == 0 {
		cfg.GitHub.PageSize = 100
	}
	if cfg.GitHub.RequestTimeout == 0 {
		cfg.GitHub.RequestTimeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialBackoff == 0 {
		cfg.Retry.InitialBackoff = time.Second
	}
	if cfg.Scoring.Level1Label == "" {
		cfg.Scoring.Level1Label = "level-1"
	}
	if cfg.Scoring.Level2Label == "" {
		cfg.Scoring.Level2Label = "level-2"
	}
	if cfg.Scoring.Level3Label == "" {
		cfg.Scoring.Level3Label = "level-3"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Lock.Backend == "" {
		cfg.Lock.Backend = "local"
	}
	if cfg.Lock.TTL == 0 {
		cfg.Lock.TTL = 2 * time.Minute
	}
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Kind == 0 || strings.TrimSpace(value.Value) == "" {
		d.Duration = 0
		return nil
	}

	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}

	parsed, err := parseFlexibleDuration(raw)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func parseFlexibleDuration(raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}

	if standard, err := time.ParseDuration(trimmed); err == nil {
		return standard, nil
	}

	if strings.HasSuffix(trimmed, "d") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "d"), 24)
	}
	if strings.HasSuffix(trimmed, "w") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "w"), 24*7)
	}

	return 0, fmt.Errorf("parse duration %q: invalid unit", raw)
}

func pointsOrDefault(points *int, fallback int) int {
	if points == nil {
		return fallback
	}
	return *points
}

func parseDurationWithMultiplier(numeric string, multiplierHours float64) (time.Duration, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(numeric), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration value %q: %w", numeric, err)
	}

	nanos := value * multiplierHours * float64(time.Hour)
	if nanos > math.MaxInt64 || nanos < math.MinInt64 {
		return 0, fmt.Errorf("parse duration value %q: out of range", numeric)
	}
	return time.Duration(nanos), nil
}

type rawConfig struct {
	Server    ServerConfig  `yaml:"server"`
	GitHub    rawGitHub     `yaml:"github"`
	Retry     rawRetry      `yaml:"retry"`
	RateLimit rawRateLimit  `yaml:"rate_limit"`
	Scoring   rawScoring    `yaml:"scoring"`
	Webhook   WebhookConfig `yaml:"webhook"`
	Store     StoreConfig   `yaml:"store"`
	Lock      rawLock       `yaml:"lock"`
	Telemetry rawTelemetry  `yaml:"telemetry"`
}

type rawGitHub struct {
	APIBaseURL     string   `yaml:"api_base_url"`
	Token          string   `yaml:"token"`
	AppID          int64    `yaml:"app_id"`
	InstallationID int64    `yaml:"installation_id"`
	PrivateKeyPath string   `yaml:"private_key_path"`
	RequestTimeout duration `yaml:"request_timeout"`
	PageSize       int      `yaml:"page_size"`
}

type rawRetry struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff duration `yaml:"initial_backoff"`
	MaxBackoff     duration `yaml:"max_backoff"`
}

type rawRateLimit struct {
	MinRemainingThreshold int      `yaml:"min_remaining_threshold"`
	MinResetBuffer        duration `yaml:"min_reset_buffer"`
	SecondaryLimitBackoff duration `yaml:"secondary_limit_backoff"`
}

// Points decode through pointers so an explicit zero survives defaulting; a
// tier can be worth nothing.
type rawScoring struct {
	Level1Points *int   `yaml:"level1_points"`
	Level2Points *int   `yaml:"level2_points"`
	Level3Points *int   `yaml:"level3_points"`
	Level1Label  string `yaml:"level1_label"`
	Level2Label  string `yaml:"level2_label"`
	Level3Label  string `yaml:"level3_label"`
}

type rawLock struct {
	Backend       string   `yaml:"backend"`
	RedisAddr     string   `yaml:"redis_addr"`
	RedisPassword string   `yaml:"redis_password"`
	RedisDB       int      `yaml:"redis_db"`
	TTL           duration `yaml:"ttl"`
}

type rawTelemetry struct {
	OTELEnabled          bool    `yaml:"otel_enabled"`
	OTELTraceMode        string  `yaml:"otel_trace_mode"`
	OTELTraceSampleRatio float64 `yaml:"otel_trace_sample_ratio"`
}

func (r rawConfig) toConfig() *Config {
	return &Config{
		Server: r.Server,
		GitHub: GitHubConfig{
			APIBaseURL:     r.GitHub.APIBaseURL,
			Token:          r.GitHub.Token,
			AppID:          r.GitHub.AppID,
			InstallationID: r.GitHub.InstallationID,
			PrivateKeyPath: r.GitHub.PrivateKeyPath,
			RequestTimeout: r.GitHub.RequestTimeout.Duration,
			PageSize:       r.GitHub.PageSize,
		},
		Retry: RetryConfig{
			MaxAttempts:    r.Retry.MaxAttempts,
			InitialBackoff: r.Retry.InitialBackoff.Duration,
			MaxBackoff:     r.Retry.MaxBackoff.Duration,
		},
		RateLimit: RateLimitConfig{
			MinRemainingThreshold: r.RateLimit.MinRemainingThreshold,
			MinResetBuffer:        r.RateLimit.MinResetBuffer.Duration,
			SecondaryLimitBackoff: r.RateLimit.SecondaryLimitBackoff.Duration,
		},
		Scoring: ScoringConfig{
			Level1Points: pointsOrDefault(r.Scoring.Level1Points, 10),
			Level2Points: pointsOrDefault(r.Scoring.Level2Points, 20),
			Level3Points: pointsOrDefault(r.Scoring.Level3Points, 30),
			Level1Label:  r.Scoring.Level1Label,
			Level2Label:  r.Scoring.Level2Label,
			Level3Label:  r.Scoring.Level3Label,
		},
		Webhook: r.Webhook,
		Store:   r.Store,
		Lock: LockConfig{
			Backend:       r.Lock.Backend,
			RedisAddr:     r.Lock.RedisAddr,
			RedisPassword: r.Lock.RedisPassword,
			RedisDB:       r.Lock.RedisDB,
			TTL:           r.Lock.TTL.Duration,
		},
		Telemetry: TelemetryConfig{
			OTELEnabled:          r.Telemetry.OTELEnabled,
			OTELTraceMode:        r.Telemetry.OTELTraceMode,
			OTELTraceSampleRatio: r.Telemetry.OTELTraceSampleRatio,
		},
	}
}
