package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"Skein/internal/core/canonical"
)

// Config is read from the environment at start-up
type Config struct {
	Port               string
	DatabaseURL        string
	BskyHost           string
	BskyHandle         string
	BskyAppPassword    string
	JetstreamURL       string
	JetstreamTimeline  string
	ProbeURL           string
	LogFormat          string
	ProbeInterval      time.Duration
	ActionDebounce     time.Duration
	ActionStaleAfter   time.Duration
	ActionTimeout      time.Duration
	ActionRetryAfter   time.Duration
	RateLimitPerMinute int
	SortPolicy         canonical.SortPolicy
	LogLevel           slog.Level
}

func loadConfig() (Config, error) {
	cfg := Config{
		Port:              getEnv("SKEIN_PORT", "8081"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		BskyHost:          strings.TrimRight(getEnv("BSKY_HOST", "https://bsky.social"), "/"),
		BskyHandle:        os.Getenv("BSKY_HANDLE"),
		BskyAppPassword:   os.Getenv("BSKY_APP_PASSWORD"),
		JetstreamURL:      os.Getenv("JETSTREAM_URL"),
		JetstreamTimeline: getEnv("JETSTREAM_TIMELINE", "firehose"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
	}
	cfg.ProbeURL = getEnv("REACHABILITY_PROBE_URL", cfg.BskyHost+"/xrpc/_health")

	var err error
	if cfg.ProbeInterval, err = getDuration("REACHABILITY_INTERVAL", 15*time.Second); err != nil {
		return cfg, err
	}
	if cfg.ActionDebounce, err = getDuration("ACTION_DEBOUNCE", 300*time.Millisecond); err != nil {
		return cfg, err
	}
	if cfg.ActionStaleAfter, err = getDuration("ACTION_STALE_AFTER", 60*time.Second); err != nil {
		return cfg, err
	}
	if cfg.ActionTimeout, err = getDuration("ACTION_TIMEOUT", 15*time.Second); err != nil {
		return cfg, err
	}
	if cfg.ActionRetryAfter, err = getDuration("ACTION_RETRY_AFTER", 30*time.Second); err != nil {
		return cfg, err
	}

	cfg.RateLimitPerMinute = 100
	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE %q", v)
		}
		cfg.RateLimitPerMinute = n
	}

	policy, ok := canonical.ParseSortPolicy(getEnv("TIMELINE_SORT", "bump"))
	if !ok {
		return cfg, fmt.Errorf("invalid TIMELINE_SORT %q (want created or bump)", os.Getenv("TIMELINE_SORT"))
	}
	cfg.SortPolicy = policy

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return cfg, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

// HasAccount reports whether Bluesky credentials were supplied
func (c Config) HasAccount() bool {
	return c.BskyHandle != "" && c.BskyAppPassword != ""
}

func newLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
