// Package config loads and validates configuration at startup.
// Fail-fast: a missing required value or an inconsistent weight table stops
// the process before any listener is opened.
//
// Sources, lowest precedence first: built-in defaults, an optional YAML file,
// a .env file, then environment variables ("matching.threshold" is read from
// MATCHING_THRESHOLD).
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the matching service.
type Config struct {
	Port        string `mapstructure:"port"`
	GRPCPort    string `mapstructure:"grpc_port"`
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`
	TimeZone    string `mapstructure:"time_zone"`

	DatabaseMaxConns int32 `mapstructure:"database_max_conns"`

	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Matching  MatchingConfig  `mapstructure:"matching"`
	Recommend RecommendConfig `mapstructure:"recommend"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
}

// Weights is the factor weight table of the scoring engine. It must sum to 1.0.
type Weights struct {
	Category       float64 `mapstructure:"category"`
	Location       float64 `mapstructure:"location"`
	Wage           float64 `mapstructure:"wage"`
	Rating         float64 `mapstructure:"rating"`
	RecentActivity float64 `mapstructure:"recent_activity"`
	Skills         float64 `mapstructure:"skills"`
}

// Sum returns the total of all slots, reserved ones included.
func (w Weights) Sum() float64 {
	return w.Category + w.Location + w.Wage + w.Rating + w.RecentActivity + w.Skills
}

type ScoringConfig struct {
	Weights Weights `mapstructure:"weights"`
}

type MatchingConfig struct {
	Threshold         float64       `mapstructure:"threshold"`
	MaxCandidates     int           `mapstructure:"max_candidates"`
	ResponseWindow    time.Duration `mapstructure:"response_window"`
	ResolvedRetention time.Duration `mapstructure:"resolved_retention"`
	EntryTTL          time.Duration `mapstructure:"entry_ttl"`
	RescanInterval    time.Duration `mapstructure:"rescan_interval"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	RescanParallelism int           `mapstructure:"rescan_parallelism"`
	CascadeOnAccept   bool          `mapstructure:"cascade_on_accept"`
	PostingChannel    string        `mapstructure:"posting_channel"`
}

type RecommendConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	DefaultLimit int           `mapstructure:"default_limit"`
	MaxLimit     int           `mapstructure:"max_limit"`
}

type RealtimeConfig struct {
	Heartbeat        time.Duration   `mapstructure:"heartbeat"`
	SubscriberBuffer int             `mapstructure:"subscriber_buffer"`
	BusChannel       string          `mapstructure:"bus_channel"`
	Reconnect        ReconnectPolicy `mapstructure:"reconnect"`
}

// ReconnectPolicy governs how a disconnected event-stream client retries.
type ReconnectPolicy struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialDelay   time.Duration `mapstructure:"initial_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

// DefaultWeights is the reference weight table.
func DefaultWeights() Weights {
	return Weights{
		Category:       0.30,
		Location:       0.25,
		Wage:           0.15,
		Rating:         0.10,
		RecentActivity: 0.10,
		Skills:         0.10,
	}
}

// DefaultReconnectPolicy is 5 attempts, 1s doubling up to 3s, 20s per attempt.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts:    5,
		InitialDelay:   time.Second,
		MaxDelay:       3 * time.Second,
		AttemptTimeout: 20 * time.Second,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8083")
	v.SetDefault("grpc_port", "9093")
	v.SetDefault("time_zone", "Asia/Seoul")
	v.SetDefault("database_max_conns", 10)

	w := DefaultWeights()
	v.SetDefault("scoring.weights.category", w.Category)
	v.SetDefault("scoring.weights.location", w.Location)
	v.SetDefault("scoring.weights.wage", w.Wage)
	v.SetDefault("scoring.weights.rating", w.Rating)
	v.SetDefault("scoring.weights.recent_activity", w.RecentActivity)
	v.SetDefault("scoring.weights.skills", w.Skills)

	v.SetDefault("matching.threshold", 0.6)
	v.SetDefault("matching.max_candidates", 5)
	v.SetDefault("matching.response_window", 5*time.Minute)
	v.SetDefault("matching.resolved_retention", time.Hour)
	v.SetDefault("matching.entry_ttl", 30*time.Minute)
	v.SetDefault("matching.rescan_interval", 30*time.Second)
	v.SetDefault("matching.sweep_interval", 15*time.Second)
	v.SetDefault("matching.rescan_parallelism", 4)
	v.SetDefault("matching.cascade_on_accept", false)
	v.SetDefault("matching.posting_channel", "EVENT_JOB_POSTED")

	v.SetDefault("recommend.ttl", 600*time.Second)
	v.SetDefault("recommend.default_limit", 20)
	v.SetDefault("recommend.max_limit", 100)

	rp := DefaultReconnectPolicy()
	v.SetDefault("realtime.heartbeat", 15*time.Second)
	v.SetDefault("realtime.subscriber_buffer", 64)
	v.SetDefault("realtime.bus_channel", "EVENT_MATCHING")
	v.SetDefault("realtime.reconnect.max_attempts", rp.MaxAttempts)
	v.SetDefault("realtime.reconnect.initial_delay", rp.InitialDelay)
	v.SetDefault("realtime.reconnect.max_delay", rp.MaxDelay)
	v.SetDefault("realtime.reconnect.attempt_timeout", rp.AttemptTimeout)
}

// Load reads configuration and returns a validated Config. path may be empty,
// in which case only defaults, .env and the environment are used.
func Load(path string) (*Config, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range map[string]string{
		"port":         "MATCHING_PORT",
		"grpc_port":    "MATCHING_GRPC_PORT",
		"database_url": "DATABASE_URL",
		"redis_url":    "REDIS_URL",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the startup invariants.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("time_zone %q: %w", c.TimeZone, err)
	}
	if err := c.Scoring.Weights.Validate(); err != nil {
		return err
	}

	if c.DatabaseMaxConns < 1 {
		return fmt.Errorf("database_max_conns must be positive, got %d", c.DatabaseMaxConns)
	}

	m := c.Matching
	if m.Threshold < 0 || m.Threshold > 1 {
		return fmt.Errorf("matching.threshold must be within [0,1], got %v", m.Threshold)
	}
	if m.MaxCandidates < 1 {
		return fmt.Errorf("matching.max_candidates must be positive, got %d", m.MaxCandidates)
	}
	if m.ResponseWindow <= 0 || m.EntryTTL <= 0 || m.RescanInterval <= 0 || m.SweepInterval <= 0 {
		return errors.New("matching windows and intervals must be positive durations")
	}
	if m.RescanParallelism < 1 {
		return fmt.Errorf("matching.rescan_parallelism must be positive, got %d", m.RescanParallelism)
	}

	r := c.Recommend
	if r.TTL <= 0 {
		return errors.New("recommend.ttl must be positive")
	}
	if r.DefaultLimit < 1 || r.MaxLimit < r.DefaultLimit {
		return fmt.Errorf("recommend limits invalid: default=%d max=%d", r.DefaultLimit, r.MaxLimit)
	}

	if c.Realtime.SubscriberBuffer < 1 {
		return fmt.Errorf("realtime.subscriber_buffer must be positive, got %d", c.Realtime.SubscriberBuffer)
	}
	return c.Realtime.Reconnect.Validate()
}

// Validate rejects negative slots and tables that do not sum to 1.0.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"category":        w.Category,
		"location":        w.Location,
		"wage":            w.Wage,
		"rating":          w.Rating,
		"recent_activity": w.RecentActivity,
		"skills":          w.Skills,
	} {
		if v < 0 {
			return fmt.Errorf("scoring weight %s is negative (%v)", name, v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("scoring weights must sum to 1.0, got %.6f", sum)
	}
	return nil
}

func (p ReconnectPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("reconnect.max_attempts must be positive, got %d", p.MaxAttempts)
	}
	if p.InitialDelay <= 0 || p.MaxDelay < p.InitialDelay {
		return fmt.Errorf("reconnect delays invalid: initial=%s max=%s", p.InitialDelay, p.MaxDelay)
	}
	if p.AttemptTimeout <= 0 {
		return errors.New("reconnect.attempt_timeout must be positive")
	}
	return nil
}

// Delay is the wait before retry n (1-based): InitialDelay doubled per
// attempt, capped at MaxDelay.
func (p ReconnectPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.InitialDelay
	for i := 1; i < n && d < p.MaxDelay; i++ {
		d *= 2
	}
	return min(d, p.MaxDelay)
}
