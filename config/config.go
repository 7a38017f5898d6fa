//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package config loads the runtime configuration from a YAML file and
// ZUPA_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jovemexausto/zupa/log"
	"github.com/jovemexausto/zupa/retry"
)

// EnvPrefix prefixes every environment override, e.g. ZUPA_MODEL_API_KEY.
const EnvPrefix = "ZUPA"

// Storage drivers, checkpoint backends, model providers, telemetry sinks and
// OTLP protocols.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"

	ProviderOpenAI = "openai"
	ProviderEcho   = "echo"

	SinkNone       = "none"
	SinkLog        = "log"
	SinkOTel       = "otel"
	SinkPrometheus = "prometheus"

	OTLPGRPC = "grpc"
	OTLPHTTP = "http"
)

// Config is the effective runtime configuration.
type Config struct {
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	Retry     RetryConfig     `mapstructure:"retry" yaml:"retry"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts" yaml:"timeouts"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Model     ModelConfig     `mapstructure:"model" yaml:"model"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// AgentConfig shapes the conversation.
type AgentConfig struct {
	Name                      string          `mapstructure:"name" yaml:"name"`
	SystemPrompt              string          `mapstructure:"system_prompt" yaml:"system_prompt"`
	WelcomeMessage            string          `mapstructure:"welcome_message" yaml:"welcome_message"`
	SingleUserID              string          `mapstructure:"single_user_id" yaml:"single_user_id"`
	MaxToolIterations         int             `mapstructure:"max_tool_iterations" yaml:"max_tool_iterations"`
	SessionIdleTimeoutMinutes int             `mapstructure:"session_idle_timeout_minutes" yaml:"session_idle_timeout_minutes"`
	HistoryWindow             int             `mapstructure:"history_window" yaml:"history_window"`
	SummaryWindow             int             `mapstructure:"summary_window" yaml:"summary_window"`
	MaxSteps                  int             `mapstructure:"max_steps" yaml:"max_steps"`
	MaxInboundConcurrency     int             `mapstructure:"max_inbound_concurrency" yaml:"max_inbound_concurrency"`
	RateLimit                 RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Language                  string          `mapstructure:"language" yaml:"language"`
	Voice                     string          `mapstructure:"voice" yaml:"voice"`
	AudioDir                  string          `mapstructure:"audio_dir" yaml:"audio_dir"`
	FallbackReply             string          `mapstructure:"fallback_reply" yaml:"fallback_reply"`
	BusyReply                 string          `mapstructure:"busy_reply" yaml:"busy_reply"`
}

// SessionIdleTimeout converts the configured minutes. Zero disables expiry.
func (a AgentConfig) SessionIdleTimeout() time.Duration {
	if a.SessionIdleTimeoutMinutes <= 0 {
		return -1
	}
	return time.Duration(a.SessionIdleTimeoutMinutes) * time.Minute
}

// RateLimitConfig bounds turns per user. PerMinute 0 disables it.
type RateLimitConfig struct {
	PerMinute float64 `mapstructure:"per_minute" yaml:"per_minute"`
	Burst     int     `mapstructure:"burst" yaml:"burst"`
}

// RetryConfig is the provider retry policy.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	BackoffFactor   float64       `mapstructure:"backoff_factor" yaml:"backoff_factor"`
	Jitter          bool          `mapstructure:"jitter" yaml:"jitter"`
}

// Policy converts the config into a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     r.MaxAttempts,
		InitialInterval: r.InitialInterval,
		MaxInterval:     r.MaxInterval,
		BackoffFactor:   r.BackoffFactor,
		Jitter:          r.Jitter,
	}
}

// TimeoutsConfig holds per-attempt timeouts of external calls.
type TimeoutsConfig struct {
	LLM       time.Duration `mapstructure:"llm" yaml:"llm"`
	STT       time.Duration `mapstructure:"stt" yaml:"stt"`
	TTS       time.Duration `mapstructure:"tts" yaml:"tts"`
	Transport time.Duration `mapstructure:"transport" yaml:"transport"`
	Tool      time.Duration `mapstructure:"tool" yaml:"tool"`
}

// StorageConfig selects the repository and checkpoint backends.
type StorageConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	Checkpoints string `mapstructure:"checkpoints" yaml:"checkpoints"`
	RedisURL    string `mapstructure:"redis_url" yaml:"redis_url"`
	// CheckpointTTL expires redis threads; 0 keeps them.
	CheckpointTTL time.Duration `mapstructure:"checkpoint_ttl" yaml:"checkpoint_ttl"`
}

// ModelConfig selects the LLM and speech providers.
type ModelConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	Name     string `mapstructure:"name" yaml:"name"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	STTModel string `mapstructure:"stt_model" yaml:"stt_model"`
	TTSModel string `mapstructure:"tts_model" yaml:"tts_model"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// TelemetryConfig selects where node telemetry goes.
type TelemetryConfig struct {
	Sink           string `mapstructure:"sink" yaml:"sink"`
	PrometheusAddr string `mapstructure:"prometheus_addr" yaml:"prometheus_addr"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPProtocol   string `mapstructure:"otlp_protocol" yaml:"otlp_protocol"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Agent: AgentConfig{
			Name:                      "zupa",
			SystemPrompt:              "You are Zupa, a friendly assistant. Answer in the language the user writes in.",
			MaxToolIterations:         5,
			SessionIdleTimeoutMinutes: 30,
			HistoryWindow:             20,
			SummaryWindow:             3,
			MaxSteps:                  50,
			MaxInboundConcurrency:     8,
			RateLimit:                 RateLimitConfig{PerMinute: 0, Burst: 5},
			Language:                  "en",
			Voice:                     "alloy",
			AudioDir:                  "audio",
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     8 * time.Second,
			BackoffFactor:   2,
			Jitter:          true,
		},
		Timeouts: TimeoutsConfig{
			LLM:       60 * time.Second,
			STT:       30 * time.Second,
			TTS:       30 * time.Second,
			Transport: 15 * time.Second,
			Tool:      20 * time.Second,
		},
		Storage: StorageConfig{
			Driver:      DriverMemory,
			Checkpoints: DriverMemory,
		},
		Model: ModelConfig{
			Provider: ProviderOpenAI,
			Name:     "gpt-4o-mini",
			STTModel: "whisper-1",
			TTSModel: "tts-1",
		},
		Log:       LogConfig{Level: log.LevelInfo},
		Telemetry: TelemetryConfig{Sink: SinkLog, PrometheusAddr: ":9464", OTLPProtocol: OTLPGRPC},
	}
}

// Load reads path, when not empty, over the defaults and then applies the
// environment. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := setDefaults(v, Default()); err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that
// the file does not mention.
func setDefaults(v *viper.Viper, def Config) error {
	b, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Errorf("config: encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(b, &tree); err != nil {
		return fmt.Errorf("config: decode defaults: %w", err)
	}
	flatten("", tree, func(key string, value any) { v.SetDefault(key, value) })
	return nil
}

func flatten(prefix string, tree map[string]any, set func(string, any)) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			flatten(key, sub, set)
			continue
		}
		set(key, val)
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	a := c.Agent
	check(a.MaxToolIterations >= 0, "agent.max_tool_iterations must not be negative")
	check(a.HistoryWindow > 0, "agent.history_window must be positive")
	check(a.SummaryWindow >= 0, "agent.summary_window must not be negative")
	check(a.MaxSteps > 0, "agent.max_steps must be positive")
	check(a.MaxInboundConcurrency >= 0, "agent.max_inbound_concurrency must not be negative")
	check(a.RateLimit.PerMinute >= 0, "agent.rate_limit.per_minute must not be negative")
	check(c.Retry.MaxAttempts >= 1, "retry.max_attempts must be at least 1")
	check(c.Retry.BackoffFactor == 0 || c.Retry.BackoffFactor >= 1, "retry.backoff_factor must be at least 1")

	s := c.Storage
	check(slices.Contains([]string{DriverMemory, DriverSQLite}, s.Driver),
		"storage.driver %q is not one of memory, sqlite", s.Driver)
	check(slices.Contains([]string{DriverMemory, DriverSQLite, DriverRedis}, s.Checkpoints),
		"storage.checkpoints %q is not one of memory, sqlite, redis", s.Checkpoints)
	check(s.DSN != "" || (s.Driver != DriverSQLite && s.Checkpoints != DriverSQLite),
		"storage.dsn is required for sqlite")
	check(s.RedisURL != "" || s.Checkpoints != DriverRedis, "storage.redis_url is required for redis checkpoints")

	check(slices.Contains([]string{ProviderOpenAI, ProviderEcho}, c.Model.Provider),
		"model.provider %q is not one of openai, echo", c.Model.Provider)
	check(slices.Contains([]string{log.LevelDebug, log.LevelInfo, log.LevelWarn, log.LevelError, log.LevelFatal}, c.Log.Level),
		"log.level %q is not one of debug, info, warn, error, fatal", c.Log.Level)
	check(slices.Contains([]string{SinkNone, SinkLog, SinkOTel, SinkPrometheus}, c.Telemetry.Sink),
		"telemetry.sink %q is not one of none, log, otel, prometheus", c.Telemetry.Sink)
	check(c.Telemetry.Sink != SinkPrometheus || c.Telemetry.PrometheusAddr != "",
		"telemetry.prometheus_addr is required for the prometheus sink")
	check(slices.Contains([]string{OTLPGRPC, OTLPHTTP}, c.Telemetry.OTLPProtocol),
		"telemetry.otlp_protocol %q is not one of grpc, http", c.Telemetry.OTLPProtocol)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Dump renders c as YAML with secrets masked.
func Dump(c *Config) ([]byte, error) {
	masked := *c
	if masked.Model.APIKey != "" {
		masked.Model.APIKey = "***"
	}
	b, err := yaml.Marshal(masked)
	if err != nil {
		return nil, fmt.Errorf("config: encode: %w", err)
	}
	return b, nil
}
