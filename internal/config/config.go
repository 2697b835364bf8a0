package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice pipeline service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string

	LLMBackendURL     string
	LLMSentinelToken  string
	LLMDialTimeout    time.Duration
	LLMDialRetries    int
	LLMWriteTimeout   time.Duration
	ResponseDirective string

	HistoryLimit       int
	FillerPhrases      []string
	SentenceBoundaries string
	MaxActiveTurns     int
	TurnQueueSize      int

	KafkaBrokers      []string
	KafkaMonitorTopic string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "voicebridge"),
		AllowAnyOrigin:   false,
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("APP_LOG_FORMAT", "json"),
		LLMBackendURL:    envOrDefault("LLM_BACKEND_URL", "ws://127.0.0.1:8001/ws"),
		LLMSentinelToken: envOrDefault("LLM_SENTINEL_TOKEN", "<|endoftext|>"),
		// Carried from the upstream pipeline: keeps spoken replies short.
		ResponseDirective:  envOrDefault("LLM_RESPONSE_DIRECTIVE", "Please limit the response to 50 words."),
		HistoryLimit:       10,
		FillerPhrases:      splitCSV(envOrDefault("TURN_FILLER_PHRASES", "stop,thank you,thanks")),
		SentenceBoundaries: envOrDefault("SENTENCE_BOUNDARIES", ".?!。？！；…"),
		MaxActiveTurns:     32,
		TurnQueueSize:      256,
		KafkaBrokers:       splitCSV(stringsTrimSpace("KAFKA_BROKERS")),
		KafkaMonitorTopic:  envOrDefault("KAFKA_MONITOR_TOPIC", "voicebridge.monitor"),
		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:    15 * time.Second,
		LLMDialTimeout:     4 * time.Second,
		LLMDialRetries:     2,
		LLMWriteTimeout:    3 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMDialTimeout, err = durationFromEnv("LLM_DIAL_TIMEOUT", cfg.LLMDialTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMWriteTimeout, err = durationFromEnv("LLM_WRITE_TIMEOUT", cfg.LLMWriteTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMDialRetries, err = intFromEnv("LLM_DIAL_RETRIES", cfg.LLMDialRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryLimit, err = intFromEnv("SESSION_HISTORY_LIMIT", cfg.HistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxActiveTurns, err = intFromEnv("PIPELINE_MAX_ACTIVE_TURNS", cfg.MaxActiveTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.TurnQueueSize, err = intFromEnv("TURN_QUEUE_SIZE", cfg.TurnQueueSize)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.LLMBackendURL) == "" {
		return Config{}, fmt.Errorf("LLM_BACKEND_URL must not be empty")
	}
	if strings.TrimSpace(cfg.LLMSentinelToken) == "" {
		return Config{}, fmt.Errorf("LLM_SENTINEL_TOKEN must not be empty")
	}
	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("SESSION_HISTORY_LIMIT must be positive")
	}
	if cfg.MaxActiveTurns <= 0 {
		return Config{}, fmt.Errorf("PIPELINE_MAX_ACTIVE_TURNS must be positive")
	}
	if cfg.TurnQueueSize <= 0 {
		return Config{}, fmt.Errorf("TURN_QUEUE_SIZE must be positive")
	}
	if cfg.LLMDialRetries < 0 {
		return Config{}, fmt.Errorf("LLM_DIAL_RETRIES must be >= 0")
	}
	if strings.TrimSpace(cfg.SentenceBoundaries) == "" {
		return Config{}, fmt.Errorf("SENTENCE_BOUNDARIES must not be empty")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
