package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice chat front end.
// It is passed explicitly into constructors; there are no package-level
// mutable settings.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	// BackendBaseURL is the base path of the chatbot backend, e.g.
	// http://localhost:8000/api. The backend is an opaque collaborator.
	BackendBaseURL string
	// ExchangeTimeout bounds one exchange round trip; 0 disables the bound.
	ExchangeTimeout time.Duration

	DefaultLanguage string

	SampleRate      int
	FramesPerBuffer int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8090"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "voxchat"),
		BackendBaseURL:   envOrDefault("BACKEND_BASE_URL", "http://localhost:8000/api"),
		DefaultLanguage:  envOrDefault("DEFAULT_LANGUAGE", "en"),
		// Mono 16kHz matches what the backend's speech recognizer expects.
		SampleRate:      16000,
		FramesPerBuffer: 512,
		ShutdownTimeout: 15 * time.Second,
		ExchangeTimeout: 90 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ExchangeTimeout, err = durationFromEnv("EXCHANGE_TIMEOUT", cfg.ExchangeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SampleRate, err = intFromEnv("AUDIO_SAMPLE_RATE", cfg.SampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.FramesPerBuffer, err = intFromEnv("AUDIO_FRAMES_PER_BUFFER", cfg.FramesPerBuffer)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	u, err := url.Parse(cfg.BackendBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Config{}, fmt.Errorf("BACKEND_BASE_URL must be an absolute http(s) URL, got %q", cfg.BackendBaseURL)
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("AUDIO_SAMPLE_RATE must be positive")
	}
	if cfg.FramesPerBuffer <= 0 {
		return Config{}, fmt.Errorf("AUDIO_FRAMES_PER_BUFFER must be positive")
	}
	if cfg.ExchangeTimeout < 0 {
		return Config{}, fmt.Errorf("EXCHANGE_TIMEOUT must not be negative")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
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
	v := strings.TrimSpace(os.Getenv(key))
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
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
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
