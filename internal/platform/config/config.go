package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime configuration loaded from environment variables.
type Config struct {
	Port           string
	GinMode        string
	AllowedOrigins string
	LogLevel       string

	LacedoreBaseURL string
	LacedoreAPIKey  string

	ChunkSize       int
	ChunkPause      time.Duration
	SubmitDelay     time.Duration
	PollBase        time.Duration
	PollIncrement   time.Duration
	PollMax         time.Duration
	PollMaxAttempts int

	HTTPTimeout     time.Duration
	RetryAttempts   int
	RetryBackoff    time.Duration

	FirebaseProjectID   string
	FirebaseCredsBase64 string
	FirebaseCredsFile   string
}

// Load reads environment variables into a Config with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                getEnv("PORT", "8080"),
		GinMode:             getEnv("GIN_MODE", "release"),
		AllowedOrigins:      strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LacedoreBaseURL:     getEnv("LACEDORE_BASE_URL", "http://lacedore.org:6789"),
		LacedoreAPIKey:      strings.TrimSpace(os.Getenv("LACEDORE_API_KEY")),
		FirebaseProjectID:   strings.TrimSpace(os.Getenv("FIREBASE_PROJECT_ID")),
		FirebaseCredsBase64: strings.TrimSpace(os.Getenv("FIREBASE_CREDS_BASE64")),
		FirebaseCredsFile:   strings.TrimSpace(os.Getenv("FIREBASE_CREDS_FILE")),
	}

	var err error
	if cfg.ChunkSize, err = parseIntEnv("VERIFY_CHUNK_SIZE", 50); err != nil {
		return Config{}, err
	}
	if cfg.PollMaxAttempts, err = parseIntEnv("VERIFY_POLL_MAX_ATTEMPTS", 60); err != nil {
		return Config{}, err
	}
	if cfg.RetryAttempts, err = parseIntEnv("HTTP_RETRY_ATTEMPTS", 3); err != nil {
		return Config{}, err
	}
	if cfg.ChunkPause, err = parseDurationEnv("VERIFY_CHUNK_PAUSE", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.SubmitDelay, err = parseDurationEnv("VERIFY_SUBMIT_DELAY", 200*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.PollBase, err = parseDurationEnv("VERIFY_POLL_BASE", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.PollIncrement, err = parseDurationEnv("VERIFY_POLL_INCREMENT", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.PollMax, err = parseDurationEnv("VERIFY_POLL_MAX", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.HTTPTimeout, err = parseDurationEnv("HTTP_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RetryBackoff, err = parseDurationEnv("HTTP_RETRY_BACKOFF", time.Second); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate ensures required fields are present and tunables are coherent.
func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.LacedoreBaseURL == "" {
		return errors.New("LACEDORE_BASE_URL is required")
	}
	if c.LacedoreAPIKey == "" {
		return errors.New("LACEDORE_API_KEY is required")
	}
	if c.ChunkSize <= 0 {
		return errors.New("VERIFY_CHUNK_SIZE must be positive")
	}
	if c.PollBase <= 0 || c.PollIncrement < 0 || c.PollMax < c.PollBase {
		return errors.New("poll interval settings are incoherent (base > 0, increment >= 0, max >= base)")
	}
	if c.PollMaxAttempts <= 0 {
		return errors.New("VERIFY_POLL_MAX_ATTEMPTS must be positive")
	}
	if c.FirebaseProjectID == "" {
		return errors.New("FIREBASE_PROJECT_ID is required")
	}
	if c.FirebaseCredsBase64 == "" && c.FirebaseCredsFile == "" {
		return errors.New("provide FIREBASE_CREDS_BASE64 or FIREBASE_CREDS_FILE for Firestore auth")
	}
	return nil
}

// FirebaseCredentialsJSON returns the service account JSON bytes and the source used.
func (c Config) FirebaseCredentialsJSON() ([]byte, string, error) {
	if c.FirebaseCredsBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(c.FirebaseCredsBase64)
		if err != nil {
			return nil, "base64", fmt.Errorf("decode FIREBASE_CREDS_BASE64: %w", err)
		}
		return decoded, "base64", nil
	}
	if c.FirebaseCredsFile != "" {
		data, err := os.ReadFile(c.FirebaseCredsFile)
		if err != nil {
			return nil, "file", fmt.Errorf("read FIREBASE_CREDS_FILE: %w", err)
		}
		return data, "file", nil
	}
	return nil, "", errors.New("no firebase credentials found")
}

func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

func parseIntEnv(key string, defaultVal int) (int, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func parseDurationEnv(key string, defaultVal time.Duration) (time.Duration, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal, nil
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}
