package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory = "memory"
	StorePlay   = "play"
)

// Config holds environment driven settings for the bridge daemon.
type Config struct {
	GRPCAddr    string
	MetricsAddr string
	DevLogging  bool

	Store          string
	MemoryPlatform string

	Play PlayConfig

	CatalogTTL       time.Duration
	StreamBufferSize int
	StreamTimeout    time.Duration

	NATS NATSConfig

	FCMCredentialsFile string

	// VerifierPublicKey enables purchase token verification when set.
	VerifierPublicKey ed25519.PublicKey
}

// PlayConfig configures the Google Play Developer API store.
type PlayConfig struct {
	PackageName        string
	ServiceAccountFile string

	// Region selects the base plan price used for subscriptions.
	Region string
}

type NATSConfig struct {
	URL     string
	Subject string
}

// Load builds a Config from a .env file, if present, and the environment.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		GRPCAddr:       getEnv("IAP_GRPC_ADDR", ":8085"),
		MetricsAddr:    getEnvAllowEmpty("IAP_METRICS_ADDR", ":9090"),
		Store:          strings.ToLower(getEnv("IAP_STORE", StoreMemory)),
		MemoryPlatform: strings.ToLower(getEnv("IAP_MEMORY_PLATFORM", "android")),
		Play: PlayConfig{
			PackageName:        os.Getenv("IAP_PLAY_PACKAGE_NAME"),
			ServiceAccountFile: os.Getenv("IAP_PLAY_SERVICE_ACCOUNT_FILE"),
			Region:             strings.ToUpper(getEnv("IAP_PLAY_REGION", "US")),
		},
		NATS: NATSConfig{
			URL:     os.Getenv("IAP_NATS_URL"),
			Subject: getEnv("IAP_NATS_SUBJECT", "iap.events"),
		},
		FCMCredentialsFile: os.Getenv("IAP_FCM_CREDENTIALS_FILE"),
	}

	var err error
	if cfg.DevLogging, err = getEnvAsBool("IAP_DEV_LOGGING", false); err != nil {
		return nil, err
	}
	if cfg.CatalogTTL, err = getEnvAsDuration("IAP_CATALOG_TTL", 0); err != nil {
		return nil, err
	}
	if cfg.StreamBufferSize, err = getEnvAsInt("IAP_STREAM_BUFFER_SIZE", 64); err != nil {
		return nil, err
	}
	if cfg.StreamTimeout, err = getEnvAsDuration("IAP_STREAM_TIMEOUT", time.Second); err != nil {
		return nil, err
	}

	if encoded := os.Getenv("IAP_VERIFIER_PUBLIC_KEY"); encoded != "" {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid IAP_VERIFIER_PUBLIC_KEY: %w", err)
		}
		if len(key) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("invalid IAP_VERIFIER_PUBLIC_KEY: expected %d bytes, got %d", ed25519.PublicKeySize, len(key))
		}
		cfg.VerifierPublicKey = key
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case StoreMemory:
		if c.MemoryPlatform != "android" && c.MemoryPlatform != "ios" {
			return fmt.Errorf("invalid IAP_MEMORY_PLATFORM %q", c.MemoryPlatform)
		}
	case StorePlay:
		if c.Play.PackageName == "" {
			return fmt.Errorf("IAP_PLAY_PACKAGE_NAME is required when IAP_STORE=%s", StorePlay)
		}
		if c.Play.ServiceAccountFile == "" {
			return fmt.Errorf("IAP_PLAY_SERVICE_ACCOUNT_FILE is required when IAP_STORE=%s", StorePlay)
		}
	default:
		return fmt.Errorf("invalid IAP_STORE %q", c.Store)
	}

	if c.StreamBufferSize <= 0 {
		return fmt.Errorf("IAP_STREAM_BUFFER_SIZE must be positive")
	}
	if c.StreamTimeout <= 0 {
		return fmt.Errorf("IAP_STREAM_TIMEOUT must be positive")
	}
	if c.CatalogTTL < 0 {
		return fmt.Errorf("IAP_CATALOG_TTL must not be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// getEnvAllowEmpty treats a set but empty variable as an explicit empty value.
func getEnvAllowEmpty(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getEnvAsInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return i, nil
}

func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
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
