package ledger

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds the §6 environment-driven settings. Loaded once at process
// start the way walletserver/config.Load does it: an optional .env file
// via godotenv, then os.Getenv with defaults.
type Config struct {
	DatabaseURL      string
	IssuerPublicKey  [32]byte
	BatchMax         int
	BatchPeriod      time.Duration
	SubmitDeadline   time.Duration
	PoolSize         int
	HTTPAddr         string
}

// LoadConfig reads the §6 environment variables, optionally seeded from a
// .env file at the given path (pass "" to skip). Missing optional
// variables fall back to the documented defaults; ISSUER_PUBLIC_KEY is
// required.
func LoadConfig(envFile string, log *logrus.Logger) (*Config, error) {
	if log == nil {
		log = logrus.New()
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			log.WithError(err).Warn("config: could not load env file")
		}
	}

	cfg := &Config{
		DatabaseURL:    envOrDefault("DATABASE_URL", ""),
		BatchMax:       envOrDefaultInt("BATCH_MAX", DefaultBatchMax),
		BatchPeriod:    time.Duration(envOrDefaultInt("BATCH_PERIOD_SECS", DefaultBatchPeriodSecs)) * time.Second,
		SubmitDeadline: time.Duration(envOrDefaultInt("SUBMIT_DEADLINE_MS", 5000)) * time.Millisecond,
		PoolSize:       envOrDefaultInt("POOL_SIZE", 50),
		HTTPAddr:       envOrDefault("HTTP_ADDR", ":8080"),
	}

	issuerHex := envOrDefault("ISSUER_PUBLIC_KEY", "")
	if issuerHex == "" {
		return nil, fmt.Errorf("config: ISSUER_PUBLIC_KEY is required")
	}
	raw, err := hex.DecodeString(issuerHex)
	if err != nil {
		return nil, fmt.Errorf("config: ISSUER_PUBLIC_KEY is not valid hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("config: ISSUER_PUBLIC_KEY must decode to 32 bytes, got %d", len(raw))
	}
	copy(cfg.IssuerPublicKey[:], raw)

	return cfg, nil
}

// envOrDefault mirrors pkg/utils.EnvOrDefault from the reference tree.
func envOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// envOrDefaultInt mirrors pkg/utils.EnvOrDefaultInt from the reference tree.
func envOrDefaultInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}
