package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	DBDriver    string
	DBDSN       string
	PolicyFile  string
	SessionTTL  time.Duration
	BcryptCost  int
	RateBurst   int
	RatePerSec  float64
	CORSOrigins string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load reads the configuration from USERDIR_* environment variables.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:    getenv("USERDIR_HTTP_ADDR", ":8080"),
		GRPCAddr:    getenv("USERDIR_GRPC_ADDR", ":9090"),
		DBDriver:    getenv("USERDIR_DB_DRIVER", "sqlite"),
		DBDSN:       getenv("USERDIR_DB_DSN", "file:userdir.db"),
		PolicyFile:  os.Getenv("USERDIR_POLICY_FILE"),
		CORSOrigins: os.Getenv("USERDIR_CORS_ORIGINS"),
	}
	var err error
	if cfg.SessionTTL, err = duration("USERDIR_SESSION_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.BcryptCost, err = integer("USERDIR_BCRYPT_COST", 10); err != nil {
		return Config{}, err
	}
	if cfg.RateBurst, err = integer("USERDIR_RATE_BURST", 10); err != nil {
		return Config{}, err
	}
	if cfg.RatePerSec, err = float("USERDIR_RATE_PER_SEC", 5); err != nil {
		return Config{}, err
	}
	switch cfg.DBDriver {
	case "pgx", "sqlite", "memory":
	default:
		return Config{}, fmt.Errorf("USERDIR_DB_DRIVER: unsupported driver %q", cfg.DBDriver)
	}
	return cfg, nil
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

func integer(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func float(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("%s: invalid number %q", key, v)
	}
	return f, nil
}
