// Package config loads the engine's environment-variable configuration,
// following the teacher's requireEnv/getEnvOrDefault idiom (cmd/engine's
// original main.go) but returning a typed Config and an error instead of
// calling log.Fatalf directly, so cmd/engine can map failures to the
// CLI's distinct exit codes.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL          string
	RPCURL               string
	RPCWSURL             string
	ContractAddress      string
	RateLimitRPS         int
	FanoutPort           string
	MultiClaimThreshold  int
	Timezone             string
}

// Load reads .env (if present, ignored if absent) then the process
// environment. DATABASE_URL is the only required value, per §6/§7's
// "Fatal errors are limited to missing DATABASE_URL...".
func Load() (Config, error) {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return Config{}, fmt.Errorf("config: required environment variable DATABASE_URL is not set")
	}

	rateLimit, err := intEnvOrDefault("RATE_LIMIT_RPS", 100)
	if err != nil {
		return Config{}, err
	}
	threshold, err := intEnvOrDefault("MULTI_CLAIM_THRESHOLD", 3)
	if err != nil {
		return Config{}, err
	}

	return Config{
		DatabaseURL:         dbURL,
		RPCURL:              getEnvOrDefault("RPC_URL", ""),
		RPCWSURL:            getEnvOrDefault("RPC_WS_URL", ""),
		ContractAddress:     getEnvOrDefault("CONTRACT_ADDRESS", ""),
		RateLimitRPS:        rateLimit,
		FanoutPort:          getEnvOrDefault("FANOUT_PORT", "3010"),
		MultiClaimThreshold: threshold,
		Timezone:            getEnvOrDefault("TIMEZONE", "Asia/Taipei"),
	}, nil
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func intEnvOrDefault(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q: %w", key, val, err)
	}
	return n, nil
}
