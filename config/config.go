package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadEnv loads a local .env file if present. Missing files are fine; real
// deployments set the environment directly.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
}

// GetEnv returns the value of key or fallback when unset.
func GetEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

// GetEnvBool parses key as a boolean, returning fallback on absence or
// parse failure.
func GetEnvBool(key string, fallback bool) bool {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

// DeadlineEnforced reports whether eligibility checks should reject votes on
// polls whose deadline has passed. The portal historically allowed voting
// past the deadline as long as the poll stayed active, so the default is off.
func DeadlineEnforced() bool {
	return GetEnvBool("VOTE_DEADLINE_ENFORCED", false)
}
