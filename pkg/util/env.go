package util

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// LoadEnv loads ".env.<env>" if present, falling back to ".env".
// Missing files are not an error: production deployments inject
// everything through real environment variables.
func LoadEnv(env string) error {
	candidates := []string{fmt.Sprintf(".env.%s", env), ".env"}
	for _, f := range candidates {
		if _, err := os.Stat(f); err == nil {
			return godotenv.Load(f)
		}
	}
	return nil
}

func GetEnv(key string) string { return os.Getenv(key) }

func GetEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func GetIntEnv(key string) int64 { return cast.ToInt64(os.Getenv(key)) }

func GetBoolEnv(key string) bool { return cast.ToBool(os.Getenv(key)) }

// GetDurationEnv parses values like "5m" or "30s"; def is returned for
// empty or unparseable values.
func GetDurationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
