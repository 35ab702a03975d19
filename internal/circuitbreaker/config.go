package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// CircuitBreakerConfig is the environment-tunable part of Config.
type CircuitBreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
}

// GetRedisConfig reads CB_REDIS_* overrides.
func GetRedisConfig() CircuitBreakerConfig {
	return fromEnv("REDIS", CircuitBreakerConfig{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

// GetLLMConfig reads CB_LLM_* overrides for the text generation API.
func GetLLMConfig() CircuitBreakerConfig {
	return fromEnv("LLM", CircuitBreakerConfig{
		MaxRequests:      2,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
	})
}

// GetHTTPConfig reads CB_HTTP_* overrides for other outbound HTTP (webhooks).
func GetHTTPConfig() CircuitBreakerConfig {
	return fromEnv("HTTP", CircuitBreakerConfig{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

// GetDatabaseConfig reads CB_DB_* overrides for the run store.
func GetDatabaseConfig() CircuitBreakerConfig {
	return fromEnv("DB", CircuitBreakerConfig{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	})
}

// ToConfig converts CircuitBreakerConfig to circuit breaker Config
func (cbc CircuitBreakerConfig) ToConfig() Config {
	return Config{
		MaxRequests:      cbc.MaxRequests,
		Interval:         cbc.Interval,
		Timeout:          cbc.Timeout,
		FailureThreshold: cbc.FailureThreshold,
		SuccessThreshold: cbc.SuccessThreshold,
	}
}

func fromEnv(component string, def CircuitBreakerConfig) CircuitBreakerConfig {
	prefix := "CB_" + component + "_"
	return CircuitBreakerConfig{
		MaxRequests:      getEnvUint32(prefix+"MAX_REQUESTS", def.MaxRequests),
		Interval:         getEnvDuration(prefix+"INTERVAL", def.Interval),
		Timeout:          getEnvDuration(prefix+"TIMEOUT", def.Timeout),
		FailureThreshold: getEnvUint32(prefix+"FAILURE_THRESHOLD", def.FailureThreshold),
		SuccessThreshold: getEnvUint32(prefix+"SUCCESS_THRESHOLD", def.SuccessThreshold),
	}
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
