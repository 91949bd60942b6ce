package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID     string
	AccessKey     string
	SecretKey     string
	BucketName    string
	PublicBaseURL string
}

// Dispatch holds the knobs of the scheduling pipeline.
type Dispatch struct {
	NearTermThreshold     time.Duration
	SweepInterval         time.Duration
	SweepLookahead        time.Duration
	OverdueGrace          time.Duration
	StaleClaimAfter       time.Duration
	PastDueTolerance      time.Duration
	PublishTimeout        time.Duration
	WorkerConcurrency     int
	ProviderRatePerMinute int
	SweepBatchSize        int
	TimerBackend          string // memory, redis
	StoreDriver           string // postgres, memory
}

type Config struct {
	InstagramClientID     string
	InstagramClientSecret string
	InstagramRedirectURI  string
	TiktokClientKey       string
	TiktokClientSecret    string
	TiktokRedirectURI     string
	GoogleClientID        string
	GoogleClientSecret    string
	GoogleRedirectURI     string
	PostgresURI           string
	RedisURI              string
	AmqpURI               string
	FrontendURL           string
	HTTPAddr              string
	LogLevel              string
	LogFormat             string
	R2                    R2
	Dispatch              Dispatch
	SecretKey             string
	CookieName            string
}

const (
	TimerBackendMemory  = "memory"
	TimerBackendRedis   = "redis"
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

func LoadConfig() *Config {
	return &Config{
		InstagramClientID:     getEnv("INSTAGRAM_CLIENT_ID", ""),
		InstagramClientSecret: getEnv("INSTAGRAM_CLIENT_SECRET", ""),
		InstagramRedirectURI:  getEnv("INSTAGRAM_REDIRECT_URI", ""),
		TiktokClientKey:       getEnv("TIKTOK_CLIENT_KEY", ""),
		TiktokClientSecret:    getEnv("TIKTOK_CLIENT_SECRET", ""),
		TiktokRedirectURI:     getEnv("TIKTOK_REDIRECT_URI", ""),
		GoogleClientID:        getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:    getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:     getEnv("GOOGLE_REDIRECT_URI", ""),
		PostgresURI:           getEnv("POSTGRES_URI", ""),
		RedisURI:              getEnv("REDIS_URI", "localhost:6379"),
		AmqpURI:               getEnv("AMQP_URI", ""),
		FrontendURL:           getEnv("FRONTEND_URL", "http://localhost:5173"),
		HTTPAddr:              getEnv("HTTP_ADDR", ":3000"),
		LogLevel:              getEnv("LOG_LEVEL", "INFO"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
		R2: R2{
			AccountID:     getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:     getEnv("R2_ACCESS_KEY", ""),
			SecretKey:     getEnv("R2_SECRET_KEY", ""),
			BucketName:    getEnv("R2_BUCKET_NAME", ""),
			PublicBaseURL: getEnv("MEDIA_PUBLIC_BASE_URL", ""),
		},
		Dispatch: Dispatch{
			NearTermThreshold:     getDuration("NEAR_TERM_THRESHOLD", 3*time.Hour),
			SweepInterval:         getDuration("SWEEP_INTERVAL", 3*time.Hour),
			SweepLookahead:        getDuration("SWEEP_LOOKAHEAD", 3*time.Hour+15*time.Minute),
			OverdueGrace:          getDuration("OVERDUE_GRACE", 24*time.Hour),
			StaleClaimAfter:       getDuration("STALE_CLAIM_AFTER", time.Hour),
			PastDueTolerance:      getDuration("PAST_DUE_TOLERANCE", 5*time.Minute),
			PublishTimeout:        getDuration("PUBLISH_TIMEOUT", 5*time.Minute),
			WorkerConcurrency:     getInt("WORKER_CONCURRENCY", 10),
			ProviderRatePerMinute: getInt("PROVIDER_RATE_PER_MINUTE", 30),
			SweepBatchSize:        getInt("SWEEP_BATCH_SIZE", 500),
			TimerBackend:          getEnv("TIMER_BACKEND", TimerBackendMemory),
			StoreDriver:           getEnv("STORE_DRIVER", StoreDriverPostgres),
		},
		SecretKey:  getEnv("SECRET_KEY", ""),
		CookieName: getEnv("COOKIE_NAME", "postflow_session"),
	}
}

// Validate rejects settings under which the sweep could miss a due post
// or the pipeline could not run at all.
func (c *Config) Validate() error {
	d := c.Dispatch

	if d.NearTermThreshold <= 0 {
		return errors.New("NEAR_TERM_THRESHOLD must be positive")
	}
	if d.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be positive")
	}
	if d.SweepLookahead < d.SweepInterval {
		return fmt.Errorf("SWEEP_LOOKAHEAD (%s) must be >= SWEEP_INTERVAL (%s)", d.SweepLookahead, d.SweepInterval)
	}
	if d.PublishTimeout <= 0 {
		return errors.New("PUBLISH_TIMEOUT must be positive")
	}
	if d.WorkerConcurrency <= 0 {
		return errors.New("WORKER_CONCURRENCY must be positive")
	}

	switch d.TimerBackend {
	case TimerBackendMemory, TimerBackendRedis:
	default:
		return fmt.Errorf("unknown TIMER_BACKEND %q", d.TimerBackend)
	}

	switch d.StoreDriver {
	case StoreDriverMemory:
	case StoreDriverPostgres:
		if c.PostgresURI == "" {
			return errors.New("POSTGRES_URI is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", d.StoreDriver)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", value, "default", defaultValue)
		return defaultValue
	}
	return d
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("invalid integer, using default", "key", key, "value", value, "default", defaultValue)
		return defaultValue
	}
	return n
}
