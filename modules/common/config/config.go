package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultArkAPIURL  = "https://ark.ap-southeast.bytepluses.com/api/v3/images/generations"
	DefaultArkModelID = "ep-20260123220136-f8bx7"
)

// Config - all environment-driven settings
type Config struct {
	// Server
	Port string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string
	RedisUseTLS   bool

	// Supabase
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	// Ark (SeeDream) API
	ArkAPIKey           string
	ArkAPIURL           string
	ArkModelID          string
	MaxConcurrentCalls  int
	UpstreamTimeout     time.Duration
	UpstreamMinInterval time.Duration

	// Task worker
	TaskMaxRetries      int
	TaskTimeout         time.Duration
	WorkerConcurrency   int
	HeartbeatInterval   time.Duration
	HeartbeatStaleAfter time.Duration
	SweepInterval       time.Duration

	// Gallery
	GalleryCacheTTL time.Duration
}

var globalConfig *Config

// LoadConfig - load .env (if present) and the process environment
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  .env file not found, using environment variables")
	}

	cfg := &Config{
		Port: getEnv("PORT", "8080"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisUsername: getEnv("REDIS_USERNAME", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:   getBool("REDIS_USE_TLS", true),

		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "images"),

		ArkAPIKey:           getEnv("ARK_API_KEY", ""),
		ArkAPIURL:           getEnv("ARK_API_URL", DefaultArkAPIURL),
		ArkModelID:          getEnv("ARK_MODEL_ID", DefaultArkModelID),
		MaxConcurrentCalls:  getInt("MAX_CONCURRENT_CALLS", 2),
		UpstreamTimeout:     getDuration("UPSTREAM_TIMEOUT", 180*time.Second),
		UpstreamMinInterval: getDuration("UPSTREAM_MIN_INTERVAL", 0),

		TaskMaxRetries:      getInt("TASK_MAX_RETRIES", 2),
		TaskTimeout:         getDuration("TASK_TIMEOUT", 9*time.Minute),
		WorkerConcurrency:   getInt("WORKER_CONCURRENCY", 4),
		HeartbeatInterval:   getDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		HeartbeatStaleAfter: getDuration("HEARTBEAT_STALE_AFTER", 10*time.Minute),
		SweepInterval:       getDuration("SWEEP_INTERVAL", time.Minute),

		GalleryCacheTTL: getDuration("GALLERY_CACHE_TTL", 30*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	globalConfig = cfg

	log.Println("✅ Configuration loaded successfully")
	log.Printf("   Redis: %s (TLS: %v)", cfg.GetRedisAddr(), cfg.RedisUseTLS)
	log.Printf("   Supabase: %s (bucket: %s)", cfg.SupabaseURL, cfg.SupabaseStorageBucket)
	log.Printf("   Ark: %s (model: %s, max concurrent calls: %d)", cfg.ArkAPIURL, cfg.ArkModelID, cfg.MaxConcurrentCalls)
	log.Printf("   Tasks: max retries %d, timeout %s, worker concurrency %d", cfg.TaskMaxRetries, cfg.TaskTimeout, cfg.WorkerConcurrency)

	return cfg, nil
}

// GetConfig - return the loaded config
func GetConfig() *Config {
	if globalConfig == nil {
		log.Fatal("❌ Config not loaded. Call LoadConfig() first.")
	}
	return globalConfig
}

func (c *Config) validate() error {
	if c.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_KEY is required")
	}
	if c.ArkAPIKey == "" {
		return fmt.Errorf("ARK_API_KEY is required")
	}
	if c.MaxConcurrentCalls < 1 {
		return fmt.Errorf("MAX_CONCURRENT_CALLS must be at least 1")
	}
	if c.TaskMaxRetries < 0 {
		return fmt.Errorf("TASK_MAX_RETRIES must not be negative")
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.HeartbeatStaleAfter <= 0 {
		return fmt.Errorf("HEARTBEAT_STALE_AFTER must be positive")
	}
	// a claim must be able to heartbeat at least once before it counts as stale
	if c.HeartbeatInterval > 0 && c.HeartbeatStaleAfter <= c.HeartbeatInterval {
		return fmt.Errorf("HEARTBEAT_STALE_AFTER (%s) must be longer than HEARTBEAT_INTERVAL (%s)", c.HeartbeatStaleAfter, c.HeartbeatInterval)
	}
	return nil
}

// GetRedisAddr - host:port for the Redis client
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if s := os.Getenv(key); s != "" {
		if parsed, err := strconv.ParseBool(s); err == nil {
			return parsed
		}
		log.Printf("⚠️  Invalid %s=%q, using default %v", key, s, defaultValue)
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if s := os.Getenv(key); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil {
			return parsed
		}
		log.Printf("⚠️  Invalid %s=%q, using default %d", key, s, defaultValue)
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if parsed, err := time.ParseDuration(s); err == nil {
			return parsed
		}
		log.Printf("⚠️  Invalid %s=%q, using default %s", key, s, defaultValue)
	}
	return defaultValue
}
