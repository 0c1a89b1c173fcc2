package redis

import (
	"context"
	"crypto/tls"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"seedream-studio-server/modules/common/config"
)

// Key layout shared by the task store and the queue
const (
	TaskQueueKey     = "tasks:queue"
	ActiveTasksKey   = "tasks:active"
	taskKeyPrefix    = "task:"
	userTasksPrefix  = "tasks:user:"
	taskEventsPrefix = "tasks:events:"
)

// TaskKey - task document key
func TaskKey(taskID string) string {
	return taskKeyPrefix + taskID
}

// UserTasksKey - per-owner sorted set of task ids (score = createdAt)
func UserTasksKey(userID string) string {
	return userTasksPrefix + userID
}

// TaskEventsChannel - per-owner pub/sub channel announcing task changes
func TaskEventsChannel(userID string) string {
	return taskEventsPrefix + userID
}

// Connect - create a Redis client and ping it
func Connect(cfg *config.Config) *redis.Client {
	log.Printf("🔌 Connecting to Redis: %s", cfg.GetRedisAddr())

	var tlsConfig *tls.Config
	if cfg.RedisUseTLS {
		tlsConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true, // managed Redis with self-signed certs
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		TLSConfig:    tlsConfig,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("❌ Redis ping failed: %v", err)
		return nil
	}

	log.Println("✅ Redis connected successfully")
	return rdb
}
