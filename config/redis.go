package config

import (
    "sync"
    "time"
)

var (
    redisOnce   sync.Once
    redisConfig *RedisConfig
)

// RedisConfig is shared by the task queue and the analytics recorder.
type RedisConfig struct {
    Addr           string
    Password       string
    DB             int
    MaxRetries     int
    RetryDelay     time.Duration
    ProcessTimeout time.Duration
    Concurrency    int
}

func GetRedisConfig() *RedisConfig {
    redisOnce.Do(func() {
        loadEnv()
        redisConfig = &RedisConfig{
            Addr:           getEnv("REDIS_ADDR", "localhost:6379"),
            Password:       getEnv("REDIS_PASSWORD", ""),
            DB:             getEnvInt("REDIS_DB", 0),
            MaxRetries:     getEnvInt("QUEUE_MAX_RETRIES", 3),
            RetryDelay:     time.Minute,
            ProcessTimeout: 30 * time.Minute,
            Concurrency:    getEnvInt("WORKER_CONCURRENCY", 5),
        }
    })
    return redisConfig
}
