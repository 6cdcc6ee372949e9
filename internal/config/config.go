package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr         string
	MySQLDSN         string
	QueueRedisAddr   string
	QueueName        string
	QueueMaxAttempts int
	QueueBackoffBase time.Duration
	LockNodeAddrs    []string
	LockTTL          time.Duration
	WorkerCount      int
}

func Load() Config {
	return Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		MySQLDSN:         getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/flashsale?parseTime=true"),
		QueueRedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		QueueName:        getEnv("QUEUE_NAME", "order-processing"),
		QueueMaxAttempts: getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
		QueueBackoffBase: getEnvDuration("QUEUE_BACKOFF_BASE", 2*time.Second),
		LockNodeAddrs:    getEnvList("REDIS_LOCK_ADDRS", "localhost:6379,localhost:6380,localhost:6381"),
		LockTTL:          getEnvDuration("LOCK_TTL", 10*time.Second),
		WorkerCount:      getEnvInt("WORKER_COUNT", 10),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
