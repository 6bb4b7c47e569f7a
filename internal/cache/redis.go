package cache

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	client     *redis.Client
	clientOnce sync.Once
	clientErr  error
)

// ErrLockTimeout is returned when another fetcher held the lock for too long
var ErrLockTimeout = errors.New("timeout waiting for lock")

// Config holds Redis configuration
type Config struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
	MutexTTL time.Duration
	MaxWait  time.Duration
}

// LoadConfigFromEnv loads Redis configuration from environment variables.
// Directions responses with departure_time=now go stale quickly, so the default TTL is short.
func LoadConfigFromEnv() *Config {
	port, _ := strconv.Atoi(getEnv("REDIS_PORT", "6379"))
	db, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	ttl, _ := time.ParseDuration(getEnv("CACHE_TTL", "1m"))
	mutexTTL, _ := time.ParseDuration(getEnv("CACHE_MUTEX_TTL", "5s"))
	maxWait, _ := time.ParseDuration(getEnv("CACHE_MAX_WAIT", "3s"))

	return &Config{
		Enabled:  getEnv("CACHE_ENABLED", "false") == "true",
		Host:     getEnv("REDIS_HOST", "localhost"),
		Port:     port,
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       db,
		TTL:      ttl,
		MutexTTL: mutexTTL,
		MaxWait:  maxWait,
	}
}

// GetClient returns the global Redis client (singleton pattern)
func GetClient() (*redis.Client, error) {
	clientOnce.Do(func() {
		config := LoadConfigFromEnv()

		opts := &redis.Options{
			Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
			Password:     config.Password,
			DB:           config.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
			MinIdleConns: 2,
		}

		if getEnv("REDIS_TLS_ENABLED", "false") == "true" {
			opts.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}

		client = redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			clientErr = fmt.Errorf("failed to connect to Redis: %w", err)
			return
		}
	})

	return client, clientErr
}

// Close closes the Redis client
func Close() {
	if client != nil {
		client.Close()
	}
}

// ResponseKey derives the cache key of a Directions request URL.
// The key parameter is dropped so rotating API keys share entries.
func ResponseKey(requestURL string) string {
	data := requestURL
	if u, err := url.Parse(requestURL); err == nil {
		q := u.Query()
		q.Del("key")
		u.RawQuery = q.Encode()
		data = u.String()
	}
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("directions:%x", hash[:12])
}

// LockKey generates a mutex lock key
func LockKey(key string) string {
	return fmt.Sprintf("lock:%s", key)
}

// Store caches raw Directions API bodies
type Store struct {
	client *redis.Client
	config *Config
}

// NewStore wraps a connected client
func NewStore(client *redis.Client, config *Config) *Store {
	return &Store{client: client, config: config}
}

// Get returns a cached body; ok is false on a miss
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set caches a body for the configured TTL
func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	return s.client.Set(ctx, key, data, s.config.TTL).Err()
}

// AcquireLock attempts to acquire the fetch lock for key.
// Returns true if lock was acquired, false if another fetcher holds it.
func (s *Store) AcquireLock(ctx context.Context, key string) (bool, error) {
	return s.client.SetNX(ctx, LockKey(key), "1", s.config.MutexTTL).Result()
}

// ReleaseLock releases the fetch lock for key
func (s *Store) ReleaseLock(ctx context.Context, key string) error {
	return s.client.Del(ctx, LockKey(key)).Err()
}

// WaitForResult waits for another fetcher's lock on key to go away and then reads its result
func (s *Store) WaitForResult(ctx context.Context, key string) ([]byte, bool, error) {
	lockKey := LockKey(key)
	deadline := time.Now().Add(s.config.MaxWait)

	for time.Now().Before(deadline) {
		exists, err := s.client.Exists(ctx, lockKey).Result()
		if err != nil {
			return nil, false, err
		}
		if exists == 0 {
			return s.Get(ctx, key)
		}

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	return nil, false, ErrLockTimeout
}

// HealthCheck performs a health check on the Redis connection
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Stats returns connection pool stats
func (s *Store) Stats() map[string]interface{} {
	poolStats := s.client.PoolStats()

	return map[string]interface{}{
		"hits":        poolStats.Hits,
		"misses":      poolStats.Misses,
		"timeouts":    poolStats.Timeouts,
		"total_conns": poolStats.TotalConns,
		"idle_conns":  poolStats.IdleConns,
		"stale_conns": poolStats.StaleConns,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
