// Package db opens the Postgres pool holding the calendar_events table.
package db

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	pool     *pgxpool.Pool
	poolOnce sync.Once
	poolErr  error
)

// Schema creates the calendar table the widget polls. Other services
// (a calendar sync job, cmd/calendar-import) write to it.
const Schema = `
CREATE TABLE IF NOT EXISTS calendar_events (
	id         BIGSERIAL PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	location   TEXT,
	start_date TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS calendar_events_start_idx ON calendar_events (start_date);
`

// Config describes the calendar database
type Config struct {
	URL            string
	MaxConns       int32
	ConnectTimeout time.Duration
	// SimpleProtocol is needed behind transaction-mode poolers, which reject prepared statements
	SimpleProtocol bool
}

// LoadConfigFromEnv prefers DATABASE_URL and otherwise builds a URL from DB_* variables
func LoadConfigFromEnv() *Config {
	maxConns, err := strconv.Atoi(getEnv("DB_MAX_CONNS", "2"))
	if err != nil || maxConns < 1 {
		maxConns = 2
	}
	timeout, err := time.ParseDuration(getEnv("DB_CONNECT_TIMEOUT", "10s"))
	if err != nil || timeout <= 0 {
		timeout = 10 * time.Second
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		u := url.URL{
			Scheme:   "postgres",
			Host:     getEnv("DB_HOST", "localhost") + ":" + getEnv("DB_PORT", "5432"),
			Path:     "/" + getEnv("DB_NAME", "localtransport"),
			RawQuery: url.Values{"sslmode": {getEnv("DB_SSLMODE", "disable")}}.Encode(),
		}
		if pass := os.Getenv("DB_PASSWORD"); pass != "" {
			u.User = url.UserPassword(getEnv("DB_USER", "postgres"), pass)
		} else {
			u.User = url.User(getEnv("DB_USER", "postgres"))
		}
		dsn = u.String()
	}

	return &Config{
		URL:            dsn,
		MaxConns:       int32(maxConns),
		ConnectTimeout: timeout,
		SimpleProtocol: getEnv("DB_SIMPLE_PROTOCOL", "false") == "true",
	}
}

// PoolConfig turns the config into pgxpool settings. The table is read once
// per poll interval, so no idle connections are kept.
func (c *Config) PoolConfig() (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(c.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database url: %w", err)
	}

	poolConfig.MinConns = 0
	poolConfig.MaxConns = c.MaxConns
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "localtransport"
	if c.SimpleProtocol {
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	return poolConfig, nil
}

// GetDB returns the global pool (singleton pattern), created from the environment
func GetDB() (*pgxpool.Pool, error) {
	poolOnce.Do(func() {
		pool, poolErr = Open(context.Background(), LoadConfigFromEnv())
	})
	return pool, poolErr
}

// Open connects, pings and makes sure the calendar table exists
func Open(ctx context.Context, config *Config) (*pgxpool.Pool, error) {
	poolConfig, err := config.PoolConfig()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	p, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	if _, err := p.Exec(ctx, Schema); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return p, nil
}

// Close closes the global pool
func Close() {
	if pool != nil {
		pool.Close()
	}
}

// HealthCheck pings the database and checks the calendar table is there
func HealthCheck(ctx context.Context) error {
	db, err := GetDB()
	if err != nil {
		return fmt.Errorf("database connection not initialized: %w", err)
	}

	var exists bool
	err = db.QueryRow(ctx, "SELECT to_regclass('public.calendar_events') IS NOT NULL").Scan(&exists)
	if err != nil {
		return fmt.Errorf("database check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("table calendar_events is missing")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
