// Package db bootstraps the two stores every component in this module
// shares: Postgres (durable) and Redis (cache, pub/sub, rate limiting).
package db

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/openmates/core/internal/config"
)

var logger = log.New(os.Stdout, "[db] ", log.LstdFlags)

type DB struct {
	Postgres *sql.DB
	Redis    *redis.Client
}

// New connects to Postgres and, best-effort, to Redis. Redis connect
// failure does not fail startup — cache-tier operations simply degrade to
// durable-store fallbacks (§5 "cache is authoritative in-flight, durable
// store is eventually consistent").
func New(cfg *config.Config) (*DB, error) {
	pg, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	pg.SetMaxOpenConns(25)
	pg.SetMaxIdleConns(5)
	pg.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pg.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	logger.Println("postgres connection established")

	redisURL := cfg.RedisURL
	if redisURL == "" {
		redisURL = "localhost:6379"
	}

	redisOpts := &redis.Options{
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DB:           0,
	}

	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		parsedURL, err := url.Parse(redisURL)
		if err != nil {
			logger.Printf("WARN failed to parse REDIS_URL: %v (continuing without redis)", err)
		} else {
			redisOpts.Addr = parsedURL.Host
			if parsedURL.User != nil {
				redisOpts.Username = parsedURL.User.Username()
				if password, ok := parsedURL.User.Password(); ok {
					redisOpts.Password = password
				}
			}
			if parsedURL.Scheme == "rediss" {
				redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	} else {
		redisOpts.Addr = redisURL
	}

	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Printf("WARN failed to connect to redis: %v (continuing without redis)", err)
		rdb = nil
	} else {
		logger.Println("redis connection established")
	}

	return &DB{Postgres: pg, Redis: rdb}, nil
}

func (db *DB) Close() error {
	var errs []error
	if db.Postgres != nil {
		if err := db.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}
	if db.Redis != nil {
		if err := db.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing databases: %v", errs)
	}
	return nil
}

// RunMigrations applies every *.sql file under migrationsPath, in sorted
// order, exactly once, tracked by a schema_migrations table.
func (db *DB) RunMigrations(migrationsPath string) error {
	logger.Println("running migrations...")

	_, err := db.Postgres.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(migrationsPath, "*.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		version := filepath.Base(file)

		var exists bool
		if err := db.Postgres.QueryRow(
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}
		if exists {
			continue
		}

		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", version, err)
		}

		tx, err := db.Postgres.Begin()
		if err != nil {
			return fmt.Errorf("failed to start transaction for migration %s: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", version, err)
		}
		logger.Printf("applied migration: %s", version)
	}

	logger.Println("all migrations completed")
	return nil
}

// Health checks both stores; Redis failure is logged, not returned, since
// the cache tier is allowed to degrade.
func (db *DB) Health(ctx context.Context) error {
	if err := db.Postgres.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	if db.Redis != nil {
		if err := db.Redis.Ping(ctx).Err(); err != nil {
			logger.Printf("WARN redis health check failed: %v", err)
		}
	}
	return nil
}
