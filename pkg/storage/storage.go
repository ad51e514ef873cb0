package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/fieldnote/fieldnote/pkg/access"
	"github.com/fieldnote/fieldnote/pkg/audit"
	"github.com/fieldnote/fieldnote/pkg/config"
	"github.com/fieldnote/fieldnote/pkg/observability"
)

const connectTimeout = 5 * time.Second

// OpenPostgres opens and pings a PostgreSQL pool
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	return openDB(ctx, "postgres", cfg)
}

func openDB(ctx context.Context, driver string, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// OpenRedis creates a Redis client from the cache settings and pings it
func OpenRedis(ctx context.Context, cfg config.CacheConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB > 0 {
		opts.DB = cfg.RedisDB
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}

	opts.DialTimeout = connectTimeout
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// NewGrantCache builds the grant cache selected by cfg.Backend. The returned
// client is non-nil only for the redis backend and must be closed by the caller.
// The none backend yields a nil cache.
func NewGrantCache(ctx context.Context, cfg config.CacheConfig) (access.Cache, *redis.Client, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil, nil
	case "memory":
		return access.NewLRUCache(cfg.Size, cfg.TTL), nil, nil
	case "redis":
		client, err := OpenRedis(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return access.NewRedisCache(client, cfg.TTL), client, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}

// NewAuditLogger builds the grant audit sink selected by cfg.Sink. The db sink
// writes through db, which stays owned by the caller.
func NewAuditLogger(cfg config.AuditConfig, db *sql.DB, logger *observability.Logger) (audit.Logger, error) {
	switch cfg.Sink {
	case "", "none":
		return audit.NopLogger(), nil
	case "db":
		sink, err := audit.NewDBLogger(db)
		if err != nil {
			return nil, err
		}
		return sink, nil
	case "file":
		sink, err := audit.NewFileLogger(audit.FileLoggerConfig{
			BasePath: cfg.Dir,
			MaxSize:  cfg.MaxSize,
			MaxFiles: cfg.MaxFiles,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown audit sink: %s", cfg.Sink)
	}
}
