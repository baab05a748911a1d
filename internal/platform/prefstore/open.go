package prefstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/scheduling/internal/platform/db"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendNone     = "none"
)

// Store is a preference key-value store.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options selects and configures a backend.
type Options struct {
	Backend     string
	FilePath    string
	RedisURL    string
	RedisPrefix string
	TTL         time.Duration
	DatabaseURL string
	MaxConns    int32
	MinConns    int32
	Owner       string
}

// Open creates the store named by opts.Backend. The returned close function
// releases any connections and is never nil.
func Open(ctx context.Context, opts Options, logger zerolog.Logger) (Store, func(), error) {
	noop := func() {}

	switch opts.Backend {
	case "", BackendMemory:
		logger.Info().Str("backend", BackendMemory).Msg("preference store ready")
		return NewMemory(), noop, nil

	case BackendNone:
		logger.Warn().Msg("preference store disabled, searches will not be remembered")
		return Nop{}, noop, nil

	case BackendFile:
		if opts.FilePath == "" {
			return nil, noop, fmt.Errorf("file preference backend requires a path")
		}
		logger.Info().Str("backend", BackendFile).Str("path", opts.FilePath).Msg("preference store ready")
		return NewFile(opts.FilePath), noop, nil

	case BackendRedis:
		redisOpts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, noop, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(redisOpts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("ping redis: %w", err)
		}
		logger.Info().Str("backend", BackendRedis).Str("addr", redisOpts.Addr).Msg("preference store ready")
		return NewRedis(client, opts.RedisPrefix, opts.TTL), func() { client.Close() }, nil

	case BackendPostgres:
		pool, err := db.NewPool(ctx, opts.DatabaseURL, opts.MaxConns, opts.MinConns)
		if err != nil {
			return nil, noop, err
		}
		if err := db.EnsurePreferenceSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, noop, err
		}
		logger.Info().Str("backend", BackendPostgres).Str("owner", opts.Owner).Msg("preference store ready")
		return NewPostgres(pool, opts.Owner), pool.Close, nil
	}

	return nil, noop, fmt.Errorf("unknown preference backend %q", opts.Backend)
}
