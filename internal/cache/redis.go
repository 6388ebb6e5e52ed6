package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tradewatch/internal/config"
	apperrors "tradewatch/internal/errors"
	"tradewatch/internal/logger"
	"tradewatch/internal/types"
)

// NewRedisClient creates a client and checks the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, log logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, apperrors.WrapError(err, apperrors.ErrCodeCacheFailure, "failed to connect to Redis")
	}

	log.Info("Redis connection established", "addr", cfg.Addr, "db", cfg.DB)
	return client, nil
}

// RedisCache publishes the latest monitor state to Redis so that other
// processes can read it without calling the API. Every key expires after
// ttl so a dead monitor leaves no stale state behind.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a cache writing keys under prefix
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisCache) key(name string) string {
	return r.prefix + ":" + name
}

func (r *RedisCache) set(ctx context.Context, name string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeCacheFailure, "failed to encode "+name)
	}
	if err := r.client.Set(ctx, r.key(name), data, r.ttl).Err(); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeCacheFailure, "failed to write "+name)
	}
	return nil
}

func (r *RedisCache) get(ctx context.Context, name string, dest interface{}) error {
	data, err := r.client.Get(ctx, r.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeNotFound, "cache entry not found", r.key(name), nil)
	}
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeCacheFailure, "failed to read "+name)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeCacheFailure, "failed to decode "+name)
	}
	return nil
}

// PutSnapshot stores the latest host sample
func (r *RedisCache) PutSnapshot(ctx context.Context, snap *types.SystemMetricsSnapshot) error {
	return r.set(ctx, KeySnapshot, snap)
}

// PutStatus stores the aggregate status and replaces the component hash
func (r *RedisCache) PutStatus(ctx context.Context, status types.HealthStatus, components map[string]*types.ComponentHealth) error {
	fields := make(map[string]interface{}, len(components))
	for name, h := range components {
		data, err := json.Marshal(h)
		if err != nil {
			return apperrors.WrapError(err, apperrors.ErrCodeCacheFailure, "failed to encode component "+name)
		}
		fields[name] = data
	}

	componentsKey := r.key(KeyComponents)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(KeyStatus), string(status), r.ttl)
		pipe.Del(ctx, componentsKey)
		if len(fields) > 0 {
			pipe.HSet(ctx, componentsKey, fields)
			pipe.Expire(ctx, componentsKey, r.ttl)
		}
		return nil
	})
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeCacheFailure, "failed to write status")
	}
	return nil
}

// PutActiveAlerts stores the active alert list
func (r *RedisCache) PutActiveAlerts(ctx context.Context, alerts []*types.Alert) error {
	if alerts == nil {
		alerts = []*types.Alert{}
	}
	return r.set(ctx, KeyActiveAlerts, alerts)
}

// GetSnapshot reads the latest host sample
func (r *RedisCache) GetSnapshot(ctx context.Context) (*types.SystemMetricsSnapshot, error) {
	var snap types.SystemMetricsSnapshot
	if err := r.get(ctx, KeySnapshot, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetStatus reads the aggregate status and the component results
func (r *RedisCache) GetStatus(ctx context.Context) (types.HealthStatus, map[string]*types.ComponentHealth, error) {
	status, err := r.client.Get(ctx, r.key(KeyStatus)).Result()
	if errors.Is(err, redis.Nil) {
		return types.StatusUnknown, map[string]*types.ComponentHealth{}, nil
	}
	if err != nil {
		return "", nil, apperrors.WrapError(err, apperrors.ErrCodeCacheFailure, "failed to read status")
	}

	raw, err := r.client.HGetAll(ctx, r.key(KeyComponents)).Result()
	if err != nil {
		return "", nil, apperrors.WrapError(err, apperrors.ErrCodeCacheFailure, "failed to read components")
	}
	components := make(map[string]*types.ComponentHealth, len(raw))
	for name, data := range raw {
		var h types.ComponentHealth
		if err := json.Unmarshal([]byte(data), &h); err != nil {
			return "", nil, apperrors.WrapError(err, apperrors.ErrCodeCacheFailure, fmt.Sprintf("failed to decode component %s", name))
		}
		components[name] = &h
	}
	return types.HealthStatus(status), components, nil
}

// GetActiveAlerts reads the active alert list
func (r *RedisCache) GetActiveAlerts(ctx context.Context) ([]*types.Alert, error) {
	var alerts []*types.Alert
	if err := r.get(ctx, KeyActiveAlerts, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

// HealthCheck pings Redis and reports pool usage
func (r *RedisCache) HealthCheck(ctx context.Context) (*types.ComponentHealth, error) {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeCacheFailure, "redis ping failed")
	}
	health := &types.ComponentHealth{Status: types.StatusHealthy, Message: "redis reachable"}
	if c, ok := r.client.(*redis.Client); ok {
		stats := c.PoolStats()
		health.Details = map[string]interface{}{
			"total_conns": stats.TotalConns,
			"idle_conns":  stats.IdleConns,
			"timeouts":    stats.Timeouts,
		}
		if stats.Timeouts > 0 {
			health.Status = types.StatusWarning
			health.Message = fmt.Sprintf("redis pool timeouts: %d", stats.Timeouts)
		}
	}
	return health, nil
}
