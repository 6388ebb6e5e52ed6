package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"tradewatch/internal/config"
	apperrors "tradewatch/internal/errors"
	"tradewatch/internal/logger"
	"tradewatch/internal/types"
)

// DB represents the database connection
type DB struct {
	*sql.DB
	config config.DatabaseConfig
	log    logger.Logger
	mu     sync.RWMutex
}

// PoolStats represents connection pool statistics
type PoolStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
	MaxIdleClosed      int64         `json:"max_idle_closed"`
	MaxLifetimeClosed  int64         `json:"max_lifetime_closed"`
}

// NewConnection opens the pool and pings it, retrying with a growing delay
func NewConnection(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (*DB, error) {
	// 默认连接池参数
	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = 25
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = time.Hour
	}

	db := &DB{config: cfg, log: log.WithField("component", "database")}
	sqlDB, err := db.open(ctx, 3)
	if err != nil {
		return nil, err
	}
	db.DB = sqlDB

	db.log.Info("Database connection established",
		"host", cfg.Host, "dbname", cfg.DBName,
		"max_open", cfg.MaxOpen, "max_idle", cfg.MaxIdle, "max_lifetime", cfg.ConnMaxLifetime)
	return db, nil
}

func (db *DB) open(ctx context.Context, maxRetries int) (*sql.DB, error) {
	sqlDB, err := sql.Open("postgres", db.config.DSN())
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeStorageFailure, "failed to open database")
	}
	sqlDB.SetMaxOpenConns(db.config.MaxOpen)
	sqlDB.SetMaxIdleConns(db.config.MaxIdle)
	sqlDB.SetConnMaxLifetime(db.config.ConnMaxLifetime)

	var pingErr error
	for i := 0; i < maxRetries; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, db.config.Timeout)
		pingErr = sqlDB.PingContext(pingCtx)
		cancel()
		if pingErr == nil {
			return sqlDB, nil
		}

		db.log.Warn("Database ping failed", "attempt", i+1, "max_attempts", maxRetries, "error", pingErr)
		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				sqlDB.Close()
				return nil, apperrors.WrapError(ctx.Err(), apperrors.ErrCodeStorageFailure, "database connect cancelled")
			case <-time.After(time.Second * time.Duration(i+1)): // 递增延迟
			}
		}
	}
	sqlDB.Close()
	return nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeStorageFailure,
		fmt.Sprintf("failed to ping database after %d attempts", maxRetries),
		fmt.Sprintf("host=%s port=%d dbname=%s user=%s", db.config.Host, db.config.Port, db.config.DBName, db.config.User),
		pingErr)
}

func (db *DB) conn() *sql.DB {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.DB
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn().Close()
}

// GetPoolStats returns current connection pool statistics
func (db *DB) GetPoolStats() PoolStats {
	stats := db.conn().Stats()
	return PoolStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
		MaxIdleClosed:      stats.MaxIdleClosed,
		MaxLifetimeClosed:  stats.MaxLifetimeClosed,
	}
}

// HealthCheck pings the database and reports pool pressure. It matches
// the health check signature of the monitor.
func (db *DB) HealthCheck(ctx context.Context) (*types.ComponentHealth, error) {
	if err := db.conn().PingContext(ctx); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeStorageFailure, "database ping failed")
	}

	stats := db.GetPoolStats()
	health := &types.ComponentHealth{
		Status:  types.StatusHealthy,
		Message: "database reachable",
		Details: map[string]interface{}{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"idle":             stats.Idle,
			"wait_count":       stats.WaitCount,
		},
	}
	// 连接使用率超过80%视为连接池压力过大
	if stats.MaxOpenConnections > 0 && stats.InUse > stats.MaxOpenConnections*80/100 {
		health.Status = types.StatusWarning
		health.Message = fmt.Sprintf("connection pool under pressure: %d/%d in use", stats.InUse, stats.MaxOpenConnections)
	}
	return health, nil
}

// Reconnect replaces the pool with a fresh one. It matches the recovery
// handler signature of the monitor.
func (db *DB) Reconnect(ctx context.Context, alert *types.Alert) (bool, error) {
	db.log.Warn("Attempting to recover database connection", "alert_id", alert.ID)

	fresh, err := db.open(ctx, 1)
	if err != nil {
		return false, err
	}

	db.mu.Lock()
	old := db.DB
	db.DB = fresh
	db.mu.Unlock()

	if err := old.Close(); err != nil {
		db.log.Warn("Error closing previous database pool", "error", err)
	}
	db.log.Info("Database connection recovered")
	return true, nil
}
