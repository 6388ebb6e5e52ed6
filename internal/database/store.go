package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	apperrors "tradewatch/internal/errors"
	"tradewatch/internal/types"
)

// Store persists alerts, host snapshots and trade metrics in PostgreSQL
type Store struct {
	db *DB
}

// NewStore creates a store on an open connection
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// SaveAlerts upserts alerts by id
func (s *Store) SaveAlerts(ctx context.Context, alerts []*types.Alert) error {
	query := `
		INSERT INTO alerts (
			id, component, alert_type, level, message, value, threshold,
			source, count, active, created_at, updated_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			level = EXCLUDED.level,
			message = EXCLUDED.message,
			value = EXCLUDED.value,
			threshold = EXCLUDED.threshold,
			count = EXCLUDED.count,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at,
			resolved_at = EXCLUDED.resolved_at
	`
	return s.inTx(ctx, "failed to save alerts", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range alerts {
			var resolved sql.NullTime
			if a.ResolvedAt != nil {
				resolved = sql.NullTime{Time: *a.ResolvedAt, Valid: true}
			}
			if _, err := stmt.ExecContext(ctx,
				a.ID, a.Component, a.AlertType, string(a.Level), a.Message, a.Value, a.Threshold,
				a.Source, a.Count, a.Active, a.CreatedAt, a.UpdatedAt, resolved,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadAlerts returns active alerts and alerts updated at or after since,
// oldest first.
func (s *Store) LoadAlerts(ctx context.Context, since time.Time) ([]*types.Alert, error) {
	query := `
		SELECT id, component, alert_type, level, message, value, threshold,
			source, count, active, created_at, updated_at, resolved_at
		FROM alerts
		WHERE active OR updated_at >= $1
		ORDER BY created_at
	`
	rows, err := s.db.conn().QueryContext(ctx, query, since)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeStorageFailure, "failed to load alerts")
	}
	defer rows.Close()

	var alerts []*types.Alert
	for rows.Next() {
		var (
			a        types.Alert
			level    string
			resolved sql.NullTime
		)
		if err := rows.Scan(
			&a.ID, &a.Component, &a.AlertType, &level, &a.Message, &a.Value, &a.Threshold,
			&a.Source, &a.Count, &a.Active, &a.CreatedAt, &a.UpdatedAt, &resolved,
		); err != nil {
			return nil, apperrors.WrapError(err, apperrors.ErrCodeStorageFailure, "failed to scan alert")
		}
		a.Level = types.Level(level)
		if resolved.Valid {
			t := resolved.Time
			a.ResolvedAt = &t
		}
		alerts = append(alerts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeStorageFailure, "failed to read alerts")
	}
	return alerts, nil
}

// SaveSnapshots inserts snapshots; a snapshot already stored is skipped
func (s *Store) SaveSnapshots(ctx context.Context, snapshots []types.SystemMetricsSnapshot) error {
	query := `
		INSERT INTO system_snapshots (
			taken_at, cpu_usage, memory_usage, disk_usage, load_1, process_count, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (taken_at) DO NOTHING
	`
	return s.inTx(ctx, "failed to save snapshots", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, snap := range snapshots {
			payload, err := json.Marshal(snap)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx,
				snap.Timestamp, snap.CPUUsage, snap.MemoryUsage, snap.DiskUsage,
				snap.LoadAverage[0], snap.ProcessCount, payload,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveTradeMetrics upserts the latest metrics of every symbol
func (s *Store) SaveTradeMetrics(ctx context.Context, metrics []*types.TradeMetrics) error {
	query := `
		INSERT INTO trade_metrics (
			symbol, total_trades, win_rate, total_pnl, max_drawdown, payload, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol) DO UPDATE SET
			total_trades = EXCLUDED.total_trades,
			win_rate = EXCLUDED.win_rate,
			total_pnl = EXCLUDED.total_pnl,
			max_drawdown = EXCLUDED.max_drawdown,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
	`
	return s.inTx(ctx, "failed to save trade metrics", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range metrics {
			payload, err := json.Marshal(m)
			if err != nil {
				return err
			}
			updated := m.LastUpdated
			if updated.IsZero() {
				updated = time.Now()
			}
			if _, err := stmt.ExecContext(ctx,
				m.Symbol, m.TotalTrades, m.WinRate, m.TotalPnL, m.MaxDrawdown, payload, updated,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// PruneSnapshots deletes snapshots taken before the cutoff
func (s *Store) PruneSnapshots(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.conn().ExecContext(ctx, `DELETE FROM system_snapshots WHERE taken_at < $1`, before)
	if err != nil {
		return 0, apperrors.WrapError(err, apperrors.ErrCodeStorageFailure, "failed to prune snapshots")
	}
	return res.RowsAffected()
}

// LoadSnapshots returns stored snapshots within [start, end], oldest first
func (s *Store) LoadSnapshots(ctx context.Context, start, end time.Time) ([]types.SystemMetricsSnapshot, error) {
	rows, err := s.db.conn().QueryContext(ctx,
		`SELECT payload FROM system_snapshots WHERE taken_at >= $1 AND taken_at <= $2 ORDER BY taken_at`, start, end)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeStorageFailure, "failed to load snapshots")
	}
	defer rows.Close()

	var out []types.SystemMetricsSnapshot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, apperrors.WrapError(err, apperrors.ErrCodeStorageFailure, "failed to scan snapshot")
		}
		var snap types.SystemMetricsSnapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, apperrors.WrapError(err, apperrors.ErrCodeStorageFailure, "failed to decode snapshot")
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeStorageFailure, "failed to read snapshots")
	}
	return out, nil
}

func (s *Store) inTx(ctx context.Context, msg string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.conn().BeginTx(ctx, nil)
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeStorageFailure, msg)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return apperrors.WrapError(err, apperrors.ErrCodeStorageFailure, msg)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeStorageFailure, msg)
	}
	return nil
}
