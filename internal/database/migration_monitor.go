package database

import (
	"context"
	"fmt"

	apperrors "tradewatch/internal/errors"
	"tradewatch/internal/logger"
	"tradewatch/internal/types"
)

// MigrationMonitor reports the schema state as a health check and can
// repair a dirty migration as a recovery handler.
type MigrationMonitor struct {
	migrator *Migrator
	expected uint
	log      logger.Logger
}

// NewMigrationMonitor creates a monitor. expected is the schema version the
// binary was built for; 0 skips the version comparison.
func NewMigrationMonitor(migrator *Migrator, expected uint, log logger.Logger) *MigrationMonitor {
	return &MigrationMonitor{
		migrator: migrator,
		expected: expected,
		log:      log.WithField("component", "migration_monitor"),
	}
}

// Check reports a dirty schema as critical and a version behind the
// expected one as a warning.
func (m *MigrationMonitor) Check(ctx context.Context) (*types.ComponentHealth, error) {
	version, dirty, err := m.migrator.Version()
	if err != nil {
		return nil, err
	}

	details := map[string]interface{}{"version": version, "dirty": dirty}
	switch {
	case dirty:
		return &types.ComponentHealth{
			Status:  types.StatusCritical,
			Message: fmt.Sprintf("dirty migration state at version %d", version),
			Details: details,
		}, nil
	case m.expected > 0 && version < m.expected:
		return &types.ComponentHealth{
			Status:  types.StatusWarning,
			Message: fmt.Sprintf("schema at version %d, expected %d", version, m.expected),
			Details: details,
		}, nil
	}
	return &types.ComponentHealth{Status: types.StatusHealthy, Message: "schema up to date", Details: details}, nil
}

// Recover forces a dirty schema back to the previous version and reapplies
// pending migrations.
func (m *MigrationMonitor) Recover(ctx context.Context, alert *types.Alert) (bool, error) {
	version, dirty, err := m.migrator.Version()
	if err != nil {
		return false, err
	}
	if !dirty {
		return true, m.migrator.Up()
	}

	m.log.Warn("Recovering from dirty migration state", "version", version, "alert_id", alert.ID)
	target := int(version) - 1
	if target < 0 {
		target = 0
	}
	if err := m.migrator.Force(target); err != nil {
		return false, err
	}
	if err := m.migrator.Up(); err != nil {
		return false, err
	}

	if _, dirty, err = m.migrator.Version(); err != nil {
		return false, err
	} else if dirty {
		return false, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeRecoveryFailure,
			"schema still dirty after recovery", fmt.Sprintf("version %d", version), nil)
	}
	m.log.Info("Migration state recovered", "version", version)
	return true, nil
}
