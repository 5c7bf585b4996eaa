// ./internal/state/parameters_store.go
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/elys-network/yield-router/internal/logger"
	"github.com/elys-network/yield-router/internal/types"
)

var ErrNoActiveParameters = errors.New("no active strategy parameters")

// SaveStrategyParameters saves a new version of strategy parameters.
// With makeActive the previously active version of configName is deactivated in the same transaction.
func SaveStrategyParameters(ctx context.Context, params types.StrategyParameters, configName string, version int, makeActive bool) (paramsID int64, err error) {
	if DB == nil {
		return 0, ErrDBNotInitialized
	}
	if err := params.Validate(); err != nil {
		return 0, err
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal strategy parameters: %w", err)
	}

	tx, err := DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback() // Rollback if error occurred
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE strategy_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`
		if _, err = tx.ExecContext(ctx, stmtDeactivate, configName); err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	stmt := `
		INSERT INTO strategy_parameters (config_name, version, is_active, activated_at, created_at, params)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING params_id;`

	currentTime := time.Now()
	err = tx.QueryRowContext(ctx, stmt, configName, version, makeActive, currentTime, currentTime, paramsJSON).Scan(&paramsID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert strategy parameters: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	paramsLogger := logger.GetForComponent("state")
	paramsLogger.Info().
		Int("version", version).
		Str("config", configName).
		Int64("params_id", paramsID).
		Bool("active", makeActive).
		Msg("Saved strategy parameters")
	return paramsID, nil
}

// LoadActiveStrategyParameters loads the currently active parameters and their version.
func LoadActiveStrategyParameters(ctx context.Context, configName string) (*types.StrategyParameters, int, error) {
	if DB == nil {
		return nil, 0, ErrDBNotInitialized
	}

	query := `
		SELECT version, params
		FROM strategy_parameters
		WHERE config_name = $1 AND is_active = TRUE
		ORDER BY activated_at DESC
		LIMIT 1;`

	var version int
	var paramsJSON []byte
	err := DB.QueryRowContext(ctx, query, configName).Scan(&version, &paramsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, errors.Join(ErrNoActiveParameters, fmt.Errorf("config '%s'", configName))
		}
		return nil, 0, fmt.Errorf("failed to load active strategy parameters for config '%s': %w", configName, err)
	}

	p := &types.StrategyParameters{}
	if err := json.Unmarshal(paramsJSON, p); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal strategy parameters for config '%s': %w", configName, err)
	}
	if err := p.Validate(); err != nil {
		return nil, 0, fmt.Errorf("stored strategy parameters for config '%s' v%d are invalid: %w", configName, version, err)
	}

	paramsLogger := logger.GetForComponent("state")
	paramsLogger.Info().Str("config", configName).Int("version", version).Msg("Loaded active strategy parameters")
	return p, version, nil
}

// GetLatestStrategyVersion returns the highest stored version for configName, or 0 when none exists.
func GetLatestStrategyVersion(ctx context.Context, configName string) (int, error) {
	if DB == nil {
		return 0, ErrDBNotInitialized
	}

	var version int
	err := DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM strategy_parameters WHERE config_name = $1;`, configName).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest strategy version for config '%s': %w", configName, err)
	}
	return version, nil
}
