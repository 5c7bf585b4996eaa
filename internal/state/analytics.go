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

var ErrCycleNotFound = errors.New("cycle not found")

// PerformanceSummary represents aggregated data over all recorded cycles
type PerformanceSummary struct {
	TotalCycles           int        `json:"total_cycles"`
	CompletedCycles       int        `json:"completed_cycles"`
	NoopCycles            int        `json:"noop_cycles"`
	AbortedCycles         int        `json:"aborted_cycles"`
	FailedCycles          int        `json:"failed_cycles"`
	FallbackCycles        int        `json:"fallback_cycles"`
	TotalTransferVolume   float64    `json:"total_transfer_volume"`
	AvgTotalInvestable    float64    `json:"avg_total_investable"`
	LatestTotalInvestable float64    `json:"latest_total_investable"`
	LastUpdated           *time.Time `json:"last_updated,omitempty"`
}

const cycleColumns = `
	snapshot_id, cycle_number, cycle_id, snapshot_timestamp, params_version, status, COALESCE(error_message, ''),
	fell_back, opportunities_fetched, opportunities_eligible, sources,
	total_investable_usd, remaining_usd,
	initial_balances, allocation, target_by_chain, transfers, deployments,
	transfer_receipts, allocate_receipts, final_balances, duration_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCycle(row rowScanner) (types.CycleSnapshot, error) {
	var cycle types.CycleSnapshot
	var status string
	var durationMS int64
	var sources, initial, allocation, target, transfers, deployments, transferReceipts, allocateReceipts, final []byte

	err := row.Scan(
		&cycle.SnapshotID, &cycle.CycleNumber, &cycle.CycleID, &cycle.Timestamp, &cycle.ParamsVersion, &status, &cycle.Error,
		&cycle.FellBack, &cycle.OpportunitiesFetched, &cycle.OpportunitiesEligible, &sources,
		&cycle.TotalInvestable, &cycle.Remaining,
		&initial, &allocation, &target, &transfers, &deployments,
		&transferReceipts, &allocateReceipts, &final, &durationMS,
	)
	if err != nil {
		return cycle, err
	}
	cycle.Status = types.CycleStatus(status)
	cycle.Duration = time.Duration(durationMS) * time.Millisecond

	// Unmarshal JSON fields
	fields := []struct {
		name string
		raw  []byte
		dest any
	}{
		{"sources", sources, &cycle.Sources},
		{"initial_balances", initial, &cycle.InitialBalances},
		{"allocation", allocation, &cycle.Allocation},
		{"target_by_chain", target, &cycle.TargetByChain},
		{"transfers", transfers, &cycle.Transfers},
		{"deployments", deployments, &cycle.Deployments},
		{"transfer_receipts", transferReceipts, &cycle.TransferReceipts},
		{"allocate_receipts", allocateReceipts, &cycle.AllocateReceipts},
		{"final_balances", final, &cycle.FinalBalances},
	}
	for _, f := range fields {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dest); err != nil {
			return cycle, fmt.Errorf("failed to unmarshal %s: %w", f.name, err)
		}
	}
	return cycle, nil
}

// GetRecentCycles retrieves recent cycle snapshots, newest first
func GetRecentCycles(ctx context.Context, limit int) ([]types.CycleSnapshot, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}
	stateLogger := logger.GetForComponent("state")

	if limit <= 0 || limit > 100 {
		limit = 10 // Default limit
	}

	query := `SELECT ` + cycleColumns + `
		FROM cycle_snapshots
		ORDER BY snapshot_timestamp DESC, snapshot_id DESC
		LIMIT $1`

	rows, err := DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent cycles: %w", err)
	}
	defer rows.Close()

	cycles := make([]types.CycleSnapshot, 0, limit)
	for rows.Next() {
		cycle, err := scanCycle(rows)
		if err != nil {
			stateLogger.Error().Err(err).Int("cycle_number", cycle.CycleNumber).Msg("Failed to scan cycle row")
			continue // Skip this row and continue with others
		}
		cycles = append(cycles, cycle)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	stateLogger.Debug().Int("count", len(cycles)).Int("limit", limit).Msg("Retrieved recent cycles")
	return cycles, nil
}

// GetLatestCycle returns the most recent cycle snapshot.
func GetLatestCycle(ctx context.Context) (*types.CycleSnapshot, error) {
	cycles, err := GetRecentCycles(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(cycles) == 0 {
		return nil, errors.Join(ErrCycleNotFound, errors.New("no cycles recorded"))
	}
	return &cycles[0], nil
}

// GetCycleByID retrieves a specific cycle by its snapshot ID
func GetCycleByID(ctx context.Context, snapshotID int64) (*types.CycleSnapshot, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}

	query := `SELECT ` + cycleColumns + `
		FROM cycle_snapshots
		WHERE snapshot_id = $1`

	cycle, err := scanCycle(DB.QueryRowContext(ctx, query, snapshotID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Join(ErrCycleNotFound, fmt.Errorf("snapshot %d", snapshotID))
		}
		return nil, fmt.Errorf("failed to query cycle by ID: %w", err)
	}
	return &cycle, nil
}

// GetCyclesByChain returns recent cycles that touched chain, newest first.
func GetCyclesByChain(ctx context.Context, chain string, limit int) ([]int64, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	rows, err := DB.QueryContext(ctx, `
		SELECT snapshot_id FROM cycle_snapshots
		WHERE $1 = ANY(chains)
		ORDER BY snapshot_timestamp DESC
		LIMIT $2`, chain, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles for chain %s: %w", chain, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetPerformanceSummary retrieves aggregated cycle statistics
func GetPerformanceSummary(ctx context.Context) (*PerformanceSummary, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}

	summary := &PerformanceSummary{}

	query := `
		SELECT
			COUNT(*) AS total_cycles,
			COUNT(CASE WHEN status = 'completed' THEN 1 END) AS completed_cycles,
			COUNT(CASE WHEN status = 'noop' THEN 1 END) AS noop_cycles,
			COUNT(CASE WHEN status = 'aborted' THEN 1 END) AS aborted_cycles,
			COUNT(CASE WHEN status = 'failed' THEN 1 END) AS failed_cycles,
			COUNT(CASE WHEN fell_back THEN 1 END) AS fallback_cycles,
			COALESCE(SUM(transfer_volume_usd), 0) AS total_transfer_volume,
			COALESCE(AVG(total_investable_usd), 0) AS avg_total_investable
		FROM cycle_snapshots
	`
	err := DB.QueryRowContext(ctx, query).Scan(
		&summary.TotalCycles,
		&summary.CompletedCycles,
		&summary.NoopCycles,
		&summary.AbortedCycles,
		&summary.FailedCycles,
		&summary.FallbackCycles,
		&summary.TotalTransferVolume,
		&summary.AvgTotalInvestable,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get performance summary: %w", err)
	}

	var lastUpdated time.Time
	err = DB.QueryRowContext(ctx, `
		SELECT total_investable_usd, snapshot_timestamp
		FROM cycle_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT 1`).Scan(&summary.LatestTotalInvestable, &lastUpdated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to get latest cycle values: %w", err)
	default:
		summary.LastUpdated = &lastUpdated
	}

	summaryLogger := logger.GetForComponent("state")
	summaryLogger.Debug().
		Int("totalCycles", summary.TotalCycles).
		Float64("totalTransferVolume", summary.TotalTransferVolume).
		Msg("Retrieved performance summary")
	return summary, nil
}
