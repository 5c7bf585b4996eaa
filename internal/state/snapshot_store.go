// ./internal/state/snapshot_store.go
package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/elys-network/yield-router/internal/logger"
	"github.com/elys-network/yield-router/internal/types"
	"github.com/lib/pq" // PostgreSQL driver for array support
)

// SaveCycleSnapshot saves a complete cycle snapshot to the database.
func SaveCycleSnapshot(ctx context.Context, snapshot types.CycleSnapshot) (int64, error) {
	if DB == nil {
		return 0, ErrDBNotInitialized
	}

	// Marshal all JSONB fields
	fields := []struct {
		name  string
		value any
	}{
		{"sources", snapshot.Sources},
		{"initial_balances", snapshot.InitialBalances},
		{"allocation", snapshot.Allocation},
		{"target_by_chain", snapshot.TargetByChain},
		{"transfers", snapshot.Transfers},
		{"deployments", snapshot.Deployments},
		{"transfer_receipts", snapshot.TransferReceipts},
		{"allocate_receipts", snapshot.AllocateReceipts},
		{"final_balances", snapshot.FinalBalances},
	}
	encoded := make([][]byte, len(fields))
	for i, f := range fields {
		b, err := json.Marshal(f.value)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal %s: %w", f.name, err)
		}
		encoded[i] = b
	}

	volume := 0.0
	for _, t := range snapshot.Transfers {
		volume += t.Amount
	}

	query := `
		INSERT INTO cycle_snapshots (
			cycle_number, cycle_id, snapshot_timestamp, params_version, status, error_message,
			fell_back, opportunities_fetched, opportunities_eligible, sources,
			total_investable_usd, remaining_usd, transfer_volume_usd, chains,
			initial_balances, allocation, target_by_chain, transfers, deployments,
			transfer_receipts, allocate_receipts, final_balances, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err := DB.QueryRowContext(ctx,
		query,
		snapshot.CycleNumber, snapshot.CycleID, snapshot.Timestamp, snapshot.ParamsVersion, string(snapshot.Status), snapshot.Error,
		snapshot.FellBack, snapshot.OpportunitiesFetched, snapshot.OpportunitiesEligible, encoded[0],
		snapshot.TotalInvestable, snapshot.Remaining, volume, pq.Array(snapshot.Chains()),
		encoded[1], encoded[2], encoded[3], encoded[4], encoded[5],
		encoded[6], encoded[7], encoded[8], snapshot.Duration.Milliseconds(),
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("failed to save cycle snapshot: %w", err)
	}

	snapshotLogger := logger.GetForComponent("state")
	snapshotLogger.Info().
		Int64("snapshot_id", snapshotID).
		Int("cycle_number", snapshot.CycleNumber).
		Str("status", string(snapshot.Status)).
		Float64("transfer_volume", volume).
		Msg("Cycle snapshot saved to database")

	return snapshotID, nil
}

// PostgresRecorder persists router cycles through the package-level pool.
type PostgresRecorder struct{}

func (PostgresRecorder) NextCycleNumber(ctx context.Context) (int, error) {
	return IncrementCycleNumber(ctx)
}

func (PostgresRecorder) RecordCycle(ctx context.Context, snapshot types.CycleSnapshot) (int64, error) {
	return SaveCycleSnapshot(ctx, snapshot)
}
