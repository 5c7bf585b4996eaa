package vault

import (
	"context"

	"github.com/elys-network/yield-router/internal/types"
)

// Executor defines the execution boundary for rebalancing decisions.
// This interface abstracts away how USDC actually moves, allowing for different
// implementations (dry-run, CCTP-backed, etc.).
type Executor interface {
	// ExecuteTransfers moves USDC between chains in the given order and returns one receipt per action.
	// An error means execution stopped; receipts for the actions attempted so far are still returned.
	ExecuteTransfers(ctx context.Context, transfers []types.TransferAction) ([]types.TransferReceipt, error)

	// ExecuteAllocations deposits chain balances into protocols after transfers have settled.
	ExecuteAllocations(ctx context.Context, allocations []types.AllocateAction) ([]types.AllocateReceipt, error)

	// Close cleans up any resources used by the executor.
	Close() error
}

// BalanceSyncer is implemented by executors that keep their own view of balances.
type BalanceSyncer interface {
	SyncBalances(snapshot types.PortfolioSnapshot)
	Balances() types.PortfolioSnapshot
}
