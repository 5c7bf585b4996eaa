package state

import (
	"context"

	"github.com/elys-network/yield-router/internal/types"
)

// Reader adapts the package-level queries to the read side used by the web API.
type Reader struct {
	ConfigName string
}

func (r Reader) RecentCycles(ctx context.Context, limit int) ([]types.CycleSnapshot, error) {
	return GetRecentCycles(ctx, limit)
}

func (r Reader) LatestCycle(ctx context.Context) (*types.CycleSnapshot, error) {
	return GetLatestCycle(ctx)
}

func (r Reader) CycleByID(ctx context.Context, id int64) (*types.CycleSnapshot, error) {
	return GetCycleByID(ctx, id)
}

func (r Reader) CyclesByChain(ctx context.Context, chain string, limit int) ([]int64, error) {
	return GetCyclesByChain(ctx, chain, limit)
}

func (r Reader) ActiveParameters(ctx context.Context) (*types.StrategyParameters, int, error) {
	return LoadActiveStrategyParameters(ctx, r.ConfigName)
}

func (r Reader) PerformanceSummary(ctx context.Context) (*PerformanceSummary, error) {
	return GetPerformanceSummary(ctx)
}

func (r Reader) Ping() error {
	return TestDBConnection()
}
