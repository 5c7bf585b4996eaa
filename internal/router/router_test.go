package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/elys-network/yield-router/internal/config"
	"github.com/elys-network/yield-router/internal/datafetcher"
	"github.com/elys-network/yield-router/internal/metrics"
	"github.com/elys-network/yield-router/internal/types"
	"github.com/elys-network/yield-router/internal/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var owner = common.HexToAddress("0x00000000000000000000000000000000000000aa")

type fakeFetcher struct {
	report datafetcher.FetchReport
	err    error
}

func (f fakeFetcher) Fetch(context.Context) (datafetcher.FetchReport, error) {
	return f.report, f.err
}

type fakeBalances struct {
	snapshot types.PortfolioSnapshot
	err      error
}

func (f fakeBalances) Snapshot(context.Context, common.Address) (types.PortfolioSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot.Clone(), nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	next   int
	cycles []types.CycleSnapshot
}

func (f *fakeRecorder) NextCycleNumber(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return f.next, nil
}

func (f *fakeRecorder) RecordCycle(_ context.Context, s types.CycleSnapshot) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles = append(f.cycles, s)
	return int64(len(f.cycles)), nil
}

type failingExecutor struct{ vault.Executor }

func (failingExecutor) ExecuteTransfers(context.Context, []types.TransferAction) ([]types.TransferReceipt, error) {
	return nil, errors.New("bridge halted")
}

func liveOpportunities() []types.Opportunity {
	return []types.Opportunity{
		{Protocol: "aave-v3", Chain: "base", APY: 5, TVLUSD: 900e6, USDCLiquidity: 200e6, Category: types.CategoryLending},
		{Protocol: "compound-v3", Chain: "arbitrum", APY: 4.5, TVLUSD: 400e6, USDCLiquidity: 120e6, Category: types.CategoryLending},
		{Protocol: "morpho", Chain: "ethereum", APY: 6, TVLUSD: 1.5e9, USDCLiquidity: 300e6, Category: types.CategoryLending},
		{Protocol: "tiny-farm", Chain: "base", APY: 250, TVLUSD: 5e5, USDCLiquidity: 1e5, Category: types.CategoryYieldFarm},
	}
}

func newTestRouter(t *testing.T, cfg Config) (*Router, *fakeRecorder) {
	t.Helper()
	rec := &fakeRecorder{}
	if cfg.Executor == nil {
		cfg.Executor = vault.NewDryRunExecutor()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = rec
	}
	cfg.Owner = owner
	cfg.Params = config.DefaultStrategyParameters()
	cfg.ParamsVersion = 3
	r, err := NewRouter(cfg)
	require.NoError(t, err)
	return r, rec
}

func TestRunCycleCompleted(t *testing.T) {
	reg := metrics.New()
	balances := types.PortfolioSnapshot{"ethereum": 60000, "arbitrum": 40000, "base": 0}
	r, rec := newTestRouter(t, Config{
		Fetcher:  fakeFetcher{report: datafetcher.FetchReport{Opportunities: liveOpportunities()}},
		Balances: fakeBalances{snapshot: balances},
		Metrics:  reg,
	})

	snapshot, err := r.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.CycleCompleted, snapshot.Status)
	assert.Equal(t, 1, snapshot.CycleNumber)
	assert.Equal(t, 3, snapshot.ParamsVersion)
	assert.NotEmpty(t, snapshot.CycleID)
	assert.Equal(t, 4, snapshot.OpportunitiesFetched)
	assert.Equal(t, 3, snapshot.OpportunitiesEligible)
	assert.InDelta(t, 99950, snapshot.TotalInvestable, 1e-9)
	assert.InDelta(t, snapshot.TotalInvestable, snapshot.Allocation.Total()+snapshot.Remaining, 1e-6)
	assert.NotContains(t, snapshot.Allocation, types.OpportunityKey{Protocol: "tiny-farm", Chain: "base"})

	for _, amount := range snapshot.Allocation {
		assert.LessOrEqual(t, amount, snapshot.TotalInvestable*0.4+1e-9)
	}
	for chain, target := range snapshot.TargetByChain {
		assert.GreaterOrEqual(t, snapshot.FinalBalances[chain], target-1e-6, chain)
	}
	assert.InDelta(t, balances.Total(), snapshot.FinalBalances.Total(), 1e-6)
	assert.Len(t, snapshot.TransferReceipts, len(snapshot.Transfers))
	assert.Len(t, snapshot.AllocateReceipts, len(snapshot.Deployments))

	require.Len(t, rec.cycles, 1)
	assert.Equal(t, snapshot.CycleID, rec.cycles[0].CycleID)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.CyclesTotal.WithLabelValues("completed")))
}

func TestRunCycleIsIdempotentOnConvergedBalances(t *testing.T) {
	first, _ := newTestRouter(t, Config{
		Fetcher:  fakeFetcher{report: datafetcher.FetchReport{Opportunities: liveOpportunities()}},
		Balances: fakeBalances{snapshot: types.PortfolioSnapshot{"ethereum": 60000, "arbitrum": 40000}},
	})
	s1, err := first.RunCycle(context.Background())
	require.NoError(t, err)

	second, _ := newTestRouter(t, Config{
		Fetcher:  fakeFetcher{report: datafetcher.FetchReport{Opportunities: liveOpportunities()}},
		Balances: fakeBalances{snapshot: s1.FinalBalances},
	})
	s2, err := second.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s2.Transfers)
}

func TestRunCycleAbortsWhenDataUnavailable(t *testing.T) {
	unavailable := &datafetcher.SourceError{Source: "defillama", Err: errors.Join(datafetcher.ErrDataSourceUnavailable, errors.New("dns"))}
	r, rec := newTestRouter(t, Config{
		Fetcher: fakeFetcher{
			report: datafetcher.FetchReport{Sources: []types.SourceStatus{{Source: "defillama", State: datafetcher.StateFailed}}},
			err:    unavailable,
		},
		Balances: fakeBalances{snapshot: types.PortfolioSnapshot{"ethereum": 1000}},
	})

	snapshot, err := r.RunCycle(context.Background())
	require.ErrorIs(t, err, datafetcher.ErrDataSourceUnavailable)
	assert.Equal(t, types.CycleAborted, snapshot.Status)
	assert.NotEmpty(t, snapshot.Error)
	assert.Len(t, snapshot.Sources, 1)
	require.Len(t, rec.cycles, 1, "aborted cycles are still recorded")
}

func TestRunCycleAbortsOnBalanceError(t *testing.T) {
	r, _ := newTestRouter(t, Config{
		Fetcher:  fakeFetcher{report: datafetcher.FetchReport{Opportunities: liveOpportunities()}},
		Balances: fakeBalances{err: errors.New("rpc down")},
	})
	snapshot, err := r.RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.CycleAborted, snapshot.Status)
}

func TestRunCycleNoopBelowReserve(t *testing.T) {
	r, _ := newTestRouter(t, Config{
		Fetcher:  fakeFetcher{report: datafetcher.FetchReport{Opportunities: liveOpportunities()}},
		Balances: fakeBalances{snapshot: types.PortfolioSnapshot{"ethereum": 40}},
	})
	snapshot, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.CycleNoop, snapshot.Status)
	assert.Empty(t, snapshot.Transfers)
}

func TestRunCycleNoopWithoutEligibleOpportunities(t *testing.T) {
	r, _ := newTestRouter(t, Config{
		Fetcher:  fakeFetcher{report: datafetcher.FetchReport{Opportunities: liveOpportunities()[3:]}},
		Balances: fakeBalances{snapshot: types.PortfolioSnapshot{"ethereum": 60000}},
	})
	snapshot, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.CycleNoop, snapshot.Status)
	assert.Empty(t, snapshot.Allocation)
	assert.InDelta(t, 59950, snapshot.Remaining, 1e-9)
}

func TestRunCycleMarksFallback(t *testing.T) {
	r, _ := newTestRouter(t, Config{
		Fetcher:  fakeFetcher{report: datafetcher.FetchReport{Opportunities: liveOpportunities(), FellBack: true, Partial: true}},
		Balances: fakeBalances{snapshot: types.PortfolioSnapshot{"ethereum": 60000}},
	})
	snapshot, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, snapshot.FellBack)
}

func TestRunCycleExecutorFailure(t *testing.T) {
	r, rec := newTestRouter(t, Config{
		Fetcher:  fakeFetcher{report: datafetcher.FetchReport{Opportunities: liveOpportunities()}},
		Balances: fakeBalances{snapshot: types.PortfolioSnapshot{"ethereum": 100000}},
		Executor: failingExecutor{},
	})
	snapshot, err := r.RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.CycleFailed, snapshot.Status)
	assert.NotEmpty(t, snapshot.Transfers)
	assert.Equal(t, snapshot.InitialBalances, snapshot.FinalBalances)
	require.Len(t, rec.cycles, 1)
}

func TestNewRouterValidation(t *testing.T) {
	_, err := NewRouter(Config{})
	assert.ErrorIs(t, err, ErrInvalidRouterConfig)

	params := config.DefaultStrategyParameters()
	params.Allocation.MaxCandidates = 0
	_, err = NewRouter(Config{
		Fetcher:  fakeFetcher{},
		Balances: fakeBalances{},
		Executor: vault.NewDryRunExecutor(),
		Owner:    owner,
		Params:   params,
	})
	assert.ErrorIs(t, err, ErrInvalidRouterConfig)
}

func TestRunLoopRunsImmediatelyAndStops(t *testing.T) {
	r, rec := newTestRouter(t, Config{
		Fetcher:  fakeFetcher{report: datafetcher.FetchReport{Opportunities: liveOpportunities()}},
		Balances: fakeBalances{snapshot: types.PortfolioSnapshot{"ethereum": 60000}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.RunLoop(ctx, time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.cycles) == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunLoop did not stop after cancellation")
	}
}

func TestBuildPlanOffline(t *testing.T) {
	params := config.DefaultStrategyParameters()
	r, _ := newTestRouter(t, Config{Fetcher: fakeFetcher{}, Balances: fakeBalances{}})

	plan, err := BuildPlan(r.scorer, liveOpportunities(), types.PortfolioSnapshot{"ethereum": 10000}, 10000, params)
	require.NoError(t, err)
	assert.Len(t, plan.Eligible, 3)
	assert.Len(t, plan.Ranked, 3)
	assert.InDelta(t, 10000, plan.Allocation.Allocation.Total()+plan.Allocation.Remaining, 1e-9)
	assert.NotEmpty(t, plan.Deployments)

	_, err = BuildPlan(r.scorer, liveOpportunities(), types.PortfolioSnapshot{}, 0, params)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}
