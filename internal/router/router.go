package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elys-network/yield-router/internal/analyzer"
	"github.com/elys-network/yield-router/internal/datafetcher"
	"github.com/elys-network/yield-router/internal/logger"
	"github.com/elys-network/yield-router/internal/metrics"
	"github.com/elys-network/yield-router/internal/simulations"
	"github.com/elys-network/yield-router/internal/types"
	"github.com/elys-network/yield-router/internal/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrInvalidRouterConfig = errors.New("invalid router configuration")

// Fetcher produces the opportunities for a cycle.
type Fetcher interface {
	Fetch(ctx context.Context) (datafetcher.FetchReport, error)
}

// BalanceReader reports the router's USDC holdings per chain.
type BalanceReader interface {
	Snapshot(ctx context.Context, owner common.Address) (types.PortfolioSnapshot, error)
}

// Recorder persists cycles and hands out cycle numbers.
type Recorder interface {
	NextCycleNumber(ctx context.Context) (int, error)
	RecordCycle(ctx context.Context, snapshot types.CycleSnapshot) (int64, error)
}

// Router represents the yield router with all its dependencies
type Router struct {
	logger   zerolog.Logger
	fetcher  Fetcher
	balances BalanceReader
	executor vault.Executor
	recorder Recorder
	metrics  *metrics.Registry
	scorer   *analyzer.RiskScorer

	owner         common.Address
	params        types.StrategyParameters
	paramsVersion int

	// Used when no recorder is configured.
	cycleCount int
}

// Config holds the configuration for creating a new Router instance
type Config struct {
	Fetcher       Fetcher
	Balances      BalanceReader
	Executor      vault.Executor
	Recorder      Recorder          // optional
	Metrics       *metrics.Registry // optional
	Owner         common.Address
	Params        types.StrategyParameters
	ParamsVersion int
}

// NewRouter creates a new Router instance with dependency injection
func NewRouter(cfg Config) (*Router, error) {
	if err := validateRouterConfig(cfg); err != nil {
		return nil, errors.Join(ErrInvalidRouterConfig, err)
	}

	scorer, err := analyzer.NewRiskScorer(cfg.Params.Risk)
	if err != nil {
		return nil, errors.Join(ErrInvalidRouterConfig, err)
	}

	r := &Router{
		logger:        logger.GetForComponent("router"),
		fetcher:       cfg.Fetcher,
		balances:      cfg.Balances,
		executor:      cfg.Executor,
		recorder:      cfg.Recorder,
		metrics:       cfg.Metrics,
		scorer:        scorer,
		owner:         cfg.Owner,
		params:        cfg.Params,
		paramsVersion: cfg.ParamsVersion,
	}

	r.logger.Info().
		Int("paramsVersion", r.paramsVersion).
		Str("owner", r.owner.Hex()).
		Str("strategy", string(r.params.Allocation.Strategy)).
		Msg("Router instance created")
	return r, nil
}

// validateRouterConfig validates the Router configuration
func validateRouterConfig(cfg Config) error {
	if cfg.Fetcher == nil {
		return errors.New("fetcher cannot be nil")
	}
	if cfg.Balances == nil {
		return errors.New("balance reader cannot be nil")
	}
	if cfg.Executor == nil {
		return errors.New("executor cannot be nil")
	}
	if cfg.Owner == (common.Address{}) {
		return errors.New("owner address cannot be zero")
	}
	return cfg.Params.Validate()
}

// RunLoop runs one cycle immediately, then one per interval until ctx is cancelled.
func (r *Router) RunLoop(ctx context.Context, interval time.Duration) {
	r.logger.Info().
		Dur("interval", interval).
		Msg("Starting router main loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Router loop stopped due to context cancellation")
			return
		case <-ticker.C:
			r.runLogged(ctx)
		}
	}
}

func (r *Router) runLogged(ctx context.Context) {
	snapshot, err := r.RunCycle(ctx)
	event := r.logger.Info()
	if err != nil {
		event = r.logger.Error().Err(err)
	}
	event.
		Int("cycle", snapshot.CycleNumber).
		Str("status", string(snapshot.Status)).
		Dur("duration", snapshot.Duration).
		Msg("Router cycle finished")
}

// RunCycle executes one fetch, plan, execute and record pass. The returned snapshot is complete
// even when err is non-nil.
func (r *Router) RunCycle(ctx context.Context) (types.CycleSnapshot, error) {
	cycleStartTime := time.Now()

	// Generate unique cycle ID for tracing logs across the entire cycle
	cycleID := uuid.New().String()
	cycleLogger := r.logger.With().Str("cycle_id", cycleID).Logger()

	snapshot := types.CycleSnapshot{
		CycleNumber:   r.nextCycleNumber(ctx, cycleLogger),
		CycleID:       cycleID,
		Timestamp:     cycleStartTime,
		ParamsVersion: r.paramsVersion,
	}
	cycleLogger.Info().Int("cycleNumber", snapshot.CycleNumber).Msg("--- Starting router cycle ---")

	err := r.runCycle(ctx, &snapshot, cycleLogger)
	if err != nil {
		snapshot.Error = err.Error()
	}
	snapshot.Duration = time.Since(cycleStartTime)

	r.record(ctx, snapshot, cycleLogger)
	if r.metrics != nil {
		r.metrics.ObserveCycle(snapshot)
	}
	return snapshot, err
}

func (r *Router) runCycle(ctx context.Context, snapshot *types.CycleSnapshot, cycleLogger zerolog.Logger) error {
	// --- Step 1: Data Fetching ---
	report, err := r.fetcher.Fetch(ctx)
	snapshot.Sources = report.Sources
	snapshot.FellBack = report.FellBack
	snapshot.OpportunitiesFetched = len(report.Opportunities)
	if r.metrics != nil {
		r.metrics.ObserveSources(report.Sources)
	}
	if err != nil {
		snapshot.Status = types.CycleAborted
		cycleLogger.Error().Err(err).Msg("Cycle aborted: no opportunity data available")
		return fmt.Errorf("fetch opportunities: %w", err)
	}
	if report.FellBack {
		cycleLogger.Warn().Msg("Planning on simulated fallback opportunities")
	}

	// --- Step 2: Balances ---
	balances, err := r.balances.Snapshot(ctx, r.owner)
	if err != nil {
		snapshot.Status = types.CycleAborted
		cycleLogger.Error().Err(err).Msg("Cycle aborted: failed to read balances")
		return fmt.Errorf("read balances: %w", err)
	}
	snapshot.InitialBalances = balances
	snapshot.FinalBalances = balances
	if r.metrics != nil {
		r.metrics.ObserveBalances(balances)
	}

	totalInvestable := balances.Total() - r.params.Rebalance.LiquidReserveUSDC
	if totalInvestable <= 0 {
		snapshot.Status = types.CycleNoop
		cycleLogger.Info().
			Float64("balance", balances.Total()).
			Float64("reserve", r.params.Rebalance.LiquidReserveUSDC).
			Msg("Nothing to invest after the liquid reserve")
		return nil
	}
	snapshot.TotalInvestable = totalInvestable

	// --- Step 3: Analysis & Planning ---
	plan, err := BuildPlan(r.scorer, report.Opportunities, balances, totalInvestable, r.params)
	snapshot.OpportunitiesEligible = len(plan.Eligible)
	if err != nil {
		snapshot.Status = types.CycleFailed
		cycleLogger.Error().Err(err).Msg("Cycle failed: planning error")
		return fmt.Errorf("build plan: %w", err)
	}
	snapshot.Allocation = plan.Allocation.Allocation
	snapshot.Remaining = plan.Allocation.Remaining
	snapshot.TargetByChain = plan.TargetByChain
	snapshot.Transfers = plan.Transfers
	snapshot.Deployments = plan.Deployments
	if r.metrics != nil {
		r.metrics.ObserveAllocation(plan.Allocation.Allocation, plan.Allocation.Remaining)
	}

	cycleLogger.Info().
		Int("eligible", len(plan.Eligible)).
		Int("positions", len(plan.Allocation.Allocation)).
		Float64("allocated", plan.Allocation.Allocation.Total()).
		Float64("remaining", plan.Allocation.Remaining).
		Int("transfers", len(plan.Transfers)).
		Msg("Plan built")

	if len(plan.Transfers) == 0 && len(plan.Deployments) == 0 {
		snapshot.Status = types.CycleNoop
		cycleLogger.Info().Msg("No rebalancing actions required.")
		return nil
	}

	// --- Step 4: Execution ---
	if syncer, ok := r.executor.(vault.BalanceSyncer); ok {
		syncer.SyncBalances(balances)
	}

	transferReceipts, err := r.executor.ExecuteTransfers(ctx, plan.Transfers)
	snapshot.TransferReceipts = transferReceipts
	if r.metrics != nil {
		r.metrics.ObserveTransfers(transferReceipts)
	}
	snapshot.FinalBalances = r.finalBalances(balances, transferReceipts, cycleLogger)
	if err != nil {
		snapshot.Status = types.CycleFailed
		cycleLogger.Error().Err(err).Int("completed", countCompleted(transferReceipts)).Msg("Transfer execution failed")
		return fmt.Errorf("execute transfers: %w", err)
	}

	allocateReceipts, err := r.executor.ExecuteAllocations(ctx, plan.Deployments)
	snapshot.AllocateReceipts = allocateReceipts
	if err != nil {
		snapshot.Status = types.CycleFailed
		cycleLogger.Error().Err(err).Msg("Deployment execution failed")
		return fmt.Errorf("execute deployments: %w", err)
	}

	snapshot.Status = types.CycleCompleted
	cycleLogger.Info().
		Int("transfers", len(transferReceipts)).
		Int("deployments", len(allocateReceipts)).
		Msg("Cycle actions executed")
	return nil
}

// finalBalances is the chain-level view after transfers, before protocol deposits.
func (r *Router) finalBalances(initial types.PortfolioSnapshot, receipts []types.TransferReceipt, cycleLogger zerolog.Logger) types.PortfolioSnapshot {
	completed := make([]types.TransferAction, 0, len(receipts))
	for _, receipt := range receipts {
		if receipt.Status == types.ReceiptCompleted {
			completed = append(completed, receipt.Action)
		}
	}
	final, err := simulations.ApplyTransfers(initial, completed)
	if err != nil {
		cycleLogger.Warn().Err(err).Msg("Could not derive final balances from receipts")
		return initial
	}
	return final
}

func (r *Router) nextCycleNumber(ctx context.Context, cycleLogger zerolog.Logger) int {
	if r.recorder != nil {
		n, err := r.recorder.NextCycleNumber(ctx)
		if err == nil {
			r.cycleCount = n
			return n
		}
		cycleLogger.Error().Err(err).Msg("Failed to get cycle number from recorder, using local counter")
	}
	r.cycleCount++
	return r.cycleCount
}

func (r *Router) record(ctx context.Context, snapshot types.CycleSnapshot, cycleLogger zerolog.Logger) {
	if r.recorder == nil {
		return
	}
	// Record even when ctx was cancelled mid-cycle so the outcome is not lost.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	id, err := r.recorder.RecordCycle(recordCtx, snapshot)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to save cycle snapshot")
		return
	}
	cycleLogger.Debug().Int64("snapshotID", id).Msg("Cycle snapshot saved")
}

func countCompleted(receipts []types.TransferReceipt) int {
	n := 0
	for _, r := range receipts {
		if r.Status == types.ReceiptCompleted {
			n++
		}
	}
	return n
}
