/*
This file contains the dry-run executor. It validates and records every action the router would take
and simulates its effect on balances, without touching a chain.
*/

package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/elys-network/yield-router/internal/logger"
	"github.com/elys-network/yield-router/internal/simulations"
	"github.com/elys-network/yield-router/internal/types"
	"github.com/elys-network/yield-router/internal/utils"
)

var (
	ErrActionPlanInvalid = errors.New("action plan is invalid")
	ErrExecutorClosed    = errors.New("executor is closed")
)

// DryRunExecutor simulates CCTP transfers and protocol deposits.
type DryRunExecutor struct {
	mu       sync.Mutex
	balances types.PortfolioSnapshot
	deployed map[types.OpportunityKey]float64
	tracker  *TransferTracker
	closed   bool
}

func NewDryRunExecutor() *DryRunExecutor {
	return &DryRunExecutor{
		balances: types.PortfolioSnapshot{},
		deployed: make(map[types.OpportunityKey]float64),
		tracker:  NewTransferTracker(),
	}
}

// Tracker exposes the transfer tracker for inspection.
func (e *DryRunExecutor) Tracker() *TransferTracker {
	return e.tracker
}

// SyncBalances replaces the simulated balances with an observed snapshot.
func (e *DryRunExecutor) SyncBalances(snapshot types.PortfolioSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances = snapshot.Clone()
	e.deployed = make(map[types.OpportunityKey]float64)
}

func (e *DryRunExecutor) Balances() types.PortfolioSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances.Clone()
}

// Deployed returns the simulated per-protocol deposits since the last sync.
func (e *DryRunExecutor) Deployed() map[types.OpportunityKey]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[types.OpportunityKey]float64, len(e.deployed))
	for k, v := range e.deployed {
		out[k] = v
	}
	return out
}

func (e *DryRunExecutor) ExecuteTransfers(ctx context.Context, transfers []types.TransferAction) ([]types.TransferReceipt, error) {
	execLogger := logger.GetForComponent("dry_run_executor")

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrExecutorClosed
	}

	receipts := make([]types.TransferReceipt, 0, len(transfers))
	for i, action := range transfers {
		if err := ctx.Err(); err != nil {
			return receipts, err
		}

		units, err := utils.USDCToBaseUnits(action.Amount)
		if err != nil {
			return receipts, errors.Join(ErrActionPlanInvalid, fmt.Errorf("transfer %d: %w", i, err))
		}
		id := e.tracker.Start(action, units)

		next, err := simulations.ApplyTransfers(e.balances, []types.TransferAction{action})
		if err != nil {
			receipt, _ := e.tracker.Fail(id, err.Error())
			receipts = append(receipts, receipt)
			execLogger.Error().Err(err).Str("transferId", id).Msg("Simulated transfer failed")
			return receipts, errors.Join(ErrActionPlanInvalid, fmt.Errorf("transfer %d: %w", i, err))
		}
		e.balances = next

		receipt, err := e.tracker.Complete(id)
		if err != nil {
			return receipts, err
		}
		receipts = append(receipts, receipt)

		execLogger.Info().
			Str("transferId", id).
			Str("source", action.Source).
			Str("destination", action.Destination).
			Float64("amount", action.Amount).
			Str("baseUnits", units.String()).
			Msg("Simulated cross-chain transfer")
	}
	return receipts, nil
}

func (e *DryRunExecutor) ExecuteAllocations(ctx context.Context, allocations []types.AllocateAction) ([]types.AllocateReceipt, error) {
	execLogger := logger.GetForComponent("dry_run_executor")

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrExecutorClosed
	}

	receipts := make([]types.AllocateReceipt, 0, len(allocations))
	for i, action := range allocations {
		if err := ctx.Err(); err != nil {
			return receipts, err
		}
		units, err := utils.USDCToBaseUnits(action.Amount)
		if err != nil || action.Amount <= 0 {
			return receipts, errors.Join(ErrActionPlanInvalid, fmt.Errorf("allocation %d: amount %f", i, action.Amount))
		}

		receipt := types.AllocateReceipt{
			Action:          action,
			AmountBaseUnits: units,
			Status:          types.ReceiptCompleted,
			Timestamp:       time.Now(),
		}
		available := e.balances[action.Chain]
		if available+1e-6 < action.Amount {
			receipt.Status = types.ReceiptFailed
			receipt.Message = fmt.Sprintf("chain %s holds %f, needs %f", action.Chain, available, action.Amount)
			receipts = append(receipts, receipt)
			execLogger.Warn().
				Str("protocol", action.Protocol).
				Str("chain", action.Chain).
				Float64("amount", action.Amount).
				Float64("available", available).
				Msg("Simulated deposit exceeds chain balance, skipping")
			continue
		}

		e.balances[action.Chain] = available - action.Amount
		if e.balances[action.Chain] < 0 {
			e.balances[action.Chain] = 0
		}
		e.deployed[types.OpportunityKey{Protocol: action.Protocol, Chain: action.Chain}] += action.Amount
		receipts = append(receipts, receipt)

		execLogger.Info().
			Str("protocol", action.Protocol).
			Str("chain", action.Chain).
			Float64("amount", action.Amount).
			Int("rank", action.Rank).
			Msg("Simulated protocol deposit")
	}
	return receipts, nil
}

func (e *DryRunExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
