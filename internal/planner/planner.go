package planner

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/elys-network/yield-router/internal/logger"
	"github.com/elys-network/yield-router/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidMinTransfer = errors.New("min transfer must be finite and non-negative")
	ErrInvalidBalance     = errors.New("chain balance must be finite and non-negative")
	ErrInvalidTarget      = errors.New("chain target must be finite and non-negative")
)

// chainGap is a deficit or surplus on one chain.
type chainGap struct {
	chain  string
	amount float64
}

// TargetByChain reduces a protocol-level allocation to per-chain targets.
func TargetByChain(allocation types.Allocation) map[string]float64 {
	return allocation.ByChain()
}

// PlanRebalance computes the transfers that move current toward target.
//
// Chains more than minTransfer below target are deficits, chains more than minTransfer above
// target are surpluses. Deficits are served largest first, each from the largest remaining
// surpluses. Transfers smaller than minTransfer are never emitted, so a deficit remainder below
// minTransfer is served with a transfer of exactly minTransfer when a surplus can spare it. No
// chain is drained below its target and no chain is filled more than minTransfer above it.
// Chains absent from target have a target of zero. Ties are broken by chain name so the plan is
// reproducible.
func PlanRebalance(current types.PortfolioSnapshot, target map[string]float64, minTransfer float64) ([]types.TransferAction, error) {
	planLogger := logger.GetForComponent("rebalance_planner")

	if math.IsNaN(minTransfer) || math.IsInf(minTransfer, 0) || minTransfer < 0 {
		return nil, errors.Join(types.ErrInvalidInput, ErrInvalidMinTransfer, fmt.Errorf("got %f", minTransfer))
	}
	for chain, balance := range current {
		if math.IsNaN(balance) || math.IsInf(balance, 0) || balance < 0 {
			return nil, errors.Join(types.ErrInvalidInput, ErrInvalidBalance, fmt.Errorf("%s: %f", chain, balance))
		}
	}
	for chain, amount := range target {
		if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
			return nil, errors.Join(types.ErrInvalidInput, ErrInvalidTarget, fmt.Errorf("%s: %f", chain, amount))
		}
	}

	deficits, surpluses := classifyChains(current, target, minTransfer)
	transfers := make([]types.TransferAction, 0)
	if len(deficits) == 0 || len(surpluses) == 0 {
		planLogger.Debug().
			Int("deficits", len(deficits)).
			Int("surpluses", len(surpluses)).
			Msg("Nothing to rebalance")
		return transfers, nil
	}

	for d := range deficits {
		deficit := &deficits[d]
		for s := range surpluses {
			if deficit.amount <= 0 {
				break
			}
			surplus := &surpluses[s]
			if surplus.amount <= 0 {
				continue
			}

			// A remainder below minTransfer is topped up to minTransfer when the surplus allows it.
			// The destination then overshoots its target by less than minTransfer.
			amount := math.Min(surplus.amount, math.Max(deficit.amount, minTransfer))
			if amount < minTransfer || amount <= 0 {
				planLogger.Debug().
					Str("source", surplus.chain).
					Str("destination", deficit.chain).
					Float64("amount", amount).
					Msg("Skipping dust transfer")
				continue
			}

			transfers = append(transfers, types.TransferAction{
				Source:      surplus.chain,
				Destination: deficit.chain,
				Amount:      amount,
			})
			deficit.amount -= amount
			surplus.amount -= amount
		}
	}

	planLogger.Info().
		Int("deficitChains", len(deficits)).
		Int("surplusChains", len(surpluses)).
		Int("transfers", len(transfers)).
		Float64("volume", totalVolume(transfers)).
		Msg("Rebalance plan computed")

	return transfers, nil
}

func classifyChains(current types.PortfolioSnapshot, target map[string]float64, minTransfer float64) (deficits, surpluses []chainGap) {
	chains := make(map[string]struct{}, len(current)+len(target))
	for chain := range current {
		chains[chain] = struct{}{}
	}
	for chain := range target {
		chains[chain] = struct{}{}
	}

	for chain := range chains {
		gap := target[chain] - current[chain]
		switch {
		case gap > minTransfer:
			deficits = append(deficits, chainGap{chain: chain, amount: gap})
		case -gap > minTransfer:
			surpluses = append(surpluses, chainGap{chain: chain, amount: -gap})
		}
	}

	sortGaps(deficits)
	sortGaps(surpluses)
	return deficits, surpluses
}

// sortGaps orders by amount descending, then chain name ascending.
func sortGaps(gaps []chainGap) {
	sort.Slice(gaps, func(i, j int) bool {
		if gaps[i].amount != gaps[j].amount {
			return gaps[i].amount > gaps[j].amount
		}
		return gaps[i].chain < gaps[j].chain
	})
}

func totalVolume(transfers []types.TransferAction) float64 {
	total := 0.0
	for _, t := range transfers {
		total += t.Amount
	}
	return total
}
