/*

This file contains the ranking of scored opportunities and the allocation of capital across the
top-ranked ones.

*/

package analyzer

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/elys-network/yield-router/internal/logger"
	"github.com/elys-network/yield-router/internal/types"
)

// RankOpportunities returns a sorted copy: risk-adjusted return descending, then TVL descending,
// then (protocol, chain) ascending. Duplicate keys keep their best-ranked entry.
func RankOpportunities(scored []types.ScoredOpportunity) []types.ScoredOpportunity {
	ranked := make([]types.ScoredOpportunity, len(scored))
	copy(ranked, scored)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.RiskAdjustedReturn != b.RiskAdjustedReturn {
			return a.RiskAdjustedReturn > b.RiskAdjustedReturn
		}
		if a.TVLUSD != b.TVLUSD {
			return a.TVLUSD > b.TVLUSD
		}
		return a.Key().Less(b.Key())
	})

	seen := make(map[types.OpportunityKey]struct{}, len(ranked))
	unique := ranked[:0]
	for _, s := range ranked {
		if _, dup := seen[s.Key()]; dup {
			continue
		}
		seen[s.Key()] = struct{}{}
		unique = append(unique, s)
	}
	return unique
}

// AllocateCapital distributes totalAmount over the top-ranked opportunities.
//
// Greedy: each candidate, in rank order, receives min(remaining, total*maxPositionFraction,
// maxInvestable). Equal weight: each receives min(total/n, total*maxPositionFraction, remaining,
// maxInvestable). Either way amounts below MinPositionAmount are skipped and the next candidate
// is tried. Whatever cannot be placed is returned as Remaining.
func AllocateCapital(scored []types.ScoredOpportunity, totalAmount float64, params types.AllocationParameters) (types.AllocationPlan, error) {
	allocLogger := logger.GetForComponent("allocator")

	if math.IsNaN(totalAmount) || math.IsInf(totalAmount, 0) || totalAmount <= 0 {
		return types.AllocationPlan{}, errors.Join(types.ErrInvalidInput, fmt.Errorf("total amount must be positive and finite, got %f", totalAmount))
	}
	if err := params.Validate(); err != nil {
		return types.AllocationPlan{}, err
	}
	for _, s := range scored {
		if math.IsNaN(s.RiskAdjustedReturn) || math.IsInf(s.RiskAdjustedReturn, 0) {
			return types.AllocationPlan{}, errors.Join(types.ErrInvalidInput, fmt.Errorf("opportunity %s has non-finite risk-adjusted return", s.Key()))
		}
	}

	plan := types.AllocationPlan{
		Allocation:  make(types.Allocation),
		Funded:      make([]types.ScoredOpportunity, 0, params.MaxCandidates),
		TotalAmount: totalAmount,
		Remaining:   totalAmount,
		Strategy:    params.Strategy,
	}
	if len(scored) == 0 {
		allocLogger.Info().Msg("No opportunities to allocate to")
		return plan, nil
	}

	candidates := RankOpportunities(scored)
	if len(candidates) > params.MaxCandidates {
		candidates = candidates[:params.MaxCandidates]
	}

	positionCap := totalAmount * params.MaxPositionFraction
	if params.Strategy == types.StrategyEqualWeight {
		positionCap = math.Min(positionCap, totalAmount/float64(len(candidates)))
	}

	budget := floorToQuantum(totalAmount)
	committed := 0.0
	for rank, candidate := range candidates {
		if budget-committed <= 0 {
			break
		}

		amount := math.Min(budget-committed, positionCap)
		if candidate.MaxInvestable > 0 {
			amount = math.Min(amount, candidate.MaxInvestable)
		}
		amount = floorToQuantum(amount)

		if amount <= 0 || amount < params.MinPositionAmount {
			allocLogger.Debug().
				Str("opportunity", candidate.Key().String()).
				Float64("amount", amount).
				Float64("minPositionAmount", params.MinPositionAmount).
				Msg("Position below minimum, skipping")
			continue
		}

		plan.Allocation[candidate.Key()] = amount
		plan.Funded = append(plan.Funded, candidate)
		committed += amount
		plan.Remaining = totalAmount - committed

		allocLogger.Debug().
			Int("rank", rank+1).
			Str("opportunity", candidate.Key().String()).
			Float64("riskAdjustedReturn", candidate.RiskAdjustedReturn).
			Float64("amount", amount).
			Float64("remaining", plan.Remaining).
			Msg("Position funded")
	}

	allocLogger.Info().
		Str("strategy", string(params.Strategy)).
		Int("positions", len(plan.Allocation)).
		Float64("allocated", plan.Allocation.Total()).
		Float64("remaining", plan.Remaining).
		Msg("Capital allocated")

	return plan, nil
}

// allocationQuantum is the grid positions are rounded down to, finer than one USDC base unit.
// Sums of grid values below 2^33 are exact in float64, so positions never add up to more than
// the budget whatever order they are summed in.
const allocationQuantum = 1.0 / (1 << 20)

func floorToQuantum(amount float64) float64 {
	return math.Floor(amount/allocationQuantum) * allocationQuantum
}
