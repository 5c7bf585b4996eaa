/*

This file contains the configurable parameters for filtering, scoring, allocating and rebalancing.

*/

package types

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// FilterParameters are the quality filter thresholds. All bounds are inclusive.
type FilterParameters struct {
	MinTVLUSD        float64 `json:"min_tvl_usd" mapstructure:"min_tvl_usd"`               // Minimum pool TVL in USD.
	MinAPY           float64 `json:"min_apy_pct" mapstructure:"min_apy_pct"`               // Minimum APY, percent.
	MaxAPY           float64 `json:"max_apy_pct" mapstructure:"max_apy_pct"`               // Maximum APY, percent. Above this the yield is treated as suspicious.
	MinUSDCLiquidity float64 `json:"min_usdc_liquidity" mapstructure:"min_usdc_liquidity"` // Minimum USDC that can be withdrawn, USD.
}

// AllocationStrategy selects how the allocator sizes positions.
type AllocationStrategy string

const (
	StrategyGreedy      AllocationStrategy = "greedy"
	StrategyEqualWeight AllocationStrategy = "equal_weight"
)

// AllocationParameters drive the allocator.
type AllocationParameters struct {
	MaxCandidates       int                `json:"max_candidates" mapstructure:"max_candidates"`               // Top N ranked opportunities considered.
	MaxPositionFraction float64            `json:"max_position_fraction" mapstructure:"max_position_fraction"` // Cap per position as a fraction of the total amount, in (0,1].
	MinPositionAmount   float64            `json:"min_position_amount" mapstructure:"min_position_amount"`     // Positions smaller than this are skipped.
	Strategy            AllocationStrategy `json:"allocation_strategy" mapstructure:"allocation_strategy"`
}

// RebalanceParameters drive the rebalance planner and the router.
type RebalanceParameters struct {
	MinTransfer       float64 `json:"min_transfer" mapstructure:"min_transfer"`               // Deviations and transfers below this are ignored, USD.
	LiquidReserveUSDC float64 `json:"liquid_reserve_usdc" mapstructure:"liquid_reserve_usdc"` // Kept out of the investable total.
}

// Step is one rung of a step-function ladder.
type Step struct {
	Threshold float64 `json:"threshold" mapstructure:"threshold"`
	Risk      float64 `json:"risk" mapstructure:"risk"`
}

// StepLadder maps a value to a risk via ordered thresholds.
// Rungs are evaluated from the highest threshold down; Floor applies below every rung.
type StepLadder struct {
	Steps     []Step  `json:"steps" mapstructure:"steps"`
	Floor     float64 `json:"floor" mapstructure:"floor"`
	Inclusive bool    `json:"inclusive" mapstructure:"inclusive"` // value >= threshold when true, value > threshold otherwise
}

// Lookup returns the risk for value.
func (l StepLadder) Lookup(value float64) float64 {
	for _, step := range l.sortedSteps() {
		if value > step.Threshold || (l.Inclusive && value == step.Threshold) {
			return step.Risk
		}
	}
	return l.Floor
}

func (l StepLadder) sortedSteps() []Step {
	steps := make([]Step, len(l.Steps))
	copy(steps, l.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Threshold > steps[j].Threshold })
	return steps
}

// RiskWeights combine the four risk components into the composite risk.
type RiskWeights struct {
	Protocol      float64 `json:"protocol" mapstructure:"protocol"`
	Liquidity     float64 `json:"liquidity" mapstructure:"liquidity"`
	Market        float64 `json:"market" mapstructure:"market"`
	Concentration float64 `json:"concentration" mapstructure:"concentration"`
}

// RiskTables is the full configuration of the risk scorer.
type RiskTables struct {
	Protocols           map[string]float64 `json:"protocols" mapstructure:"protocols"`
	UnknownProtocolRisk float64            `json:"unknown_protocol_risk" mapstructure:"unknown_protocol_risk"`
	Categories          map[string]float64 `json:"categories" mapstructure:"categories"`
	UnknownCategoryRisk float64            `json:"unknown_category_risk" mapstructure:"unknown_category_risk"`
	Chains              map[string]float64 `json:"chains" mapstructure:"chains"`
	UnknownChainRisk    float64            `json:"unknown_chain_risk" mapstructure:"unknown_chain_risk"`
	TVLLadder           StepLadder         `json:"tvl_ladder" mapstructure:"tvl_ladder"`
	USDCLiquidityLadder StepLadder         `json:"usdc_liquidity_ladder" mapstructure:"usdc_liquidity_ladder"`
	APYLadder           StepLadder         `json:"apy_ladder" mapstructure:"apy_ladder"`
	Weights             RiskWeights        `json:"weights" mapstructure:"weights"`
}

// Clone returns a deep copy so the scorer never shares mutable maps with its caller.
func (t RiskTables) Clone() RiskTables {
	out := t
	out.Protocols = cloneMap(t.Protocols)
	out.Categories = cloneMap(t.Categories)
	out.Chains = cloneMap(t.Chains)
	out.TVLLadder.Steps = append([]Step(nil), t.TVLLadder.Steps...)
	out.USDCLiquidityLadder.Steps = append([]Step(nil), t.USDCLiquidityLadder.Steps...)
	out.APYLadder.Steps = append([]Step(nil), t.APYLadder.Steps...)
	return out
}

func cloneMap(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// StrategyParameters is everything a cycle needs to turn opportunities into a plan.
type StrategyParameters struct {
	Filter     FilterParameters     `json:"filter" mapstructure:"filter"`
	Allocation AllocationParameters `json:"allocation" mapstructure:"allocation"`
	Rebalance  RebalanceParameters  `json:"rebalance" mapstructure:"rebalance"`
	Risk       RiskTables           `json:"risk" mapstructure:"risk"`
}

// Validate checks every parameter is finite and within its domain.
func (p StrategyParameters) Validate() error {
	var errs []error
	check := func(name string, value float64, ok bool) {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			errs = append(errs, fmt.Errorf("%s is not finite", name))
			return
		}
		if !ok {
			errs = append(errs, fmt.Errorf("%s out of range: %f", name, value))
		}
	}

	check("filter.min_tvl_usd", p.Filter.MinTVLUSD, p.Filter.MinTVLUSD >= 0)
	check("filter.min_apy_pct", p.Filter.MinAPY, p.Filter.MinAPY >= 0)
	check("filter.max_apy_pct", p.Filter.MaxAPY, p.Filter.MaxAPY >= p.Filter.MinAPY)
	check("filter.min_usdc_liquidity", p.Filter.MinUSDCLiquidity, p.Filter.MinUSDCLiquidity >= 0)

	if err := p.Allocation.Validate(); err != nil {
		errs = append(errs, err)
	}

	check("rebalance.min_transfer", p.Rebalance.MinTransfer, p.Rebalance.MinTransfer >= 0)
	check("rebalance.liquid_reserve_usdc", p.Rebalance.LiquidReserveUSDC, p.Rebalance.LiquidReserveUSDC >= 0)

	if err := p.Risk.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

// Validate checks the allocator parameters.
func (p AllocationParameters) Validate() error {
	if p.MaxCandidates <= 0 {
		return errors.Join(ErrInvalidInput, fmt.Errorf("allocation.max_candidates must be positive, got %d", p.MaxCandidates))
	}
	if math.IsNaN(p.MaxPositionFraction) || p.MaxPositionFraction <= 0 || p.MaxPositionFraction > 1 {
		return errors.Join(ErrInvalidInput, fmt.Errorf("allocation.max_position_fraction must be in (0,1], got %f", p.MaxPositionFraction))
	}
	if math.IsNaN(p.MinPositionAmount) || math.IsInf(p.MinPositionAmount, 0) || p.MinPositionAmount < 0 {
		return errors.Join(ErrInvalidInput, fmt.Errorf("allocation.min_position_amount must be finite and non-negative, got %f", p.MinPositionAmount))
	}
	switch p.Strategy {
	case StrategyGreedy, StrategyEqualWeight:
	default:
		return errors.Join(ErrInvalidInput, fmt.Errorf("unknown allocation strategy %q", p.Strategy))
	}
	return nil
}

// Validate checks that every table entry is a risk in [0,1].
func (t RiskTables) Validate() error {
	inUnit := func(v float64) bool { return v >= 0 && v <= 1 }
	for name, table := range map[string]map[string]float64{"protocols": t.Protocols, "categories": t.Categories, "chains": t.Chains} {
		for key, risk := range table {
			if !inUnit(risk) {
				return fmt.Errorf("risk.%s[%s] must be in [0,1], got %f", name, key, risk)
			}
		}
	}
	for name, v := range map[string]float64{
		"unknown_protocol_risk": t.UnknownProtocolRisk,
		"unknown_category_risk": t.UnknownCategoryRisk,
		"unknown_chain_risk":    t.UnknownChainRisk,
	} {
		if !inUnit(v) {
			return fmt.Errorf("risk.%s must be in [0,1], got %f", name, v)
		}
	}
	for name, ladder := range map[string]StepLadder{"tvl": t.TVLLadder, "usdc_liquidity": t.USDCLiquidityLadder, "apy": t.APYLadder} {
		if !inUnit(ladder.Floor) {
			return fmt.Errorf("risk.%s_ladder floor must be in [0,1], got %f", name, ladder.Floor)
		}
		for _, step := range ladder.Steps {
			if !inUnit(step.Risk) || math.IsNaN(step.Threshold) {
				return fmt.Errorf("risk.%s_ladder step %v is invalid", name, step)
			}
		}
	}
	w := t.Weights
	for _, v := range []float64{w.Protocol, w.Liquidity, w.Market, w.Concentration} {
		if !inUnit(v) {
			return fmt.Errorf("risk.weights must each be in [0,1], got %+v", w)
		}
	}
	return nil
}
