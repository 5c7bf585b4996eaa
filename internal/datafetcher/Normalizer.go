/*
This file contains the normalizer that turns source-shaped records into validated opportunities.

Every number that reaches the filter and scorer has passed through here, so the core can assume
finite, non-negative inputs.
*/

package datafetcher

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/elys-network/yield-router/internal/logger"
	"github.com/elys-network/yield-router/internal/types"
)

var ErrInvalidRecord = errors.New("invalid opportunity record")

// RawOpportunity is a record as delivered by a source, before validation.
type RawOpportunity struct {
	Protocol      string  `json:"protocol"`
	Chain         string  `json:"chain"`
	Symbol        string  `json:"symbol,omitempty"`
	APY           float64 `json:"apy"`
	APYBase       float64 `json:"apy_base"`
	APYReward     float64 `json:"apy_reward"`
	TVLUSD        float64 `json:"tvl_usd"`
	USDCLiquidity float64 `json:"usdc_liquidity"`
	RiskScore     float64 `json:"risk_score,omitempty"`
	Category      string  `json:"category"`
	MaxInvestable float64 `json:"max_investable,omitempty"`
	Source        string  `json:"source,omitempty"`
	Simulated     bool    `json:"simulated,omitempty"`
}

var categoryAliases = map[string]types.Category{
	"lending":      types.CategoryLending,
	"lend":         types.CategoryLending,
	"money_market": types.CategoryLending,
	"stable_lp":    types.CategoryStableLP,
	"stable":       types.CategoryStableLP,
	"lp_pool":      types.CategoryLPPool,
	"lp":           types.CategoryLPPool,
	"dex":          types.CategoryLPPool,
	"dexes":        types.CategoryLPPool,
	"yield_farm":   types.CategoryYieldFarm,
	"yield":        types.CategoryYieldFarm,
	"farm":         types.CategoryYieldFarm,
	"staking":      types.CategoryStaking,
	"other":        types.CategoryOther,
}

// NormalizeCategory maps a free-form category onto the known set, defaulting to other.
func NormalizeCategory(raw string) types.Category {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), " ", "_")
	key = strings.ReplaceAll(key, "/", "_")
	if category, ok := categoryAliases[key]; ok {
		return category
	}
	if key == "dex_lp" {
		return types.CategoryLPPool
	}
	return types.CategoryOther
}

// NormalizeRecord validates a raw record and converts it into an Opportunity.
func NormalizeRecord(raw RawOpportunity) (types.Opportunity, error) {
	protocol := strings.ToLower(strings.TrimSpace(raw.Protocol))
	chain := strings.ToLower(strings.TrimSpace(raw.Chain))
	if protocol == "" || chain == "" {
		return types.Opportunity{}, errors.Join(ErrInvalidRecord, fmt.Errorf("missing identity: protocol=%q chain=%q", raw.Protocol, raw.Chain))
	}

	fields := []struct {
		name  string
		value float64
	}{
		{"apy", raw.APY},
		{"apy_base", raw.APYBase},
		{"apy_reward", raw.APYReward},
		{"tvl_usd", raw.TVLUSD},
		{"usdc_liquidity", raw.USDCLiquidity},
		{"max_investable", raw.MaxInvestable},
		{"risk_score", raw.RiskScore},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return types.Opportunity{}, errors.Join(ErrInvalidRecord, fmt.Errorf("%s@%s: %s is not finite", protocol, chain, f.name))
		}
		if f.value < 0 {
			return types.Opportunity{}, errors.Join(ErrInvalidRecord, fmt.Errorf("%s@%s: %s is negative: %f", protocol, chain, f.name, f.value))
		}
	}
	if raw.RiskScore > 1 {
		return types.Opportunity{}, errors.Join(ErrInvalidRecord, fmt.Errorf("%s@%s: risk_score above 1: %f", protocol, chain, raw.RiskScore))
	}

	apy := raw.APY
	if apy == 0 {
		apy = raw.APYBase + raw.APYReward
	}

	if raw.TVLUSD < raw.USDCLiquidity {
		normLogger := logger.GetForComponent("normalizer")
		normLogger.Warn().
			Str("protocol", protocol).
			Str("chain", chain).
			Float64("tvlUSD", raw.TVLUSD).
			Float64("usdcLiquidity", raw.USDCLiquidity).
			Msg("USDC liquidity exceeds TVL")
	}

	return types.Opportunity{
		Protocol:      protocol,
		Chain:         chain,
		APY:           apy,
		APYBase:       raw.APYBase,
		APYReward:     raw.APYReward,
		TVLUSD:        raw.TVLUSD,
		USDCLiquidity: raw.USDCLiquidity,
		RiskScore:     raw.RiskScore,
		Category:      NormalizeCategory(raw.Category),
		MaxInvestable: raw.MaxInvestable,
		Source:        raw.Source,
		Simulated:     raw.Simulated,
	}, nil
}

// Dedupe keeps one opportunity per (protocol, chain): the highest TVL, then the highest APY,
// then the first seen. Output follows first-seen order of keys.
func Dedupe(opportunities []types.Opportunity) []types.Opportunity {
	index := make(map[types.OpportunityKey]int, len(opportunities))
	out := make([]types.Opportunity, 0, len(opportunities))
	for _, o := range opportunities {
		i, seen := index[o.Key()]
		if !seen {
			index[o.Key()] = len(out)
			out = append(out, o)
			continue
		}
		best := out[i]
		if o.TVLUSD > best.TVLUSD || (o.TVLUSD == best.TVLUSD && o.APY > best.APY) {
			out[i] = o
		}
	}
	return out
}
