/*

This file contains the risk scorer. It rates every opportunity on four components (protocol,
liquidity, market and chain concentration), combines them into a composite risk and derives the
risk-adjusted return used for ranking.

*/

package analyzer

import (
	"errors"
	"math"
	"regexp"
	"strings"

	"github.com/elys-network/yield-router/internal/logger"
	"github.com/elys-network/yield-router/internal/types"
	"github.com/rs/zerolog"
)

var ErrInvalidRiskTables = errors.New("invalid risk tables")

var versionSuffix = regexp.MustCompile(`-v\d+$`)

// RiskScorer scores opportunities against an immutable copy of its risk tables.
// It is safe for concurrent use.
type RiskScorer struct {
	tables types.RiskTables
	logger zerolog.Logger
}

// NewRiskScorer validates and copies the tables.
func NewRiskScorer(tables types.RiskTables) (*RiskScorer, error) {
	if err := tables.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidRiskTables, err)
	}
	return &RiskScorer{
		tables: tables.Clone(),
		logger: logger.GetForComponent("risk_scorer"),
	}, nil
}

// ProtocolRisk looks up the protocol by exact name, then without a version suffix (aave-v3 -> aave).
// Any other name gets the unknown-protocol prior, even when it shares a prefix with a listed one.
func (s *RiskScorer) ProtocolRisk(protocol string) float64 {
	name := strings.ToLower(strings.TrimSpace(protocol))
	for _, candidate := range []string{name, versionSuffix.ReplaceAllString(name, "")} {
		if risk, ok := s.tables.Protocols[candidate]; ok {
			return risk
		}
	}
	return s.tables.UnknownProtocolRisk
}

// LiquidityRisk averages the TVL and USDC-liquidity ladders.
func (s *RiskScorer) LiquidityRisk(tvlUSD, usdcLiquidity float64) float64 {
	return (s.tables.TVLLadder.Lookup(tvlUSD) + s.tables.USDCLiquidityLadder.Lookup(usdcLiquidity)) / 2
}

// MarketRisk averages the APY ladder and the category risk. Very high APY reads as a warning sign.
func (s *RiskScorer) MarketRisk(apy float64, category types.Category) float64 {
	categoryRisk, ok := s.tables.Categories[strings.ToLower(string(category))]
	if !ok {
		categoryRisk = s.tables.UnknownCategoryRisk
	}
	return (s.tables.APYLadder.Lookup(apy) + categoryRisk) / 2
}

func (s *RiskScorer) ConcentrationRisk(chain string) float64 {
	if risk, ok := s.tables.Chains[strings.ToLower(strings.TrimSpace(chain))]; ok {
		return risk
	}
	return s.tables.UnknownChainRisk
}

// Score annotates one opportunity. Composite risk is the weighted sum of the components, capped at 1.
func (s *RiskScorer) Score(o types.Opportunity) types.ScoredOpportunity {
	breakdown := types.RiskBreakdown{
		Protocol:      s.ProtocolRisk(o.Protocol),
		Liquidity:     s.LiquidityRisk(o.TVLUSD, o.USDCLiquidity),
		Market:        s.MarketRisk(o.APY, o.Category),
		Concentration: s.ConcentrationRisk(o.Chain),
	}

	w := s.tables.Weights
	composite := w.Protocol*breakdown.Protocol +
		w.Liquidity*breakdown.Liquidity +
		w.Market*breakdown.Market +
		w.Concentration*breakdown.Concentration
	composite = math.Min(math.Max(composite, 0), 1)

	scored := types.ScoredOpportunity{
		Opportunity:        o,
		Risk:               breakdown,
		CompositeRisk:      composite,
		RiskAdjustedReturn: RiskAdjustedReturn(o.APY, composite),
	}

	s.logger.Debug().
		Str("protocol", o.Protocol).
		Str("chain", o.Chain).
		Float64("protocolRisk", breakdown.Protocol).
		Float64("liquidityRisk", breakdown.Liquidity).
		Float64("marketRisk", breakdown.Market).
		Float64("concentrationRisk", breakdown.Concentration).
		Float64("compositeRisk", composite).
		Float64("riskAdjustedReturn", scored.RiskAdjustedReturn).
		Msg("Opportunity scored")

	return scored
}

// ScoreAll scores every opportunity, preserving input order.
func (s *RiskScorer) ScoreAll(opportunities []types.Opportunity) []types.ScoredOpportunity {
	scored := make([]types.ScoredOpportunity, 0, len(opportunities))
	for _, o := range opportunities {
		scored = append(scored, s.Score(o))
	}
	return scored
}

// RiskAdjustedReturn discounts APY by composite risk: apy / (1 + risk).
func RiskAdjustedReturn(apy, compositeRisk float64) float64 {
	return apy / (1 + compositeRisk)
}
