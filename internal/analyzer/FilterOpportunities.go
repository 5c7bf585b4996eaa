/*

This file contains the quality filter that removes opportunities which are too small, too illiquid,
or whose yield is outside a credible band.

*/

package analyzer

import (
	"math"

	"github.com/elys-network/yield-router/internal/logger"
	"github.com/elys-network/yield-router/internal/types"
)

// FilterOpportunities returns the opportunities that pass every quality threshold, in input order.
// An empty result is valid and not an error.
func FilterOpportunities(opportunities []types.Opportunity, params types.FilterParameters) []types.Opportunity {
	filterLogger := logger.GetForComponent("quality_filter")

	kept := make([]types.Opportunity, 0, len(opportunities))
	for _, o := range opportunities {
		if reason := rejectReason(o, params); reason != "" {
			filterLogger.Debug().
				Str("protocol", o.Protocol).
				Str("chain", o.Chain).
				Str("reason", reason).
				Msg("Opportunity filtered out")
			continue
		}
		kept = append(kept, o)
	}

	filterLogger.Info().
		Int("input", len(opportunities)).
		Int("kept", len(kept)).
		Msg("Quality filter applied")
	return kept
}

// PassesQualityFilter reports whether a single opportunity satisfies every threshold.
func PassesQualityFilter(o types.Opportunity, params types.FilterParameters) bool {
	return rejectReason(o, params) == ""
}

func rejectReason(o types.Opportunity, params types.FilterParameters) string {
	for _, v := range []float64{o.APY, o.TVLUSD, o.USDCLiquidity} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "non-finite value"
		}
	}
	switch {
	case o.TVLUSD < params.MinTVLUSD:
		return "tvl below minimum"
	case o.APY < params.MinAPY:
		return "apy below minimum"
	case o.APY > params.MaxAPY:
		return "apy above maximum"
	case o.USDCLiquidity < params.MinUSDCLiquidity:
		return "usdc liquidity below minimum"
	}
	return ""
}
