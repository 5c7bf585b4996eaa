/*

This file contains the default strategy parameters for the router.

The values target a treasury moving USDC across EVM chains where capital preservation matters more
than chasing the last basis point of yield.

*/

package config

import (
	"github.com/elys-network/yield-router/internal/types"
)

const (
	DefaultStrategyConfigName    = "default_router_strategy"
	DefaultStrategyConfigVersion = 1
)

// DefaultStrategyParameters returns a fresh copy of the baseline parameters.
// These values are used if no active parameters are found in the database during initialization.
func DefaultStrategyParameters() types.StrategyParameters {
	return types.StrategyParameters{
		Filter: types.FilterParameters{
			MinTVLUSD: 1_000_000, // Pools below $1M TVL are excluded.
			// Rationale: small pools cannot absorb a meaningful deposit without moving the rate.

			MinAPY: 1.0, // Ignore yields below 1%.
			// Rationale: below this the bridging and gas overhead eats the return.

			MaxAPY: 100.0, // Ignore yields above 100%.
			// Rationale: triple-digit stablecoin yields are almost always emissions or a broken feed.

			MinUSDCLiquidity: 500_000, // Require $500k of withdrawable USDC.
			// Rationale: exits must stay possible under stress.
		},
		Allocation: types.AllocationParameters{
			MaxCandidates: 5, // Consider the top 5 ranked opportunities.
			// Rationale: enough diversification without spreading capital thin.

			MaxPositionFraction: 0.4, // At most 40% in one opportunity.
			// Rationale: a single exploit is contained to 40% of the treasury.

			MinPositionAmount: 1_000, // Skip positions below $1k.
			// Rationale: smaller positions cost more in gas than they earn.

			Strategy: types.StrategyGreedy,
		},
		Rebalance: types.RebalanceParameters{
			MinTransfer: 10.0, // Ignore chain deviations and transfers below $10.

			LiquidReserveUSDC: 50.0, // Keep $50 out of the investable total.
			// Rationale: a buffer for rounding between float amounts and 6-decimal base units.
		},
		Risk: DefaultRiskTables(),
	}
}
