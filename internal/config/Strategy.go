/*

This file contains the loader that layers a YAML strategy file and ROUTER_* environment overrides
on top of the default strategy parameters.

*/

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/elys-network/yield-router/internal/types"
	"github.com/spf13/viper"
)

var ErrInvalidStrategyFile = errors.New("invalid strategy file")

// LoadStrategyParameters returns the default parameters overlaid with the file at path (if any)
// and ROUTER_* environment variables, e.g. ROUTER_FILTER_MIN_TVL_USD.
func LoadStrategyParameters(path string) (types.StrategyParameters, error) {
	params := DefaultStrategyParameters()

	v := viper.New()
	v.SetEnvPrefix("ROUTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Scalar keys are registered so that environment overrides are visible to Unmarshal.
	v.SetDefault("filter.min_tvl_usd", params.Filter.MinTVLUSD)
	v.SetDefault("filter.min_apy_pct", params.Filter.MinAPY)
	v.SetDefault("filter.max_apy_pct", params.Filter.MaxAPY)
	v.SetDefault("filter.min_usdc_liquidity", params.Filter.MinUSDCLiquidity)
	v.SetDefault("allocation.max_candidates", params.Allocation.MaxCandidates)
	v.SetDefault("allocation.max_position_fraction", params.Allocation.MaxPositionFraction)
	v.SetDefault("allocation.min_position_amount", params.Allocation.MinPositionAmount)
	v.SetDefault("allocation.allocation_strategy", string(params.Allocation.Strategy))
	v.SetDefault("rebalance.min_transfer", params.Rebalance.MinTransfer)
	v.SetDefault("rebalance.liquid_reserve_usdc", params.Rebalance.LiquidReserveUSDC)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return types.StrategyParameters{}, errors.Join(ErrInvalidStrategyFile, fmt.Errorf("read %s: %w", path, err))
		}
	}

	if err := v.Unmarshal(&params); err != nil {
		return types.StrategyParameters{}, errors.Join(ErrInvalidStrategyFile, err)
	}
	params.Allocation.Strategy = types.AllocationStrategy(strings.ToLower(string(params.Allocation.Strategy)))

	if err := params.Validate(); err != nil {
		return types.StrategyParameters{}, err
	}
	return params, nil
}
