/*

This file contains the default risk tables consumed by the risk scorer.

*/

package config

import (
	"github.com/elys-network/yield-router/internal/types"
)

// defaultProtocolRisk groups protocols in three tiers.
// Blue-chip 0.05-0.15, mid-tier 0.18-0.35, higher-risk 0.40-0.60.
var defaultProtocolRisk = map[string]float64{
	// Blue-chip
	"aave":     0.05,
	"compound": 0.08,
	"spark":    0.08,
	"sky":      0.10,
	"maker":    0.10,
	"uniswap":  0.10,
	"curve":    0.12,
	"lido":     0.08,
	"morpho":   0.15,
	"fluid":    0.15,

	// Product names reported by the aggregators. Matching is exact apart from a -vN suffix.
	"morpho-blue":    0.15,
	"fluid-lending":  0.15,
	"spark-savings":  0.08,
	"sky-lending":    0.10,
	"curve-dex":      0.12,
	"yearn-finance":  0.18,
	"convex-finance": 0.22,

	// Mid-tier
	"yearn":     0.18,
	"balancer":  0.20,
	"convex":    0.22,
	"euler":     0.25,
	"moonwell":  0.25,
	"aerodrome": 0.25,
	"velodrome": 0.25,
	"benqi":     0.25,
	"sushiswap": 0.28,
	"stargate":  0.28,
	"gmx":       0.30,
	"pendle":    0.30,
	"venus":     0.30,
	"seamless":  0.30,
	"radiant":   0.35,
	"silo":      0.35,

	// Higher-risk
	"beefy":         0.40,
	"exactly":       0.45,
	"dolomite":      0.45,
	"extra-finance": 0.50,
	"gearbox":       0.50,
	"notional":      0.55,
	"ionic":         0.60,
}

var defaultCategoryRisk = map[string]float64{
	string(types.CategoryLending):   0.05,
	string(types.CategoryStableLP):  0.10,
	string(types.CategoryLPPool):    0.25,
	string(types.CategoryYieldFarm): 0.35,
	string(types.CategoryOther):     0.50,
}

var defaultChainRisk = map[string]float64{
	"ethereum":  0.05,
	"arbitrum":  0.10,
	"base":      0.15,
	"polygon":   0.20,
	"avalanche": 0.25,
}

// DefaultRiskTables returns a fresh copy of the baseline risk configuration.
func DefaultRiskTables() types.RiskTables {
	tables := types.RiskTables{
		Protocols:           defaultProtocolRisk,
		UnknownProtocolRisk: 0.60,
		Categories:          defaultCategoryRisk,
		UnknownCategoryRisk: 0.50,
		Chains:              defaultChainRisk,
		UnknownChainRisk:    0.40,
		TVLLadder: types.StepLadder{
			Steps: []types.Step{
				{Threshold: 1_000_000_000, Risk: 0.0},
				{Threshold: 500_000_000, Risk: 0.05},
				{Threshold: 100_000_000, Risk: 0.15},
				{Threshold: 10_000_000, Risk: 0.30},
			},
			Floor:     0.60,
			Inclusive: true,
		},
		USDCLiquidityLadder: types.StepLadder{
			Steps: []types.Step{
				{Threshold: 100_000_000, Risk: 0.0},
				{Threshold: 50_000_000, Risk: 0.05},
				{Threshold: 10_000_000, Risk: 0.15},
			},
			Floor:     0.40,
			Inclusive: true,
		},
		APYLadder: types.StepLadder{
			Steps: []types.Step{
				{Threshold: 50, Risk: 0.80},
				{Threshold: 30, Risk: 0.50},
				{Threshold: 20, Risk: 0.25},
				{Threshold: 15, Risk: 0.10},
			},
			Floor:     0.0,
			Inclusive: false,
		},
		Weights: types.RiskWeights{
			Protocol:      0.30,
			Liquidity:     0.25,
			Market:        0.25,
			Concentration: 0.20,
		},
	}
	// Clone so callers can never mutate the package tables.
	return tables.Clone()
}
