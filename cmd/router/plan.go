package main

import (
	"errors"
	"fmt"

	"github.com/elys-network/yield-router/internal/analyzer"
	"github.com/elys-network/yield-router/internal/config"
	"github.com/elys-network/yield-router/internal/datafetcher"
	"github.com/elys-network/yield-router/internal/logger"
	"github.com/elys-network/yield-router/internal/router"
	"github.com/elys-network/yield-router/internal/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errNothingToInvest = errors.New("nothing to invest after the liquid reserve")

type planOptions struct {
	opportunitiesFile string
	balancesFile      string
	strategyFile      string
	amount            float64
}

// planOutput is what the offline plan command prints.
type planOutput struct {
	Balances        types.PortfolioSnapshot `json:"balances"`
	TotalInvestable float64                 `json:"total_investable"`
	Rejected        int                     `json:"rejected"`
	router.Plan
}

func newPlanCmd() *cobra.Command {
	var opts planOptions
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Build a plan offline from an opportunities file and a balances file",
		Long: `Runs the filter, scorer, allocator and rebalance planner without touching any network.

The balances file is JSON or YAML mapping chain names to USDC amounts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := buildOfflinePlan(opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&opts.opportunitiesFile, "opportunities", "", "opportunities fixture (JSON array of raw records)")
	cmd.Flags().StringVar(&opts.balancesFile, "balances", "", "per-chain USDC balances (JSON or YAML)")
	cmd.Flags().StringVar(&opts.strategyFile, "strategy", "", "strategy parameters file (defaults are used when empty)")
	cmd.Flags().Float64Var(&opts.amount, "amount", 0, "amount to allocate; defaults to total balance minus the liquid reserve")
	_ = cmd.MarkFlagRequired("opportunities")
	_ = cmd.MarkFlagRequired("balances")
	return cmd
}

func buildOfflinePlan(opts planOptions) (planOutput, error) {
	planLogger := logger.GetForComponent("plan")

	params, err := config.LoadStrategyParameters(opts.strategyFile)
	if err != nil {
		return planOutput{}, err
	}
	scorer, err := analyzer.NewRiskScorer(params.Risk)
	if err != nil {
		return planOutput{}, err
	}

	records, err := datafetcher.LoadRawOpportunities(opts.opportunitiesFile)
	if err != nil {
		return planOutput{}, err
	}
	var opportunities []types.Opportunity
	rejected := 0
	for _, raw := range records {
		opp, err := datafetcher.NormalizeRecord(raw)
		if err != nil {
			rejected++
			planLogger.Debug().Err(err).Str("protocol", raw.Protocol).Str("chain", raw.Chain).Msg("Skipping record")
			continue
		}
		opportunities = append(opportunities, opp)
	}
	opportunities = datafetcher.Dedupe(opportunities)

	balances, err := loadBalances(opts.balancesFile)
	if err != nil {
		return planOutput{}, err
	}

	amount := opts.amount
	if amount <= 0 {
		amount = balances.Total() - params.Rebalance.LiquidReserveUSDC
	}
	if amount <= 0 {
		return planOutput{}, errNothingToInvest
	}

	plan, err := router.BuildPlan(scorer, opportunities, balances, amount, params)
	if err != nil {
		return planOutput{}, err
	}
	planLogger.Info().
		Int("records", len(records)).
		Int("eligible", len(plan.Eligible)).
		Int("transfers", len(plan.Transfers)).
		Msg("Offline plan built")

	return planOutput{
		Balances:        balances,
		TotalInvestable: amount,
		Rejected:        rejected,
		Plan:            plan,
	}, nil
}

func loadBalances(path string) (types.PortfolioSnapshot, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read balances file %s: %w", path, err)
	}

	balances := types.PortfolioSnapshot{}
	for _, chain := range v.AllKeys() {
		amount := v.GetFloat64(chain)
		if amount < 0 {
			return nil, fmt.Errorf("balance for %s is negative: %v", chain, amount)
		}
		balances[chain] = amount
	}
	if len(balances) == 0 {
		return nil, fmt.Errorf("balances file %s is empty", path)
	}
	return balances, nil
}
