package router

import (
	"github.com/elys-network/yield-router/internal/analyzer"
	"github.com/elys-network/yield-router/internal/planner"
	"github.com/elys-network/yield-router/internal/types"
)

// Plan is the pure result of running the core over one set of opportunities and balances.
type Plan struct {
	Eligible      []types.Opportunity       `json:"eligible"`
	Ranked        []types.ScoredOpportunity `json:"ranked"`
	Allocation    types.AllocationPlan      `json:"allocation"`
	TargetByChain map[string]float64        `json:"target_by_chain"`
	Transfers     []types.TransferAction    `json:"transfers"`
	Deployments   []types.AllocateAction    `json:"deployments"`
}

// BuildPlan filters, scores, allocates totalInvestable and plans the transfers from balances.
// It performs no I/O.
func BuildPlan(scorer *analyzer.RiskScorer, opportunities []types.Opportunity, balances types.PortfolioSnapshot, totalInvestable float64, params types.StrategyParameters) (Plan, error) {
	var plan Plan
	plan.Eligible = analyzer.FilterOpportunities(opportunities, params.Filter)
	plan.Ranked = analyzer.RankOpportunities(scorer.ScoreAll(plan.Eligible))

	allocation, err := analyzer.AllocateCapital(plan.Ranked, totalInvestable, params.Allocation)
	if err != nil {
		return plan, err
	}
	plan.Allocation = allocation
	plan.TargetByChain = planner.TargetByChain(allocation.Allocation)

	transfers, err := planner.PlanRebalance(balances, plan.TargetByChain, params.Rebalance.MinTransfer)
	if err != nil {
		return plan, err
	}
	plan.Transfers = transfers
	plan.Deployments = planner.PlanDeployments(allocation)
	return plan, nil
}
