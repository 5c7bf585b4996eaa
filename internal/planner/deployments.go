package planner

import (
	"github.com/elys-network/yield-router/internal/types"
)

// PlanDeployments lists the deposits that turn converged chain balances into protocol positions,
// in the order the allocator funded them.
func PlanDeployments(plan types.AllocationPlan) []types.AllocateAction {
	actions := make([]types.AllocateAction, 0, len(plan.Funded))
	for i, funded := range plan.Funded {
		amount, ok := plan.Allocation[funded.Key()]
		if !ok || amount <= 0 {
			continue
		}
		actions = append(actions, types.AllocateAction{
			Protocol: funded.Protocol,
			Chain:    funded.Chain,
			Amount:   amount,
			Rank:     i + 1,
		})
	}
	return actions
}
