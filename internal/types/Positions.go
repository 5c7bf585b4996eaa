/*

This file contains the types for allocations, chain balances and the actions that move capital between them.

*/

package types

import (
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"
)

// Allocation maps an opportunity to the USDC amount assigned to it.
type Allocation map[OpportunityKey]float64

// Total returns the sum of all allocated amounts.
func (a Allocation) Total() float64 {
	total := 0.0
	for _, amount := range a {
		total += amount
	}
	return total
}

// ByChain reduces the allocation to per-chain totals.
func (a Allocation) ByChain() map[string]float64 {
	byChain := make(map[string]float64)
	for key, amount := range a {
		byChain[key.Chain] += amount
	}
	return byChain
}

// Keys returns the allocation keys in lexicographic order.
func (a Allocation) Keys() []OpportunityKey {
	keys := make([]OpportunityKey, 0, len(a))
	for key := range a {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// AllocationPlan is the allocator's output: the allocation, the order in which positions were
// funded and the amount that could not be placed.
type AllocationPlan struct {
	Allocation  Allocation          `json:"allocation"`
	Funded      []ScoredOpportunity `json:"funded"` // rank order
	TotalAmount float64             `json:"total_amount"`
	Remaining   float64             `json:"remaining"`
	Strategy    AllocationStrategy  `json:"strategy"`
}

func (p AllocationPlan) IsEmpty() bool {
	return len(p.Allocation) == 0
}

// PortfolioSnapshot maps a chain to the USDC balance currently held on it.
type PortfolioSnapshot map[string]float64

// Total returns the sum of all chain balances.
func (s PortfolioSnapshot) Total() float64 {
	total := 0.0
	for _, balance := range s {
		total += balance
	}
	return total
}

// Clone returns an independent copy of the snapshot.
func (s PortfolioSnapshot) Clone() PortfolioSnapshot {
	out := make(PortfolioSnapshot, len(s))
	for chain, balance := range s {
		out[chain] = balance
	}
	return out
}

// Chains returns the snapshot chains in lexicographic order.
func (s PortfolioSnapshot) Chains() []string {
	chains := make([]string, 0, len(s))
	for chain := range s {
		chains = append(chains, chain)
	}
	sort.Strings(chains)
	return chains
}

// TransferAction moves USDC from one chain to another.
type TransferAction struct {
	Source      string  `json:"source"`
	Destination string  `json:"destination"`
	Amount      float64 `json:"amount"`
}

// AllocateAction deposits USDC into an opportunity on the chain where it already sits.
type AllocateAction struct {
	Protocol string  `json:"protocol"`
	Chain    string  `json:"chain"`
	Amount   float64 `json:"amount"`
	Rank     int     `json:"rank"`
}

type ReceiptStatus string

const (
	ReceiptPending   ReceiptStatus = "pending"
	ReceiptCompleted ReceiptStatus = "completed"
	ReceiptFailed    ReceiptStatus = "failed"
)

// TransferReceipt records the outcome of a TransferAction.
type TransferReceipt struct {
	TransferID      string         `json:"transfer_id"`
	Action          TransferAction `json:"action"`
	AmountBaseUnits sdkmath.Int    `json:"amount_base_units"`
	Status          ReceiptStatus  `json:"status"`
	Message         string         `json:"message,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// AllocateReceipt records the outcome of an AllocateAction.
type AllocateReceipt struct {
	Action          AllocateAction `json:"action"`
	AmountBaseUnits sdkmath.Int    `json:"amount_base_units"`
	Status          ReceiptStatus  `json:"status"`
	Message         string         `json:"message,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// SourceStatus summarizes one data source's contribution to a fetch.
type SourceStatus struct {
	Source    string        `json:"source"`
	State     string        `json:"state"` // ok, cached, failed, breaker_open, fallback
	Records   int           `json:"records"`
	Simulated bool          `json:"simulated,omitempty"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}

type CycleStatus string

const (
	CycleCompleted CycleStatus = "completed"
	CycleNoop      CycleStatus = "noop"
	CycleAborted   CycleStatus = "aborted"
	CycleFailed    CycleStatus = "failed"
)

// CycleSnapshot is the persisted record of one routing cycle.
type CycleSnapshot struct {
	SnapshotID    int64       `json:"snapshot_id"`
	CycleNumber   int         `json:"cycle_number"`
	CycleID       string      `json:"cycle_id"`
	Timestamp     time.Time   `json:"timestamp"`
	ParamsVersion int         `json:"params_version"`
	Status        CycleStatus `json:"status"`
	Error         string      `json:"error,omitempty"`

	// Data
	Sources               []SourceStatus `json:"sources"`
	FellBack              bool           `json:"fell_back"`
	OpportunitiesFetched  int            `json:"opportunities_fetched"`
	OpportunitiesEligible int            `json:"opportunities_eligible"`

	// Plan
	InitialBalances PortfolioSnapshot  `json:"initial_balances"`
	Allocation      Allocation         `json:"allocation"`
	TotalInvestable float64            `json:"total_investable"`
	Remaining       float64            `json:"remaining"`
	TargetByChain   map[string]float64 `json:"target_by_chain"`
	Transfers       []TransferAction   `json:"transfers"`
	Deployments     []AllocateAction   `json:"deployments"`

	// Outcome
	TransferReceipts []TransferReceipt `json:"transfer_receipts"`
	AllocateReceipts []AllocateReceipt `json:"allocate_receipts"`
	FinalBalances    PortfolioSnapshot `json:"final_balances"`
	Duration         time.Duration     `json:"duration"`
}

// Chains returns every chain touched by the cycle, sorted.
func (c CycleSnapshot) Chains() []string {
	seen := make(map[string]struct{})
	for chain := range c.InitialBalances {
		seen[chain] = struct{}{}
	}
	for chain := range c.TargetByChain {
		seen[chain] = struct{}{}
	}
	chains := make([]string, 0, len(seen))
	for chain := range seen {
		chains = append(chains, chain)
	}
	sort.Strings(chains)
	return chains
}
