/*

This file contains the balance simulator used to preview the effect of a transfer plan before it is
handed to an executor.

*/

package simulations

import (
	"errors"
	"fmt"
	"math"

	"github.com/elys-network/yield-router/internal/types"
)

var (
	ErrInvalidTransfer   = errors.New("transfer is invalid")
	ErrInsufficientFunds = errors.New("insufficient funds for transfer")
)

// balanceTolerance absorbs float rounding when a transfer drains a chain exactly.
const balanceTolerance = 1e-6

// ApplyTransfers returns the snapshot that results from executing transfers in order.
// The input snapshot is not modified.
func ApplyTransfers(snapshot types.PortfolioSnapshot, transfers []types.TransferAction) (types.PortfolioSnapshot, error) {
	result := snapshot.Clone()
	for i, t := range transfers {
		if t.Source == "" || t.Destination == "" || t.Source == t.Destination {
			return nil, errors.Join(ErrInvalidTransfer, fmt.Errorf("transfer %d: %s -> %s", i, t.Source, t.Destination))
		}
		if math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) || t.Amount <= 0 {
			return nil, errors.Join(ErrInvalidTransfer, fmt.Errorf("transfer %d: amount %f", i, t.Amount))
		}
		available := result[t.Source]
		if available+balanceTolerance < t.Amount {
			return nil, errors.Join(ErrInsufficientFunds, fmt.Errorf("transfer %d: %s holds %f, needs %f", i, t.Source, available, t.Amount))
		}
		result[t.Source] = math.Max(available-t.Amount, 0)
		result[t.Destination] += t.Amount
	}
	return result, nil
}

// Deviation returns, per chain, the absolute distance between the snapshot and the target.
// Chains missing from either side count as zero.
func Deviation(snapshot types.PortfolioSnapshot, target map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(snapshot)+len(target))
	for chain, balance := range snapshot {
		out[chain] = math.Abs(balance - target[chain])
	}
	for chain, amount := range target {
		if _, seen := snapshot[chain]; !seen {
			out[chain] = amount
		}
	}
	return out
}

// MaxDeviation returns the largest per-chain deviation.
func MaxDeviation(snapshot types.PortfolioSnapshot, target map[string]float64) float64 {
	worst := 0.0
	for _, d := range Deviation(snapshot, target) {
		worst = math.Max(worst, d)
	}
	return worst
}
