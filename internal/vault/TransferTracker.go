/*
This file contains the in-flight transfer tracker. A cross-chain USDC transfer is pending from the
moment it is submitted until the destination mint is observed.
*/

package vault

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/yield-router/internal/types"
	"github.com/google/uuid"
)

var ErrUnknownTransfer = errors.New("unknown transfer")

// TransferTracker records transfer receipts by id. It is safe for concurrent use.
type TransferTracker struct {
	mu        sync.RWMutex
	transfers map[string]*types.TransferReceipt
	now       func() time.Time
}

func NewTransferTracker() *TransferTracker {
	return &TransferTracker{transfers: make(map[string]*types.TransferReceipt), now: time.Now}
}

// Start registers a pending transfer and returns its id.
func (t *TransferTracker) Start(action types.TransferAction, amount sdkmath.Int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := uuid.New().String()
	t.transfers[id] = &types.TransferReceipt{
		TransferID:      id,
		Action:          action,
		AmountBaseUnits: amount,
		Status:          types.ReceiptPending,
		Timestamp:       t.now(),
	}
	return id
}

func (t *TransferTracker) Complete(id string) (types.TransferReceipt, error) {
	return t.finish(id, types.ReceiptCompleted, "")
}

func (t *TransferTracker) Fail(id, message string) (types.TransferReceipt, error) {
	return t.finish(id, types.ReceiptFailed, message)
}

func (t *TransferTracker) finish(id string, status types.ReceiptStatus, message string) (types.TransferReceipt, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.transfers[id]
	if !ok {
		return types.TransferReceipt{}, errors.Join(ErrUnknownTransfer, fmt.Errorf("id %s", id))
	}
	if r.Status != types.ReceiptPending {
		return *r, fmt.Errorf("transfer %s already %s", id, r.Status)
	}
	r.Status = status
	r.Message = message
	r.Timestamp = t.now()
	return *r, nil
}

func (t *TransferTracker) Get(id string) (types.TransferReceipt, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.transfers[id]
	if !ok {
		return types.TransferReceipt{}, false
	}
	return *r, true
}

// InFlight returns pending transfers, oldest first.
func (t *TransferTracker) InFlight() []types.TransferReceipt {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []types.TransferReceipt
	for _, r := range t.transfers {
		if r.Status == types.ReceiptPending {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].TransferID < out[j].TransferID
	})
	return out
}
