package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	usdcEth  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	usdcBase = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
)

type fakeCaller struct {
	mu      sync.Mutex
	balance *big.Int
	err     error
	calls   []ethereum.CallMsg
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msg)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return erc20ABI.Methods["balanceOf"].Outputs.Pack(f.balance)
}

func TestSnapshotReadsEveryChain(t *testing.T) {
	eth := &fakeCaller{balance: big.NewInt(1_250_500_000)} // 1250.5 USDC
	base := &fakeCaller{balance: big.NewInt(0)}

	reader, err := NewBalanceReader([]ChainBalance{
		{Chain: "ethereum", USDC: usdcEth, Caller: eth},
		{Chain: "base", USDC: usdcBase, Caller: base},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ethereum", "base"}, reader.Chains())

	snapshot, err := reader.Snapshot(context.Background(), owner)
	require.NoError(t, err)
	assert.InDelta(t, 1250.5, snapshot["ethereum"], 1e-9)
	assert.Contains(t, snapshot, "base")
	assert.Equal(t, 0.0, snapshot["base"])

	require.Len(t, eth.calls, 1)
	assert.Equal(t, usdcEth, *eth.calls[0].To)
	wantData, err := erc20ABI.Pack("balanceOf", owner)
	require.NoError(t, err)
	assert.Equal(t, wantData, eth.calls[0].Data)
}

func TestSnapshotFailsOnAnyChainError(t *testing.T) {
	reader, err := NewBalanceReader([]ChainBalance{
		{Chain: "ethereum", USDC: usdcEth, Caller: &fakeCaller{balance: big.NewInt(1)}},
		{Chain: "base", USDC: usdcBase, Caller: &fakeCaller{err: errors.New("rate limited")}},
	})
	require.NoError(t, err)

	snapshot, err := reader.Snapshot(context.Background(), owner)
	require.ErrorIs(t, err, ErrBalanceReadFailed)
	assert.Contains(t, err.Error(), "base")
	assert.Nil(t, snapshot)
}

func TestSnapshotRejectsZeroOwner(t *testing.T) {
	reader, err := NewBalanceReader([]ChainBalance{{Chain: "ethereum", USDC: usdcEth, Caller: &fakeCaller{balance: big.NewInt(1)}}})
	require.NoError(t, err)

	_, err = reader.Snapshot(context.Background(), common.Address{})
	assert.ErrorIs(t, err, ErrAddressInvalid)
}

func TestNewBalanceReaderValidation(t *testing.T) {
	caller := &fakeCaller{balance: big.NewInt(1)}
	cases := map[string]struct {
		chains []ChainBalance
		want   error
	}{
		"no chains":      {nil, ErrInvalidConfig},
		"missing caller": {[]ChainBalance{{Chain: "ethereum", USDC: usdcEth}}, ErrInvalidConfig},
		"zero contract":  {[]ChainBalance{{Chain: "ethereum", Caller: caller}}, ErrAddressInvalid},
		"duplicate chain": {[]ChainBalance{
			{Chain: "ethereum", USDC: usdcEth, Caller: caller},
			{Chain: "ethereum", USDC: usdcEth, Caller: caller},
		}, ErrInvalidConfig},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewBalanceReader(tc.chains)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
