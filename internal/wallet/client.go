/*
This file contains the on-chain balance reader. It reads the router's USDC balance on every
configured EVM chain with an ERC-20 balanceOf call and builds a portfolio snapshot from them.
*/

package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/elys-network/yield-router/internal/config"
	"github.com/elys-network/yield-router/internal/logger"
	"github.com/elys-network/yield-router/internal/types"
	"github.com/elys-network/yield-router/internal/utils"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrAddressInvalid      = errors.New("address is invalid")
	ErrRPCConnectionFailed = errors.New("RPC connection failed")
	ErrBalanceReadFailed   = errors.New("balance read failed")
)

const erc20BalanceOfABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"}]`

var erc20ABI = mustParseABI(erc20BalanceOfABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ContractCaller is the read-only slice of an Ethereum client the reader needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainBalance binds a chain to the client and USDC contract used to read it.
type ChainBalance struct {
	Chain  string
	USDC   common.Address
	Caller ContractCaller
}

// BalanceReader reads USDC balances across chains.
type BalanceReader struct {
	chains  []ChainBalance
	closers []func()
}

func NewBalanceReader(chains []ChainBalance) (*BalanceReader, error) {
	if len(chains) == 0 {
		return nil, errors.Join(ErrInvalidConfig, errors.New("no chains configured"))
	}
	seen := make(map[string]bool, len(chains))
	for _, c := range chains {
		if c.Chain == "" || c.Caller == nil {
			return nil, errors.Join(ErrInvalidConfig, fmt.Errorf("chain entry %q is incomplete", c.Chain))
		}
		if c.USDC == (common.Address{}) {
			return nil, errors.Join(ErrAddressInvalid, fmt.Errorf("no USDC contract for chain %s", c.Chain))
		}
		if seen[c.Chain] {
			return nil, errors.Join(ErrInvalidConfig, fmt.Errorf("duplicate chain %s", c.Chain))
		}
		seen[c.Chain] = true
	}
	return &BalanceReader{chains: chains}, nil
}

// DialBalanceReader connects to every endpoint's JSON-RPC URL.
func DialBalanceReader(ctx context.Context, endpoints []config.ChainEndpoint) (*BalanceReader, error) {
	walletLogger := logger.GetForComponent("wallet_client")

	chains := make([]ChainBalance, 0, len(endpoints))
	var closers []func()
	for _, ep := range endpoints {
		client, err := ethclient.DialContext(ctx, ep.RPCURL)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, errors.Join(ErrRPCConnectionFailed, fmt.Errorf("chain %s: %w", ep.Chain, err))
		}
		closers = append(closers, client.Close)
		chains = append(chains, ChainBalance{Chain: ep.Chain, USDC: ep.USDCContract, Caller: client})
		walletLogger.Debug().Str("chain", ep.Chain).Str("usdc", ep.USDCContract.Hex()).Msg("Connected chain RPC")
	}

	reader, err := NewBalanceReader(chains)
	if err != nil {
		for _, c := range closers {
			c()
		}
		return nil, err
	}
	reader.closers = closers
	return reader, nil
}

// Chains lists the configured chain names in configuration order.
func (r *BalanceReader) Chains() []string {
	out := make([]string, len(r.chains))
	for i, c := range r.chains {
		out[i] = c.Chain
	}
	return out
}

// Snapshot reads owner's USDC balance on every chain in parallel. Any failed read fails the whole
// snapshot; a partial view would make the planner move funds that already sit elsewhere.
func (r *BalanceReader) Snapshot(ctx context.Context, owner common.Address) (types.PortfolioSnapshot, error) {
	if owner == (common.Address{}) {
		return nil, errors.Join(ErrAddressInvalid, errors.New("owner address is zero"))
	}

	balances := make([]float64, len(r.chains))
	g, gctx := errgroup.WithContext(ctx)
	for i, chain := range r.chains {
		g.Go(func() error {
			units, err := r.balanceOf(gctx, chain, owner)
			if err != nil {
				return errors.Join(ErrBalanceReadFailed, fmt.Errorf("chain %s: %w", chain.Chain, err))
			}
			balance, err := utils.BaseUnitsToUSDC(units)
			if err != nil {
				return errors.Join(ErrBalanceReadFailed, fmt.Errorf("chain %s: %w", chain.Chain, err))
			}
			balances[i] = balance
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snapshot := make(types.PortfolioSnapshot, len(r.chains))
	for i, chain := range r.chains {
		snapshot[chain.Chain] = balances[i]
	}

	walletLogger := logger.GetForComponent("wallet_client")
	walletLogger.Debug().
		Str("owner", owner.Hex()).
		Float64("total", snapshot.Total()).
		Msg("Read USDC balances")
	return snapshot, nil
}

func (r *BalanceReader) balanceOf(ctx context.Context, chain ChainBalance, owner common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack call data: %w", err)
	}
	contract := chain.USDC
	output, err := chain.Caller.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("rpc call failed: %w", err)
	}
	values, err := erc20ABI.Unpack("balanceOf", output)
	if err != nil {
		return nil, fmt.Errorf("failed to decode balance: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected balanceOf output length %d", len(values))
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf output type %T", values[0])
	}
	return balance, nil
}

// Close releases the RPC connections opened by DialBalanceReader.
func (r *BalanceReader) Close() {
	for _, c := range r.closers {
		c()
	}
	r.closers = nil
}
