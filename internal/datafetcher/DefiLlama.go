/*
This file contains the DeFiLlama yields source. It keeps USDC pools only and maps them onto raw
opportunity records.
*/

package datafetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/elys-network/yield-router/internal/logger"
	"github.com/elys-network/yield-router/internal/types"
)

const DefiLlamaSourceName = "defillama"

type defiLlamaResponse struct {
	Status string          `json:"status"`
	Data   []defiLlamaPool `json:"data"`
}

type defiLlamaPool struct {
	Pool       string   `json:"pool"`
	Chain      string   `json:"chain"`
	Project    string   `json:"project"`
	Symbol     string   `json:"symbol"`
	TVLUSD     float64  `json:"tvlUsd"`
	APY        *float64 `json:"apy"`
	APYBase    *float64 `json:"apyBase"`
	APYReward  *float64 `json:"apyReward"`
	Stablecoin bool     `json:"stablecoin"`
	ILRisk     string   `json:"ilRisk"`
	Exposure   string   `json:"exposure"`
}

// DefiLlamaSource reads the public DeFiLlama yields endpoint.
type DefiLlamaSource struct {
	url  string
	feed httpFeed
}

func NewDefiLlamaSource(url string, client *http.Client, limiter *HostLimiter) *DefiLlamaSource {
	return &DefiLlamaSource{url: url, feed: newHTTPFeed(client, limiter)}
}

func (s *DefiLlamaSource) Name() string {
	return DefiLlamaSourceName
}

func (s *DefiLlamaSource) Fetch(ctx context.Context) ([]RawOpportunity, error) {
	fetchLogger := logger.GetForComponent("defillama_source")

	var resp defiLlamaResponse
	if err := s.feed.doJSON(ctx, DefiLlamaSourceName, s.url, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "" && resp.Status != "success" {
		return nil, errors.Join(ErrUnexpectedResponse, fmt.Errorf("defillama status %q", resp.Status))
	}

	records := make([]RawOpportunity, 0, len(resp.Data)/10)
	for _, pool := range resp.Data {
		tokens := symbolTokens(pool.Symbol)
		if !containsUSDC(tokens) {
			continue
		}
		records = append(records, defiLlamaRecord(pool, len(tokens)))
	}

	fetchLogger.Debug().
		Int("pools", len(resp.Data)).
		Int("usdcPools", len(records)).
		Msg("Fetched DeFiLlama yields")
	return records, nil
}

func defiLlamaRecord(pool defiLlamaPool, tokenCount int) RawOpportunity {
	base := valueOrZero(pool.APYBase)
	reward := valueOrZero(pool.APYReward)
	apy := valueOrZero(pool.APY)
	if pool.APY == nil {
		apy = base + reward
	}

	multi := strings.EqualFold(pool.Exposure, "multi") || tokenCount > 1
	liquidity := pool.TVLUSD
	if multi && tokenCount > 1 {
		liquidity = pool.TVLUSD / float64(tokenCount)
	}

	var category types.Category
	switch {
	case multi && pool.Stablecoin:
		category = types.CategoryStableLP
	case multi:
		category = types.CategoryLPPool
	case reward > base:
		category = types.CategoryYieldFarm
	default:
		category = types.CategoryLending
	}

	return RawOpportunity{
		Protocol:      pool.Project,
		Chain:         pool.Chain,
		Symbol:        pool.Symbol,
		APY:           apy,
		APYBase:       base,
		APYReward:     reward,
		TVLUSD:        pool.TVLUSD,
		USDCLiquidity: liquidity,
		Category:      string(category),
		Source:        DefiLlamaSourceName,
	}
}

func symbolTokens(symbol string) []string {
	parts := strings.Split(strings.ToUpper(symbol), "-")
	tokens := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// containsUSDC accepts USDC and bridged variants such as USDC.E.
func containsUSDC(tokens []string) bool {
	for _, t := range tokens {
		if t == "USDC" || strings.HasPrefix(t, "USDC.") {
			return true
		}
	}
	return false
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
