/*
This file contains the The Graph source for lending protocols indexed with the Messari lending schema.
One SubgraphSource covers one protocol deployment on one chain.
*/

package datafetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/elys-network/yield-router/internal/config"
	"github.com/elys-network/yield-router/internal/logger"
	"github.com/elys-network/yield-router/internal/types"
	"github.com/shopspring/decimal"
)

const usdcMarketsQuery = `query UsdcMarkets($symbols: [String!]) {
  markets(first: 20, where: { inputToken_: { symbol_in: $symbols } }) {
    id
    inputToken { symbol }
    totalValueLockedUSD
    totalDepositBalanceUSD
    totalBorrowBalanceUSD
    rates { rate side type }
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type subgraphResponse struct {
	Data struct {
		Markets []subgraphMarket `json:"markets"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type subgraphMarket struct {
	ID         string `json:"id"`
	InputToken struct {
		Symbol string `json:"symbol"`
	} `json:"inputToken"`
	TotalValueLockedUSD    string `json:"totalValueLockedUSD"`
	TotalDepositBalanceUSD string `json:"totalDepositBalanceUSD"`
	TotalBorrowBalanceUSD  string `json:"totalBorrowBalanceUSD"`
	Rates                  []struct {
		Rate string `json:"rate"`
		Side string `json:"side"`
		Type string `json:"type"`
	} `json:"rates"`
}

// SubgraphSource queries USDC markets from a lending subgraph.
type SubgraphSource struct {
	endpoint config.SubgraphEndpoint
	feed     httpFeed
}

func NewSubgraphSource(endpoint config.SubgraphEndpoint, client *http.Client, limiter *HostLimiter) *SubgraphSource {
	return &SubgraphSource{endpoint: endpoint, feed: newHTTPFeed(client, limiter)}
}

func (s *SubgraphSource) Name() string {
	return "subgraph:" + s.endpoint.Protocol + "@" + s.endpoint.Chain
}

func (s *SubgraphSource) Fetch(ctx context.Context) ([]RawOpportunity, error) {
	request := graphQLRequest{
		Query:     usdcMarketsQuery,
		Variables: map[string]any{"symbols": []string{"USDC", "USDC.e", "USDbC"}},
	}

	var resp subgraphResponse
	if err := s.feed.doJSON(ctx, s.Name(), s.endpoint.URL, request, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		messages := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			messages[i] = e.Message
		}
		return nil, errors.Join(ErrUnexpectedResponse, fmt.Errorf("graphql errors: %s", strings.Join(messages, "; ")))
	}

	records := make([]RawOpportunity, 0, len(resp.Data.Markets))
	for _, market := range resp.Data.Markets {
		record, err := s.marketRecord(market)
		if err != nil {
			subgraphLogger := logger.GetForComponent("subgraph_source")
			subgraphLogger.Warn().
				Err(err).
				Str("source", s.Name()).
				Str("market", market.ID).
				Msg("Skipping market with unparseable numbers")
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *SubgraphSource) marketRecord(market subgraphMarket) (RawOpportunity, error) {
	tvl, err := parseDecimal(market.TotalValueLockedUSD)
	if err != nil {
		return RawOpportunity{}, fmt.Errorf("totalValueLockedUSD: %w", err)
	}
	deposits, err := parseDecimal(market.TotalDepositBalanceUSD)
	if err != nil {
		return RawOpportunity{}, fmt.Errorf("totalDepositBalanceUSD: %w", err)
	}
	borrows, err := parseDecimal(market.TotalBorrowBalanceUSD)
	if err != nil {
		return RawOpportunity{}, fmt.Errorf("totalBorrowBalanceUSD: %w", err)
	}

	available := deposits.Sub(borrows)
	if available.IsNegative() {
		available = decimal.Zero
	}

	best := decimal.Zero
	for _, r := range market.Rates {
		if !strings.EqualFold(r.Side, "LENDER") {
			continue
		}
		rate, err := parseDecimal(r.Rate)
		if err != nil {
			return RawOpportunity{}, fmt.Errorf("rate: %w", err)
		}
		if rate.GreaterThan(best) {
			best = rate
		}
	}

	apy := best.InexactFloat64()
	return RawOpportunity{
		Protocol:      s.endpoint.Protocol,
		Chain:         s.endpoint.Chain,
		Symbol:        market.InputToken.Symbol,
		APY:           apy,
		APYBase:       apy,
		TVLUSD:        tvl.InexactFloat64(),
		USDCLiquidity: available.InexactFloat64(),
		Category:      string(types.CategoryLending),
		Source:        s.Name(),
	}, nil
}

// parseDecimal treats an empty string as zero; subgraphs omit unset BigDecimals.
func parseDecimal(raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}
