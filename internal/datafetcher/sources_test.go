package datafetcher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elys-network/yield-router/internal/config"
	"github.com/elys-network/yield-router/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defiLlamaBody = `{
  "status": "success",
  "data": [
    {"pool": "1", "chain": "Ethereum", "project": "aave-v3", "symbol": "USDC", "tvlUsd": 1200000000, "apy": 4.1, "apyBase": 4.1, "apyReward": null, "stablecoin": true, "exposure": "single"},
    {"pool": "2", "chain": "Ethereum", "project": "uniswap-v3", "symbol": "USDC-WETH", "tvlUsd": 300000000, "apy": 18, "apyBase": 18, "apyReward": 0, "stablecoin": false, "exposure": "multi"},
    {"pool": "3", "chain": "Ethereum", "project": "curve-dex", "symbol": "DAI-USDC-USDT", "tvlUsd": 150000000, "apy": 2.5, "apyBase": 1, "apyReward": 1.5, "stablecoin": true, "exposure": "multi"},
    {"pool": "4", "chain": "Arbitrum", "project": "gmx", "symbol": "USDC.E", "tvlUsd": 90000000, "apy": null, "apyBase": 2, "apyReward": 6, "stablecoin": true, "exposure": "single"},
    {"pool": "5", "chain": "Ethereum", "project": "lido", "symbol": "STETH", "tvlUsd": 30000000000, "apy": 3, "stablecoin": false, "exposure": "single"}
  ]
}`

func TestDefiLlamaSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = io.WriteString(w, defiLlamaBody)
	}))
	defer srv.Close()

	src := NewDefiLlamaSource(srv.URL, srv.Client(), nil)
	records, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 4, "non-USDC pools are dropped")

	byProtocol := make(map[string]RawOpportunity)
	for _, r := range records {
		byProtocol[r.Protocol] = r
	}

	aave := byProtocol["aave-v3"]
	assert.Equal(t, string(types.CategoryLending), aave.Category)
	assert.Equal(t, aave.TVLUSD, aave.USDCLiquidity)

	uni := byProtocol["uniswap-v3"]
	assert.Equal(t, string(types.CategoryLPPool), uni.Category)
	assert.InDelta(t, 150000000, uni.USDCLiquidity, 1e-6)

	curve := byProtocol["curve-dex"]
	assert.Equal(t, string(types.CategoryStableLP), curve.Category)
	assert.InDelta(t, 50000000, curve.USDCLiquidity, 1e-6)

	gmx := byProtocol["gmx"]
	assert.Equal(t, string(types.CategoryYieldFarm), gmx.Category)
	assert.InDelta(t, 8, gmx.APY, 1e-12)
	assert.Equal(t, DefiLlamaSourceName, gmx.Source)
}

func TestDefiLlamaSourceRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"status":"success","data":[]}`)
	}))
	defer srv.Close()

	src := NewDefiLlamaSource(srv.URL, srv.Client(), NewHostLimiter(100, 10))
	src.feed.backoff = time.Millisecond

	records, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDefiLlamaSourceDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	src := NewDefiLlamaSource(srv.URL, srv.Client(), nil)
	src.feed.backoff = time.Millisecond

	_, err := src.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubgraphSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, "markets")

		_, _ = io.WriteString(w, `{"data":{"markets":[
		  {"id":"0x1","inputToken":{"symbol":"USDC"},
		   "totalValueLockedUSD":"812345678.123456789",
		   "totalDepositBalanceUSD":"800000000.5",
		   "totalBorrowBalanceUSD":"600000000.25",
		   "rates":[{"rate":"3.75","side":"LENDER","type":"VARIABLE"},
		            {"rate":"1.2","side":"LENDER","type":"STABLE"},
		            {"rate":"5.9","side":"BORROWER","type":"VARIABLE"}]},
		  {"id":"0x2","inputToken":{"symbol":"USDC.e"},
		   "totalValueLockedUSD":"100","totalDepositBalanceUSD":"10","totalBorrowBalanceUSD":"20","rates":[]},
		  {"id":"0x3","inputToken":{"symbol":"USDC"},
		   "totalValueLockedUSD":"not-a-number","totalDepositBalanceUSD":"0","totalBorrowBalanceUSD":"0","rates":[]}
		]}}`)
	}))
	defer srv.Close()

	src := NewSubgraphSource(config.SubgraphEndpoint{Protocol: "compound-v3", Chain: "base", URL: srv.URL}, srv.Client(), nil)
	assert.Equal(t, "subgraph:compound-v3@base", src.Name())

	records, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2, "unparseable market is skipped")

	assert.Equal(t, "compound-v3", records[0].Protocol)
	assert.Equal(t, "base", records[0].Chain)
	assert.InDelta(t, 3.75, records[0].APY, 1e-12)
	assert.InDelta(t, 812345678.123456789, records[0].TVLUSD, 1e-3)
	assert.InDelta(t, 200000000.25, records[0].USDCLiquidity, 1e-6)
	assert.Equal(t, string(types.CategoryLending), records[0].Category)

	assert.Equal(t, 0.0, records[1].USDCLiquidity, "borrows above deposits floor at zero")
	assert.Equal(t, 0.0, records[1].APY)
}

func TestSubgraphSourceGraphQLErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":null,"errors":[{"message":"indexer unavailable"}]}`)
	}))
	defer srv.Close()

	src := NewSubgraphSource(config.SubgraphEndpoint{Protocol: "aave-v3", Chain: "ethereum", URL: srv.URL}, srv.Client(), nil)
	_, err := src.Fetch(context.Background())
	require.ErrorIs(t, err, ErrUnexpectedResponse)
	assert.Contains(t, err.Error(), "indexer unavailable")
}

func TestFixtureSourceMarksRecordsSimulated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opps.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"protocol":"aave-v3","chain":"ethereum","apy":4,"tvl_usd":1e9,"usdc_liquidity":1e8,"category":"lending"}]`), 0o600))

	records, err := NewFixtureSource(path).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Simulated)
	assert.Equal(t, FixtureSourceName, records[0].Source)
}

func TestFixtureSourceErrors(t *testing.T) {
	_, err := NewFixtureSource(filepath.Join(t.TempDir(), "missing.json")).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrInvalidFixture)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))
	_, err = NewFixtureSource(path).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrInvalidFixture)
}

func TestHostLimiterPerHost(t *testing.T) {
	l := NewHostLimiter(1, 1)
	assert.Same(t, l.getLimiter("a.example"), l.getLimiter("a.example"))
	assert.NotSame(t, l.getLimiter("a.example"), l.getLimiter("b.example"))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Wait(ctx, "a.example"))
	cancel()
	assert.Error(t, l.Wait(ctx, "a.example"), "second token is not available and ctx is cancelled")

	var nilLimiter *HostLimiter
	assert.NoError(t, nilLimiter.Wait(context.Background(), "any"))
}
