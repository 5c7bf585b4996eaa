package datafetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elys-network/yield-router/internal/datafetcher/cache"
	"github.com/elys-network/yield-router/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	name    string
	records []RawOpportunity
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(ctx context.Context) ([]RawOpportunity, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]RawOpportunity, len(f.records))
	copy(out, f.records)
	return out, nil
}

func raw(protocol, chain string, tvl float64) RawOpportunity {
	return RawOpportunity{Protocol: protocol, Chain: chain, APY: 5, TVLUSD: tvl, USDCLiquidity: tvl / 2, Category: "lending"}
}

func TestAggregatorMergesSources(t *testing.T) {
	a := &fakeSource{name: "a", records: []RawOpportunity{raw("aave-v3", "ethereum", 100), raw("bad", "ethereum", -1)}}
	b := &fakeSource{name: "b", records: []RawOpportunity{raw("aave-v3", "ethereum", 300), raw("morpho", "base", 50)}}

	report, err := NewAggregator(AggregatorConfig{Sources: []Source{a, b}}).Fetch(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Partial)
	assert.False(t, report.FellBack)
	assert.Equal(t, 1, report.Rejected)
	require.Len(t, report.Opportunities, 2)
	assert.Equal(t, 300.0, report.Opportunities[0].TVLUSD, "dedupe keeps the larger TVL")
	assert.Equal(t, "morpho", report.Opportunities[1].Protocol)

	require.Len(t, report.Sources, 2)
	assert.Equal(t, StateOK, report.Sources[0].State)
	assert.Equal(t, 2, report.Sources[0].Records)
}

func TestAggregatorPartialFailure(t *testing.T) {
	ok := &fakeSource{name: "ok", records: []RawOpportunity{raw("aave-v3", "ethereum", 100)}}
	broken := &fakeSource{name: "broken", err: errors.New("boom")}
	fallback := &fakeSource{name: "fixture", records: []RawOpportunity{raw("sim", "ethereum", 1)}}

	report, err := NewAggregator(AggregatorConfig{Sources: []Source{ok, broken}, Fallback: fallback}).Fetch(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Partial)
	assert.False(t, report.FellBack, "fallback is only used when every live source fails")
	assert.Equal(t, int32(0), fallback.calls.Load())
	assert.Equal(t, StateFailed, report.Sources[1].State)
	assert.Contains(t, report.Sources[1].Error, "boom")
	require.Len(t, report.Opportunities, 1)
	assert.False(t, report.Opportunities[0].Simulated)
}

func TestAggregatorAllFailWithoutFallback(t *testing.T) {
	a := &fakeSource{name: "a", err: errors.New("dns")}
	b := &fakeSource{name: "b", err: errors.New("timeout")}

	report, err := NewAggregator(AggregatorConfig{Sources: []Source{a, b}}).Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataSourceUnavailable)

	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, "a", srcErr.Source)

	assert.Empty(t, report.Opportunities)
	assert.Len(t, report.Sources, 2)
}

func TestAggregatorFallsBackVisibly(t *testing.T) {
	a := &fakeSource{name: "a", err: errors.New("dns")}
	fallback := &fakeSource{name: "fixture", records: []RawOpportunity{raw("aave-v3", "ethereum", 1e9)}}

	report, err := NewAggregator(AggregatorConfig{Sources: []Source{a}, Fallback: fallback}).Fetch(context.Background())
	require.NoError(t, err)

	assert.True(t, report.FellBack)
	assert.True(t, report.Partial)
	require.Len(t, report.Sources, 2)
	assert.Equal(t, StateFallback, report.Sources[1].State)
	assert.True(t, report.Sources[1].Simulated)
	require.Len(t, report.Opportunities, 1)
	assert.True(t, report.Opportunities[0].Simulated)
}

func TestAggregatorFallbackFailure(t *testing.T) {
	a := &fakeSource{name: "a", err: errors.New("dns")}
	fallback := &fakeSource{name: "fixture", err: errors.New("missing file")}

	_, err := NewAggregator(AggregatorConfig{Sources: []Source{a}, Fallback: fallback}).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrDataSourceUnavailable)
}

func TestAggregatorNoSources(t *testing.T) {
	_, err := NewAggregator(AggregatorConfig{}).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrDataSourceUnavailable)
}

func TestAggregatorSourceTimeout(t *testing.T) {
	slow := &fakeSource{name: "slow", delay: time.Second, records: []RawOpportunity{raw("x", "y", 1)}}
	fast := &fakeSource{name: "fast", records: []RawOpportunity{raw("aave-v3", "ethereum", 1)}}

	report, err := NewAggregator(AggregatorConfig{
		Sources:       []Source{slow, fast},
		SourceTimeout: 20 * time.Millisecond,
	}).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFailed, report.Sources[0].State)
	assert.Contains(t, report.Sources[0].Error, context.DeadlineExceeded.Error())
	assert.Len(t, report.Opportunities, 1)
}

func TestAggregatorBreakerOpens(t *testing.T) {
	broken := &fakeSource{name: "broken", err: errors.New("boom")}
	healthy := &fakeSource{name: "healthy", records: []RawOpportunity{raw("aave-v3", "ethereum", 1)}}
	agg := NewAggregator(AggregatorConfig{Sources: []Source{broken, healthy}})

	for i := 0; i < 3; i++ {
		_, err := agg.Fetch(context.Background())
		require.NoError(t, err)
	}
	report, err := agg.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateBreakerOpen, report.Sources[0].State)
	assert.Equal(t, int32(3), broken.calls.Load(), "open breaker short-circuits the source")
}

func TestAggregatorUsesCache(t *testing.T) {
	c := cache.NewMemory()
	payload, err := json.Marshal([]RawOpportunity{raw("cached", "ethereum", 10)})
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), "a", payload, time.Minute))

	a := &fakeSource{name: "a", records: []RawOpportunity{raw("live", "ethereum", 10)}}
	b := &fakeSource{name: "b", records: []RawOpportunity{raw("fresh", "base", 10)}}
	agg := NewAggregator(AggregatorConfig{Sources: []Source{a, b}, Cache: c})

	report, err := agg.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(0), a.calls.Load())
	assert.Equal(t, StateCached, report.Sources[0].State)
	assert.Equal(t, "cached", report.Opportunities[0].Protocol)

	_, ok, err := c.Get(context.Background(), "b")
	require.NoError(t, err)
	assert.True(t, ok, "live results are written back")

	_, err = agg.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestAggregatorChainFilter(t *testing.T) {
	src := &fakeSource{name: "a", records: []RawOpportunity{raw("aave-v3", "Ethereum", 1), raw("morpho", "base", 1)}}
	report, err := NewAggregator(AggregatorConfig{Sources: []Source{src}, Chains: []string{"ETHEREUM"}}).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Opportunities, 1)
	assert.Equal(t, "ethereum", report.Opportunities[0].Chain)
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("redis: connection refused")
}

func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("redis: connection refused")
}

func TestAggregatorLogsCacheFailuresAndFetchesLive(t *testing.T) {
	var buf bytes.Buffer
	logger.InitializeWithWriter("info", &buf)
	t.Cleanup(func() { logger.InitializeWithWriter("info", os.Stderr) })

	src := &fakeSource{name: "a", records: []RawOpportunity{raw("aave-v3", "ethereum", 10)}}
	report, err := NewAggregator(AggregatorConfig{Sources: []Source{src}, Cache: brokenCache{}}).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateOK, report.Sources[0].State)
	assert.Equal(t, int32(1), src.calls.Load())

	out := buf.String()
	assert.Contains(t, out, `"component":"aggregator"`)
	assert.Contains(t, out, "Cache read failed, fetching live")
	assert.Contains(t, out, "Cache write failed")
}
