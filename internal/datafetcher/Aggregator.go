/*
This file contains the aggregator that fans out to every configured source, normalizes what comes
back and reports, per source, what happened.

A source failing never aborts the others. When every live source fails the aggregator either serves
the configured fixture (and says so through FellBack) or returns ErrDataSourceUnavailable.
*/

package datafetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/elys-network/yield-router/internal/datafetcher/cache"
	"github.com/elys-network/yield-router/internal/logger"
	"github.com/elys-network/yield-router/internal/types"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxConcurrentFetches = 4
	DefaultSourceTimeout        = 20 * time.Second
	DefaultCacheTTL             = 5 * time.Minute
)

const (
	StateOK          = "ok"
	StateCached      = "cached"
	StateFailed      = "failed"
	StateBreakerOpen = "breaker_open"
	StateFallback    = "fallback"
)

// AggregatorConfig wires sources and fetch policy. Zero values fall back to the defaults above.
type AggregatorConfig struct {
	Sources  []Source
	Fallback Source // optional; only consulted when every live source fails

	Cache    cache.Cache // optional
	CacheTTL time.Duration

	SourceTimeout        time.Duration
	MaxConcurrentFetches int

	// Chains restricts output to these chains when non-empty.
	Chains []string
}

// FetchReport is the outcome of one aggregated fetch.
type FetchReport struct {
	Opportunities []types.Opportunity
	Sources       []types.SourceStatus
	Partial       bool // at least one live source failed
	FellBack      bool // opportunities come from the fallback fixture
	Rejected      int  // records dropped by the normalizer
}

// Aggregator fetches opportunities from all configured sources.
type Aggregator struct {
	cfg      AggregatorConfig
	breakers map[string]*gobreaker.CircuitBreaker
	chains   map[string]bool
	logger   zerolog.Logger
}

func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = DefaultMaxConcurrentFetches
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = DefaultSourceTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	breakers := make(map[string]*gobreaker.CircuitBreaker, len(cfg.Sources))
	for _, src := range cfg.Sources {
		breakers[src.Name()] = newSourceBreaker(src.Name())
	}

	var chains map[string]bool
	if len(cfg.Chains) > 0 {
		chains = make(map[string]bool, len(cfg.Chains))
		for _, c := range cfg.Chains {
			chains[strings.ToLower(strings.TrimSpace(c))] = true
		}
	}

	return &Aggregator{cfg: cfg, breakers: breakers, chains: chains, logger: logger.GetForComponent("aggregator")}
}

type sourceResult struct {
	records []RawOpportunity
	status  types.SourceStatus
	err     error
}

// Fetch runs one aggregated fetch. The report is returned alongside ErrDataSourceUnavailable so
// callers can still see per-source statuses.
func (a *Aggregator) Fetch(ctx context.Context) (FetchReport, error) {
	aggLogger := logger.GetForComponent("aggregator")

	results := make([]sourceResult, len(a.cfg.Sources))
	var g errgroup.Group
	g.SetLimit(a.cfg.MaxConcurrentFetches)
	for i, src := range a.cfg.Sources {
		g.Go(func() error {
			results[i] = a.fetchSource(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	var report FetchReport
	var raw []RawOpportunity
	var failures []error
	for _, r := range results {
		report.Sources = append(report.Sources, r.status)
		if r.err != nil {
			failures = append(failures, r.err)
			continue
		}
		raw = append(raw, r.records...)
	}
	report.Partial = len(failures) > 0

	if len(failures) == len(a.cfg.Sources) {
		if a.cfg.Fallback == nil {
			aggLogger.Error().Int("sources", len(a.cfg.Sources)).Msg("All data sources failed and no fallback is configured")
			return report, unavailable(failures)
		}

		fallback := a.fetchFallback(ctx)
		report.Sources = append(report.Sources, fallback.status)
		if fallback.err != nil {
			aggLogger.Error().Err(fallback.err).Msg("All data sources failed, fallback fixture unusable")
			return report, unavailable(append(failures, fallback.err))
		}
		aggLogger.Warn().
			Int("records", len(fallback.records)).
			Msg("All live data sources failed, serving simulated fallback opportunities")
		report.FellBack = true
		raw = fallback.records
	}

	report.Opportunities, report.Rejected = a.normalize(raw)

	aggLogger.Info().
		Int("opportunities", len(report.Opportunities)).
		Int("rejected", report.Rejected).
		Bool("partial", report.Partial).
		Bool("fellBack", report.FellBack).
		Msg("Aggregated opportunities")
	return report, nil
}

func (a *Aggregator) fetchSource(ctx context.Context, src Source) sourceResult {
	name := src.Name()
	start := time.Now()

	if records, ok := a.cached(ctx, name); ok {
		return sourceResult{
			records: records,
			status:  types.SourceStatus{Source: name, State: StateCached, Records: len(records), Latency: time.Since(start)},
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, a.cfg.SourceTimeout)
	defer cancel()

	out, err := a.breakers[name].Execute(func() (interface{}, error) {
		return src.Fetch(fetchCtx)
	})
	latency := time.Since(start)
	if err != nil {
		state := StateFailed
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			state = StateBreakerOpen
		}
		a.logger.Warn().
			Err(err).
			Str("source", name).
			Str("state", state).
			Dur("latency", latency).
			Msg("Data source failed")
		return sourceResult{
			status: types.SourceStatus{Source: name, State: state, Latency: latency, Error: err.Error()},
			err:    &SourceError{Source: name, Err: errors.Join(ErrDataSourceUnavailable, err)},
		}
	}

	records, _ := out.([]RawOpportunity)
	a.store(ctx, name, records)
	return sourceResult{
		records: records,
		status:  types.SourceStatus{Source: name, State: StateOK, Records: len(records), Latency: latency},
	}
}

func (a *Aggregator) fetchFallback(ctx context.Context) sourceResult {
	name := a.cfg.Fallback.Name()
	start := time.Now()
	records, err := a.cfg.Fallback.Fetch(ctx)
	latency := time.Since(start)
	if err != nil {
		return sourceResult{
			status: types.SourceStatus{Source: name, State: StateFailed, Simulated: true, Latency: latency, Error: err.Error()},
			err:    &SourceError{Source: name, Err: errors.Join(ErrDataSourceUnavailable, err)},
		}
	}
	for i := range records {
		records[i].Simulated = true
	}
	return sourceResult{
		records: records,
		status:  types.SourceStatus{Source: name, State: StateFallback, Records: len(records), Simulated: true, Latency: latency},
	}
}

func (a *Aggregator) cached(ctx context.Context, name string) ([]RawOpportunity, bool) {
	if a.cfg.Cache == nil {
		return nil, false
	}
	payload, ok, err := a.cfg.Cache.Get(ctx, name)
	if err != nil {
		a.logger.Warn().Err(err).Str("source", name).Msg("Cache read failed, fetching live")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var records []RawOpportunity
	if err := json.Unmarshal(payload, &records); err != nil {
		a.logger.Warn().Err(err).Str("source", name).Msg("Discarding undecodable cache entry")
		return nil, false
	}
	return records, true
}

func (a *Aggregator) store(ctx context.Context, name string, records []RawOpportunity) {
	if a.cfg.Cache == nil {
		return
	}
	payload, err := json.Marshal(records)
	if err == nil {
		err = a.cfg.Cache.Set(ctx, name, payload, a.cfg.CacheTTL)
	}
	if err != nil {
		a.logger.Warn().Err(err).Str("source", name).Msg("Cache write failed")
	}
}

func (a *Aggregator) normalize(raw []RawOpportunity) ([]types.Opportunity, int) {
	normLogger := logger.GetForComponent("normalizer")
	rejected := 0
	opportunities := make([]types.Opportunity, 0, len(raw))
	for _, r := range raw {
		o, err := NormalizeRecord(r)
		if err != nil {
			rejected++
			normLogger.Warn().Err(err).Str("source", r.Source).Msg("Rejected opportunity record")
			continue
		}
		if a.chains != nil && !a.chains[o.Chain] {
			continue
		}
		opportunities = append(opportunities, o)
	}
	return Dedupe(opportunities), rejected
}

func unavailable(failures []error) error {
	if len(failures) == 0 {
		return errors.Join(ErrDataSourceUnavailable, fmt.Errorf("no data sources configured"))
	}
	return errors.Join(failures...)
}
