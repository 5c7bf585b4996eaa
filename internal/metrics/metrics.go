/*
This file contains the Prometheus collectors for the router: cycle outcomes, data source health,
the allocation produced each cycle and the transfers it required.
*/

package metrics

import (
	"net/http"

	"github.com/elys-network/yield-router/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every router collector, registered on its own registry.
type Registry struct {
	registry *prometheus.Registry

	CyclesTotal    *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
	LastCycleTime  prometheus.Gauge
	SourceFetches  *prometheus.CounterVec
	SourceLatency  *prometheus.HistogramVec
	SourceRecords  *prometheus.GaugeVec
	FallbackTotal  prometheus.Counter
	Eligible       prometheus.Gauge
	AllocatedUSDC  *prometheus.GaugeVec
	RemainingUSDC  prometheus.Gauge
	ChainBalance   *prometheus.GaugeVec
	TransfersTotal *prometheus.CounterVec
	TransferVolume *prometheus.CounterVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Registry{
		registry: reg,
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "yield_router_cycles_total",
			Help: "Routing cycles by final status",
		}, []string{"status"}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "yield_router_cycle_duration_seconds",
			Help:    "Wall time of a routing cycle",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		LastCycleTime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "yield_router_last_cycle_timestamp_seconds",
			Help: "Unix time the last cycle finished",
		}),
		SourceFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "yield_router_source_fetches_total",
			Help: "Data source fetches by source and state",
		}, []string{"source", "state"}),
		SourceLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "yield_router_source_latency_seconds",
			Help:    "Data source fetch latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		SourceRecords: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "yield_router_source_records",
			Help: "Records returned by each source in the last fetch",
		}, []string{"source"}),
		FallbackTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "yield_router_fallback_total",
			Help: "Cycles that ran on simulated fallback data",
		}),
		Eligible: factory.NewGauge(prometheus.GaugeOpts{
			Name: "yield_router_eligible_opportunities",
			Help: "Opportunities that passed the quality filter in the last cycle",
		}),
		AllocatedUSDC: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "yield_router_allocated_usdc",
			Help: "Target allocation per opportunity in the last cycle",
		}, []string{"protocol", "chain"}),
		RemainingUSDC: factory.NewGauge(prometheus.GaugeOpts{
			Name: "yield_router_unallocated_usdc",
			Help: "Investable amount left unallocated in the last cycle",
		}),
		ChainBalance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "yield_router_chain_balance_usdc",
			Help: "Observed USDC balance per chain",
		}, []string{"chain"}),
		TransfersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "yield_router_transfers_total",
			Help: "Cross-chain transfers by route and receipt status",
		}, []string{"source", "destination", "status"}),
		TransferVolume: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "yield_router_transfer_volume_usdc_total",
			Help: "USDC moved across chains",
		}, []string{"source", "destination"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// ObserveCycle records the outcome of a finished cycle.
func (r *Registry) ObserveCycle(snapshot types.CycleSnapshot) {
	r.CyclesTotal.WithLabelValues(string(snapshot.Status)).Inc()
	r.CycleDuration.Observe(snapshot.Duration.Seconds())
	r.LastCycleTime.Set(float64(snapshot.Timestamp.Add(snapshot.Duration).Unix()))
	if snapshot.FellBack {
		r.FallbackTotal.Inc()
	}
	r.Eligible.Set(float64(snapshot.OpportunitiesEligible))
}

func (r *Registry) ObserveSources(statuses []types.SourceStatus) {
	for _, s := range statuses {
		r.SourceFetches.WithLabelValues(s.Source, s.State).Inc()
		r.SourceLatency.WithLabelValues(s.Source).Observe(s.Latency.Seconds())
		r.SourceRecords.WithLabelValues(s.Source).Set(float64(s.Records))
	}
}

// ObserveAllocation replaces the allocation gauges with the latest plan.
func (r *Registry) ObserveAllocation(allocation types.Allocation, remaining float64) {
	r.AllocatedUSDC.Reset()
	for key, amount := range allocation {
		r.AllocatedUSDC.WithLabelValues(key.Protocol, key.Chain).Set(amount)
	}
	r.RemainingUSDC.Set(remaining)
}

func (r *Registry) ObserveBalances(snapshot types.PortfolioSnapshot) {
	for chain, balance := range snapshot {
		r.ChainBalance.WithLabelValues(chain).Set(balance)
	}
}

func (r *Registry) ObserveTransfers(receipts []types.TransferReceipt) {
	for _, receipt := range receipts {
		a := receipt.Action
		r.TransfersTotal.WithLabelValues(a.Source, a.Destination, string(receipt.Status)).Inc()
		if receipt.Status == types.ReceiptCompleted {
			r.TransferVolume.WithLabelValues(a.Source, a.Destination).Add(a.Amount)
		}
	}
}
