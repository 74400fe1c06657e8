// Package metrics defines the Prometheus collectors for ingestion, embedding,
// analysis and relation discovery. A nil *Registry is valid and records
// nothing, so components can be built without metrics in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "polyrelate"

// Registry holds every collector the service exports.
type Registry struct {
	reg *prometheus.Registry

	MarketsSynced       prometheus.Counter
	EmbeddingsWritten   *prometheus.CounterVec
	ProviderDuration    *prometheus.HistogramVec
	AnalysisCache       *prometheus.CounterVec
	DiscoveryRuns       *prometheus.CounterVec
	DiscoveryDuration   prometheus.Histogram
	DiscoveryRelations  *prometheus.CounterVec
	DiscoveryCandidates prometheus.Counter
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
}

// New creates a Registry with process and Go runtime collectors attached.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		MarketsSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "markets_synced_total",
			Help:      "Markets upserted from the Gamma API.",
		}),
		EmbeddingsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embeddings_total",
			Help:      "Market embeddings processed by result.",
		}, []string{"result"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Latency of embedding and analysis provider calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"op", "result"}),
		AnalysisCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_cache_total",
			Help:      "Analysis cache lookups by outcome.",
		}, []string{"outcome"}),
		DiscoveryRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_runs_total",
			Help:      "Relation rebuild runs by result.",
		}, []string{"result"}),
		DiscoveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "discovery_run_duration_seconds",
			Help:      "Wall time of relation rebuild runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		DiscoveryRelations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relations_total",
			Help:      "Relations committed by discovery, by outcome.",
		}, []string{"outcome"}),
		DiscoveryCandidates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_candidates_total",
			Help:      "Candidate pairs that passed the similarity threshold.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.MarketsSynced,
		r.EmbeddingsWritten,
		r.ProviderDuration,
		r.AnalysisCache,
		r.DiscoveryRuns,
		r.DiscoveryDuration,
		r.DiscoveryRelations,
		r.DiscoveryCandidates,
		r.HTTPRequests,
		r.HTTPDuration,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveProvider records one provider call.
func (r *Registry) ObserveProvider(op string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.ProviderDuration.WithLabelValues(op, result(err)).Observe(d.Seconds())
}

// AddMarketsSynced counts upserted markets.
func (r *Registry) AddMarketsSynced(n int) {
	if r == nil {
		return
	}
	r.MarketsSynced.Add(float64(n))
}

// AddEmbeddings counts created and failed embeddings.
func (r *Registry) AddEmbeddings(created, failed int) {
	if r == nil {
		return
	}
	r.EmbeddingsWritten.WithLabelValues("created").Add(float64(created))
	r.EmbeddingsWritten.WithLabelValues("failed").Add(float64(failed))
}

// AnalysisCacheLookup records a cache hit or miss.
func (r *Registry) AnalysisCacheLookup(hit bool) {
	if r == nil {
		return
	}
	if hit {
		r.AnalysisCache.WithLabelValues("hit").Inc()
		return
	}
	r.AnalysisCache.WithLabelValues("miss").Inc()
}

// DiscoveryCounts is the subset of a rebuild report that is exported.
type DiscoveryCounts struct {
	Candidates int
	Created    int
	Updated    int
	Skipped    int
	Failed     int
}

// ObserveDiscovery records a finished rebuild. runResult is "ok", "error",
// "canceled" or "locked".
func (r *Registry) ObserveDiscovery(runResult string, d time.Duration, c DiscoveryCounts) {
	if r == nil {
		return
	}
	r.DiscoveryRuns.WithLabelValues(runResult).Inc()
	if runResult == "locked" {
		return
	}
	r.DiscoveryDuration.Observe(d.Seconds())
	r.DiscoveryCandidates.Add(float64(c.Candidates))
	r.DiscoveryRelations.WithLabelValues("created").Add(float64(c.Created))
	r.DiscoveryRelations.WithLabelValues("updated").Add(float64(c.Updated))
	r.DiscoveryRelations.WithLabelValues("skipped").Add(float64(c.Skipped))
	r.DiscoveryRelations.WithLabelValues("failed").Add(float64(c.Failed))
}

// ObserveHTTP records one served request.
func (r *Registry) ObserveHTTP(method, route string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
