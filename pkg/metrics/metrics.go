// Package metrics exposes a Prometheus registry with series for task
// throughput, proof-cache effectiveness, settlement retries, rate-limit
// rejections, TEE health and queue depth, grounded on the
// registry/gauge/counter wiring used by the other example repos'
// system-health loggers. cmd/agent updates only the rate-limit rejection
// counter and the TEE health gauge; nothing updates the task, cache,
// settlement-retry or queue-depth series, so they stay at zero.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric the agent emits behind a dedicated
// prometheus.Registry, so /metrics never pulls in Go-runtime defaults the
// teacher's own dashboards don't expect.
type Registry struct {
	registry *prometheus.Registry

	TasksProcessed   *prometheus.CounterVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	SettlementRetries prometheus.Counter
	RateLimitRejected prometheus.Counter
	TEEHealthy       prometheus.Gauge
	QueueDepth       prometheus.Gauge
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		TasksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proofagent_tasks_processed_total",
			Help: "Total number of tasks the worker pool has driven to a terminal state, by skill and outcome.",
		}, []string{"skill", "status"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proofagent_proof_cache_hits_total",
			Help: "Total number of generate_proof calls served from the proof cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proofagent_proof_cache_misses_total",
			Help: "Total number of generate_proof calls that required invoking the prover.",
		}),
		SettlementRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proofagent_settlement_retries_total",
			Help: "Total number of payment settlement attempts that were retried after a transient failure.",
		}),
		RateLimitRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proofagent_rate_limit_rejected_total",
			Help: "Total number of requests rejected by the rate limiter.",
		}),
		TEEHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proofagent_tee_healthy",
			Help: "1 if the configured TEE provider's last health check succeeded, 0 otherwise.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proofagent_task_queue_depth",
			Help: "Approximate number of tasks currently queued for processing.",
		}),
	}

	reg.MustRegister(
		r.TasksProcessed,
		r.CacheHits,
		r.CacheMisses,
		r.SettlementRetries,
		r.RateLimitRejected,
		r.TEEHealthy,
		r.QueueDepth,
	)
	return r
}

// Handler returns the /metrics exposition endpoint for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// SetTEEHealthy records the outcome of the most recent TEE health check.
func (r *Registry) SetTEEHealthy(ok bool) {
	if ok {
		r.TEEHealthy.Set(1)
	} else {
		r.TEEHealthy.Set(0)
	}
}
