package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler owns the controller's Prometheus collectors. Each Handler has its
// own registry so several controllers (or tests) can coexist in one process.
// All methods are safe on a nil Handler.
type Handler struct {
	registry *prometheus.Registry

	FlowsTotal       prometheus.Counter
	DecisionsTotal   *prometheus.CounterVec
	FailuresTotal    *prometheus.CounterVec
	RulesApplied     *prometheus.CounterVec
	RulesVetoed      *prometheus.CounterVec
	InferenceLatency *prometheus.HistogramVec
}

func New() *Handler {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Handler{
		registry: reg,
		FlowsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowguard_flows_total",
			Help: "The total number of flows processed by the control loop",
		}),
		DecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowguard_decisions_total",
			Help: "The total number of decisions reached, by action",
		}, []string{"action"}),
		FailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowguard_failures_total",
			Help: "The total number of iterations that failed open, by stage",
		}, []string{"stage"}),
		RulesApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowguard_rules_applied_total",
			Help: "The total number of rule intents applied, by installer",
		}, []string{"installer"}),
		RulesVetoed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowguard_rules_vetoed_total",
			Help: "The total number of drop decisions vetoed by policy, by reason",
		}, []string{"reason"}),
		InferenceLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowguard_inference_latency_seconds",
			Help:    "The latency of classifier calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "success"}),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (h *Handler) Registry() *prometheus.Registry {
	return h.registry
}

// HTTPHandler serves this handler's registry in the Prometheus text format.
func (h *Handler) HTTPHandler() http.Handler {
	if h == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})
}

// IncFlows increments the processed flows counter
func (h *Handler) IncFlows() {
	if h == nil {
		return
	}
	h.FlowsTotal.Inc()
}

// IncDecision increments the decisions counter
func (h *Handler) IncDecision(action string) {
	if h == nil {
		return
	}
	h.DecisionsTotal.WithLabelValues(action).Inc()
}

// IncFailure increments the failures counter
func (h *Handler) IncFailure(stage string) {
	if h == nil {
		return
	}
	h.FailuresTotal.WithLabelValues(stage).Inc()
}

// IncRuleApplied increments the applied rules counter
func (h *Handler) IncRuleApplied(installer string) {
	if h == nil {
		return
	}
	h.RulesApplied.WithLabelValues(installer).Inc()
}

// IncRuleVetoed increments the vetoed rules counter
func (h *Handler) IncRuleVetoed(reason string) {
	if h == nil {
		return
	}
	h.RulesVetoed.WithLabelValues(reason).Inc()
}

// ObserveInferenceLatency records the latency of a classifier call
func (h *Handler) ObserveInferenceLatency(duration time.Duration, provider string, success bool) {
	if h == nil {
		return
	}
	h.InferenceLatency.WithLabelValues(provider, strconv.FormatBool(success)).Observe(duration.Seconds())
}
