package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerCounters(t *testing.T) {
	h := New()

	h.IncFlows()
	h.IncFlows()
	h.IncDecision("drop")
	h.IncFailure("inference")
	h.IncRuleApplied("log")
	h.IncRuleVetoed("protected")
	h.ObserveInferenceLatency(120*time.Millisecond, "ollama", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.FlowsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.DecisionsTotal.WithLabelValues("drop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.FailuresTotal.WithLabelValues("inference")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.RulesApplied.WithLabelValues("log")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.RulesVetoed.WithLabelValues("protected")))
	assert.Equal(t, 1, testutil.CollectAndCount(h.InferenceLatency))
}

func TestHandlersAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.IncFlows()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.FlowsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.FlowsTotal))
}

func TestNilHandlerIsNoop(t *testing.T) {
	var h *Handler
	assert.NotPanics(t, func() {
		h.IncFlows()
		h.IncDecision("none")
		h.ObserveInferenceLatency(time.Second, "openai", false)
	})
}

func TestHTTPHandlerExposesMetrics(t *testing.T) {
	h := New()
	h.IncFlows()

	rec := httptest.NewRecorder()
	h.HTTPHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "flowguard_flows_total 1")
}
