package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetrics(reg)
	m.ObserveEvent("message", "replied", 0.2)
	m.ObserveEvent("message", "replied", 0.3)
	m.ObserveBlocked("QUIET_HOURS")
	m.ObserveTransition("NEW", "ENGAGED")
	m.ObserveAction("REPLY_NOW")
	m.ObserveResponse("generated", 1.2)
	m.ObserveDelivery("sms", "sent")
	m.ObserveConflict()

	families, err := reg.Gather()
	require.NoError(t, err)

	counts := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			counts[mf.GetName()] += counterValue(metric)
		}
	}
	assert.Equal(t, float64(2), counts["reengage_conversation_events_total"])
	assert.Equal(t, float64(1), counts["reengage_compliance_blocked_total"])
	assert.Equal(t, float64(1), counts["reengage_conversation_version_conflicts_total"])
	assert.Equal(t, float64(1), counts["reengage_messaging_deliveries_total"])
}

func TestEngineMetricsNilSafe(t *testing.T) {
	var m *EngineMetrics
	m.ObserveEvent("message", "replied", 0.1)
	m.ObserveBlocked("OPTED_OUT")
	m.ObserveConflict()
}

func counterValue(m *dto.Metric) float64 {
	if c := m.GetCounter(); c != nil {
		return c.GetValue()
	}
	return 0
}
