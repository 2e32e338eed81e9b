package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Join("ok")
	m.Join("ok")
	m.Join("capacity_exceeded")
	m.Sweep("finalize", "failed")
	m.SweepTook("finalize", 20*time.Millisecond)
	m.Published("ok", 3)
	m.Published("error", 0)
	m.Request("join", "201", 5*time.Millisecond)
	m.Notified("campaign.successful", "delivered")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Joins.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Joins.WithLabelValues("capacity_exceeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepCampaigns.WithLabelValues("finalize", "failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OutboxPublished.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("campaign.successful", "delivered")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "groupbuy_join_total")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Join("ok")
		m.Sweep("activate", "activated")
		m.SweepTook("activate", time.Second)
		m.Published("ok", 1)
		m.Request("x", "200", time.Millisecond)
		m.Notified("order.completed", "error")
	})
}
