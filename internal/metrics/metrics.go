package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors of one process. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Joins           *prometheus.CounterVec
	SweepCampaigns  *prometheus.CounterVec
	SweepDuration   *prometheus.HistogramVec
	OutboxPublished *prometheus.CounterVec
	Notifications   *prometheus.CounterVec
	Requests        *prometheus.CounterVec
	LatencyMS       *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupbuy",
			Name:      "join_total",
			Help:      "Join attempts by outcome (ok or error kind).",
		}, []string{"outcome"}),
		SweepCampaigns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupbuy",
			Name:      "sweep_campaigns_total",
			Help:      "Campaigns handled by lifecycle sweeps.",
		}, []string{"sweep", "outcome"}),
		SweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "groupbuy",
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of one sweep.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sweep"}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupbuy",
			Name:      "outbox_published_total",
			Help:      "Outbox events handed to the broker.",
		}, []string{"result"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupbuy",
			Name:      "notifications_total",
			Help:      "Consumed events by event type and result (delivered, duplicate, error).",
		}, []string{"event_type", "result"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupbuy",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "groupbuy",
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
	}
	reg.MustRegister(m.Joins, m.SweepCampaigns, m.SweepDuration, m.OutboxPublished, m.Notifications, m.Requests, m.LatencyMS)
	return m
}

func (m *Metrics) Join(outcome string) {
	if m == nil {
		return
	}
	m.Joins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Sweep(sweep, outcome string) {
	if m == nil {
		return
	}
	m.SweepCampaigns.WithLabelValues(sweep, outcome).Inc()
}

func (m *Metrics) SweepTook(sweep string, d time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.WithLabelValues(sweep).Observe(d.Seconds())
}

func (m *Metrics) Published(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.OutboxPublished.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) Notified(eventType, result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) Request(route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, status).Inc()
	m.LatencyMS.WithLabelValues(route).Observe(float64(d.Milliseconds()))
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
