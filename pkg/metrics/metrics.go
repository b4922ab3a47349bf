// Package metrics exposes gateway counters over the Prometheus text format.
// All recording methods are safe on a nil *Registry, so components can run
// without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dexgate"

type Registry struct {
	reg *prometheus.Registry

	subscriptions prometheus.Gauge
	connections   prometheus.Gauge
	txOutcomes    *prometheus.CounterVec
	feedErrors    *prometheus.CounterVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_subscriptions",
			Help:      "Client feed subscriptions currently open.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Websocket clients currently connected.",
		}),
		txOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_outcomes_total",
			Help:      "Terminal transaction outcomes by action kind and result.",
		}, []string{"kind", "result"}),
		feedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_errors_total",
			Help:      "Skipped feed ticks and broken upstream subscriptions by feed.",
		}, []string{"feed"}),
	}
	r.reg.MustRegister(r.subscriptions, r.connections, r.txOutcomes, r.feedErrors)
	return r
}

func (r *Registry) SubscriptionOpened() {
	if r == nil {
		return
	}
	r.subscriptions.Inc()
}

func (r *Registry) SubscriptionClosed() {
	if r == nil {
		return
	}
	r.subscriptions.Dec()
}

func (r *Registry) ClientConnected() {
	if r == nil {
		return
	}
	r.connections.Inc()
}

func (r *Registry) ClientDisconnected() {
	if r == nil {
		return
	}
	r.connections.Dec()
}

// TxOutcome counts a terminal transaction reply. result is "success" or "failure".
func (r *Registry) TxOutcome(kind, result string) {
	if r == nil {
		return
	}
	r.txOutcomes.WithLabelValues(kind, result).Inc()
}

func (r *Registry) FeedError(feed string) {
	if r == nil {
		return
	}
	r.feedErrors.WithLabelValues(feed).Inc()
}

// Handler serves the registry for scraping.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
