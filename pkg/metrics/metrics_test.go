package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesCounters(t *testing.T) {
	r := New()
	r.SubscriptionOpened()
	r.SubscriptionOpened()
	r.SubscriptionClosed()
	r.TxOutcome("deposit", "success")
	r.FeedError("trades")
	r.ClientConnected()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		"dexgate_active_subscriptions 1",
		"dexgate_connected_clients 1",
		`dexgate_tx_outcomes_total{kind="deposit",result="success"} 1`,
		`dexgate_feed_errors_total{feed="trades"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	r.SubscriptionOpened()
	r.SubscriptionClosed()
	r.TxOutcome("withdraw", "failure")
	r.FeedError("orderBook")
	r.ClientConnected()
	r.ClientDisconnected()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
