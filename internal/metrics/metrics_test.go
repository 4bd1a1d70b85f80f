package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequest(t *testing.T) {
	m := New()
	m.ObserveRequest("POST /api/v1/leaves", 201, 5*time.Millisecond)
	m.ObserveRequest("POST /api/v1/leaves", 201, 7*time.Millisecond)
	m.ObserveRequest("", 404, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("POST /api/v1/leaves", "201")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("unmatched", "404")))
}

func TestCounters(t *testing.T) {
	m := New()
	m.WebhookDelivered("mention", "ok")
	m.WebhookDelivered("reply", "failed")
	m.FruitGrown("solution")
	m.BountyClaimed()
	m.ReconcileReplayed("maturation", 3)
	m.ReconcileReplayed("approval", 0)
	m.AnomalyDetected("leaf_flood")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Webhooks.WithLabelValues("reply", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fruit.WithLabelValues("solution")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Bounties))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Reconciled.WithLabelValues("maturation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Anomalies.WithLabelValues("leaf_flood")))

	done := m.StreamOpened()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoomStreams))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RoomStreams))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("x", 200, time.Millisecond)
	m.WebhookDelivered("mention", "ok")
	m.FruitGrown("pattern")
	m.BountyClaimed()
	m.ReconcileReplayed("approval", 1)
	m.AnomalyDetected("leaf_flood")
	m.StreamOpened()()
}

func TestHandler(t *testing.T) {
	m := New()
	m.FruitGrown("discovery")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `antfarm_fruit_grown_total{type="discovery"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
