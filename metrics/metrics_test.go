package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRequest("get", OutcomeOK, time.Now())
	m.ObserveRequest("get", OutcomeOK, time.Now())
	m.ObserveRequest("set", OutcomeError, time.Now())

	assert.Equal(t, float64(2), testutil.ToFloat64(m.requestTotal.WithLabelValues("get", OutcomeOK)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requestTotal.WithLabelValues("set", OutcomeError)))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.requestTotal.WithLabelValues("remove", OutcomeOK)))
}

func TestConnectionGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.activeConnections))
}
