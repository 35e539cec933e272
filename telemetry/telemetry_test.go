package telemetry

import (
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withRegistry(t *testing.T) {
	t.Helper()
	prev := registry
	registry = prometheus.NewRegistry()
	t.Cleanup(func() { registry = prev })
}

func TestNoopWhenDisabled(t *testing.T) {
	prev := registry
	registry = nil
	defer func() { registry = prev }()

	assert.IsType(t, NoopStat{}, NewCounter("c", "help"))
	assert.IsType(t, NoopStat{}, NewGauge("g", "help"))
	assert.IsType(t, noopCounterVec{}, NewCounterVec("cv", "help", []string{"result"}))
	assert.Nil(t, GetMetricsHandler())
}

func TestCounterVecExposed(t *testing.T) {
	withRegistry(t)

	published := NewCounterVec("publish_total", "Publishes by result", []string{"result"})
	published.With("success").Inc()
	published.With("success").Inc()
	published.With("failed").Inc()

	handler := GetMetricsHandler()
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	assert.True(t, strings.Contains(body, `cdcrelay_publish_total{instance_id=`), body)
	assert.Contains(t, body, `result="success"} 2`)
	assert.Contains(t, body, `result="failed"} 1`)
}

type recordingGauge struct {
	last atomic.Int64
}

func (g *recordingGauge) Set(v float64) { g.last.Store(int64(v)) }
func (g *recordingGauge) Inc()          { g.last.Add(1) }
func (g *recordingGauge) Dec()          { g.last.Add(-1) }

type fixedDepth int

func (d fixedDepth) QueueDepth() int { return int(d) }

func TestMetricsCollectorSetsQueueDepth(t *testing.T) {
	gauge := &recordingGauge{}
	prev := QueueDepth
	QueueDepth = gauge
	defer func() { QueueDepth = prev }()

	mc := NewMetricsCollector(fixedDepth(7), time.Hour)
	mc.Start()
	mc.Stop()

	assert.Equal(t, int64(7), gauge.last.Load())
}
