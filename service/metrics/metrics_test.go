package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestEvaluatorEmpty(t *testing.T) {
	e := NewEvaluator(10, 500)
	assert.Equal(t, "No performance data available", e.Report())
	status, avg := e.Health()
	assert.Equal(t, "healthy", status)
	assert.Zero(t, avg)
	assert.Zero(t, e.P95())
}

func TestEvaluatorP95(t *testing.T) {
	e := NewEvaluator(1000, 500)
	for i := 1; i <= 20; i++ {
		e.Record(ms(i))
	}
	assert.InDelta(t, 20, e.P95(), 1e-9, "max with 20 samples or fewer")

	e.Record(ms(21))
	assert.InDelta(t, 20.9, e.P95(), 1e-9)

	e = NewEvaluator(1000, 500)
	for i := 1; i <= 100; i++ {
		e.Record(ms(i))
	}
	assert.InDelta(t, 95.95, e.P95(), 1e-9)
	assert.InDelta(t, 50.5, e.Average(), 1e-9)
}

func TestEvaluatorHealthUsesRecentWindow(t *testing.T) {
	e := NewEvaluator(100, 500)
	for i := 0; i < 50; i++ {
		e.Record(ms(2000))
	}
	for i := 0; i < 10; i++ {
		e.Record(ms(100))
	}
	status, avg := e.Health()
	assert.Equal(t, "healthy", status)
	assert.InDelta(t, 100, avg, 1e-9)

	e.Record(ms(4600))
	status, _ = e.Health()
	assert.Equal(t, "degraded", status)
}

func TestEvaluatorRingKeepsTotal(t *testing.T) {
	e := NewEvaluator(3, 500)
	for i := 1; i <= 5; i++ {
		e.Record(ms(i * 10))
	}
	assert.Equal(t, int64(5), e.Total())
	assert.Equal(t, []float64{30, 40, 50}, e.samples())

	report := e.Report()
	assert.Contains(t, report, "Total Translations: 5")
	assert.Contains(t, report, "Average Latency: 40.00ms")
	assert.Contains(t, report, "✓ PASS")
}

func TestMetricsObserver(t *testing.T) {
	conns := 3.0
	m := New(NewEvaluator(10, 500), Gauges{Connections: func() float64 { return conns }})

	m.ObserveTranslation("eng_Latn", "spa_Latn", ms(120))
	m.ObserveDelivery(nil)
	m.ObserveDelivery(nil)
	m.ObserveDelivery(errors.New("closed"))
	m.ObserveBroadcast(false, 2)
	m.ObserveBroadcast(true, 1)

	assert.Equal(t, int64(1), m.Eval.Total())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.deliveries.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.broadcasts.WithLabelValues("remote")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics/prometheus", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, "relay_connections 3"), text)
	assert.Contains(t, text, `relay_translation_seconds_count{source="eng_Latn",target="spa_Latn"} 1`)
}
