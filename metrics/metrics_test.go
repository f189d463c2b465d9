package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govm-net/teebridge/errors"
)

func TestObserve(t *testing.T) {
	m := New()
	m.Observe("execute", 12_000, time.Millisecond, nil)
	m.Observe("execute", 500, time.Millisecond, errors.OutOfGas(500, "db_write"))
	m.Observe("query", 100, time.Millisecond, errors.Unauthorized("read-only"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("execute", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("execute", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errs.WithLabelValues("execute", "out_of_gas")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errs.WithLabelValues("query", "unauthorized")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.gasUsed))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Observe("execute", 1, time.Second, nil)
		m.Gauge("x", "x", func() float64 { return 0 })
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.Gauge("live_buffers", "Buffers not yet released", func() float64 { return 3 })
	m.Observe("instantiate", 1, time.Millisecond, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "teebridge_live_buffers 3"))
	assert.Contains(t, body, `teebridge_dispatcher_calls_total{op="instantiate",outcome="ok"} 1`)
}
