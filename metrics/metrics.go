// Package metrics 提供分发器的监控指标
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/govm-net/teebridge/errors"
)

const namespace = "teebridge"

// Metrics holds the dispatcher collectors on their own registry. A nil
// *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// calls 调用总次数（按操作与结果分类）
	calls *prometheus.CounterVec
	// errs 错误总次数（按操作与错误类型分类）
	errs *prometheus.CounterVec
	// gasUsed 每次调用消耗的 gas
	gasUsed *prometheus.HistogramVec
	// duration 调用耗时
	duration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "calls_total",
			Help:      "Total number of dispatcher calls by operation and outcome",
		}, []string{"op", "outcome"}),
		errs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "errors_total",
			Help:      "Total number of failed dispatcher calls by operation and error kind",
		}, []string{"op", "kind"}),
		gasUsed: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "gas_used",
			Help:      "Gas used per call",
			Buckets:   prometheus.ExponentialBuckets(1000, 4, 10), // 1e3 ~ 2.6e8
		}, []string{"op"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "call_duration_seconds",
			Help:      "Duration of dispatcher calls in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	m.registry.MustRegister(m.calls, m.errs, m.gasUsed, m.duration)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe records one finished call.
func (m *Metrics) Observe(op string, gasUsed uint64, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.errs.WithLabelValues(op, errors.KindOf(err).String()).Inc()
	}
	m.calls.WithLabelValues(op, outcome).Inc()
	m.gasUsed.WithLabelValues(op).Observe(float64(gasUsed))
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

// Gauge registers a gauge read from fn at scrape time.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
