// Package metrics 以 prometheus 記錄競標、狀態轉換與 HTTP 請求的統計
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bidlot/models"
)

const namespace = "bidlot"

// Metrics 實作 ports.Metrics，所有指標註冊在同一個 registry
type Metrics struct {
	registry *prometheus.Registry

	bidsTotal           *prometheus.CounterVec
	transitionsTotal    *prometheus.CounterVec
	integrityViolations *prometheus.CounterVec
	sweepDuration       prometheus.Histogram
	sweepTransitioned   prometheus.Counter
	sweepFlagged        prometheus.Counter
	requestDuration     *prometheus.HistogramVec
	requestsTotal       *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		bidsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bids_total",
				Help:      "Total number of bid attempts by outcome",
			},
			[]string{"outcome"},
		),
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "item_transitions_total",
				Help:      "Total number of committed item state transitions",
			},
			[]string{"from", "to"},
		),
		integrityViolations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "integrity_violations_total",
				Help:      "Total number of stored items that contradict their bid history",
			},
			[]string{"operation"},
		),
		sweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Duration of reconciliation sweeps in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		sweepTransitioned: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_transitioned_total",
				Help:      "Total number of items moved to a new state by sweeps",
			},
		),
		sweepFlagged: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_flagged_total",
				Help:      "Total number of items flagged by sweeps",
			},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"handler", "method", "status_code"},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status_code"},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) BidPlaced(outcome string) {
	m.bidsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StateChanged(from, to models.ItemState) {
	m.transitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) IntegrityViolation(op string) {
	m.integrityViolations.WithLabelValues(op).Inc()
}

func (m *Metrics) SweepCompleted(elapsed time.Duration, transitioned, flagged int) {
	m.sweepDuration.Observe(elapsed.Seconds())
	m.sweepTransitioned.Add(float64(transitioned))
	m.sweepFlagged.Add(float64(flagged))
}

// Handler 回傳 /metrics 的 HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware 記錄每個請求的耗時與狀態碼，handler 標籤使用路由樣板避免高基數
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		handler := c.FullPath()
		if handler == "" {
			handler = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.requestDuration.WithLabelValues(handler, c.Request.Method, status).Observe(time.Since(start).Seconds())
		m.requestsTotal.WithLabelValues(handler, c.Request.Method, status).Inc()
	}
}
