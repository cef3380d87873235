package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "nbng"

// Metrics groups the session collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	connects   *prometheus.CounterVec
	exchanges  *prometheus.CounterVec
	latency    prometheus.Histogram
	delivered  prometheus.Counter
	loopErrors *prometheus.CounterVec
	loops      prometheus.Gauge
	replies    prometheus.Counter
}

// NewMetrics registers the collectors on reg. Use a fresh prometheus.NewRegistry
// in tests so runs do not collide on the default registry.
func NewMetrics(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		gatherer: reg,
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connects_total",
			Help:      "Dial attempts by result.",
		}, []string{"protocol", "result"}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "exchanges_total",
			Help:      "Request/reply round trips by result kind.",
		}, []string{"protocol", "result"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "exchange_seconds",
			Help:      "Latency of successful round trips.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "receive",
			Name:      "messages_total",
			Help:      "Messages handed to receive callbacks.",
		}),
		loopErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "receive",
			Name:      "errors_total",
			Help:      "Receive loop failures reported to callbacks, by kind.",
		}, []string{"kind"}),
		loops: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "receive",
			Name:      "active_loops",
			Help:      "Receive loops currently running.",
		}),
		replies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "replies_total",
			Help:      "Replies sent by responders.",
		}),
	}
	for _, c := range []prometheus.Collector{m.connects, m.exchanges, m.latency, m.delivered, m.loopErrors, m.loops, m.replies} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

func (m *Metrics) Connect(protocol string, err error) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(protocol, result(err)).Inc()
}

// Exchange records one round trip; kind is the failure kind or "ok".
func (m *Metrics) Exchange(protocol, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(protocol, kind).Inc()
	if kind == "ok" {
		m.latency.Observe(d.Seconds())
	}
}

func (m *Metrics) Delivered() {
	if m == nil {
		return
	}
	m.delivered.Inc()
}

func (m *Metrics) LoopError(kind string) {
	if m == nil {
		return
	}
	m.loopErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) LoopStarted() {
	if m == nil {
		return
	}
	m.loops.Inc()
}

func (m *Metrics) LoopStopped() {
	if m == nil {
		return
	}
	m.loops.Dec()
}

func (m *Metrics) Replied() {
	if m == nil {
		return
	}
	m.replies.Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Serve runs the metrics endpoint until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("metrics endpoint listening", zap.String("addr", addr), zap.String("path", path))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
