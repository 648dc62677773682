// Package lunametrics exposes LUNA's counters and round-trip-time
// distribution over Prometheus, grounded on facebook-time's counter
// conventions (`ptp4u/stats.JSONStats`) and its Prometheus exporter
// (`ptp/sptp/stats.PrometheusExporter`). It is entirely optional: the
// client and server run with a nil metrics sink by default, so the
// core send/receive path never depends on this package.
package lunametrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/eclesh/welford"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/airtower-luna/luna-go/internal/wire"
)

// Metrics collects packet counters, page-fault deltas and a live RTT
// distribution, and exposes them on a Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	sent     prometheus.Counter
	received prometheus.Counter
	echoed   prometheus.Counter

	majorPageFaults prometheus.Counter
	minorPageFaults prometheus.Counter

	rttMean   prometheus.Gauge
	rttStddev prometheus.Gauge
	rttCount  prometheus.Counter

	mu  sync.Mutex
	rtt *welford.Stats
}

// New creates a Metrics instance with its own registry, so multiple
// instances (e.g. client and server in the same process) never
// collide on metric names.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "luna_packets_sent_total",
			Help: "Datagrams sent by the client.",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "luna_packets_received_total",
			Help: "Datagrams received and decoded by the server.",
		}),
		echoed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "luna_packets_echoed_total",
			Help: "Datagrams the server echoed back to their sender.",
		}),
		majorPageFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "luna_major_page_faults_total",
			Help: "Major page faults accumulated across sender/server run-loop threads.",
		}),
		minorPageFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "luna_minor_page_faults_total",
			Help: "Minor page faults accumulated across sender/server run-loop threads.",
		}),
		rttMean: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "luna_rtt_mean_nanoseconds",
			Help: "Running mean round-trip time of accepted echoes.",
		}),
		rttStddev: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "luna_rtt_stddev_nanoseconds",
			Help: "Running standard deviation of round-trip time of accepted echoes.",
		}),
		rttCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "luna_rtt_samples_total",
			Help: "Number of echoes folded into the RTT distribution.",
		}),
		rtt: welford.New(),
	}
	m.registry.MustRegister(
		m.sent, m.received, m.echoed,
		m.majorPageFaults, m.minorPageFaults,
		m.rttMean, m.rttStddev, m.rttCount,
	)
	return m
}

// IncSent records one packet sent by the client.
func (m *Metrics) IncSent() { m.sent.Inc() }

// IncReceived records one packet received (and decoded) by the server.
func (m *Metrics) IncReceived() { m.received.Inc() }

// IncEchoed records one packet the server echoed back.
func (m *Metrics) IncEchoed() { m.echoed.Inc() }

// AddPageFaults folds a sender/server rusage delta into the running totals.
func (m *Metrics) AddPageFaults(major, minor int64) {
	m.majorPageFaults.Add(float64(major))
	m.minorPageFaults.Add(float64(minor))
}

// ObserveRTT folds one accepted echo's round-trip time into the live
// mean/stddev gauges.
func (m *Metrics) ObserveRTT(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rtt.Add(float64(d.Nanoseconds()))
	m.rttMean.Set(m.rtt.Mean())
	m.rttStddev.Set(m.rtt.Stddev())
	m.rttCount.Inc()
}

// Sink mirrors the Publish(wire.ReceivedPacket) bool shape shared by
// echoreader.Sink and logsink.Sink, so WrapEchoSink needs no import of
// either package.
type Sink interface {
	Publish(wire.ReceivedPacket) bool
}

// echoSink decorates a Sink with echoed-count and RTT bookkeeping.
type echoSink struct {
	metrics *Metrics
	inner   Sink
}

func (s *echoSink) Publish(rec wire.ReceivedPacket) bool {
	s.metrics.IncEchoed()
	s.metrics.ObserveRTT(rec.RxTime.Sub(rec.SendTime))
	if s.inner != nil {
		return s.inner.Publish(rec)
	}
	return true
}

// WrapEchoSink returns a Sink that records an echoed-count increment
// and an RTT sample for every accepted record before forwarding it to
// inner (which may be nil to only collect metrics).
func (m *Metrics) WrapEchoSink(inner Sink) Sink {
	return &echoSink{metrics: m, inner: inner}
}

// Handler returns the HTTP handler serving the Prometheus exposition
// format, for callers that want to mount it on their own mux.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs an HTTP server exposing the metrics handler at /metrics
// on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}
