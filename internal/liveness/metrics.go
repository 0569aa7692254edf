package liveness

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "smartlock"

// Report outcomes recorded by Ingestor.
const (
	outcomeAccepted     = "accepted"
	outcomeStale        = "stale"
	outcomeUnknown      = "unknown_device"
	outcomeUnauthorized = "unauthorized"
	outcomeInvalid      = "invalid"
)

// Offline synthesis triggers.
const (
	triggerRecord = "record"
	triggerSweep  = "sweep"
)

// Metrics holds the liveness counters, gauges, and histograms.
type Metrics struct {
	Reports            *prometheus.CounterVec
	OfflineSynthesized *prometheus.CounterVec
	Commands           *prometheus.CounterVec
	WriteFailures      *prometheus.CounterVec
	DevicesTracked     prometheus.Gauge
	DevicesOnline      prometheus.Gauge
	SweepDuration      prometheus.Histogram
}

// NewMetrics registers the liveness metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Reports: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "status_reports_total",
			Help:      "Status reports received, by outcome.",
		}, []string{"outcome"}),

		OfflineSynthesized: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "offline_entries_synthesized_total",
			Help:      "Offline log entries written to close reporting gaps, by trigger.",
		}, []string{"trigger"}),

		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_total",
			Help:      "Lock commands, by action and result.",
		}, []string{"action", "result"}),

		WriteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "write_failures_total",
			Help:      "Registry and log writes that failed after retries.",
		}, []string{"target"}),

		DevicesTracked: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "devices_tracked",
			Help:      "Devices with a last-seen record.",
		}),

		DevicesOnline: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "devices_online",
			Help:      "Devices that reported within the offline threshold at the last sweep.",
		}),

		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one sweep pass.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms .. ~16s
		}),
	}
}

func metricsOrDiscard(m *Metrics) *Metrics {
	if m == nil {
		return NewMetrics(prometheus.NewRegistry())
	}
	return m
}

func (m *Metrics) recordReport(outcome string) {
	m.Reports.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordOffline(trigger string) {
	m.OfflineSynthesized.WithLabelValues(trigger).Inc()
}

func (m *Metrics) recordCommand(action, result string) {
	m.Commands.WithLabelValues(action, result).Inc()
}

func (m *Metrics) recordWriteFailure(target string) {
	m.WriteFailures.WithLabelValues(target).Inc()
}

func (m *Metrics) recordSweep(tracked, online int, took time.Duration) {
	m.DevicesTracked.Set(float64(tracked))
	m.DevicesOnline.Set(float64(online))
	m.SweepDuration.Observe(took.Seconds())
}
