package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame loop counters
	FramesRead  atomic.Uint64
	FramesEmpty atomic.Uint64
	FrameErrors atomic.Uint64
	IDsInserted atomic.Uint64

	// Reporting
	ReportsSent     atomic.Uint64
	ReportErrors    atomic.Uint64
	LastReportCount atomic.Uint64

	// Live sources, set before the handler is served
	windowSize func() int
	clients    func() int
	drops      func() uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

// SetWindowSize sets the source of the current window size gauge
func (m *Metrics) SetWindowSize(fn func() int) {
	m.windowSize = fn
}

// SetEventDrops sets the source of the dropped live update counter
func (m *Metrics) SetEventDrops(fn func() uint64) {
	m.drops = fn
}

// SetClientCount sets the source of the live viewer gauge
func (m *Metrics) SetClientCount(fn func() int) {
	m.clients = fn
}

func (m *Metrics) registerPrometheusMetrics() {
	counter := func(name, help string, v *atomic.Uint64) {
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: name, Help: help},
			func() float64 { return float64(v.Load()) },
		))
	}

	counter("crowdcount_frames_read_total", "Total frames read from the video source", &m.FramesRead)
	counter("crowdcount_frames_empty_total", "Frames without qualifying detections", &m.FramesEmpty)
	counter("crowdcount_frame_errors_total", "Frames skipped because detection or tracking failed", &m.FrameErrors)
	counter("crowdcount_identities_inserted_total", "Track identities recorded, duplicates included", &m.IDsInserted)
	counter("crowdcount_reports_sent_total", "Count records submitted successfully", &m.ReportsSent)
	counter("crowdcount_report_errors_total", "Count records lost to a failed submission", &m.ReportErrors)

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "crowdcount_live_updates_dropped_total",
			Help: "Frame results not delivered to a slow live viewer",
		},
		func() float64 {
			if m.drops == nil {
				return 0
			}
			return float64(m.drops())
		},
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "crowdcount_last_report_people",
			Help: "People count of the most recent report",
		},
		func() float64 { return float64(m.LastReportCount.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "crowdcount_window_identities",
			Help: "Distinct identities seen in the current reporting window",
		},
		func() float64 {
			if m.windowSize == nil {
				return 0
			}
			return float64(m.windowSize())
		},
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "crowdcount_live_clients",
			Help: "Connected live feed clients",
		},
		func() float64 {
			if m.clients == nil {
				return 0
			}
			return float64(m.clients())
		},
	))
}

// FrameRead implements pipeline.StatsHook
func (m *Metrics) FrameRead() { m.FramesRead.Add(1) }

// FrameEmpty implements pipeline.StatsHook
func (m *Metrics) FrameEmpty() { m.FramesEmpty.Add(1) }

// FrameError implements pipeline.StatsHook
func (m *Metrics) FrameError() { m.FrameErrors.Add(1) }

// TracksFound implements pipeline.StatsHook
func (m *Metrics) TracksFound(n int) { m.IDsInserted.Add(uint64(n)) }

// RecordReport records a reporting cycle outcome
func (m *Metrics) RecordReport(count int, err error) {
	if err != nil {
		m.ReportErrors.Add(1)
		return
	}
	m.ReportsSent.Add(1)
	m.LastReportCount.Store(uint64(count))
}

// Handler returns the HTTP handler for the Prometheus endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
