package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "markdown_composer"

var (
	Registry = prometheus.NewRegistry()

	FramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames decoded from the editor stream, by outcome.",
		},
		[]string{"outcome"},
	)

	FrameBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_bytes",
			Help:      "Size of decoded document snapshots.",
			// 64B .. ~4MiB
			Buckets: prometheus.ExponentialBuckets(64, 4, 9),
		},
	)

	RendersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Markdown renders, by status.",
		},
		[]string{"status"},
	)

	RenderDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time spent converting markdown to HTML.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	BrowserClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "browser_clients",
			Help:      "Connected preview websocket clients.",
		},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Preview HTTP requests.",
		},
		[]string{"route", "status"},
	)
)

func init() {
	Registry.MustRegister(FramesTotal, FrameBytes, RendersTotal, RenderDuration, BrowserClients, RequestsTotal)
}

// MetricsHandler exposes the registry in the prometheus text format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveFrame records one decoder outcome. size is ignored unless the
// outcome is a message.
func ObserveFrame(outcome string, size int) {
	FramesTotal.WithLabelValues(outcome).Inc()
	if outcome == "message" {
		FrameBytes.Observe(float64(size))
	}
}

func ObserveRender(err error, took time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	RendersTotal.WithLabelValues(status).Inc()
	RenderDuration.Observe(took.Seconds())
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument counts requests to next under the given route label.
func Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		RequestsTotal.WithLabelValues(route, strconv.Itoa(sw.status/100)+"xx").Inc()
	})
}
