// Package metrics exposes Prometheus instrumentation for the receiver.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transcription pass labels.
const (
	PassRealtime = "realtime"
	PassFinal    = "final"
)

// Metrics contains all Prometheus metrics for the receiver. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Link metrics
	Notifications prometheus.Counter
	BytesReceived prometheus.Counter

	// Windowing metrics
	WindowsReady     prometheus.Counter
	WindowsSubmitted prometheus.Counter
	WindowsDropped   prometheus.Counter

	// Transcription metrics
	Transcriptions        *prometheus.CounterVec
	TranscriptionFailures *prometheus.CounterVec
	TranscriptionDuration *prometheus.HistogramVec

	// Session metrics
	SessionsStarted   prometheus.Counter
	SessionsFinalized *prometheus.CounterVec
	ArtifactFailures  *prometheus.CounterVec
	SessionState      *prometheus.GaugeVec
	RecordingSeconds  prometheus.Histogram
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Notifications: factory.NewCounter(prometheus.CounterOpts{
			Name: "pebble_notifications_total",
			Help: "Total number of link notifications received",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "pebble_audio_bytes_received_total",
			Help: "Total number of raw PCM bytes received",
		}),

		WindowsReady: factory.NewCounter(prometheus.CounterOpts{
			Name: "pebble_windows_ready_total",
			Help: "Total number of full windows cut from the recording",
		}),
		WindowsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pebble_windows_submitted_total",
			Help: "Total number of windows accepted by the transcription worker",
		}),
		WindowsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "pebble_windows_dropped_total",
			Help: "Total number of windows dropped because a transcription was in flight",
		}),

		Transcriptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pebble_transcriptions_total",
			Help: "Total number of transcription requests",
		}, []string{"pass"}),
		TranscriptionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pebble_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}, []string{"pass"}),
		TranscriptionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pebble_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}, []string{"pass"}),

		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pebble_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		SessionsFinalized: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pebble_sessions_finalized_total",
			Help: "Total number of recording sessions finalized, by outcome",
		}, []string{"reason"}),
		ArtifactFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pebble_artifact_failures_total",
			Help: "Total number of artifacts that could not be written",
		}, []string{"kind"}),
		SessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pebble_session_state",
			Help: "Current session state (1 for the active state)",
		}, []string{"state"}),
		RecordingSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pebble_recording_duration_seconds",
			Help:    "Audio duration of finalized recordings",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
	}
}

// RecordNotification counts one link notification carrying n bytes.
func (m *Metrics) RecordNotification(n int) {
	if m == nil {
		return
	}
	m.Notifications.Inc()
	m.BytesReceived.Add(float64(n))
}

func (m *Metrics) RecordWindowReady() {
	if m == nil {
		return
	}
	m.WindowsReady.Inc()
}

func (m *Metrics) RecordWindowSubmitted() {
	if m == nil {
		return
	}
	m.WindowsSubmitted.Inc()
}

func (m *Metrics) RecordWindowDropped() {
	if m == nil {
		return
	}
	m.WindowsDropped.Inc()
}

// RecordTranscription records one transcription request for pass.
func (m *Metrics) RecordTranscription(pass string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.Transcriptions.WithLabelValues(pass).Inc()
	m.TranscriptionDuration.WithLabelValues(pass).Observe(elapsed.Seconds())
	if err != nil {
		m.TranscriptionFailures.WithLabelValues(pass).Inc()
	}
}

func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// RecordSessionFinalized counts a finished session and its audio duration.
func (m *Metrics) RecordSessionFinalized(reason string, audioSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsFinalized.WithLabelValues(reason).Inc()
	m.RecordingSeconds.Observe(audioSeconds)
}

func (m *Metrics) RecordArtifactFailure(kind string) {
	if m == nil {
		return
	}
	m.ArtifactFailures.WithLabelValues(kind).Inc()
}

// SetSessionState marks state as the active one among states.
func (m *Metrics) SetSessionState(state string, states ...string) {
	if m == nil {
		return
	}
	for _, s := range states {
		m.SessionState.WithLabelValues(s).Set(0)
	}
	m.SessionState.WithLabelValues(state).Set(1)
}

// Handler routes /metrics and /health.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve exposes the metrics of gatherer on addr under /metrics until ctx
// is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
