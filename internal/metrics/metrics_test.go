package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordCounters(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	m.RecordNotification(20)
	m.RecordNotification(40)
	m.RecordWindowReady()
	m.RecordWindowSubmitted()
	m.RecordWindowDropped()
	m.RecordTranscription(PassRealtime, 10*time.Millisecond, nil)
	m.RecordTranscription(PassRealtime, 10*time.Millisecond, errors.New("boom"))
	m.RecordTranscription(PassFinal, time.Second, nil)
	m.RecordArtifactFailure("raw_audio")

	if got := testutil.ToFloat64(m.Notifications); got != 2 {
		t.Fatalf("notifications = %v", got)
	}
	if got := testutil.ToFloat64(m.BytesReceived); got != 60 {
		t.Fatalf("bytes = %v", got)
	}
	if got := testutil.ToFloat64(m.WindowsDropped); got != 1 {
		t.Fatalf("dropped = %v", got)
	}
	if got := testutil.ToFloat64(m.Transcriptions.WithLabelValues(PassRealtime)); got != 2 {
		t.Fatalf("realtime transcriptions = %v", got)
	}
	if got := testutil.ToFloat64(m.TranscriptionFailures.WithLabelValues(PassRealtime)); got != 1 {
		t.Fatalf("realtime failures = %v", got)
	}
	if got := testutil.ToFloat64(m.TranscriptionFailures.WithLabelValues(PassFinal)); got != 0 {
		t.Fatalf("final failures = %v", got)
	}
	if got := testutil.ToFloat64(m.ArtifactFailures.WithLabelValues("raw_audio")); got != 1 {
		t.Fatalf("artifact failures = %v", got)
	}
}

func TestSetSessionStateIsExclusive(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	states := []string{"idle", "recording", "finalizing"}
	m.SetSessionState("recording", states...)
	m.SetSessionState("finalizing", states...)

	if got := testutil.ToFloat64(m.SessionState.WithLabelValues("recording")); got != 0 {
		t.Fatalf("recording gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.SessionState.WithLabelValues("finalizing")); got != 1 {
		t.Fatalf("finalizing gauge = %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.RecordNotification(1)
	m.RecordWindowReady()
	m.RecordWindowSubmitted()
	m.RecordWindowDropped()
	m.RecordTranscription(PassFinal, time.Second, nil)
	m.RecordSessionStarted()
	m.RecordSessionFinalized("ready", 1)
	m.RecordArtifactFailure("raw_audio")
	m.SetSessionState("idle")
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	New(reg)
}

func TestHandlerServesMetricsAndHealth(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordWindowDropped()

	srv := httptest.NewServer(Handler(reg))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "pebble_windows_dropped_total 1") {
		t.Fatalf("metrics output missing dropped counter:\n%s", body)
	}

	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected health status %d", resp.StatusCode)
	}
}
