package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.CommandSent("LOGIN")
	r.CommandSent("UID")
	r.CommandSent("UID")
	r.BytesRead(100)
	r.BytesRead(28)
	r.MessageDownloaded("INBOX", 2048)
	r.MessageSkipped("INBOX")
	r.SessionCompleted()

	if got := testutil.ToFloat64(r.commandsTotal.WithLabelValues("UID")); got != 2 {
		t.Errorf("commands UID = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.bytesReadTotal); got != 128 {
		t.Errorf("bytes read = %v, want 128", got)
	}
	if got := testutil.ToFloat64(r.messagesDownloadedTotal.WithLabelValues("INBOX")); got != 1 {
		t.Errorf("downloaded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.messagesSkippedTotal.WithLabelValues("INBOX")); got != 1 {
		t.Errorf("skipped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.sessionsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("sessions ok = %v, want 1", got)
	}
}

func TestPrometheusRecorderRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusRecorder(reg)

	defer func() {
		if recover() == nil {
			t.Error("second registration should panic on duplicate metrics")
		}
	}()
	NewPrometheusRecorder(reg)
}

// Both implementations must satisfy the interface.
var (
	_ Recorder = (*NoopRecorder)(nil)
	_ Recorder = (*PrometheusRecorder)(nil)
)
