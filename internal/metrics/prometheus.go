package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	commandsTotal *prometheus.CounterVec

	bytesReadTotal prometheus.Counter

	messagesDownloadedTotal *prometheus.CounterVec
	messagesSkippedTotal    *prometheus.CounterVec
	messagesSizeBytes       prometheus.Histogram

	sessionsTotal *prometheus.CounterVec
}

// NewPrometheusRecorder creates a new PrometheusRecorder with all metrics registered.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imapcl_commands_total",
			Help: "Total number of IMAP commands sent.",
		}, []string{"verb"}),

		bytesReadTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imapcl_bytes_read_total",
			Help: "Total bytes read from the server.",
		}),

		messagesDownloadedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imapcl_messages_downloaded_total",
			Help: "Total number of messages downloaded.",
		}, []string{"mailbox"}),
		messagesSkippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imapcl_messages_skipped_total",
			Help: "Total number of messages skipped as already present locally.",
		}, []string{"mailbox"}),
		messagesSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "imapcl_messages_size_bytes",
			Help:    "Size of downloaded messages in bytes.",
			Buckets: []float64{1024, 10240, 102400, 1048576, 10485760, 26214400},
		}),

		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imapcl_sessions_total",
			Help: "Total number of sessions by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		r.commandsTotal,
		r.bytesReadTotal,
		r.messagesDownloadedTotal,
		r.messagesSkippedTotal,
		r.messagesSizeBytes,
		r.sessionsTotal,
	)

	return r
}

// CommandSent increments the command counter for the given verb.
func (r *PrometheusRecorder) CommandSent(verb string) {
	r.commandsTotal.WithLabelValues(verb).Inc()
}

// BytesRead adds to the byte counter.
func (r *PrometheusRecorder) BytesRead(count int) {
	r.bytesReadTotal.Add(float64(count))
}

// MessageDownloaded records a downloaded message and its size.
func (r *PrometheusRecorder) MessageDownloaded(mailbox string, sizeBytes int64) {
	r.messagesDownloadedTotal.WithLabelValues(mailbox).Inc()
	r.messagesSizeBytes.Observe(float64(sizeBytes))
}

// MessageSkipped records a message skipped as already present.
func (r *PrometheusRecorder) MessageSkipped(mailbox string) {
	r.messagesSkippedTotal.WithLabelValues(mailbox).Inc()
}

// SessionFailed records a failed session with its error kind.
func (r *PrometheusRecorder) SessionFailed(kind string) {
	r.sessionsTotal.WithLabelValues("failed:" + kind).Inc()
}

// SessionCompleted records a successful session.
func (r *PrometheusRecorder) SessionCompleted() {
	r.sessionsTotal.WithLabelValues("ok").Inc()
}
