// Package metrics collects and exposes the gateway's Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the services and middleware report to.
// Collector implements it; tests may pass a no-op.
type Recorder interface {
	RecordAuthFailure(reason string)
	RecordTokenIssued()
	RecordFileStored(bytes int64)
	RecordFileFailed(reason string)
	RecordUploadLatency(d time.Duration)
	RecordWebhook(eventType, outcome string)
	RecordHTTPStatus(statusCode int)
}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	authFailures  *prometheus.CounterVec
	tokensIssued  prometheus.Counter
	filesStored   prometheus.Counter
	bytesStored   prometheus.Counter
	filesFailed   *prometheus.CounterVec
	uploadLatency prometheus.Histogram
	webhooks      *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
}

var _ Recorder = (*Collector)(nil)

// NewCollector registers the gateway metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sercy_auth_failures_total",
			Help: "API requests rejected by the identity check, by reason.",
		}, []string{"reason"}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sercy_upload_tokens_issued_total",
			Help: "Upload tokens issued.",
		}),
		filesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sercy_upload_files_stored_total",
			Help: "Uploaded files written to the object store.",
		}),
		bytesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sercy_upload_bytes_stored_total",
			Help: "Bytes written to the object store.",
		}),
		filesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sercy_upload_files_failed_total",
			Help: "Uploaded files that could not be stored, by reason.",
		}, []string{"reason"}),
		uploadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sercy_upload_duration_seconds",
			Help:    "Time to store all files of one upload request.",
			Buckets: prometheus.DefBuckets,
		}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sercy_webhook_events_total",
			Help: "Webhook deliveries by event type and outcome.",
		}, []string{"event", "outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sercy_http_responses_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.authFailures,
		c.tokensIssued,
		c.filesStored,
		c.bytesStored,
		c.filesFailed,
		c.uploadLatency,
		c.webhooks,
		c.httpStatus,
	)

	return c
}

func (c *Collector) RecordAuthFailure(reason string) {
	c.authFailures.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordTokenIssued() {
	c.tokensIssued.Inc()
}

func (c *Collector) RecordFileStored(bytes int64) {
	c.filesStored.Inc()
	c.bytesStored.Add(float64(bytes))
}

func (c *Collector) RecordFileFailed(reason string) {
	c.filesFailed.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordUploadLatency(d time.Duration) {
	c.uploadLatency.Observe(d.Seconds())
}

// RecordWebhook counts a delivery. eventType is the raw X-GitHub-Event value,
// which GitHub keeps to a small fixed set.
func (c *Collector) RecordWebhook(eventType, outcome string) {
	if eventType == "" {
		eventType = "unknown"
	}
	c.webhooks.WithLabelValues(eventType, outcome).Inc()
}

func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) RecordAuthFailure(string)          {}
func (Nop) RecordTokenIssued()                {}
func (Nop) RecordFileStored(int64)            {}
func (Nop) RecordFileFailed(string)           {}
func (Nop) RecordUploadLatency(time.Duration) {}
func (Nop) RecordWebhook(string, string)      {}
func (Nop) RecordHTTPStatus(int)              {}
