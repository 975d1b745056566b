package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_AuthFailuresByReason(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordAuthFailure("missing_credential")
	c.RecordAuthFailure("missing_credential")
	c.RecordAuthFailure("invalid_credential")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.authFailures.WithLabelValues("missing_credential")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.authFailures.WithLabelValues("invalid_credential")))
}

func TestCollector_Uploads(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordFileStored(100)
	c.RecordFileStored(23)
	c.RecordFileFailed("timeout")
	c.RecordUploadLatency(150 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.filesStored))
	assert.Equal(t, 123.0, testutil.ToFloat64(c.bytesStored))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.filesFailed.WithLabelValues("timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.uploadLatency))
}

func TestCollector_WebhookUnknownEvent(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordWebhook("", "rejected")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.webhooks.WithLabelValues("unknown", "rejected")))
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordTokenIssued()
	c.RecordHTTPStatus(http.StatusCreated)

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	assert.True(t, strings.Contains(string(body), "sercy_upload_tokens_issued_total 1"))
	assert.Contains(t, string(body), `sercy_http_responses_total{status_code="201"} 1`)
}
