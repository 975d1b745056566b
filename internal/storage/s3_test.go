package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedPut struct {
	method, path, contentType, auth, amzDate, payloadHash string
	body                                                  string
}

func newFakeS3(t *testing.T, status int) (*httptest.Server, chan capturedPut) {
	t.Helper()
	puts := make(chan capturedPut, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		puts <- capturedPut{
			method:      r.Method,
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			auth:        r.Header.Get("Authorization"),
			amzDate:     r.Header.Get("x-amz-date"),
			payloadHash: r.Header.Get("x-amz-content-sha256"),
			body:        string(body),
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, puts
}

func TestNewS3Store_RequiresBucketAndEndpoint(t *testing.T) {
	_, err := NewS3Store(S3Config{Endpoint: "localhost:9000"})
	assert.Error(t, err)

	_, err = NewS3Store(S3Config{Bucket: "artifacts"})
	assert.Error(t, err)
}

func TestS3Store_PutSigned(t *testing.T) {
	srv, puts := newFakeS3(t, http.StatusOK)

	store, err := NewS3Store(S3Config{
		Endpoint:       srv.URL,
		Region:         "eu-west-1",
		AccessKey:      "AKIDEXAMPLE",
		SecretKey:      "secret",
		Bucket:         "artifacts",
		Prefix:         "sercy",
		PublicEndpoint: "https://cdn.example.com/",
	})
	require.NoError(t, err)
	store.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	obj, err := store.Put(context.Background(), "builds/b1/app.js", "text/javascript", []byte("console.log(1)"))
	require.NoError(t, err)

	assert.Equal(t, "sercy/builds/b1/app.js", obj.Key)
	assert.Equal(t, "https://cdn.example.com/sercy/builds/b1/app.js", obj.URL)

	got := <-puts
	assert.Equal(t, http.MethodPut, got.method)
	assert.Equal(t, "/artifacts/sercy/builds/b1/app.js", got.path)
	assert.Equal(t, "text/javascript", got.contentType)
	assert.Equal(t, "console.log(1)", got.body)
	assert.Equal(t, "20260301T120000Z", got.amzDate)
	assert.Equal(t, sha256Hex([]byte("console.log(1)")), got.payloadHash)
	assert.True(t, strings.HasPrefix(got.auth,
		"AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20260301/eu-west-1/s3/aws4_request, SignedHeaders="))
	assert.Contains(t, got.auth, "x-amz-date")
	assert.Contains(t, got.auth, "Signature=")
}

func TestS3Store_PutAnonymous(t *testing.T) {
	srv, puts := newFakeS3(t, http.StatusOK)
	store, err := NewS3Store(S3Config{Endpoint: srv.URL, Bucket: "artifacts"})
	require.NoError(t, err)

	obj, err := store.Put(context.Background(), "/builds/b1/a.txt", "", []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "builds/b1/a.txt", obj.Key)
	assert.Empty(t, obj.URL)

	got := <-puts
	assert.Empty(t, got.auth)
}

func TestS3Store_PutErrorStatus(t *testing.T) {
	tests := []struct {
		name            string
		status          int
		wantUnavailable bool
	}{
		{name: "forbidden", status: http.StatusForbidden, wantUnavailable: false},
		{name: "service unavailable", status: http.StatusServiceUnavailable, wantUnavailable: true},
		{name: "slow down", status: http.StatusTooManyRequests, wantUnavailable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newFakeS3(t, tt.status)
			store, err := NewS3Store(S3Config{Endpoint: srv.URL, Bucket: "artifacts"})
			require.NoError(t, err)

			_, err = store.Put(context.Background(), "k", "", nil)
			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.wantUnavailable, se.Unavailable())
		})
	}
}

func TestS3Store_PutHonoursContextDeadline(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	t.Cleanup(func() { close(block); srv.Close() })

	store, err := NewS3Store(S3Config{Endpoint: srv.URL, Bucket: "artifacts"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = store.Put(ctx, "k", "", []byte("x"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestJoinKey(t *testing.T) {
	tests := []struct{ prefix, key, want string }{
		{"", "builds/b1/a", "builds/b1/a"},
		{"/root/", "builds/b1/a", "root/builds/b1/a"},
		{"root", "root/builds/b1/a", "root/builds/b1/a"},
		{"root", "", "root"},
		{"", "//lead", "lead"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, joinKey(tt.prefix, tt.key), "prefix=%q key=%q", tt.prefix, tt.key)
	}
}

func TestSigningKeyIsDeterministic(t *testing.T) {
	a := signingKey("secret", "20260301", "us-east-1")
	b := signingKey("secret", "20260301", "us-east-1")
	c := signingKey("secret", "20260302", "us-east-1")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
