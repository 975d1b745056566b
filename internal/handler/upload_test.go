package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/sercy/internal/handler"
	"github.com/sakif/sercy/internal/model"
	"github.com/sakif/sercy/internal/service"
)

type uploadFixture struct {
	router http.Handler
	tokens *service.UploadTokenService
	store  *memStore
}

func newUploadFixture(t *testing.T, maxBytes int64) *uploadFixture {
	t.Helper()
	db := newTestDB(t)
	store := newMemStore()
	tokens := service.NewUploadTokenService(db, testLogger(), nil)
	uploads := service.NewUploadService(tokens, db, store, nil,
		service.UploadConfig{Concurrency: 2, PutTimeout: time.Second}, testLogger(), nil)
	h := handler.NewUploadHandler(uploads, maxBytes, 1<<20, testLogger())

	r := chi.NewRouter()
	r.Post("/build/{build}/upload", h.HandleUpload)
	r.Post("/build/{build}/upload-finish", h.HandleFinish)
	return &uploadFixture{router: r, tokens: tokens, store: store}
}

func (f *uploadFixture) issue(t *testing.T, subject string) string {
	t.Helper()
	token, err := f.tokens.Issue(context.Background(), subject)
	require.NoError(t, err)
	return token
}

// multipartBody encodes name→content pairs under the "file" field.
func multipartBody(t *testing.T, files ...[2]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile(handler.UploadFormField, f[0])
		require.NoError(t, err)
		_, err = io.WriteString(part, f[1])
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (f *uploadFixture) post(path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

// readTracker records whether anything read the request body.
type readTracker struct {
	io.Reader
	read bool
}

func (r *readTracker) Read(p []byte) (int, error) {
	r.read = true
	return r.Reader.Read(p)
}

func TestUploadHandler_HandleUpload(t *testing.T) {
	t.Run("all files stored", func(t *testing.T) {
		f := newUploadFixture(t, 0)
		token := f.issue(t, "uid-1")
		body, ct := multipartBody(t, [2]string{"app.js", "console.log(1)"}, [2]string{"style.css", "body{}"})

		rr := f.post("/build/b1/upload?token="+token, body, ct)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var result model.UploadResult
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
		assert.Equal(t, "b1", result.Build)
		require.Len(t, result.Stored, 2)
		assert.Equal(t, "app.js", result.Stored[0].Name)
		assert.Equal(t, "builds/b1/style.css", result.Stored[1].Path)
		assert.Empty(t, result.Failed)

		got, ok := f.store.get("builds/b1/app.js")
		require.True(t, ok)
		assert.Equal(t, "console.log(1)", string(got))
	})

	t.Run("partial failure is 207", func(t *testing.T) {
		f := newUploadFixture(t, 0)
		f.store.errFor = func(key string) error {
			if strings.HasSuffix(key, "bad.bin") {
				return errors.New("backend says no")
			}
			return nil
		}
		token := f.issue(t, "uid-1")
		body, ct := multipartBody(t, [2]string{"good.txt", "ok"}, [2]string{"bad.bin", "x"})

		rr := f.post("/build/b1/upload?token="+token, body, ct)
		assert.Equal(t, http.StatusMultiStatus, rr.Code)
		assert.NotContains(t, rr.Body.String(), "backend says no")

		var result model.UploadResult
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
		assert.Len(t, result.Stored, 1)
		require.Len(t, result.Failed, 1)
		assert.Equal(t, "bad.bin", result.Failed[0].Name)
	})

	t.Run("same basename from two directories keeps the first", func(t *testing.T) {
		f := newUploadFixture(t, 0)
		token := f.issue(t, "uid-1")
		body, ct := multipartBody(t, [2]string{"a/main.js", "AAA"}, [2]string{"b/main.js", "BBBBB"})

		rr := f.post("/build/b1/upload?token="+token, body, ct)
		assert.Equal(t, http.StatusMultiStatus, rr.Code)

		var result model.UploadResult
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
		require.Len(t, result.Stored, 1)
		assert.Equal(t, int64(3), result.Stored[0].Size)
		require.Len(t, result.Failed, 1)
		assert.Equal(t, "main.js", result.Failed[0].Name)
		assert.Equal(t, "duplicate file name", result.Failed[0].Error)

		got, ok := f.store.get("builds/b1/main.js")
		require.True(t, ok)
		assert.Equal(t, "AAA", string(got))
	})

	t.Run("every file timed out is 503 with the result body", func(t *testing.T) {
		f := newUploadFixture(t, 0)
		f.store.errFor = func(string) error { return context.DeadlineExceeded }
		token := f.issue(t, "uid-1")
		body, ct := multipartBody(t, [2]string{"a.txt", "a"})

		rr := f.post("/build/b1/upload?token="+token, body, ct)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Contains(t, rr.Body.String(), `"failed":[{"name":"a.txt"`)
	})

	t.Run("every file failed otherwise is 500", func(t *testing.T) {
		f := newUploadFixture(t, 0)
		f.store.errFor = func(string) error { return errors.New("disk full") }
		token := f.issue(t, "uid-1")
		body, ct := multipartBody(t, [2]string{"a.txt", "a"})

		rr := f.post("/build/b1/upload?token="+token, body, ct)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})

	t.Run("missing token is rejected before the body is read", func(t *testing.T) {
		f := newUploadFixture(t, 0)
		raw, ct := multipartBody(t, [2]string{"a.txt", "a"})
		tracker := &readTracker{Reader: raw}

		rr := f.post("/build/b1/upload", tracker, ct)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.False(t, tracker.read)
	})

	t.Run("build owned by another subject", func(t *testing.T) {
		f := newUploadFixture(t, 0)
		owner := f.issue(t, "uid-1")
		other := f.issue(t, "uid-2")

		body, ct := multipartBody(t, [2]string{"a.txt", "a"})
		require.Equal(t, http.StatusOK, f.post("/build/b1/upload?token="+owner, body, ct).Code)

		body, ct = multipartBody(t, [2]string{"a.txt", "overwrite"})
		rr := f.post("/build/b1/upload?token="+other, body, ct)
		assert.Equal(t, http.StatusForbidden, rr.Code)

		got, _ := f.store.get("builds/b1/a.txt")
		assert.Equal(t, "a", string(got))
	})

	t.Run("invalid build id", func(t *testing.T) {
		f := newUploadFixture(t, 0)
		token := f.issue(t, "uid-1")
		body, ct := multipartBody(t, [2]string{"a.txt", "a"})

		rr := f.post("/build/b%20one/upload?token="+token, body, ct)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("no files", func(t *testing.T) {
		f := newUploadFixture(t, 0)
		token := f.issue(t, "uid-1")
		body, ct := multipartBody(t)

		rr := f.post("/build/b1/upload?token="+token, body, ct)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		f := newUploadFixture(t, 0)
		token := f.issue(t, "uid-1")

		rr := f.post("/build/b1/upload?token="+token, strings.NewReader(`{}`), "application/json")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("body over the limit", func(t *testing.T) {
		f := newUploadFixture(t, 512)
		token := f.issue(t, "uid-1")
		body, ct := multipartBody(t, [2]string{"big.bin", strings.Repeat("x", 4096)})

		rr := f.post("/build/b1/upload?token="+token, body, ct)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	})
}

func TestUploadHandler_HandleFinish(t *testing.T) {
	f := newUploadFixture(t, 0)
	owner := f.issue(t, "uid-1")
	other := f.issue(t, "uid-2")
	body, ct := multipartBody(t, [2]string{"a.txt", "a"})
	require.Equal(t, http.StatusOK, f.post("/build/b1/upload?token="+owner, body, ct).Code)

	t.Run("other subject", func(t *testing.T) {
		rr := f.post("/build/b1/upload-finish?token="+other, nil, "")
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("unclaimed build", func(t *testing.T) {
		rr := f.post("/build/b2/upload-finish?token="+owner, nil, "")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("owner", func(t *testing.T) {
		rr := f.post("/build/b1/upload-finish?token="+owner, nil, "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"build":"b1","status":"finished"}`, rr.Body.String())
	})
}
