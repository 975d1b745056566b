package handler

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/sercy/internal/apperror"
	"github.com/sakif/sercy/internal/service"
)

// UploadFormField is the multipart field carrying files. It may repeat.
const UploadFormField = "file"

// UploadHandler accepts build artifacts. Callers authenticate with the upload
// token in the query string, not with an ID token.
type UploadHandler struct {
	uploads   *service.UploadService
	maxBytes  int64 // whole request body
	maxMemory int64 // parts above this spill to temp files
	logger    *slog.Logger
}

func NewUploadHandler(uploads *service.UploadService, maxBytes, maxMemory int64, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{uploads: uploads, maxBytes: maxBytes, maxMemory: maxMemory, logger: logger}
}

// HandleUpload stores the files of a multipart request under the build.
//
// HTTP: POST /build/{build}/upload?token=<upload token>
//
// Status: 200 when every file was stored, 207 when some failed, and when all
// failed 503 (every failure a timeout or outage) or 500. The body always lists
// stored and failed files.
func (h *UploadHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	buildID := chi.URLParam(r, "build")

	// Authorization runs before the body is read.
	build, err := h.uploads.Authorize(r.Context(), r.URL.Query().Get("token"), buildID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	if err := r.ParseMultipartForm(h.maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logFailure(r, h.logger, http.StatusRequestEntityTooLarge, err)
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:   "too_large",
				Message: "upload exceeds the size limit",
			})
			return
		}
		writeError(w, r, h.logger, apperror.ValidationFailed("file", "request must be multipart/form-data"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File[UploadFormField]
	files := make([]service.UploadFile, 0, len(headers))
	for _, fh := range headers {
		files = append(files, service.UploadFile{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Open:        openPart(fh),
		})
	}

	result, err := h.uploads.Store(r.Context(), build, files)
	switch {
	case err != nil && result == nil:
		writeError(w, r, h.logger, err)
	case err != nil:
		status, _, _ := statusFor(err)
		logFailure(r, h.logger, status, err)
		writeJSON(w, status, result)
	case len(result.Failed) > 0:
		writeJSON(w, http.StatusMultiStatus, result)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func openPart(fh *multipart.FileHeader) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) { return fh.Open() }
}

// FinishResponse is the body of a successful upload-finish.
type FinishResponse struct {
	Build  string `json:"build"`
	Status string `json:"status"`
}

// HandleFinish marks the build's upload complete.
//
// HTTP: POST /build/{build}/upload-finish?token=<upload token>
func (h *UploadHandler) HandleFinish(w http.ResponseWriter, r *http.Request) {
	build, err := h.uploads.Finish(r.Context(), r.URL.Query().Get("token"), chi.URLParam(r, "build"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, FinishResponse{Build: build.ID, Status: "finished"})
}
