package model

import "time"

// Build is a caller-named unit of uploaded artifacts.
//
// The first subject that uploads with a valid upload token claims the build
// id; afterwards only that subject may upload to or finish it.
type Build struct {
	ID         string     `json:"id"                   db:"id"`
	OwnerID    string     `json:"ownerId"              db:"owner_id"`
	CreatedAt  time.Time  `json:"createdAt"            db:"created_at"`
	FinishedAt *time.Time `json:"finishedAt,omitempty" db:"finished_at"`
}

// FileRef is the stored reference for one uploaded file.
type FileRef struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Path string `json:"path"`          // object key inside the bucket
	URL  string `json:"url,omitempty"` // public URL when the store exposes one
}

// FileFailure reports a file that could not be stored.
// Error is a short client-safe message, never the backend's error text.
type FileFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// UploadResult is the per-file outcome of one multipart upload.
//
// Stored and Failed preserve the order in which files appeared in the request.
type UploadResult struct {
	Build  string        `json:"build"`
	Stored []FileRef     `json:"stored"`
	Failed []FileFailure `json:"failed"`
}
