// Package model defines the data structures used throughout the gateway.
package model

import (
	"encoding/json"
	"time"
)

// User is the persisted profile record for an authenticated subject.
//
// One row per SubjectID. Saving a user fully replaces the previous row:
// no history is kept, and fields omitted by the caller are cleared.
//
// ProviderToken is the source-control access token the browser obtained
// during sign-in. It is stored for downstream jobs but never serialized back
// to API clients.
type User struct {
	SubjectID     string          `json:"subjectId"  db:"subject_id"`
	ProviderToken string          `json:"-"          db:"provider_token"`
	ProviderID    string          `json:"providerId" db:"provider_id"` // e.g. "github.com"
	Username      string          `json:"username"   db:"username"`    // provider-assigned login
	Profile       json.RawMessage `json:"profile"    db:"profile"`     // provider profile blob, stored verbatim
	CreatedAt     time.Time       `json:"createdAt"  db:"created_at"`
	UpdatedAt     time.Time       `json:"updatedAt"  db:"updated_at"`
}

// UploadToken is the single active upload credential of a subject.
//
// Issuing a new token overwrites the previous one; there is no expiry.
type UploadToken struct {
	SubjectID string    `json:"-"        db:"subject_id"`
	Token     string    `json:"token"    db:"token"`
	IssuedAt  time.Time `json:"issuedAt" db:"issued_at"`
}
