package model

import (
	"encoding/json"
	"time"
)

// WebhookEvent is an inbound source-control event as received, uninterpreted.
type WebhookEvent struct {
	DeliveryID string          `json:"deliveryId"`
	Type       string          `json:"type"` // value of the X-GitHub-Event header
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// Installation links a GitHub App installation to the user who installed it.
type Installation struct {
	ID          int64     `json:"id"          db:"id"`
	SubjectID   string    `json:"subjectId"   db:"subject_id"`   // empty when the installer had no session
	GitHubLogin string    `json:"githubLogin" db:"github_login"` // empty when no OAuth code was exchanged
	SetupAction string    `json:"setupAction" db:"setup_action"`
	CreatedAt   time.Time `json:"createdAt"   db:"created_at"`
}
