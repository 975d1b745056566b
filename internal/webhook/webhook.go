// Package webhook holds the collaborators behind the GitHub webhook routes:
// the payload processor, delivery signature checks and the installation hook
// run from the App setup callback.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/sakif/sercy/internal/model"
)

// Processor receives every accepted delivery exactly once.
// *events.StreamPublisher and *events.LogPublisher satisfy it.
type Processor interface {
	Handle(ctx context.Context, event model.WebhookEvent) error
}

// SignatureHeader carries "sha256=<hex hmac of the body>".
const SignatureHeader = "X-Hub-Signature-256"

var (
	ErrMissingSignature = errors.New("webhook: missing signature")
	ErrBadSignature     = errors.New("webhook: signature mismatch")
)

// VerifySignature checks header against the HMAC-SHA256 of body keyed with secret.
func VerifySignature(secret, body []byte, header string) error {
	sig, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok || sig == "" {
		return ErrMissingSignature
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrBadSignature
	}
	if !hmac.Equal(got, Sign(secret, body)) {
		return ErrBadSignature
	}
	return nil
}

// Sign returns the raw HMAC-SHA256 of body.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// SignatureFor formats Sign as a SignatureHeader value.
func SignatureFor(secret, body []byte) string {
	return "sha256=" + hex.EncodeToString(Sign(secret, body))
}
