package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/sercy/internal/apperror"
	"github.com/sakif/sercy/internal/auth"
	"github.com/sakif/sercy/internal/metrics"
	"github.com/sakif/sercy/internal/model"
	"github.com/sakif/sercy/internal/webhook"
)

// Webhook outcomes as counted in metrics.
const (
	outcomeAccepted   = "accepted"
	outcomeRejected   = "rejected"
	outcomeFailed     = "failed"
	outcomeUnroutable = "unroutable"
)

const setupActionInstall = "install"

// WebhookConfig configures WebhookHandler.
type WebhookConfig struct {
	Secret          []byte        // empty disables signature checks
	MaxBytes        int64         // delivery body limit
	Timeout         time.Duration // processor and installation hook deadline
	ProviderTimeout time.Duration // session lookup on the setup callback
}

// WebhookHandler serves the GitHub namespace.
type WebhookHandler struct {
	processor webhook.Processor
	linker    webhook.InstallationLinker // nil disables the installation hook
	verifier  auth.IdentityVerifier
	renderer  http.Handler
	cfg       WebhookConfig
	logger    *slog.Logger
	metrics   metrics.Recorder
}

func NewWebhookHandler(
	processor webhook.Processor,
	linker webhook.InstallationLinker,
	verifier auth.IdentityVerifier,
	renderer http.Handler,
	cfg WebhookConfig,
	logger *slog.Logger,
	rec metrics.Recorder,
) *WebhookHandler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &WebhookHandler{
		processor: processor,
		linker:    linker,
		verifier:  verifier,
		renderer:  renderer,
		cfg:       cfg,
		logger:    logger,
		metrics:   rec,
	}
}

// DeliveryResponse acknowledges an accepted delivery.
type DeliveryResponse struct {
	Delivery string `json:"delivery"`
}

// HandleHook forwards a delivery to the processor exactly once.
//
// HTTP: POST /github/hooks
func (h *WebhookHandler) HandleHook(w http.ResponseWriter, r *http.Request) {
	eventType := r.Header.Get("X-GitHub-Event")

	if h.cfg.MaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBytes)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.metrics.RecordWebhook(eventType, outcomeRejected)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logFailure(r, h.logger, http.StatusRequestEntityTooLarge, err)
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "too_large", Message: "delivery exceeds the size limit"})
			return
		}
		writeError(w, r, h.logger, apperror.ValidationFailed("body", "could not read delivery body"))
		return
	}

	if len(h.cfg.Secret) > 0 {
		if err := webhook.VerifySignature(h.cfg.Secret, body, r.Header.Get(webhook.SignatureHeader)); err != nil {
			h.metrics.RecordWebhook(eventType, outcomeRejected)
			writeError(w, r, h.logger, apperror.Unauthenticated("invalid delivery signature", err))
			return
		}
	}

	if eventType == "" {
		h.metrics.RecordWebhook(eventType, outcomeRejected)
		writeError(w, r, h.logger, apperror.ValidationFailed("X-GitHub-Event", "X-GitHub-Event header is required"))
		return
	}

	event := model.WebhookEvent{
		DeliveryID: r.Header.Get("X-GitHub-Delivery"),
		Type:       eventType,
		Payload:    body,
		ReceivedAt: time.Now().UTC(),
	}
	if event.DeliveryID == "" {
		event.DeliveryID = xid.New().String()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Timeout)
	defer cancel()

	if err := h.processor.Handle(ctx, event); err != nil {
		h.metrics.RecordWebhook(eventType, outcomeFailed)
		if apperror.IsTimeout(err) && !errors.Is(err, apperror.ErrUnavailable) {
			err = apperror.Unavailable("event processor timed out", err)
		}
		writeError(w, r, h.logger, err)
		return
	}

	h.metrics.RecordWebhook(eventType, outcomeAccepted)
	h.logger.InfoContext(r.Context(), "webhook delivery accepted",
		slog.String("delivery_id", event.DeliveryID),
		slog.String("event_type", event.Type),
	)
	writeJSON(w, http.StatusAccepted, DeliveryResponse{Delivery: event.DeliveryID})
}

// HandleUnknown answers any other POST under /github with 501. It is a server
// error on purpose, so misconfigured App webhook URLs show up in alerts.
//
// HTTP: POST /github/*
func (h *WebhookHandler) HandleUnknown(w http.ResponseWriter, r *http.Request) {
	h.metrics.RecordWebhook(r.Header.Get("X-GitHub-Event"), outcomeUnroutable)
	writeError(w, r, h.logger, apperror.NotImplemented("no handler for "+r.URL.Path))
}

// HandleSetup runs the installation hook for fresh installs, then lets the
// renderer draw the setup page. Hook failures never block the page.
//
// HTTP: GET /github/setup?installation_id=<id>&setup_action=install[&code=<oauth code>]
func (h *WebhookHandler) HandleSetup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.linker != nil && q.Get("setup_action") == setupActionInstall {
		h.linkInstallation(r, q.Get("installation_id"), q.Get("code"))
	}
	h.renderer.ServeHTTP(w, r)
}

func (h *WebhookHandler) linkInstallation(r *http.Request, rawID, code string) {
	log := h.logger.With(slog.String("installation_id", rawID))

	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		log.WarnContext(r.Context(), "setup callback without a valid installation id")
		return
	}

	setup := webhook.Setup{InstallationID: id, Action: setupActionInstall, Code: code}

	// The session is optional here; an anonymous installer is still linked.
	if h.verifier != nil {
		identity, err := auth.Authenticate(r.Context(), h.verifier, h.cfg.ProviderTimeout, r)
		switch {
		case err == nil:
			setup.SubjectID = identity.Subject
		case errors.Is(err, apperror.ErrUnavailable):
			log.ErrorContext(r.Context(), "identity provider unavailable during setup", slog.String("error", err.Error()))
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Timeout)
	defer cancel()
	if err := h.linker.Link(ctx, setup); err != nil {
		log.ErrorContext(r.Context(), "installation hook failed", slog.String("error", err.Error()))
	}
}
