// Package events hands accepted webhook deliveries and build notifications to
// downstream consumers.
//
// StreamPublisher appends them to Redis streams; LogPublisher only logs them
// and is used when no Redis is configured.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/sercy/internal/apperror"
	"github.com/sakif/sercy/internal/model"
)

// Stream names.
const (
	WebhookStream       = "github:events"
	BuildFinishedStream = "builds:finished"
)

// Event type written to BuildFinishedStream.
const TypeBuildFinished = "build.upload_finished"

const defaultMaxLen = 10000

// StreamPublisher writes events to Redis streams with XADD.
// Streams are trimmed approximately to maxLen entries.
type StreamPublisher struct {
	client *redis.Client
	maxLen int64
	now    func() time.Time
}

// NewStreamPublisherFromURL parses a redis:// URL and connects lazily.
func NewStreamPublisherFromURL(url string) (*StreamPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("events: parsing redis url: %w", err)
	}
	return NewStreamPublisher(redis.NewClient(opts)), nil
}

func NewStreamPublisher(client *redis.Client) *StreamPublisher {
	return &StreamPublisher{client: client, maxLen: defaultMaxLen, now: time.Now}
}

func (p *StreamPublisher) Close() error {
	return p.client.Close()
}

func (p *StreamPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Handle appends the delivery to WebhookStream. The payload is stored
// verbatim; consumers interpret it.
func (p *StreamPublisher) Handle(ctx context.Context, event model.WebhookEvent) error {
	received := event.ReceivedAt
	if received.IsZero() {
		received = p.now()
	}
	values := map[string]any{
		"delivery_id": event.DeliveryID,
		"event_type":  event.Type,
		"received_at": received.UTC().Format(time.RFC3339Nano),
		"payload":     string(event.Payload),
	}
	if _, err := p.add(ctx, WebhookStream, values); err != nil {
		return fmt.Errorf("events: publishing delivery %s: %w", event.DeliveryID, err)
	}
	return nil
}

// BuildFinished appends a TypeBuildFinished entry to BuildFinishedStream.
func (p *StreamPublisher) BuildFinished(ctx context.Context, build *model.Build) error {
	finished := p.now()
	if build.FinishedAt != nil {
		finished = *build.FinishedAt
	}
	values := map[string]any{
		"event_type":  TypeBuildFinished,
		"build_id":    build.ID,
		"owner_id":    build.OwnerID,
		"finished_at": finished.UTC().Format(time.RFC3339Nano),
	}
	if _, err := p.add(ctx, BuildFinishedStream, values); err != nil {
		return fmt.Errorf("events: publishing build %s: %w", build.ID, err)
	}
	return nil
}

func (p *StreamPublisher) add(ctx context.Context, stream string, values map[string]any) (string, error) {
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", classify(err)
	}
	return id, nil
}

// classify marks connection failures and timeouts as Unavailable so the
// caller answers 503 instead of 500.
func classify(err error) error {
	var netErr net.Error
	if apperror.IsTimeout(err) || errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) {
		return apperror.Unavailable("event stream unavailable", err)
	}
	return apperror.Internal("event stream rejected the entry", err)
}

// LogPublisher logs events instead of forwarding them.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Handle(ctx context.Context, event model.WebhookEvent) error {
	p.logger.InfoContext(ctx, "webhook event received",
		slog.String("delivery_id", event.DeliveryID),
		slog.String("event_type", event.Type),
		slog.Int("payload_bytes", len(event.Payload)),
	)
	return nil
}

func (p *LogPublisher) BuildFinished(ctx context.Context, build *model.Build) error {
	p.logger.InfoContext(ctx, "build upload finished",
		slog.String("build_id", build.ID),
		slog.String("owner_id", build.OwnerID),
	)
	return nil
}
