package events

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/sercy/internal/apperror"
	"github.com/sakif/sercy/internal/model"
)

func newTestPublisher(t *testing.T) (*StreamPublisher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	p := NewStreamPublisher(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = p.Close() })
	return p, mr
}

func readStream(t *testing.T, p *StreamPublisher, stream string) []redis.XMessage {
	t.Helper()
	msgs, err := p.client.XRange(context.Background(), stream, "-", "+").Result()
	require.NoError(t, err)
	return msgs
}

// =============================================================================
// WEBHOOK EVENTS
// =============================================================================

func TestStreamPublisher_Handle(t *testing.T) {
	p, _ := newTestPublisher(t)
	received := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	err := p.Handle(context.Background(), model.WebhookEvent{
		DeliveryID: "d-1",
		Type:       "push",
		Payload:    json.RawMessage(`{"ref":"refs/heads/main"}`),
		ReceivedAt: received,
	})
	require.NoError(t, err)

	msgs := readStream(t, p, WebhookStream)
	require.Len(t, msgs, 1)
	assert.Equal(t, "d-1", msgs[0].Values["delivery_id"])
	assert.Equal(t, "push", msgs[0].Values["event_type"])
	assert.Equal(t, `{"ref":"refs/heads/main"}`, msgs[0].Values["payload"])
	assert.Equal(t, "2026-05-01T10:00:00Z", msgs[0].Values["received_at"])
}

func TestStreamPublisher_HandleRedisDown(t *testing.T) {
	p, mr := newTestPublisher(t)
	mr.Close()

	err := p.Handle(context.Background(), model.WebhookEvent{DeliveryID: "d-2", Type: "push"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrUnavailable)
}

// =============================================================================
// BUILD NOTIFICATIONS
// =============================================================================

func TestStreamPublisher_BuildFinished(t *testing.T) {
	p, _ := newTestPublisher(t)
	finished := time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC)

	err := p.BuildFinished(context.Background(), &model.Build{ID: "b1", OwnerID: "uid-1", FinishedAt: &finished})
	require.NoError(t, err)

	msgs := readStream(t, p, BuildFinishedStream)
	require.Len(t, msgs, 1)
	assert.Equal(t, TypeBuildFinished, msgs[0].Values["event_type"])
	assert.Equal(t, "b1", msgs[0].Values["build_id"])
	assert.Equal(t, "uid-1", msgs[0].Values["owner_id"])
	assert.Equal(t, "2026-05-01T11:00:00Z", msgs[0].Values["finished_at"])
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, p.Handle(context.Background(), model.WebhookEvent{DeliveryID: "d-3", Type: "installation"}))
	require.NoError(t, p.BuildFinished(context.Background(), &model.Build{ID: "b2", OwnerID: "uid-2"}))

	out := buf.String()
	assert.Contains(t, out, `"delivery_id":"d-3"`)
	assert.Contains(t, out, `"build_id":"b2"`)
}
