package handler_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sakif/sercy/internal/auth"
	"github.com/sakif/sercy/internal/model"
	"github.com/sakif/sercy/internal/repository/sqlite"
	"github.com/sakif/sercy/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// asSubject attaches an identity the way auth.RequireIdentity would.
func asSubject(r *http.Request, subject string) *http.Request {
	return r.WithContext(auth.WithIdentity(r.Context(), model.Identity{Subject: subject}))
}

// memStore is an in-memory ObjectStore. errFor lets a test fail chosen keys.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	errFor  func(key string) error
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) Put(ctx context.Context, key, _ string, body []byte) (storage.Object, error) {
	if s.errFor != nil {
		if err := s.errFor(key); err != nil {
			return storage.Object{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), body...)
	return storage.Object{Key: key}, nil
}

func (s *memStore) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	return b, ok
}
