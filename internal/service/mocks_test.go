package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/sercy/internal/apperror"
	"github.com/sakif/sercy/internal/model"
)

// =========================================================================
// IN-MEMORY REPOSITORIES
// =========================================================================
//
// Hand-written fakes for the repository interfaces. They store copies so a
// test cannot mutate state through a returned pointer. A mutex guards each
// map because the upload tests call them from several goroutines.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memTokens struct {
	mu        sync.Mutex
	bySubject map[string]model.UploadToken
}

func newMemTokens() *memTokens {
	return &memTokens{bySubject: make(map[string]model.UploadToken)}
}

func (m *memTokens) PutUploadToken(_ context.Context, t *model.UploadToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bySubject[t.SubjectID] = *t
	return nil
}

func (m *memTokens) GetUploadToken(_ context.Context, subject string) (*model.UploadToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.bySubject[subject]
	if !ok {
		return nil, apperror.NotFound("upload token", subject)
	}
	return &t, nil
}

func (m *memTokens) FindUploadToken(_ context.Context, token string) (*model.UploadToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.bySubject {
		if t.Token == token {
			return &t, nil
		}
	}
	return nil, apperror.NotFound("upload token", "<redacted>")
}

type memBuilds struct {
	mu     sync.Mutex
	builds map[string]model.Build
}

func newMemBuilds() *memBuilds {
	return &memBuilds{builds: make(map[string]model.Build)}
}

func (m *memBuilds) ClaimBuild(_ context.Context, id, owner string) (*model.Build, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.builds[id]
	if !ok {
		b = model.Build{ID: id, OwnerID: owner, CreatedAt: time.Now()}
		m.builds[id] = b
	}
	return &b, nil
}

func (m *memBuilds) GetBuild(_ context.Context, id string) (*model.Build, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.builds[id]
	if !ok {
		return nil, apperror.NotFound("build", id)
	}
	return &b, nil
}

func (m *memBuilds) FinishBuild(_ context.Context, id string) (*model.Build, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.builds[id]
	if !ok {
		return nil, apperror.NotFound("build", id)
	}
	now := time.Now()
	b.FinishedAt = &now
	m.builds[id] = b
	return &b, nil
}

type memUsers struct {
	users map[string]model.User
}

func (m *memUsers) SaveUser(_ context.Context, u *model.User) error {
	if m.users == nil {
		m.users = make(map[string]model.User)
	}
	m.users[u.SubjectID] = *u
	return nil
}

func (m *memUsers) GetUser(_ context.Context, subject string) (*model.User, error) {
	u, ok := m.users[subject]
	if !ok {
		return nil, apperror.NotFound("user", subject)
	}
	return &u, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	finished []string
	err      error
}

func (n *recordingNotifier) BuildFinished(_ context.Context, b *model.Build) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished = append(n.finished, b.ID)
	return n.err
}
