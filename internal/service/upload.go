package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/sercy/internal/apperror"
	"github.com/sakif/sercy/internal/metrics"
	"github.com/sakif/sercy/internal/model"
	"github.com/sakif/sercy/internal/repository"
	"github.com/sakif/sercy/internal/storage"
)

var buildIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// Short client-facing failure messages. Backend errors only go to the log.
const (
	failTimeout     = "storage timed out"
	failUnavailable = "storage unavailable"
	failWrite       = "storage write failed"
	failRead        = "could not read uploaded file"
	failName        = "invalid file name"
	failDuplicate   = "duplicate file name"
)

// UploadFile is one part of a multipart upload. Open is called once, from the
// goroutine that stores the file.
type UploadFile struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// BuildNotifier is told when a build's upload is finished.
// *events.StreamPublisher and *events.LogPublisher satisfy it.
type BuildNotifier interface {
	BuildFinished(ctx context.Context, build *model.Build) error
}

// UploadConfig bounds the fan-out.
type UploadConfig struct {
	Concurrency int           // files stored at once per request
	PutTimeout  time.Duration // per ObjectStore.Put call
}

// UploadService authorizes uploads against the token store and build
// ownership, then stores files concurrently.
type UploadService struct {
	tokens   *UploadTokenService
	builds   repository.BuildRepository
	store    storage.ObjectStore
	notifier BuildNotifier
	cfg      UploadConfig
	logger   *slog.Logger
	metrics  metrics.Recorder
}

func NewUploadService(
	tokens *UploadTokenService,
	builds repository.BuildRepository,
	store storage.ObjectStore,
	notifier BuildNotifier,
	cfg UploadConfig,
	logger *slog.Logger,
	rec metrics.Recorder,
) *UploadService {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PutTimeout <= 0 {
		cfg.PutTimeout = 30 * time.Second
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &UploadService{
		tokens:   tokens,
		builds:   builds,
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		metrics:  rec,
	}
}

// ValidateBuildID rejects ids that are not safe as an object key segment.
func ValidateBuildID(buildID string) error {
	if !buildIDPattern.MatchString(buildID) || buildID == "." || buildID == ".." {
		return apperror.ValidationFailed("build", "build id must be 1-128 characters of A-Z a-z 0-9 . _ -")
	}
	return nil
}

// Authorize resolves token to a subject and claims buildID for it. A build
// already owned by another subject is Forbidden. It runs before the request
// body is read.
func (s *UploadService) Authorize(ctx context.Context, token, buildID string) (*model.Build, error) {
	if err := ValidateBuildID(buildID); err != nil {
		return nil, err
	}
	subject, err := s.tokens.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	build, err := s.builds.ClaimBuild(ctx, buildID, subject)
	if err != nil {
		return nil, fmt.Errorf("service/upload: claiming build %s: %w", buildID, err)
	}
	if build.OwnerID != subject {
		s.logger.WarnContext(ctx, "upload to build owned by another subject",
			slog.String("build", buildID),
			slog.String("subject", subject),
		)
		return nil, apperror.Forbidden("build belongs to another user")
	}
	return build, nil
}

type fileOutcome struct {
	ref         *model.FileRef
	failure     *model.FileFailure
	unavailable bool
}

// Store writes every file to builds/<build>/<basename> concurrently and waits
// for all of them. Stored and Failed keep the order of files. A file whose
// basename repeats an earlier one in the same request is reported as failed
// rather than overwriting it.
//
// The error is nil when at least one file was stored. When every file failed
// the result is still returned, together with Unavailable if every failure
// was a timeout or outage and Internal otherwise.
func (s *UploadService) Store(ctx context.Context, build *model.Build, files []UploadFile) (*model.UploadResult, error) {
	if len(files) == 0 {
		return nil, apperror.ValidationFailed("file", "at least one file is required")
	}

	start := time.Now()
	outcomes := make([]fileOutcome, len(files))

	// Names are resolved before the fan-out so two parts never race for the
	// same key. The first part with a name wins; later ones fail.
	seen := make(map[string]struct{}, len(files))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, f := range files {
		name, ok := baseName(f.Name)
		if !ok {
			outcomes[i] = s.fail(ctx, build, f.Name, failName, "invalid_name", false, errors.New("unusable file name"))
			continue
		}
		if _, dup := seen[name]; dup {
			outcomes[i] = s.fail(ctx, build, name, failDuplicate, "duplicate_name",
				false, fmt.Errorf("%q resolves to an object key already used in this upload", f.Name))
			continue
		}
		seen[name] = struct{}{}

		g.Go(func() error {
			// Failures are recorded per slot; returning nil keeps the
			// remaining files going.
			outcomes[i] = s.storeOne(ctx, build, name, f)
			return nil
		})
	}
	_ = g.Wait()

	result := &model.UploadResult{
		Build:  build.ID,
		Stored: make([]model.FileRef, 0, len(files)),
		Failed: make([]model.FileFailure, 0),
	}
	allUnavailable := true
	for _, o := range outcomes {
		if o.ref != nil {
			result.Stored = append(result.Stored, *o.ref)
			continue
		}
		result.Failed = append(result.Failed, *o.failure)
		allUnavailable = allUnavailable && o.unavailable
	}

	s.metrics.RecordUploadLatency(time.Since(start))
	s.logger.InfoContext(ctx, "upload processed",
		slog.String("build", build.ID),
		slog.String("subject", build.OwnerID),
		slog.Int("stored", len(result.Stored)),
		slog.Int("failed", len(result.Failed)),
	)

	if len(result.Stored) > 0 {
		return result, nil
	}
	if allUnavailable {
		return result, apperror.Unavailable("object storage unavailable", nil)
	}
	return result, apperror.Internal("no file could be stored", nil)
}

// baseName is the last path element of a client file name. Both slash
// styles count as separators.
func baseName(raw string) (string, bool) {
	name := path.Base(strings.ReplaceAll(raw, `\`, "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "", false
	}
	return name, true
}

func (s *UploadService) storeOne(ctx context.Context, build *model.Build, name string, f UploadFile) fileOutcome {
	key := "builds/" + build.ID + "/" + name

	body, err := readAll(f)
	if err != nil {
		return s.fail(ctx, build, name, failRead, "read", false, err)
	}

	putCtx, cancel := context.WithTimeout(ctx, s.cfg.PutTimeout)
	defer cancel()

	obj, err := s.store.Put(putCtx, key, f.ContentType, body)
	if err != nil {
		switch {
		case apperror.IsTimeout(err):
			return s.fail(ctx, build, name, failTimeout, "timeout", true, err)
		case isUnavailable(err):
			return s.fail(ctx, build, name, failUnavailable, "unavailable", true, err)
		default:
			return s.fail(ctx, build, name, failWrite, "write", false, err)
		}
	}

	s.metrics.RecordFileStored(int64(len(body)))
	return fileOutcome{ref: &model.FileRef{
		Name: name,
		Size: int64(len(body)),
		Path: obj.Key,
		URL:  obj.URL,
	}}
}

func (s *UploadService) fail(ctx context.Context, build *model.Build, name, message, reason string, unavailable bool, cause error) fileOutcome {
	s.metrics.RecordFileFailed(reason)
	s.logger.ErrorContext(ctx, "storing uploaded file failed",
		slog.String("build", build.ID),
		slog.String("subject", build.OwnerID),
		slog.String("file", name),
		slog.String("reason", reason),
		slog.String("error", cause.Error()),
	)
	return fileOutcome{
		failure:     &model.FileFailure{Name: name, Error: message},
		unavailable: unavailable,
	}
}

func readAll(f UploadFile) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// isUnavailable matches storage errors that describe the backend rather than
// the object, e.g. *storage.StatusError for 503.
func isUnavailable(err error) bool {
	if errors.Is(err, apperror.ErrUnavailable) {
		return true
	}
	var u interface{ Unavailable() bool }
	return errors.As(err, &u) && u.Unavailable()
}

// Finish marks a build the caller already owns as finished and notifies
// downstream consumers. The build stays finished if notifying fails.
func (s *UploadService) Finish(ctx context.Context, token, buildID string) (*model.Build, error) {
	if err := ValidateBuildID(buildID); err != nil {
		return nil, err
	}
	subject, err := s.tokens.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	build, err := s.builds.GetBuild(ctx, buildID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/upload: getting build %s: %w", buildID, err)
	}
	if build.OwnerID != subject {
		return nil, apperror.Forbidden("build belongs to another user")
	}

	build, err = s.builds.FinishBuild(ctx, buildID)
	if err != nil {
		return nil, fmt.Errorf("service/upload: finishing build %s: %w", buildID, err)
	}

	if s.notifier != nil {
		if err := s.notifier.BuildFinished(ctx, build); err != nil {
			return nil, fmt.Errorf("service/upload: notifying build %s finished: %w", buildID, err)
		}
	}

	s.logger.InfoContext(ctx, "build finished",
		slog.String("build", build.ID),
		slog.String("subject", subject),
	)
	return build, nil
}
