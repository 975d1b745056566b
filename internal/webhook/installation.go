package webhook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/sercy/internal/auth"
	"github.com/sakif/sercy/internal/model"
	"github.com/sakif/sercy/internal/repository"
)

// Setup is what the App setup callback tells us about a new installation.
type Setup struct {
	InstallationID int64
	Action         string // setup_action query parameter
	SubjectID      string // from the caller's session; empty when anonymous
	Code           string // OAuth code GitHub appends when user authorization is requested
}

// InstallationLinker is invoked for setup_action=install before the page renders.
type InstallationLinker interface {
	Link(ctx context.Context, setup Setup) error
}

// LoginExchanger resolves an OAuth code to the GitHub user. *auth.GitHubProvider satisfies it.
type LoginExchanger interface {
	Exchange(ctx context.Context, code string) (*auth.GitHubUser, error)
}

// RepositoryLinker records installations in the repository, resolving the
// installer's login through the exchanger when a code is present.
type RepositoryLinker struct {
	repo      repository.InstallationRepository
	exchanger LoginExchanger // nil when no OAuth client is configured
	logger    *slog.Logger
}

var _ InstallationLinker = (*RepositoryLinker)(nil)

func NewRepositoryLinker(repo repository.InstallationRepository, exchanger LoginExchanger, logger *slog.Logger) *RepositoryLinker {
	return &RepositoryLinker{repo: repo, exchanger: exchanger, logger: logger}
}

func (l *RepositoryLinker) Link(ctx context.Context, setup Setup) error {
	if setup.InstallationID <= 0 {
		return fmt.Errorf("webhook: invalid installation id %d", setup.InstallationID)
	}

	inst := &model.Installation{
		ID:          setup.InstallationID,
		SubjectID:   setup.SubjectID,
		SetupAction: setup.Action,
	}

	// A failed exchange still records the installation without a login.
	if setup.Code != "" && l.exchanger != nil {
		user, err := l.exchanger.Exchange(ctx, setup.Code)
		if err != nil {
			l.logger.WarnContext(ctx, "github code exchange failed",
				slog.Int64("installation_id", setup.InstallationID),
				slog.String("error", err.Error()),
			)
		} else {
			inst.GitHubLogin = user.Login
		}
	}

	if err := l.repo.SaveInstallation(ctx, inst); err != nil {
		return fmt.Errorf("webhook: linking installation: %w", err)
	}

	l.logger.InfoContext(ctx, "installation linked",
		slog.Int64("installation_id", inst.ID),
		slog.String("subject", inst.SubjectID),
		slog.String("github_login", inst.GitHubLogin),
	)
	return nil
}
