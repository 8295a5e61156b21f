package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/chiefdeploy/chief/internal/domain"
	"github.com/chiefdeploy/chief/internal/repository"
	"github.com/chiefdeploy/chief/pkg/crypto"
)

const sourceColumns = `id, organization_id, app_id, client_id, client_secret, webhook_secret, pem, installation_id, created_at`

func (r *Repository) scanSource(row pgx.Row) (*domain.GithubSource, error) {
	var s domain.GithubSource
	if err := row.Scan(&s.ID, &s.OrganizationID, &s.AppID, &s.ClientID, &s.ClientSecret, &s.WebhookSecret, &s.PEM, &s.InstallationID, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	for _, field := range []*[]byte{&s.ClientSecret, &s.WebhookSecret, &s.PEM} {
		if len(*field) == 0 {
			continue
		}
		plain, err := crypto.Decrypt(r.secretsKey, *field)
		if err != nil {
			return nil, err
		}
		*field = plain
	}
	return &s, nil
}

func (r *Repository) sealSecret(plain []byte) ([]byte, error) {
	if len(plain) == 0 {
		return nil, nil
	}
	return crypto.Encrypt(r.secretsKey, plain)
}

// CreateSource inserts a GitHub App registration with its credentials
// encrypted.
func (r *Repository) CreateSource(ctx context.Context, source *domain.GithubSource) error {
	clientSecret, err := r.sealSecret(source.ClientSecret)
	if err != nil {
		return err
	}
	webhookSecret, err := r.sealSecret(source.WebhookSecret)
	if err != nil {
		return err
	}
	pem, err := r.sealSecret(source.PEM)
	if err != nil {
		return err
	}

	const query = `INSERT INTO github_sources (id, organization_id, app_id, client_id, client_secret, webhook_secret, pem, installation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = r.pool.Exec(ctx, query, source.ID, source.OrganizationID, source.AppID, source.ClientID,
		clientSecret, webhookSecret, pem, source.InstallationID, source.CreatedAt)
	return err
}

// GetSourceByID fetches a registration by identifier.
func (r *Repository) GetSourceByID(ctx context.Context, sourceID string) (*domain.GithubSource, error) {
	const query = `SELECT ` + sourceColumns + ` FROM github_sources WHERE id = $1`
	return r.scanSource(r.pool.QueryRow(ctx, query, sourceID))
}

// GetSourceByOrganization fetches the registration owned by an organization.
func (r *Repository) GetSourceByOrganization(ctx context.Context, orgID string) (*domain.GithubSource, error) {
	const query = `SELECT ` + sourceColumns + ` FROM github_sources WHERE organization_id = $1`
	return r.scanSource(r.pool.QueryRow(ctx, query, orgID))
}

// GetSourceByAppID resolves the registration for a GitHub App; installation
// webhooks identify the app before an installation id is recorded.
func (r *Repository) GetSourceByAppID(ctx context.Context, appID string) (*domain.GithubSource, error) {
	const query = `SELECT ` + sourceColumns + ` FROM github_sources WHERE app_id = $1`
	return r.scanSource(r.pool.QueryRow(ctx, query, appID))
}

// GetSourceByInstallation resolves the registration for an app
// installation; used by the push webhook handler.
func (r *Repository) GetSourceByInstallation(ctx context.Context, installationID int64) (*domain.GithubSource, error) {
	const query = `SELECT ` + sourceColumns + ` FROM github_sources WHERE installation_id = $1`
	return r.scanSource(r.pool.QueryRow(ctx, query, installationID))
}

// SetInstallationID records the app installation once the user completes it.
func (r *Repository) SetInstallationID(ctx context.Context, sourceID string, installationID int64) error {
	const query = `UPDATE github_sources SET installation_id = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, sourceID, installationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetInstallationByAppID records the installation for every registration of
// an app id; GitHub installation webhooks identify the app, not our source.
func (r *Repository) SetInstallationByAppID(ctx context.Context, appID string, installationID int64) error {
	const query = `UPDATE github_sources SET installation_id = $2 WHERE app_id = $1`
	_, err := r.pool.Exec(ctx, query, appID, installationID)
	return err
}
