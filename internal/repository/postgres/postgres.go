package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chiefdeploy/chief/internal/domain"
	"github.com/chiefdeploy/chief/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL. Source
// credentials (client secret, webhook secret, app private key) are
// encrypted with secretsKey before they hit the database and decrypted on
// read, so rows never carry them in the clear.
type Repository struct {
	pool       *pgxpool.Pool
	secretsKey string
}

// New constructs a Repository.
func New(pool *pgxpool.Pool, secretsKey string) *Repository {
	return &Repository{pool: pool, secretsKey: secretsKey}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.OrganizationRepository = (*Repository)(nil)
	_ repository.ProjectRepository     = (*Repository)(nil)
	_ repository.BuildRepository       = (*Repository)(nil)
	_ repository.LogRepository         = (*Repository)(nil)
	_ repository.SourceRepository      = (*Repository)(nil)
	_ repository.NotificationRepository = (*Repository)(nil)
	_ repository.InstanceRepository    = (*Repository)(nil)
)

// CreateOrganization inserts an organization.
func (r *Repository) CreateOrganization(ctx context.Context, org *domain.Organization) error {
	const query = `INSERT INTO organizations (id, name, created_at) VALUES ($1, $2, $3)`
	_, err := r.pool.Exec(ctx, query, org.ID, org.Name, org.CreatedAt)
	return err
}

// GetOrganizationByID fetches an organization by identifier.
func (r *Repository) GetOrganizationByID(ctx context.Context, id string) (*domain.Organization, error) {
	const query = `SELECT id, name, created_at FROM organizations WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var org domain.Organization
	if err := row.Scan(&org.ID, &org.Name, &org.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &org, nil
}
