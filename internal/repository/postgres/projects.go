package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/chiefdeploy/chief/internal/domain"
	"github.com/chiefdeploy/chief/internal/repository"
)

const projectColumns = `id, organization_id, name, repository, type, domain, web_port, env_vars, source_id, created_at, updated_at`

func scanProject(row pgx.Row) (*domain.Project, error) {
	var p domain.Project
	if err := row.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.Repository, &p.Type, &p.Domain, &p.WebPort, &p.EnvVars, &p.SourceID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreateProject inserts a project.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, organization_id, name, repository, type, domain, web_port, env_vars, source_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, query, project.ID, project.OrganizationID, project.Name, project.Repository, project.Type,
		project.Domain, project.WebPort, project.EnvVars, project.SourceID, project.CreatedAt, project.UpdatedAt)
	return err
}

// GetProjectByID fetches project details.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	return scanProject(r.pool.QueryRow(ctx, query, projectID))
}

// GetProjectWithSource loads a project together with its GithubSource. The
// source may be nil when the project has none configured.
func (r *Repository) GetProjectWithSource(ctx context.Context, projectID string) (*domain.Project, *domain.GithubSource, error) {
	project, err := r.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	if project.SourceID == "" {
		return project, nil, nil
	}
	source, err := r.GetSourceByID(ctx, project.SourceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return project, nil, nil
		}
		return nil, nil, err
	}
	return project, source, nil
}

// ListProjectsByRepository resolves every project bound to a repository
// under a given source; used by the push webhook handler.
func (r *Repository) ListProjectsByRepository(ctx context.Context, sourceID, repo string) ([]domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE source_id = $1 AND repository = $2`
	rows, err := r.pool.Query(ctx, query, sourceID, repo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.Repository, &p.Type, &p.Domain, &p.WebPort, &p.EnvVars, &p.SourceID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ListProjectsByOrganization returns projects for the provided organization.
func (r *Repository) ListProjectsByOrganization(ctx context.Context, orgID string) ([]domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE organization_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.Repository, &p.Type, &p.Domain, &p.WebPort, &p.EnvVars, &p.SourceID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProject applies settings changes to a project.
func (r *Repository) UpdateProject(ctx context.Context, project *domain.Project) error {
	const query = `UPDATE projects
		SET name = $2, repository = $3, type = $4, domain = $5, web_port = $6, env_vars = $7, source_id = $8, updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, project.ID, project.Name, project.Repository, project.Type,
		project.Domain, project.WebPort, project.EnvVars, project.SourceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteProject removes a project; builds and logs cascade at the schema level.
func (r *Repository) DeleteProject(ctx context.Context, projectID string) error {
	const query = `DELETE FROM projects WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, projectID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
