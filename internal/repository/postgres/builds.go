package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chiefdeploy/chief/internal/domain"
	"github.com/chiefdeploy/chief/internal/repository"
)

const buildColumns = `id, project_id, commit_sha, trigger_kind, triggered_by_user_id, status, image, started_at, finished_at, deployed_at, created_at`

func scanBuild(row pgx.Row) (*domain.Build, error) {
	var b domain.Build
	if err := row.Scan(&b.ID, &b.ProjectID, &b.CommitSHA, &b.Trigger, &b.TriggeredByUserID, &b.Status, &b.Image, &b.StartedAt, &b.FinishedAt, &b.DeployedAt, &b.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// CreateBuild inserts a build row.
func (r *Repository) CreateBuild(ctx context.Context, build *domain.Build) error {
	const query = `INSERT INTO builds (id, project_id, commit_sha, trigger_kind, triggered_by_user_id, status, image, started_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query, build.ID, build.ProjectID, build.CommitSHA, build.Trigger,
		build.TriggeredByUserID, build.Status, build.Image, build.StartedAt, build.CreatedAt)
	return err
}

// GetBuildByID fetches a single build.
func (r *Repository) GetBuildByID(ctx context.Context, buildID string) (*domain.Build, error) {
	const query = `SELECT ` + buildColumns + ` FROM builds WHERE id = $1`
	return scanBuild(r.pool.QueryRow(ctx, query, buildID))
}

// GetLatestBuild returns the most recently created build for a project.
func (r *Repository) GetLatestBuild(ctx context.Context, projectID string) (*domain.Build, error) {
	const query = `SELECT ` + buildColumns + ` FROM builds WHERE project_id = $1 ORDER BY created_at DESC LIMIT 1`
	return scanBuild(r.pool.QueryRow(ctx, query, projectID))
}

// ListBuildsByProject returns recent builds for a project.
func (r *Repository) ListBuildsByProject(ctx context.Context, projectID string, limit int) ([]domain.Build, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT ` + buildColumns + ` FROM builds WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	builds := make([]domain.Build, 0)
	for rows.Next() {
		var b domain.Build
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.CommitSHA, &b.Trigger, &b.TriggeredByUserID, &b.Status, &b.Image, &b.StartedAt, &b.FinishedAt, &b.DeployedAt, &b.CreatedAt); err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

// UpdateBuildStatus advances the status of a build.
func (r *Repository) UpdateBuildStatus(ctx context.Context, buildID string, status domain.BuildStatus) error {
	const query = `UPDATE builds SET status = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, buildID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// FinishBuild records the terminal build-phase state together with the image
// reference and finished timestamp.
func (r *Repository) FinishBuild(ctx context.Context, buildID string, status domain.BuildStatus, image string, finishedAt time.Time) error {
	const query = `UPDATE builds SET status = $2, image = $3, finished_at = $4 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, buildID, status, image, finishedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CompleteDeploy records the terminal deploy-phase state and timestamp.
func (r *Repository) CompleteDeploy(ctx context.Context, buildID string, status domain.BuildStatus, deployedAt time.Time) error {
	const query = `UPDATE builds SET status = $2, deployed_at = $3 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, buildID, status, deployedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
