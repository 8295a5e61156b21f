package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chiefdeploy/chief/internal/domain"
	"github.com/chiefdeploy/chief/internal/repository"
)

// CreatePostgresInstance inserts a managed relational-store instance.
func (r *Repository) CreatePostgresInstance(ctx context.Context, instance *domain.PostgresInstance) error {
	const query = `INSERT INTO postgres_instances (id, organization_id, name, image, username, password, db_name, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query, instance.ID, instance.OrganizationID, instance.Name, instance.Image,
		instance.Username, instance.Password, instance.Database, instance.Status, instance.CreatedAt)
	return err
}

// GetPostgresInstance fetches a relational-store instance.
func (r *Repository) GetPostgresInstance(ctx context.Context, id string) (*domain.PostgresInstance, error) {
	const query = `SELECT id, organization_id, name, image, username, password, db_name, status, deployed_at, created_at
		FROM postgres_instances WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var inst domain.PostgresInstance
	if err := row.Scan(&inst.ID, &inst.OrganizationID, &inst.Name, &inst.Image, &inst.Username, &inst.Password, &inst.Database, &inst.Status, &inst.DeployedAt, &inst.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &inst, nil
}

// UpdatePostgresInstanceStatus advances instance lifecycle state.
func (r *Repository) UpdatePostgresInstanceStatus(ctx context.Context, id string, status domain.InstanceStatus, deployedAt *time.Time) error {
	const query = `UPDATE postgres_instances SET status = $2, deployed_at = COALESCE($3, deployed_at) WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, status, deployedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeletePostgresInstance removes the instance record.
func (r *Repository) DeletePostgresInstance(ctx context.Context, id string) error {
	const query = `DELETE FROM postgres_instances WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateRedisInstance inserts a managed cache-store instance.
func (r *Repository) CreateRedisInstance(ctx context.Context, instance *domain.RedisInstance) error {
	const query = `INSERT INTO redis_instances (id, organization_id, name, image, password, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, instance.ID, instance.OrganizationID, instance.Name, instance.Image,
		instance.Password, instance.Status, instance.CreatedAt)
	return err
}

// GetRedisInstance fetches a cache-store instance.
func (r *Repository) GetRedisInstance(ctx context.Context, id string) (*domain.RedisInstance, error) {
	const query = `SELECT id, organization_id, name, image, password, status, deployed_at, created_at
		FROM redis_instances WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var inst domain.RedisInstance
	if err := row.Scan(&inst.ID, &inst.OrganizationID, &inst.Name, &inst.Image, &inst.Password, &inst.Status, &inst.DeployedAt, &inst.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &inst, nil
}

// UpdateRedisInstanceStatus advances instance lifecycle state.
func (r *Repository) UpdateRedisInstanceStatus(ctx context.Context, id string, status domain.InstanceStatus, deployedAt *time.Time) error {
	const query = `UPDATE redis_instances SET status = $2, deployed_at = COALESCE($3, deployed_at) WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, status, deployedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteRedisInstance removes the instance record.
func (r *Repository) DeleteRedisInstance(ctx context.Context, id string) error {
	const query = `DELETE FROM redis_instances WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
