package postgres

import (
	"context"

	"github.com/chiefdeploy/chief/internal/domain"
)

// CreateEndpoint inserts a notification endpoint.
func (r *Repository) CreateEndpoint(ctx context.Context, endpoint *domain.NotificationEndpoint) error {
	const query = `INSERT INTO notification_endpoints (id, organization_id, name, type, endpoint, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, endpoint.ID, endpoint.OrganizationID, endpoint.Name, endpoint.Type, endpoint.Endpoint, endpoint.CreatedAt)
	return err
}

// AttachEndpoint links an endpoint to a project.
func (r *Repository) AttachEndpoint(ctx context.Context, projectID, endpointID string) error {
	const query = `INSERT INTO project_notification_endpoints (project_id, endpoint_id)
		VALUES ($1, $2)
		ON CONFLICT (project_id, endpoint_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query, projectID, endpointID)
	return err
}

// ListEndpointsByProject returns the endpoints attached to a project.
func (r *Repository) ListEndpointsByProject(ctx context.Context, projectID string) ([]domain.NotificationEndpoint, error) {
	const query = `SELECT e.id, e.organization_id, e.name, e.type, e.endpoint, e.created_at
		FROM notification_endpoints e
		INNER JOIN project_notification_endpoints pe ON pe.endpoint_id = e.id
		WHERE pe.project_id = $1
		ORDER BY e.created_at ASC`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	endpoints := make([]domain.NotificationEndpoint, 0)
	for rows.Next() {
		var e domain.NotificationEndpoint
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.Name, &e.Type, &e.Endpoint, &e.CreatedAt); err != nil {
			return nil, err
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, rows.Err()
}
