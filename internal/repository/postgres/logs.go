package postgres

import (
	"context"
	"fmt"

	"github.com/chiefdeploy/chief/internal/domain"
)

// AppendLog inserts an immutable log line into the table matching its phase.
func (r *Repository) AppendLog(ctx context.Context, entry *domain.PipelineLog) error {
	var table string
	switch entry.Phase {
	case domain.PhaseBuild:
		table = "build_logs"
	case domain.PhaseDeploy:
		table = "deployment_logs"
	default:
		return fmt.Errorf("unknown log phase %q", entry.Phase)
	}
	query := `INSERT INTO ` + table + ` (id, project_id, build_id, body, level, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, entry.ID, entry.ProjectID, entry.BuildID, entry.Body, entry.Level, entry.CreatedAt)
	return err
}

// ListLogs returns the union of build-phase and deploy-phase entries for one
// build, each tagged with its phase, ordered by creation.
func (r *Repository) ListLogs(ctx context.Context, projectID, buildID string) ([]domain.PipelineLog, error) {
	const query = `SELECT id, project_id, build_id, 'build' AS phase, body, level, created_at
			FROM build_logs WHERE project_id = $1 AND build_id = $2
		UNION ALL
		SELECT id, project_id, build_id, 'deploy' AS phase, body, level, created_at
			FROM deployment_logs WHERE project_id = $1 AND build_id = $2
		ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, projectID, buildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.PipelineLog, 0)
	for rows.Next() {
		var l domain.PipelineLog
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.BuildID, &l.Phase, &l.Body, &l.Level, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
