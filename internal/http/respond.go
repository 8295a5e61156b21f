package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/chiefdeploy/chief/internal/domain"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func projectResponse(p *domain.Project) map[string]any {
	return map[string]any{
		"id":              p.ID,
		"organization_id": p.OrganizationID,
		"name":            p.Name,
		"repository":      p.Repository,
		"type":            p.Type,
		"domain":          p.Domain,
		"web_port":        p.WebPort,
		"env_vars":        p.EnvVars,
		"source_id":       p.SourceID,
		"created_at":      p.CreatedAt,
		"updated_at":      p.UpdatedAt,
	}
}

func buildResponse(b *domain.Build) map[string]any {
	return map[string]any{
		"id":          b.ID,
		"project_id":  b.ProjectID,
		"commit_sha":  b.CommitSHA,
		"trigger":     b.Trigger,
		"status":      b.Status,
		"image":       b.Image,
		"started_at":  b.StartedAt,
		"finished_at": b.FinishedAt,
		"deployed_at": b.DeployedAt,
	}
}

func logResponse(entry domain.PipelineLog) map[string]any {
	return map[string]any{
		"id":         entry.ID,
		"project_id": entry.ProjectID,
		"build_id":   entry.BuildID,
		"phase":      entry.Phase,
		"body":       entry.Body,
		"level":      entry.Level,
		"created_at": entry.CreatedAt,
	}
}

func postgresInstanceResponse(inst *domain.PostgresInstance) map[string]any {
	return map[string]any{
		"id":              inst.ID,
		"organization_id": inst.OrganizationID,
		"name":            inst.Name,
		"image":           inst.Image,
		"username":        inst.Username,
		"password":        inst.Password,
		"database":        inst.Database,
		"status":          inst.Status,
		"deployed_at":     inst.DeployedAt,
		"created_at":      inst.CreatedAt,
	}
}

func redisInstanceResponse(inst *domain.RedisInstance) map[string]any {
	return map[string]any{
		"id":              inst.ID,
		"organization_id": inst.OrganizationID,
		"name":            inst.Name,
		"image":           inst.Image,
		"password":        inst.Password,
		"status":          inst.Status,
		"deployed_at":     inst.DeployedAt,
		"created_at":      inst.CreatedAt,
	}
}
