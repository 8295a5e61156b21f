package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chiefdeploy/chief/internal/domain"
	"github.com/chiefdeploy/chief/internal/queue"
)

func (r *Router) handleOrganizations(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	payload.Name = strings.TrimSpace(payload.Name)
	if payload.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	org := domain.Organization{
		ID:        uuid.NewString(),
		Name:      payload.Name,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.orgs.CreateOrganization(req.Context(), &org); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         org.ID,
		"name":       org.Name,
		"created_at": org.CreatedAt,
	})
}

func (r *Router) handleOrganizationByID(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	orgID := strings.TrimPrefix(req.URL.Path, "/api/organizations/")
	if orgID == "" || strings.Contains(orgID, "/") {
		r.notFound(w)
		return
	}
	org, err := r.orgs.GetOrganizationByID(req.Context(), orgID)
	if err != nil {
		r.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         org.ID,
		"name":       org.Name,
		"created_at": org.CreatedAt,
	})
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.handleCreateProject(w, req)
	case http.MethodGet:
		orgID := req.URL.Query().Get("organization_id")
		if orgID == "" {
			writeError(w, http.StatusBadRequest, "organization_id query parameter required")
			return
		}
		projects, err := r.projects.ListProjectsByOrganization(req.Context(), orgID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]map[string]any, 0, len(projects))
		for i := range projects {
			out = append(out, projectResponse(&projects[i]))
		}
		writeJSON(w, http.StatusOK, out)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleCreateProject(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		OrganizationID string `json:"organization_id"`
		Name           string `json:"name"`
		Repository     string `json:"repository"`
		Type           string `json:"type"`
		Domain         string `json:"domain"`
		WebPort        int    `json:"web_port"`
		EnvVars        string `json:"env_vars"`
		SourceID       string `json:"source_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	payload.Name = strings.TrimSpace(payload.Name)
	payload.Repository = strings.TrimSpace(payload.Repository)
	payload.Domain = strings.TrimSpace(payload.Domain)
	if payload.Name == "" || payload.Repository == "" || payload.Domain == "" {
		writeError(w, http.StatusBadRequest, "name, repository and domain are required")
		return
	}
	buildType := domain.BuildType(payload.Type)
	if buildType == "" {
		buildType = domain.BuildTypeContainerFile
	}
	if buildType != domain.BuildTypeContainerFile && buildType != domain.BuildTypeBuildpack {
		writeError(w, http.StatusBadRequest, "type must be CONTAINER_FILE or BUILDPACK")
		return
	}
	if payload.WebPort < 1 || payload.WebPort > 65535 {
		writeError(w, http.StatusBadRequest, "web_port must be between 1 and 65535")
		return
	}
	if _, err := r.orgs.GetOrganizationByID(req.Context(), payload.OrganizationID); err != nil {
		r.writeRepoError(w, err)
		return
	}

	now := time.Now().UTC()
	project := domain.Project{
		ID:             uuid.NewString(),
		OrganizationID: payload.OrganizationID,
		Name:           payload.Name,
		Repository:     payload.Repository,
		Type:           buildType,
		Domain:         payload.Domain,
		WebPort:        payload.WebPort,
		EnvVars:        payload.EnvVars,
		SourceID:       payload.SourceID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.projects.CreateProject(req.Context(), &project); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, projectResponse(&project))
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/api/projects/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		r.notFound(w)
		return
	}
	projectID := parts[0]

	switch {
	case len(parts) == 1:
		r.handleProject(w, req, projectID)
	case len(parts) == 2 && parts[1] == "builds":
		r.handleProjectBuilds(w, req, projectID)
	case len(parts) == 2 && parts[1] == "notifications":
		r.handleAttachNotification(w, req, projectID)
	case len(parts) == 3 && parts[1] == "builds":
		r.handleBuild(w, req, projectID, parts[2])
	case len(parts) == 4 && parts[1] == "builds" && parts[3] == "deploy":
		r.handleRedeploy(w, req, projectID, parts[2])
	case len(parts) == 4 && parts[1] == "builds" && parts[3] == "logs":
		r.handleBuildLogs(w, req, projectID, parts[2])
	default:
		r.notFound(w)
	}
}

func (r *Router) handleProject(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodGet:
		project, err := r.projects.GetProjectByID(req.Context(), projectID)
		if err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, projectResponse(project))
	case http.MethodDelete:
		project, err := r.projects.GetProjectByID(req.Context(), projectID)
		if err != nil {
			r.writeRepoError(w, err)
			return
		}
		if r.deployments != nil {
			if err := r.deployments.Remove(req.Context(), project.ID); err != nil {
				r.logger.Warn("deployment removal failed", "project_id", project.ID, "error", err)
			}
		}
		if err := r.projects.DeleteProject(req.Context(), project.ID); err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectBuilds(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			UserID string `json:"user_id"`
		}
		_ = json.NewDecoder(req.Body).Decode(&payload)
		if _, err := r.projects.GetProjectByID(req.Context(), projectID); err != nil {
			r.writeRepoError(w, err)
			return
		}
		job := queue.BuildDeployJob{
			ProjectID:         projectID,
			Trigger:           domain.TriggerManual,
			TriggeredByUserID: payload.UserID,
		}
		if err := r.producer.Enqueue(req.Context(), queue.QueueBuildDeploy, job); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	case http.MethodGet:
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		builds, err := r.builds.ListBuildsByProject(req.Context(), projectID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]map[string]any, 0, len(builds))
		for i := range builds {
			out = append(out, buildResponse(&builds[i]))
		}
		writeJSON(w, http.StatusOK, out)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleBuild(w http.ResponseWriter, req *http.Request, projectID, buildID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	build, err := r.builds.GetBuildByID(req.Context(), buildID)
	if err != nil {
		r.writeRepoError(w, err)
		return
	}
	if build.ProjectID != projectID {
		r.notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, buildResponse(build))
}

// handleRedeploy re-enqueues an existing build for deployment without
// rebuilding the image.
func (r *Router) handleRedeploy(w http.ResponseWriter, req *http.Request, projectID, buildID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	build, err := r.builds.GetBuildByID(req.Context(), buildID)
	if err != nil {
		r.writeRepoError(w, err)
		return
	}
	if build.ProjectID != projectID {
		r.notFound(w)
		return
	}
	if build.Image == "" {
		writeError(w, http.StatusConflict, "build has no image to deploy")
		return
	}
	job := queue.BuildDeployJob{
		ProjectID: projectID,
		BuildID:   build.ID,
		Trigger:   domain.TriggerManual,
	}
	if err := r.producer.Enqueue(req.Context(), queue.QueueBuildDeploy, job); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (r *Router) handleBuildLogs(w http.ResponseWriter, req *http.Request, projectID, buildID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	entries, err := r.logs.List(req.Context(), projectID, buildID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		out = append(out, logResponse(entry))
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Router) handleAttachNotification(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		EndpointID string `json:"endpoint_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.EndpointID == "" {
		writeError(w, http.StatusBadRequest, "endpoint_id is required")
		return
	}
	if _, err := r.projects.GetProjectByID(req.Context(), projectID); err != nil {
		r.writeRepoError(w, err)
		return
	}
	if err := r.endpoints.AttachEndpoint(req.Context(), projectID, payload.EndpointID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "attached"})
}
