package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/chiefdeploy/chief/internal/queue"
	"github.com/chiefdeploy/chief/internal/repository"
)

// handleCreatePostgres registers a pending postgres instance and enqueues
// its provisioning. Credentials are generated server-side and returned once
// here.
func (r *Router) handleCreatePostgres(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		OrganizationID string `json:"organization_id"`
		Name           string `json:"name"`
		Database       string `json:"database"`
		Version        int    `json:"version"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	inst, err := r.provisioner.CreatePostgres(req.Context(), payload.OrganizationID, payload.Name, payload.Database, payload.Version)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "organization not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := r.producer.Enqueue(req.Context(), queue.QueueCreatePostgres, queue.InstanceJob{InstanceID: inst.ID}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, postgresInstanceResponse(inst))
}

func (r *Router) handlePostgresByID(w http.ResponseWriter, req *http.Request) {
	instanceID := strings.TrimPrefix(req.URL.Path, "/api/instances/postgres/")
	if instanceID == "" || strings.Contains(instanceID, "/") {
		r.notFound(w)
		return
	}
	switch req.Method {
	case http.MethodGet:
		inst, err := r.instances.GetPostgresInstance(req.Context(), instanceID)
		if err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, postgresInstanceResponse(inst))
	case http.MethodDelete:
		if _, err := r.instances.GetPostgresInstance(req.Context(), instanceID); err != nil {
			r.writeRepoError(w, err)
			return
		}
		if err := r.producer.Enqueue(req.Context(), queue.QueueDeletePostgres, queue.InstanceJob{InstanceID: instanceID}); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	default:
		r.methodNotAllowed(w)
	}
}

// handleCreateRedis registers a pending valkey instance and enqueues its
// provisioning.
func (r *Router) handleCreateRedis(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		OrganizationID string `json:"organization_id"`
		Name           string `json:"name"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	inst, err := r.provisioner.CreateRedis(req.Context(), payload.OrganizationID, payload.Name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "organization not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := r.producer.Enqueue(req.Context(), queue.QueueCreateRedis, queue.InstanceJob{InstanceID: inst.ID}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, redisInstanceResponse(inst))
}

func (r *Router) handleRedisByID(w http.ResponseWriter, req *http.Request) {
	instanceID := strings.TrimPrefix(req.URL.Path, "/api/instances/redis/")
	if instanceID == "" || strings.Contains(instanceID, "/") {
		r.notFound(w)
		return
	}
	switch req.Method {
	case http.MethodGet:
		inst, err := r.instances.GetRedisInstance(req.Context(), instanceID)
		if err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, redisInstanceResponse(inst))
	case http.MethodDelete:
		if _, err := r.instances.GetRedisInstance(req.Context(), instanceID); err != nil {
			r.writeRepoError(w, err)
			return
		}
		if err := r.producer.Enqueue(req.Context(), queue.QueueDeleteRedis, queue.InstanceJob{InstanceID: instanceID}); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	default:
		r.methodNotAllowed(w)
	}
}
