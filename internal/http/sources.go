package httpx

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chiefdeploy/chief/internal/domain"
)

func (r *Router) handleSources(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		OrganizationID string `json:"organization_id"`
		AppID          string `json:"app_id"`
		ClientID       string `json:"client_id"`
		ClientSecret   string `json:"client_secret"`
		WebhookSecret  string `json:"webhook_secret"`
		PEM            string `json:"pem"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.AppID == "" || payload.PEM == "" || payload.WebhookSecret == "" {
		writeError(w, http.StatusBadRequest, "app_id, pem and webhook_secret are required")
		return
	}
	if _, err := r.orgs.GetOrganizationByID(req.Context(), payload.OrganizationID); err != nil {
		r.writeRepoError(w, err)
		return
	}

	source := domain.GithubSource{
		ID:             uuid.NewString(),
		OrganizationID: payload.OrganizationID,
		AppID:          payload.AppID,
		ClientID:       payload.ClientID,
		ClientSecret:   []byte(payload.ClientSecret),
		WebhookSecret:  []byte(payload.WebhookSecret),
		PEM:            []byte(payload.PEM),
		CreatedAt:      time.Now().UTC(),
	}
	if err := r.sources.CreateSource(req.Context(), &source); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":              source.ID,
		"organization_id": source.OrganizationID,
		"app_id":          source.AppID,
		"created_at":      source.CreatedAt,
	})
}

func (r *Router) handleSourceSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/api/sources/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		r.notFound(w)
		return
	}
	sourceID := parts[0]
	if len(parts) == 2 && parts[1] == "repositories" {
		r.handleSourceRepositories(w, req, sourceID)
		return
	}
	r.notFound(w)
}

// handleSourceRepositories lists the repositories the app installation can
// reach, for the project-creation flow.
func (r *Router) handleSourceRepositories(w http.ResponseWriter, req *http.Request, sourceID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	source, err := r.sources.GetSourceByID(req.Context(), sourceID)
	if err != nil {
		r.writeRepoError(w, err)
		return
	}
	if !source.Installed() {
		writeError(w, http.StatusConflict, "github app is not installed yet")
		return
	}
	repos, err := r.gateway.ListInstalledRepositories(req.Context(), source)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

func (r *Router) handleNotificationEndpoints(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		OrganizationID string `json:"organization_id"`
		Name           string `json:"name"`
		Type           string `json:"type"`
		Endpoint       string `json:"endpoint"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	kind := domain.NotificationEndpointType(payload.Type)
	switch kind {
	case domain.EndpointDiscord, domain.EndpointSlack, domain.EndpointWebhook:
	default:
		writeError(w, http.StatusBadRequest, "type must be DISCORD, SLACK or WEBHOOK")
		return
	}
	payload.Endpoint = strings.TrimSpace(payload.Endpoint)
	if payload.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint is required")
		return
	}
	if _, err := r.orgs.GetOrganizationByID(req.Context(), payload.OrganizationID); err != nil {
		r.writeRepoError(w, err)
		return
	}

	endpoint := domain.NotificationEndpoint{
		ID:             uuid.NewString(),
		OrganizationID: payload.OrganizationID,
		Name:           payload.Name,
		Type:           kind,
		Endpoint:       payload.Endpoint,
		CreatedAt:      time.Now().UTC(),
	}
	if err := r.endpoints.CreateEndpoint(req.Context(), &endpoint); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":              endpoint.ID,
		"organization_id": endpoint.OrganizationID,
		"name":            endpoint.Name,
		"type":            endpoint.Type,
		"endpoint":        endpoint.Endpoint,
	})
}
