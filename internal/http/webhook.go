package httpx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/chiefdeploy/chief/internal/domain"
	"github.com/chiefdeploy/chief/internal/queue"
	"github.com/chiefdeploy/chief/internal/repository"
)

const maxWebhookBody = 1 << 20

// githubEvent is the subset of the webhook payload the controller reads.
type githubEvent struct {
	Action       string `json:"action"`
	Ref          string `json:"ref"`
	Installation struct {
		ID    int64 `json:"id"`
		AppID int64 `json:"app_id"`
	} `json:"installation"`
	Repository struct {
		FullName      string `json:"full_name"`
		DefaultBranch string `json:"default_branch"`
	} `json:"repository"`
}

// handleGithubWebhook receives GitHub App events. Installation events bind
// the installation id to the registered source; pushes to a repository's
// default branch enqueue a build for every project bound to it. Signatures
// are verified against the source's webhook secret before any state changes.
func (r *Router) handleGithubWebhook(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	var event githubEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	switch req.Header.Get("X-GitHub-Event") {
	case "installation", "installation_repositories":
		r.handleInstallationEvent(w, req, body, event)
	case "push":
		r.handlePushEvent(w, req, body, event)
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
	}
}

func (r *Router) handleInstallationEvent(w http.ResponseWriter, req *http.Request, body []byte, event githubEvent) {
	if event.Action != "created" && event.Action != "added" {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}
	appID := strconv.FormatInt(event.Installation.AppID, 10)
	source, err := r.sources.GetSourceByAppID(req.Context(), appID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !verifySignature(source.WebhookSecret, body, req.Header.Get("X-Hub-Signature-256")) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	if err := r.sources.SetInstallationByAppID(req.Context(), appID, event.Installation.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	r.logger.Info("github app installed", "app_id", appID, "installation_id", event.Installation.ID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "installed"})
}

func (r *Router) handlePushEvent(w http.ResponseWriter, req *http.Request, body []byte, event githubEvent) {
	source, err := r.sources.GetSourceByInstallation(req.Context(), event.Installation.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !verifySignature(source.WebhookSecret, body, req.Header.Get("X-Hub-Signature-256")) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	// Only pushes to the default branch trigger builds.
	parts := strings.SplitN(event.Ref, "/", 3)
	if len(parts) != 3 || parts[2] != event.Repository.DefaultBranch {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}

	projects, err := r.projects.ListProjectsByRepository(req.Context(), source.ID, event.Repository.FullName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	queued := 0
	for _, project := range projects {
		job := queue.BuildDeployJob{
			ProjectID: project.ID,
			Trigger:   domain.TriggerAutomatic,
		}
		if err := r.producer.Enqueue(req.Context(), queue.QueueBuildDeploy, job); err != nil {
			r.logger.Error("webhook enqueue failed", "project_id", project.ID, "error", err)
			continue
		}
		queued++
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "builds": queued})
}

// verifySignature checks the X-Hub-Signature-256 HMAC over the raw body.
func verifySignature(secret, body []byte, header string) bool {
	if len(secret) == 0 || header == "" {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}
