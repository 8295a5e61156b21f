// Package notify fans pipeline outcomes out to the notification endpoints
// attached to a project. Delivery is best effort: a dead endpoint never
// fails a pipeline or blocks the queue.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chiefdeploy/chief/internal/domain"
	"github.com/chiefdeploy/chief/internal/repository"
)

const (
	senderName = "Chief"
	avatarURL  = "https://chief-marketing.s3.eu-central-1.amazonaws.com/avatar.jpg"
)

// Service delivers notifications.
type Service struct {
	projects  repository.ProjectRepository
	builds    repository.BuildRepository
	endpoints repository.NotificationRepository
	http      *http.Client
	appDomain string
	logger    *slog.Logger
}

// New constructs a notify service.
func New(
	projects repository.ProjectRepository,
	builds repository.BuildRepository,
	endpoints repository.NotificationRepository,
	timeout time.Duration,
	appDomain string,
	logger *slog.Logger,
) *Service {
	return &Service{
		projects:  projects,
		builds:    builds,
		endpoints: endpoints,
		http:      &http.Client{Timeout: timeout},
		appDomain: appDomain,
		logger:    logger,
	}
}

// Send delivers the notification for a build outcome to every endpoint
// attached to its project.
func (s *Service) Send(ctx context.Context, projectID, buildID string, kind domain.NotificationType) error {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	build, err := s.builds.GetBuildByID(ctx, buildID)
	if err != nil {
		return fmt.Errorf("load build: %w", err)
	}

	endpoints, err := s.endpoints.ListEndpointsByProject(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("list endpoints: %w", err)
	}

	for _, endpoint := range endpoints {
		var payload any
		switch endpoint.Type {
		case domain.EndpointDiscord:
			payload = map[string]any{
				"content":    s.markdownMessage(project, build, kind),
				"username":   senderName,
				"avatar_url": avatarURL,
				"flags":      4,
			}
		case domain.EndpointSlack:
			payload = map[string]any{
				"username": senderName,
				"icon_url": avatarURL,
				"text":     s.slackMessage(project, build, kind),
			}
		case domain.EndpointWebhook:
			payload = map[string]any{
				"build_id":   build.ID,
				"project_id": project.ID,
				"type":       kind,
				"message":    s.markdownMessage(project, build, kind),
			}
		default:
			s.logger.Warn("unknown endpoint type", "type", endpoint.Type, "endpoint_id", endpoint.ID)
			continue
		}
		s.post(ctx, endpoint.Endpoint, payload)
	}
	return nil
}

// post delivers one payload. Failures are logged and swallowed.
func (s *Service) post(ctx context.Context, url string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("notification marshal failed", "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		s.logger.Warn("notification request failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		s.logger.Warn("notification delivery failed", "url", url, "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		s.logger.Warn("notification rejected", "url", url, "status", resp.StatusCode)
	}
}

func shortID(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}

// markdownMessage renders the Discord and webhook message body.
func (s *Service) markdownMessage(project *domain.Project, build *domain.Build, kind domain.NotificationType) string {
	buildLink := fmt.Sprintf("**[%s](%s/projects/%s/builds/%s)**", shortID(build.ID), s.appDomain, project.ID, build.ID)
	projectLink := fmt.Sprintf("**[%s](%s/projects/%s)**", project.Name, s.appDomain, project.ID)
	switch kind {
	case domain.NotifySuccessfulDeploy:
		return fmt.Sprintf("Build %s for %s (%s) has been deployed successfully.", buildLink, projectLink, project.Domain)
	case domain.NotifyFailedDeploy:
		return fmt.Sprintf("Deployment %s for %s failed.", buildLink, projectLink)
	case domain.NotifyFailedBuild:
		return fmt.Sprintf("Build %s for %s failed.", buildLink, projectLink)
	}
	return ""
}

// slackMessage renders the Slack mrkdwn message body.
func (s *Service) slackMessage(project *domain.Project, build *domain.Build, kind domain.NotificationType) string {
	buildLink := fmt.Sprintf("<%s/projects/%s/builds/%s|%s>", s.appDomain, project.ID, build.ID, shortID(build.ID))
	projectLink := fmt.Sprintf("<%s/projects/%s|%s>", s.appDomain, project.ID, project.Name)
	switch kind {
	case domain.NotifySuccessfulDeploy:
		return fmt.Sprintf("Build %s for %s (%s) has been deployed successfully.", buildLink, projectLink, project.Domain)
	case domain.NotifyFailedDeploy:
		return fmt.Sprintf("Deployment %s for %s failed.", buildLink, projectLink)
	case domain.NotifyFailedBuild:
		return fmt.Sprintf("Build %s for %s failed.", buildLink, projectLink)
	}
	return ""
}
