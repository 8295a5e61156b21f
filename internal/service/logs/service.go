// Package logs persists pipeline log lines and streams the merged log list
// to connected clients after every append.
package logs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chiefdeploy/chief/internal/domain"
	"github.com/chiefdeploy/chief/internal/events"
	"github.com/chiefdeploy/chief/internal/repository"
)

// Service handles pipeline log persistence and streaming.
type Service struct {
	repo      repository.LogRepository
	publisher events.Publisher
	logger    *slog.Logger
}

// New constructs a log service.
func New(repo repository.LogRepository, publisher events.Publisher, logger *slog.Logger) Service {
	return Service{repo: repo, publisher: publisher, logger: logger}
}

// Build appends a build-phase log line for the given build.
func (s Service) Build(ctx context.Context, project *domain.Project, buildID, body string, level domain.LogLevel) {
	s.append(ctx, project, buildID, domain.PhaseBuild, body, level)
}

// Deploy appends a deploy-phase log line for the given build.
func (s Service) Deploy(ctx context.Context, project *domain.Project, buildID, body string, level domain.LogLevel) {
	s.append(ctx, project, buildID, domain.PhaseDeploy, body, level)
}

// append stores the entry, re-reads the merged build and deploy log list
// and publishes the full snapshot so clients never miss interleaved lines.
// Log failures are logged and swallowed: a broken log line never fails a
// pipeline.
func (s Service) append(ctx context.Context, project *domain.Project, buildID string, phase domain.LogPhase, body string, level domain.LogLevel) {
	entry := domain.PipelineLog{
		ID:        uuid.New().String(),
		ProjectID: project.ID,
		BuildID:   buildID,
		Phase:     phase,
		Body:      body,
		Level:     level,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.AppendLog(ctx, &entry); err != nil {
		s.logger.Warn("log append failed", "project_id", project.ID, "build_id", buildID, "error", err)
		return
	}

	merged, err := s.repo.ListLogs(ctx, project.ID, buildID)
	if err != nil {
		s.logger.Warn("log snapshot read failed", "project_id", project.ID, "build_id", buildID, "error", err)
		return
	}

	payload, err := json.Marshal(map[string]any{
		"project_id": project.ID,
		"build_id":   buildID,
		"logs":       merged,
	})
	if err != nil {
		s.logger.Warn("log snapshot marshal failed", "error", err)
		return
	}
	_ = s.publisher.Publish(ctx, events.Event{
		Type:           events.TypeBuildLogs,
		OrganizationID: project.OrganizationID,
		ProjectID:      project.ID,
		BuildID:        buildID,
		Data:           payload,
	})
}

// List returns the merged, time-ordered log list for a build.
func (s Service) List(ctx context.Context, projectID, buildID string) ([]domain.PipelineLog, error) {
	return s.repo.ListLogs(ctx, projectID, buildID)
}
