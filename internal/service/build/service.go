// Package build runs the build half of the pipeline: resolve the latest
// commit, download the source archive, produce an image and tag it for
// deployment.
package build

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chiefdeploy/chief/internal/command"
	"github.com/chiefdeploy/chief/internal/domain"
	"github.com/chiefdeploy/chief/internal/events"
	"github.com/chiefdeploy/chief/internal/github"
	"github.com/chiefdeploy/chief/internal/repository"
	"github.com/chiefdeploy/chief/internal/service/logs"
	"github.com/chiefdeploy/chief/internal/service/pipeline"
	"github.com/chiefdeploy/chief/internal/workspace"
)

// statusContext is the commit status context reported for builds.
const statusContext = "chief/build"

// Service orchestrates a single build from commit resolution to tagged
// image.
type Service struct {
	projects   repository.ProjectRepository
	builds     repository.BuildRepository
	gateway    github.Gateway
	runner     command.Runner
	workspaces *workspace.Manager
	logs       logs.Service
	publisher  events.Publisher
	appDomain  string
	logger     *slog.Logger
}

// New constructs a build service.
func New(
	projects repository.ProjectRepository,
	builds repository.BuildRepository,
	gateway github.Gateway,
	runner command.Runner,
	workspaces *workspace.Manager,
	logSink logs.Service,
	publisher events.Publisher,
	appDomain string,
	logger *slog.Logger,
) *Service {
	return &Service{
		projects:   projects,
		builds:     builds,
		gateway:    gateway,
		runner:     runner,
		workspaces: workspaces,
		logs:       logSink,
		publisher:  publisher,
		appDomain:  appDomain,
		logger:     logger,
	}
}

func (s *Service) buildURL(projectID, buildID string) string {
	return fmt.Sprintf("https://%s/projects/%s/builds/%s", s.appDomain, projectID, buildID)
}

// setStatus records a build status transition and streams it to clients.
func (s *Service) setStatus(ctx context.Context, project *domain.Project, buildID string, status domain.BuildStatus) error {
	if err := s.builds.UpdateBuildStatus(ctx, buildID, status); err != nil {
		return err
	}
	s.publishStatus(ctx, project, buildID, status)
	return nil
}

func (s *Service) publishStatus(ctx context.Context, project *domain.Project, buildID string, status domain.BuildStatus) {
	payload, err := json.Marshal(map[string]string{"build_id": buildID, "status": string(status)})
	if err != nil {
		return
	}
	_ = s.publisher.Publish(ctx, events.Event{
		Type:           events.TypeBuildStatus,
		OrganizationID: project.OrganizationID,
		ProjectID:      project.ID,
		BuildID:        buildID,
		Data:           payload,
	})
}

// fail records the terminal status, reports the commit status and returns
// the Failure the worker acknowledges without retrying.
func (s *Service) fail(ctx context.Context, project *domain.Project, source *domain.GithubSource, build *domain.Build, status domain.BuildStatus, description string, cause error) error {
	if err := s.builds.FinishBuild(ctx, build.ID, status, "", time.Now().UTC()); err != nil {
		s.logger.Error("record build failure", "build_id", build.ID, "error", err)
	}
	s.publishStatus(ctx, project, build.ID, status)
	s.gateway.CreateCommitStatus(ctx, source, project.Repository, build.CommitSHA, github.CommitStatus{
		State:       "failure",
		Context:     statusContext,
		Description: description,
		TargetURL:   s.buildURL(project.ID, build.ID),
	})
	return pipeline.Failed(status, cause)
}

// Run executes the build pipeline for a project. On success the returned
// build carries the tagged image and status pending, ready for deployment.
// Errors returned before a build record exists are retryable; a *pipeline.Failure
// means the failure was recorded and must not be retried.
func (s *Service) Run(ctx context.Context, projectID string, trigger domain.BuildTrigger, triggeredByUserID string) (*domain.Build, error) {
	project, source, err := s.projects.GetProjectWithSource(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	if source == nil || !source.Installed() {
		return nil, fmt.Errorf("project %s has no installed source", projectID)
	}
	// A misconfigured build type is a configuration error, not a build
	// outcome: reject it before any build record or status exists.
	if project.Type != domain.BuildTypeContainerFile && project.Type != domain.BuildTypeBuildpack {
		return nil, fmt.Errorf("invalid project type %q", project.Type)
	}

	commit, err := s.gateway.LatestCommit(ctx, source, project.Repository)
	if err != nil {
		return nil, fmt.Errorf("resolve commit: %w", err)
	}

	now := time.Now().UTC()
	build := &domain.Build{
		ID:        uuid.New().String(),
		ProjectID: project.ID,
		CommitSHA: commit.SHA,
		Trigger:   trigger,
		Status:    domain.BuildStatusDownloading,
		StartedAt: now,
		CreatedAt: now,
	}
	if triggeredByUserID != "" {
		build.TriggeredByUserID = &triggeredByUserID
	}
	if err := s.builds.CreateBuild(ctx, build); err != nil {
		return nil, fmt.Errorf("create build: %w", err)
	}

	s.logger.Info("build started", "project_id", project.ID, "build_id", build.ID, "commit", commit.SHA)
	s.logs.Build(ctx, project, build.ID, "Build started.", domain.LevelInfo)
	s.publishStatus(ctx, project, build.ID, domain.BuildStatusDownloading)

	s.gateway.CreateCommitStatus(ctx, source, project.Repository, commit.SHA, github.CommitStatus{
		State:       "pending",
		Context:     statusContext,
		Description: "Building project.",
		TargetURL:   s.buildURL(project.ID, build.ID),
	})

	s.logs.Build(ctx, project, build.ID, "Creating build folder.", domain.LevelInfo)
	dir, err := s.workspaces.Prepare(build.ID)
	if err != nil {
		return build, s.fail(ctx, project, source, build, domain.BuildStatusFailedDownload, "Downloading project failed.", err)
	}
	defer func() {
		if err := s.workspaces.Cleanup(dir); err != nil {
			s.logger.Warn("workspace cleanup failed", "build_id", build.ID, "error", err)
		}
	}()
	s.logs.Build(ctx, project, build.ID, "Folder created.", domain.LevelInfo)

	s.logs.Build(ctx, project, build.ID, "Getting tarball from repository.", domain.LevelInfo)
	archiveURL, token, err := s.gateway.ArchiveURL(ctx, source, project.Repository, commit.SHA)
	if err != nil {
		s.logs.Build(ctx, project, build.ID, "Failed to get tarball from repository.", domain.LevelError)
		return build, s.fail(ctx, project, source, build, domain.BuildStatusFailedDownload, "Downloading project failed.", err)
	}

	s.logs.Build(ctx, project, build.ID, "Starting download.", domain.LevelInfo)
	if err := s.download(ctx, dir, archiveURL, token); err != nil {
		s.logs.Build(ctx, project, build.ID, "Download failed.", domain.LevelError)
		return build, s.fail(ctx, project, source, build, domain.BuildStatusFailedDownload, "Downloading project failed.", err)
	}
	s.logs.Build(ctx, project, build.ID, "Downloading finished.", domain.LevelInfo)

	if err := s.setStatus(ctx, project, build.ID, domain.BuildStatusBuilding); err != nil {
		s.logger.Error("record building status", "build_id", build.ID, "error", err)
	}

	image := fmt.Sprintf("%s:%s", project.ID, commit.SHA)
	if err := s.buildImage(ctx, project, build, dir, image); err != nil {
		return build, s.fail(ctx, project, source, build, domain.BuildStatusFailedBuild, "Building project failed.", err)
	}
	s.logs.Build(ctx, project, build.ID, "Build finished successfully.", domain.LevelInfo)

	s.logs.Build(ctx, project, build.ID, "Tagging image.", domain.LevelInfo)
	tag := s.runner.Run(ctx, command.Command{
		Program: "docker",
		Args:    []string{"tag", image, project.ID + ":latest"},
	})
	if tag.Failed() {
		s.logs.Build(ctx, project, build.ID, "Image tagging failed.", domain.LevelError)
		return build, s.fail(ctx, project, source, build, domain.BuildStatusFailedBuild, "Failed to tag image.", errors.New(tag.Error))
	}
	if tag.Output != "" {
		s.logs.Build(ctx, project, build.ID, tag.Output, domain.LevelInfo)
	}
	s.logs.Build(ctx, project, build.ID, "Image tagged successfully.", domain.LevelInfo)

	s.logs.Build(ctx, project, build.ID, "Starting cleanup.", domain.LevelInfo)
	if err := s.workspaces.Cleanup(dir); err != nil {
		s.logger.Warn("workspace cleanup failed", "build_id", build.ID, "error", err)
	}
	s.logs.Build(ctx, project, build.ID, "Build folder deleted.", domain.LevelInfo)
	s.logs.Build(ctx, project, build.ID, "Build finished, waiting for deployment.", domain.LevelInfo)

	if err := s.builds.FinishBuild(ctx, build.ID, domain.BuildStatusPending, image, time.Now().UTC()); err != nil {
		return build, fmt.Errorf("finish build: %w", err)
	}
	build.Status = domain.BuildStatusPending
	build.Image = image
	s.publishStatus(ctx, project, build.ID, domain.BuildStatusPending)

	s.gateway.CreateCommitStatus(ctx, source, project.Repository, commit.SHA, github.CommitStatus{
		State:       "success",
		Context:     statusContext,
		Description: "Project built successfully.",
		TargetURL:   s.buildURL(project.ID, build.ID),
	})
	return build, nil
}

// download fetches the source archive into dir and unpacks it in place. The
// archive's single top-level directory is stripped so the project root
// lands directly in dir.
func (s *Service) download(ctx context.Context, dir, archiveURL, token string) error {
	fetch := s.runner.Run(ctx, command.Command{
		Program: "wget",
		Args: []string{
			"--quiet",
			"--header", "Authorization: Bearer " + token,
			"-O", "source.tar.gz",
			archiveURL,
		},
		Dir: dir,
	})
	if fetch.Failed() {
		return errors.New(fetch.Error)
	}

	unpack := s.runner.Run(ctx, command.Command{
		Program: "tar",
		Args:    []string{"-xzf", "source.tar.gz", "--strip-components=1"},
		Dir:     dir,
	})
	if unpack.Failed() {
		return errors.New(unpack.Error)
	}
	return nil
}

// buildImage produces the project image in dir, honoring the project build
// type. Environment variables reach container-file builds as build args and
// buildpack builds as runtime variables.
func (s *Service) buildImage(ctx context.Context, project *domain.Project, build *domain.Build, dir, image string) error {
	switch project.Type {
	case domain.BuildTypeContainerFile:
		s.logs.Build(ctx, project, build.ID, "Starting the build.", domain.LevelInfo)
		args := []string{"build"}
		for _, env := range project.EnvVarList() {
			args = append(args, "--build-arg", env)
		}
		args = append(args, "-t", image, ".")
		result := s.runner.Run(ctx, command.Command{Program: "docker", Args: args, Dir: dir})
		if result.Failed() {
			s.logs.Build(ctx, project, build.ID, result.Error, domain.LevelError)
			s.logs.Build(ctx, project, build.ID, "Docker build failed.", domain.LevelInfo)
			return errors.New(result.Error)
		}
		s.logs.Build(ctx, project, build.ID, result.Output, domain.LevelInfo)
		return nil

	case domain.BuildTypeBuildpack:
		s.logs.Build(ctx, project, build.ID, "Starting the build using Nixpacks.", domain.LevelInfo)
		args := []string{"build", "."}
		for _, env := range project.EnvVarList() {
			args = append(args, "-e", env)
		}
		args = append(args, "--name", image)
		result := s.runner.Run(ctx, command.Command{Program: "nixpacks", Args: args, Dir: dir})
		if result.Failed() {
			s.logs.Build(ctx, project, build.ID, result.Error, domain.LevelError)
			s.logs.Build(ctx, project, build.ID, "Nixpacks build failed.", domain.LevelInfo)
			return errors.New(result.Error)
		}
		s.logs.Build(ctx, project, build.ID, result.Output, domain.LevelInfo)
		return nil

	default:
		return fmt.Errorf("invalid project type %q", project.Type)
	}
}
