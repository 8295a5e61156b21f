// Package deploy runs the deploy half of the pipeline: create or update
// the project's swarm service and register it with the edge proxy.
package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/chiefdeploy/chief/internal/command"
	"github.com/chiefdeploy/chief/internal/domain"
	"github.com/chiefdeploy/chief/internal/events"
	"github.com/chiefdeploy/chief/internal/github"
	"github.com/chiefdeploy/chief/internal/repository"
	"github.com/chiefdeploy/chief/internal/service/logs"
	"github.com/chiefdeploy/chief/internal/service/pipeline"
	"github.com/chiefdeploy/chief/internal/service/proxy"
)

// statusContext is the commit status context reported for deployments.
const statusContext = "chief/deployment"

// Lease serializes deployments of the same project across workers.
// Satisfied by lock.DeployLease.
type Lease interface {
	Acquire(ctx context.Context, projectID string) (string, error)
	Release(ctx context.Context, projectID, leaseID string) error
}

// Service orchestrates a single deployment. A per-project lease keeps
// concurrent deploys of the same project mutually exclusive.
type Service struct {
	projects  repository.ProjectRepository
	builds    repository.BuildRepository
	gateway   github.Gateway
	runner    command.Runner
	routes    *proxy.Routes
	reloader  proxy.Reloader
	lease     Lease
	logs      logs.Service
	publisher events.Publisher
	network   string
	appDomain string
	logger    *slog.Logger
}

// New constructs a deploy service.
func New(
	projects repository.ProjectRepository,
	builds repository.BuildRepository,
	gateway github.Gateway,
	runner command.Runner,
	routes *proxy.Routes,
	reloader proxy.Reloader,
	lease Lease,
	logSink logs.Service,
	publisher events.Publisher,
	network, appDomain string,
	logger *slog.Logger,
) *Service {
	return &Service{
		projects:  projects,
		builds:    builds,
		gateway:   gateway,
		runner:    runner,
		routes:    routes,
		reloader:  reloader,
		lease:     lease,
		logs:      logSink,
		publisher: publisher,
		network:   network,
		appDomain: appDomain,
		logger:    logger,
	}
}

func (s *Service) buildURL(projectID, buildID string) string {
	return fmt.Sprintf("https://%s/projects/%s/builds/%s", s.appDomain, projectID, buildID)
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

// fail records the terminal deploy failure and returns the Failure the
// worker acknowledges without retrying.
func (s *Service) fail(ctx context.Context, project *domain.Project, source *domain.GithubSource, build *domain.Build, description string, cause error) error {
	if err := s.builds.CompleteDeploy(ctx, build.ID, domain.BuildStatusFailedDeploy, time.Now().UTC()); err != nil {
		s.logger.Error("record deploy failure", "build_id", build.ID, "error", err)
	}
	s.publishStatus(ctx, project, build.ID, domain.BuildStatusFailedDeploy)
	s.gateway.CreateCommitStatus(ctx, source, project.Repository, build.CommitSHA, github.CommitStatus{
		State:       "failure",
		Context:     statusContext,
		Description: description,
		TargetURL:   s.buildURL(project.ID, build.ID),
	})
	return pipeline.Failed(domain.BuildStatusFailedDeploy, cause)
}

// Run deploys the given build of a project. When buildID is empty the
// latest build is deployed. Errors returned before the deploying status is
// recorded are retryable; a *pipeline.Failure is terminal.
func (s *Service) Run(ctx context.Context, projectID, buildID string) error {
	project, source, err := s.projects.GetProjectWithSource(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}

	var build *domain.Build
	if buildID != "" {
		build, err = s.builds.GetBuildByID(ctx, buildID)
	} else {
		build, err = s.builds.GetLatestBuild(ctx, projectID)
	}
	if err != nil {
		return fmt.Errorf("load build: %w", err)
	}
	if build.Image == "" {
		return fmt.Errorf("build %s has no image to deploy", build.ID)
	}

	leaseID, err := s.lease.Acquire(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("acquire deploy lease: %w", err)
	}
	defer func() {
		if err := s.lease.Release(context.WithoutCancel(ctx), project.ID, leaseID); err != nil {
			s.logger.Warn("deploy lease release failed", "project_id", project.ID, "error", err)
		}
	}()

	s.logger.Info("deploy started", "project_id", project.ID, "build_id", build.ID)
	if err := s.builds.UpdateBuildStatus(ctx, build.ID, domain.BuildStatusDeploying); err != nil {
		return fmt.Errorf("record deploying status: %w", err)
	}
	s.publishStatus(ctx, project, build.ID, domain.BuildStatusDeploying)

	s.logs.Deploy(ctx, project, build.ID, "Starting deployment.", domain.LevelInfo)
	s.gateway.CreateCommitStatus(ctx, source, project.Repository, build.CommitSHA, github.CommitStatus{
		State:       "pending",
		Context:     statusContext,
		Description: "Starting deployment.",
		TargetURL:   s.buildURL(project.ID, build.ID),
	})

	// The route file is ensured before the service is touched, so a deploy
	// that fails midway leaves the proxy config in place for the next run.
	if err := s.ensureRoute(ctx, project, source, build); err != nil {
		return err
	}

	s.logs.Deploy(ctx, project, build.ID, "Checking if previous deployment already exists.", domain.LevelInfo)
	inspect := s.runner.Run(ctx, command.Command{
		Program: "docker",
		Args:    []string{"service", "inspect", project.ID},
	})

	if !inspect.Failed() {
		if err := s.updateService(ctx, project, source, build); err != nil {
			return err
		}
	} else {
		if err := s.createService(ctx, project, source, build); err != nil {
			return err
		}
	}

	s.logs.Deploy(ctx, project, build.ID, "Applying proxy config.", domain.LevelInfo)
	if err := s.reloader.Reload(ctx); err != nil {
		s.logs.Deploy(ctx, project, build.ID, "Failed to apply proxy config.", domain.LevelError)
		return s.fail(ctx, project, source, build, "Failed to refresh proxy.", err)
	}
	s.logs.Deploy(ctx, project, build.ID, "Proxy config applied.", domain.LevelInfo)

	if err := s.builds.CompleteDeploy(ctx, build.ID, domain.BuildStatusDeployed, time.Now().UTC()); err != nil {
		return fmt.Errorf("record deployed status: %w", err)
	}
	s.publishStatus(ctx, project, build.ID, domain.BuildStatusDeployed)

	s.gateway.CreateCommitStatus(ctx, source, project.Repository, build.CommitSHA, github.CommitStatus{
		State:       "success",
		Context:     statusContext,
		Description: "Project deployed successfully.",
		TargetURL:   s.buildURL(project.ID, build.ID),
	})
	s.logs.Deploy(ctx, project, build.ID, "Deployment successful.", domain.LevelInfo)
	return nil
}

// updateService rolls an existing swarm service onto the build image.
func (s *Service) updateService(ctx context.Context, project *domain.Project, source *domain.GithubSource, build *domain.Build) error {
	s.logs.Deploy(ctx, project, build.ID, "Deployment already exists, will update.", domain.LevelInfo)

	args := []string{"service", "update", "--image", build.Image, "--force", "--with-registry-auth"}
	for _, env := range project.EnvVarList() {
		args = append(args, "--env-add", env)
	}
	args = append(args, "--env-add", "PORT="+strconv.Itoa(project.WebPort), project.ID)

	s.logs.Deploy(ctx, project, build.ID, "Updating service.", domain.LevelInfo)
	result := s.runner.Run(ctx, command.Command{Program: "docker", Args: args})
	if result.Failed() {
		s.logs.Deploy(ctx, project, build.ID, "Failed to update service.", domain.LevelError)
		return s.fail(ctx, project, source, build, "Failed to update service.", errors.New(result.Error))
	}
	if result.Output != "" {
		s.logs.Deploy(ctx, project, build.ID, result.Output, domain.LevelInfo)
	}
	s.logs.Deploy(ctx, project, build.ID, "Service updated.", domain.LevelInfo)
	return nil
}

// createService creates the swarm service for a first deployment. The
// health check and start-first update order keep the service reachable
// through later rolling updates.
func (s *Service) createService(ctx context.Context, project *domain.Project, source *domain.GithubSource, build *domain.Build) error {
	s.logs.Deploy(ctx, project, build.ID, "Creating new deployment.", domain.LevelInfo)

	args := []string{"service", "create"}
	for _, env := range project.EnvVarList() {
		args = append(args, "-e", env)
	}
	args = append(args,
		"-e", "PORT="+strconv.Itoa(project.WebPort),
		"--replicas", "1",
		"--health-cmd", "echo 1",
		"--health-interval", "1s",
		"--health-retries", "1",
		"--update-order=start-first",
		"--name", project.ID,
		"--update-delay", "1s",
		"--network", s.network,
		build.Image,
	)

	result := s.runner.Run(ctx, command.Command{Program: "docker", Args: args})
	if result.Failed() {
		s.logs.Deploy(ctx, project, build.ID, "Failed to create deployment.", domain.LevelError)
		return s.fail(ctx, project, source, build, "Failed to create deployment.", errors.New(result.Error))
	}
	if result.Output != "" {
		s.logs.Deploy(ctx, project, build.ID, result.Output, domain.LevelInfo)
	}
	s.logs.Deploy(ctx, project, build.ID, "Deployment created.", domain.LevelInfo)

	s.logs.Deploy(ctx, project, build.ID, "Checking deployment status.", domain.LevelInfo)
	check := s.runner.Run(ctx, command.Command{
		Program: "docker",
		Args:    []string{"service", "inspect", project.ID},
	})
	if check.Failed() {
		s.logs.Deploy(ctx, project, build.ID, "Failed to get deployment.", domain.LevelError)
		return s.fail(ctx, project, source, build, "Failed to get deployment.", errors.New(check.Error))
	}
	s.logs.Deploy(ctx, project, build.ID, "Deployment retrieved.", domain.LevelInfo)
	return nil
}

// ensureRoute writes the proxy route file when it does not exist yet.
func (s *Service) ensureRoute(ctx context.Context, project *domain.Project, source *domain.GithubSource, build *domain.Build) error {
	s.logs.Deploy(ctx, project, build.ID, "Checking if proxy config exists.", domain.LevelInfo)
	if s.routes.Exists(project.ID) {
		return nil
	}

	s.logs.Deploy(ctx, project, build.ID, "Generating proxy config.", domain.LevelInfo)
	if err := s.routes.Write(project.ID, project.Domain, project.WebPort); err != nil {
		s.logs.Deploy(ctx, project, build.ID, "Failed to create proxy config.", domain.LevelError)
		return s.fail(ctx, project, source, build, "Failed to create proxy config.", err)
	}
	s.logs.Deploy(ctx, project, build.ID, "Proxy config created.", domain.LevelInfo)
	return nil
}

// Remove tears a project's deployment down: swarm service, proxy route and
// a final proxy reload. Individual step failures are logged and tolerated
// so a half-removed deployment can be removed again.
func (s *Service) Remove(ctx context.Context, projectID string) error {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}

	rm := s.runner.Run(ctx, command.Command{
		Program: "docker",
		Args:    []string{"service", "rm", project.ID},
	})
	if rm.Failed() {
		s.logger.Warn("service removal failed", "project_id", project.ID, "error", rm.Error)
	}

	if err := s.routes.Remove(project.ID); err != nil {
		s.logger.Warn("route removal failed", "project_id", project.ID, "error", err)
	}

	if err := s.reloader.Reload(ctx); err != nil {
		s.logger.Warn("proxy reload failed", "project_id", project.ID, "error", err)
	}
	return nil
}
