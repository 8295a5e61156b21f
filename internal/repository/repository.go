package repository

import (
	"context"
	"time"

	"github.com/chiefdeploy/chief/internal/domain"
)

// OrganizationRepository persists organizations.
type OrganizationRepository interface {
	CreateOrganization(ctx context.Context, org *domain.Organization) error
	GetOrganizationByID(ctx context.Context, id string) (*domain.Organization, error)
}

// ProjectRepository persists project configuration.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	GetProjectWithSource(ctx context.Context, projectID string) (*domain.Project, *domain.GithubSource, error)
	ListProjectsByRepository(ctx context.Context, sourceID, repository string) ([]domain.Project, error)
	ListProjectsByOrganization(ctx context.Context, orgID string) ([]domain.Project, error)
	UpdateProject(ctx context.Context, project *domain.Project) error
	DeleteProject(ctx context.Context, projectID string) error
}

// BuildRepository stores build history and status transitions.
type BuildRepository interface {
	CreateBuild(ctx context.Context, build *domain.Build) error
	GetBuildByID(ctx context.Context, buildID string) (*domain.Build, error)
	GetLatestBuild(ctx context.Context, projectID string) (*domain.Build, error)
	ListBuildsByProject(ctx context.Context, projectID string, limit int) ([]domain.Build, error)
	UpdateBuildStatus(ctx context.Context, buildID string, status domain.BuildStatus) error
	FinishBuild(ctx context.Context, buildID string, status domain.BuildStatus, image string, finishedAt time.Time) error
	CompleteDeploy(ctx context.Context, buildID string, status domain.BuildStatus, deployedAt time.Time) error
}

// LogRepository handles pipeline log persistence and the merged query surface.
type LogRepository interface {
	AppendLog(ctx context.Context, entry *domain.PipelineLog) error
	ListLogs(ctx context.Context, projectID, buildID string) ([]domain.PipelineLog, error)
}

// SourceRepository persists GitHub App registrations.
type SourceRepository interface {
	CreateSource(ctx context.Context, source *domain.GithubSource) error
	GetSourceByID(ctx context.Context, sourceID string) (*domain.GithubSource, error)
	GetSourceByOrganization(ctx context.Context, orgID string) (*domain.GithubSource, error)
	GetSourceByAppID(ctx context.Context, appID string) (*domain.GithubSource, error)
	GetSourceByInstallation(ctx context.Context, installationID int64) (*domain.GithubSource, error)
	SetInstallationID(ctx context.Context, sourceID string, installationID int64) error
	SetInstallationByAppID(ctx context.Context, appID string, installationID int64) error
}

// NotificationRepository manages endpoints and their project attachments.
type NotificationRepository interface {
	CreateEndpoint(ctx context.Context, endpoint *domain.NotificationEndpoint) error
	AttachEndpoint(ctx context.Context, projectID, endpointID string) error
	ListEndpointsByProject(ctx context.Context, projectID string) ([]domain.NotificationEndpoint, error)
}

// InstanceRepository stores managed service instances.
type InstanceRepository interface {
	CreatePostgresInstance(ctx context.Context, instance *domain.PostgresInstance) error
	GetPostgresInstance(ctx context.Context, id string) (*domain.PostgresInstance, error)
	UpdatePostgresInstanceStatus(ctx context.Context, id string, status domain.InstanceStatus, deployedAt *time.Time) error
	DeletePostgresInstance(ctx context.Context, id string) error
	CreateRedisInstance(ctx context.Context, instance *domain.RedisInstance) error
	GetRedisInstance(ctx context.Context, id string) (*domain.RedisInstance, error)
	UpdateRedisInstanceStatus(ctx context.Context, id string, status domain.InstanceStatus, deployedAt *time.Time) error
	DeleteRedisInstance(ctx context.Context, id string) error
}
