package domain

import "time"

// BuildStatus is the lifecycle state of a build, strictly forward-moving
// except for the terminal failure branches.
type BuildStatus string

const (
	BuildStatusPending        BuildStatus = "pending"
	BuildStatusDownloading    BuildStatus = "downloading"
	BuildStatusBuilding       BuildStatus = "building"
	BuildStatusDeploying      BuildStatus = "deploying"
	BuildStatusDeployed       BuildStatus = "deployed"
	BuildStatusFailedDownload BuildStatus = "failed_download"
	BuildStatusFailedBuild    BuildStatus = "failed_build"
	BuildStatusFailedDeploy   BuildStatus = "failed_deploy"
)

// BuildTrigger records what initiated a build.
type BuildTrigger string

const (
	TriggerManual    BuildTrigger = "manual"
	TriggerAutomatic BuildTrigger = "automatic"
)

// Build captures one attempt to produce a deployable image from a project's
// source at a specific commit. Status is the only field mutated after
// creation, except for the finished/deployed timestamps and the image
// reference set on completion.
type Build struct {
	ID                string
	ProjectID         string
	CommitSHA         string
	Trigger           BuildTrigger
	TriggeredByUserID *string
	Status            BuildStatus
	Image             string
	StartedAt         time.Time
	FinishedAt        *time.Time
	DeployedAt        *time.Time
	CreatedAt         time.Time
}
