package queue

import "github.com/chiefdeploy/chief/internal/domain"

// BuildDeployJob triggers the full build-deploy pipeline for a project.
// BuildID is set when re-running an existing build record; when empty the
// handler creates a fresh build.
type BuildDeployJob struct {
	ProjectID         string              `json:"project_id"`
	BuildID           string              `json:"build_id,omitempty"`
	Trigger           domain.BuildTrigger `json:"trigger"`
	TriggeredByUserID string              `json:"triggered_by_user_id,omitempty"`
}

// InstanceJob targets a managed datastore instance lifecycle operation.
type InstanceJob struct {
	InstanceID string `json:"instance_id"`
}

// NotificationJob fans a pipeline outcome out to the endpoints attached to
// a project.
type NotificationJob struct {
	ProjectID string                  `json:"project_id"`
	BuildID   string                  `json:"build_id"`
	Type      domain.NotificationType `json:"type"`
}
