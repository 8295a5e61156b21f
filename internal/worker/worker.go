// Package worker binds the queue consumer to the pipeline services. A
// build-deploy job runs both pipeline halves in the same queue slot so a
// successful build deploys immediately, without re-queueing.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/chiefdeploy/chief/internal/domain"
	"github.com/chiefdeploy/chief/internal/queue"
	"github.com/chiefdeploy/chief/internal/service/instance"
	"github.com/chiefdeploy/chief/internal/service/pipeline"
)

// BuildRunner runs the build half of the pipeline. Satisfied by
// build.Service.
type BuildRunner interface {
	Run(ctx context.Context, projectID string, trigger domain.BuildTrigger, triggeredByUserID string) (*domain.Build, error)
}

// DeployRunner deploys a built image. Satisfied by deploy.Service.
type DeployRunner interface {
	Run(ctx context.Context, projectID, buildID string) error
}

// Notifier fans a pipeline outcome out to the endpoints attached to a
// project. Satisfied by notify.Service.
type Notifier interface {
	Send(ctx context.Context, projectID, buildID string, kind domain.NotificationType) error
}

// InstanceManager provisions and removes managed datastore instances.
// Satisfied by instance.Service.
type InstanceManager interface {
	ProvisionPostgres(ctx context.Context, instanceID string) error
	RemovePostgres(ctx context.Context, instanceID string) error
	ProvisionRedis(ctx context.Context, instanceID string) error
	RemoveRedis(ctx context.Context, instanceID string) error
}

// Worker wires queue handlers to services.
type Worker struct {
	consumer  *queue.Consumer
	producer  queue.Producer
	builds    BuildRunner
	deploys   DeployRunner
	notify    Notifier
	instances InstanceManager
	logger    *slog.Logger
}

// New constructs a Worker and registers every queue handler.
func New(
	consumer *queue.Consumer,
	producer queue.Producer,
	builds BuildRunner,
	deploys DeployRunner,
	notifier Notifier,
	instances InstanceManager,
	logger *slog.Logger,
) *Worker {
	w := &Worker{
		consumer:  consumer,
		producer:  producer,
		builds:    builds,
		deploys:   deploys,
		notify:    notifier,
		instances: instances,
		logger:    logger,
	}
	consumer.Register(queue.QueueBuildDeploy, w.handleBuildDeploy)
	consumer.Register(queue.QueueCreatePostgres, w.handleCreatePostgres)
	consumer.Register(queue.QueueDeletePostgres, w.handleDeletePostgres)
	consumer.Register(queue.QueueCreateRedis, w.handleCreateRedis)
	consumer.Register(queue.QueueDeleteRedis, w.handleDeleteRedis)
	consumer.Register(queue.QueueSendNotification, w.handleSendNotification)
	return w
}

// Run consumes jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.consumer.Run(ctx)
}

func (w *Worker) handleBuildDeploy(ctx context.Context, payload []byte) error {
	var job queue.BuildDeployJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return queue.Permanent(fmt.Errorf("decode build_deploy job: %w", err))
	}
	if job.ProjectID == "" {
		return queue.Permanent(fmt.Errorf("build_deploy job missing project id"))
	}

	// A job carrying a build id re-deploys that build without rebuilding.
	buildID := job.BuildID
	if buildID == "" {
		b, err := w.builds.Run(ctx, job.ProjectID, job.Trigger, job.TriggeredByUserID)
		if err != nil {
			return w.pipelineOutcome(ctx, job.ProjectID, b, err)
		}
		buildID = b.ID
	}

	err := w.deploys.Run(ctx, job.ProjectID, buildID)
	if err != nil {
		if failure, ok := pipeline.AsFailure(err); ok {
			w.enqueueNotification(ctx, job.ProjectID, buildID, notificationFor(failure.Status))
			return queue.Permanent(err)
		}
		return err
	}

	w.enqueueNotification(ctx, job.ProjectID, buildID, domain.NotifySuccessfulDeploy)
	return nil
}

// pipelineOutcome classifies a build error: recorded failures become
// permanent and notify, everything else is retried.
func (w *Worker) pipelineOutcome(ctx context.Context, projectID string, b *domain.Build, err error) error {
	failure, ok := pipeline.AsFailure(err)
	if !ok {
		return err
	}
	if b != nil {
		w.enqueueNotification(ctx, projectID, b.ID, notificationFor(failure.Status))
	}
	return queue.Permanent(err)
}

func notificationFor(status domain.BuildStatus) domain.NotificationType {
	if status == domain.BuildStatusFailedDeploy {
		return domain.NotifyFailedDeploy
	}
	return domain.NotifyFailedBuild
}

func (w *Worker) enqueueNotification(ctx context.Context, projectID, buildID string, kind domain.NotificationType) {
	err := w.producer.Enqueue(ctx, queue.QueueSendNotification, queue.NotificationJob{
		ProjectID: projectID,
		BuildID:   buildID,
		Type:      kind,
	})
	if err != nil {
		w.logger.Warn("notification enqueue failed", "project_id", projectID, "build_id", buildID, "error", err)
	}
}

func (w *Worker) handleCreatePostgres(ctx context.Context, payload []byte) error {
	job, err := decodeInstanceJob(payload)
	if err != nil {
		return queue.Permanent(err)
	}
	return w.instanceOutcome(w.instances.ProvisionPostgres(ctx, job.InstanceID))
}

func (w *Worker) handleDeletePostgres(ctx context.Context, payload []byte) error {
	job, err := decodeInstanceJob(payload)
	if err != nil {
		return queue.Permanent(err)
	}
	return w.instances.RemovePostgres(ctx, job.InstanceID)
}

func (w *Worker) handleCreateRedis(ctx context.Context, payload []byte) error {
	job, err := decodeInstanceJob(payload)
	if err != nil {
		return queue.Permanent(err)
	}
	return w.instanceOutcome(w.instances.ProvisionRedis(ctx, job.InstanceID))
}

func (w *Worker) handleDeleteRedis(ctx context.Context, payload []byte) error {
	job, err := decodeInstanceJob(payload)
	if err != nil {
		return queue.Permanent(err)
	}
	return w.instances.RemoveRedis(ctx, job.InstanceID)
}

// instanceOutcome keeps recorded provisioning failures from being retried.
func (w *Worker) instanceOutcome(err error) error {
	if err == nil {
		return nil
	}
	if instance.IsProvisionFailed(err) {
		return queue.Permanent(err)
	}
	return err
}

func (w *Worker) handleSendNotification(ctx context.Context, payload []byte) error {
	var job queue.NotificationJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return queue.Permanent(fmt.Errorf("decode send_notification job: %w", err))
	}
	return w.notify.Send(ctx, job.ProjectID, job.BuildID, job.Type)
}

func decodeInstanceJob(payload []byte) (queue.InstanceJob, error) {
	var job queue.InstanceJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return job, fmt.Errorf("decode instance job: %w", err)
	}
	if job.InstanceID == "" {
		return job, fmt.Errorf("instance job missing instance id")
	}
	return job, nil
}
