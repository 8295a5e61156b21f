package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/chiefdeploy/chief/internal/domain"
	"github.com/chiefdeploy/chief/internal/queue"
	"github.com/chiefdeploy/chief/internal/service/instance"
	"github.com/chiefdeploy/chief/internal/service/pipeline"
)

type recordingProducer struct {
	mu   sync.Mutex
	jobs []queue.NotificationJob
}

func (p *recordingProducer) Enqueue(ctx context.Context, q string, payload any) error {
	if q != queue.QueueSendNotification {
		return fmt.Errorf("unexpected queue %q", q)
	}
	job, ok := payload.(queue.NotificationJob)
	if !ok {
		return fmt.Errorf("unexpected payload %T", payload)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return nil
}

type stubBuilds struct {
	build   *domain.Build
	err     error
	trigger domain.BuildTrigger
	userID  string
}

func (s *stubBuilds) Run(ctx context.Context, projectID string, trigger domain.BuildTrigger, triggeredByUserID string) (*domain.Build, error) {
	s.trigger = trigger
	s.userID = triggeredByUserID
	return s.build, s.err
}

type stubDeploys struct {
	err      error
	buildIDs []string
}

func (s *stubDeploys) Run(ctx context.Context, projectID, buildID string) error {
	s.buildIDs = append(s.buildIDs, buildID)
	return s.err
}

type stubNotifier struct {
	sent []domain.NotificationType
}

func (s *stubNotifier) Send(ctx context.Context, projectID, buildID string, kind domain.NotificationType) error {
	s.sent = append(s.sent, kind)
	return nil
}

type stubInstances struct {
	provisionErr error
	removed      []string
}

func (s *stubInstances) ProvisionPostgres(ctx context.Context, instanceID string) error {
	return s.provisionErr
}
func (s *stubInstances) RemovePostgres(ctx context.Context, instanceID string) error {
	s.removed = append(s.removed, "postgres/"+instanceID)
	return nil
}
func (s *stubInstances) ProvisionRedis(ctx context.Context, instanceID string) error {
	return s.provisionErr
}
func (s *stubInstances) RemoveRedis(ctx context.Context, instanceID string) error {
	s.removed = append(s.removed, "redis/"+instanceID)
	return nil
}

type fixture struct {
	worker    *Worker
	producer  *recordingProducer
	builds    *stubBuilds
	deploys   *stubDeploys
	notifier  *stubNotifier
	instances *stubInstances
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		producer:  &recordingProducer{},
		builds:    &stubBuilds{build: &domain.Build{ID: "build-1", ProjectID: "proj-1"}},
		deploys:   &stubDeploys{},
		notifier:  &stubNotifier{},
		instances: &stubInstances{},
	}
	consumer := queue.NewConsumer(nil, log, 1, 1, time.Millisecond)
	f.worker = New(consumer, f.producer, f.builds, f.deploys, f.notifier, f.instances, log)
	return f
}

func buildDeployPayload(t *testing.T, job queue.BuildDeployJob) []byte {
	t.Helper()
	payload, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal job: %v", err)
	}
	return payload
}

func TestBuildDeployRunsBothHalves(t *testing.T) {
	f := newFixture(t)
	payload := buildDeployPayload(t, queue.BuildDeployJob{
		ProjectID:         "proj-1",
		Trigger:           domain.TriggerManual,
		TriggeredByUserID: "user-1",
	})

	if err := f.worker.handleBuildDeploy(context.Background(), payload); err != nil {
		t.Fatalf("handleBuildDeploy: %v", err)
	}
	if f.builds.trigger != domain.TriggerManual || f.builds.userID != "user-1" {
		t.Fatalf("build run got trigger=%q user=%q", f.builds.trigger, f.builds.userID)
	}
	if len(f.deploys.buildIDs) != 1 || f.deploys.buildIDs[0] != "build-1" {
		t.Fatalf("deploy should run with the fresh build id, got %v", f.deploys.buildIDs)
	}
	if len(f.producer.jobs) != 1 || f.producer.jobs[0].Type != domain.NotifySuccessfulDeploy {
		t.Fatalf("expected successful_deploy notification, got %v", f.producer.jobs)
	}
}

func TestBuildDeploySkipsBuildForRedeploy(t *testing.T) {
	f := newFixture(t)
	f.builds.err = errors.New("must not build")
	payload := buildDeployPayload(t, queue.BuildDeployJob{
		ProjectID: "proj-1",
		BuildID:   "build-9",
		Trigger:   domain.TriggerManual,
	})

	if err := f.worker.handleBuildDeploy(context.Background(), payload); err != nil {
		t.Fatalf("handleBuildDeploy: %v", err)
	}
	if len(f.deploys.buildIDs) != 1 || f.deploys.buildIDs[0] != "build-9" {
		t.Fatalf("deploy should reuse the job build id, got %v", f.deploys.buildIDs)
	}
}

func TestBuildFailureIsPermanentAndNotifies(t *testing.T) {
	f := newFixture(t)
	f.builds.err = pipeline.Failed(domain.BuildStatusFailedBuild, errors.New("compile error"))
	payload := buildDeployPayload(t, queue.BuildDeployJob{ProjectID: "proj-1", Trigger: domain.TriggerAutomatic})

	err := f.worker.handleBuildDeploy(context.Background(), payload)
	if !queue.IsPermanent(err) {
		t.Fatalf("recorded build failure must not retry, got %v", err)
	}
	if len(f.deploys.buildIDs) != 0 {
		t.Fatal("deploy must not run after a failed build")
	}
	if len(f.producer.jobs) != 1 || f.producer.jobs[0].Type != domain.NotifyFailedBuild {
		t.Fatalf("expected failed_build notification, got %v", f.producer.jobs)
	}
}

func TestDeployFailureIsPermanentAndNotifies(t *testing.T) {
	f := newFixture(t)
	f.deploys.err = pipeline.Failed(domain.BuildStatusFailedDeploy, errors.New("proxy down"))
	payload := buildDeployPayload(t, queue.BuildDeployJob{ProjectID: "proj-1", Trigger: domain.TriggerAutomatic})

	err := f.worker.handleBuildDeploy(context.Background(), payload)
	if !queue.IsPermanent(err) {
		t.Fatalf("recorded deploy failure must not retry, got %v", err)
	}
	if len(f.producer.jobs) != 1 || f.producer.jobs[0].Type != domain.NotifyFailedDeploy {
		t.Fatalf("expected failed_deploy notification, got %v", f.producer.jobs)
	}
}

func TestTransientBuildErrorIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.builds.build = nil
	f.builds.err = errors.New("database unavailable")
	payload := buildDeployPayload(t, queue.BuildDeployJob{ProjectID: "proj-1", Trigger: domain.TriggerAutomatic})

	err := f.worker.handleBuildDeploy(context.Background(), payload)
	if err == nil || queue.IsPermanent(err) {
		t.Fatalf("transient error must stay retryable, got %v", err)
	}
	if len(f.producer.jobs) != 0 {
		t.Fatalf("no notification for retryable errors, got %v", f.producer.jobs)
	}
}

func TestMalformedJobIsPermanent(t *testing.T) {
	f := newFixture(t)
	for _, payload := range [][]byte{
		[]byte("not json"),
		buildDeployPayload(t, queue.BuildDeployJob{Trigger: domain.TriggerManual}),
	} {
		err := f.worker.handleBuildDeploy(context.Background(), payload)
		if !queue.IsPermanent(err) {
			t.Fatalf("payload %q must be permanent, got %v", payload, err)
		}
	}
}

func TestProvisionFailureIsPermanent(t *testing.T) {
	f := newFixture(t)
	f.instances.provisionErr = fmt.Errorf("%w: create volume: disk full", instance.ErrProvisionFailed)
	payload, _ := json.Marshal(queue.InstanceJob{InstanceID: "pg-1"})

	err := f.worker.handleCreatePostgres(context.Background(), payload)
	if !queue.IsPermanent(err) {
		t.Fatalf("recorded provision failure must not retry, got %v", err)
	}

	f.instances.provisionErr = errors.New("docker timeout")
	err = f.worker.handleCreateRedis(context.Background(), payload)
	if err == nil || queue.IsPermanent(err) {
		t.Fatalf("transient provision error must stay retryable, got %v", err)
	}
}

func TestDeleteHandlersTargetInstance(t *testing.T) {
	f := newFixture(t)
	payload, _ := json.Marshal(queue.InstanceJob{InstanceID: "inst-1"})

	if err := f.worker.handleDeletePostgres(context.Background(), payload); err != nil {
		t.Fatalf("handleDeletePostgres: %v", err)
	}
	if err := f.worker.handleDeleteRedis(context.Background(), payload); err != nil {
		t.Fatalf("handleDeleteRedis: %v", err)
	}
	want := []string{"postgres/inst-1", "redis/inst-1"}
	if len(f.instances.removed) != 2 || f.instances.removed[0] != want[0] || f.instances.removed[1] != want[1] {
		t.Fatalf("removed %v, want %v", f.instances.removed, want)
	}
}

func TestSendNotificationDecodesJob(t *testing.T) {
	f := newFixture(t)
	payload, _ := json.Marshal(queue.NotificationJob{
		ProjectID: "proj-1",
		BuildID:   "build-1",
		Type:      domain.NotifySuccessfulDeploy,
	})

	if err := f.worker.handleSendNotification(context.Background(), payload); err != nil {
		t.Fatalf("handleSendNotification: %v", err)
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0] != domain.NotifySuccessfulDeploy {
		t.Fatalf("notifier got %v", f.notifier.sent)
	}
}
