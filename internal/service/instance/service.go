// Package instance manages the lifecycle of organization-owned datastore
// instances: postgres and valkey services on the swarm, each with its own
// data volume and generated credentials.
package instance

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
	"github.com/chiefdeploy/chief/internal/repository"
	"github.com/chiefdeploy/chief/pkg/crypto"
)

// ErrProvisionFailed marks a provisioning failure whose status has already
// been recorded on the instance. Jobs hitting it must not be retried.
var ErrProvisionFailed = errors.New("instance: provision failed")

// IsProvisionFailed reports whether err is a recorded provisioning failure.
func IsProvisionFailed(err error) bool {
	return errors.Is(err, ErrProvisionFailed)
}

// postgresImages maps supported major versions to their images.
var postgresImages = map[int]string{
	14: "postgres:14-alpine",
	15: "postgres:15-alpine",
	16: "postgres:16-alpine",
}

// valkeyImage backs managed cache instances.
const valkeyImage = "bitnami/valkey:7.2"

// Service provisions and removes datastore instances.
type Service struct {
	orgs       repository.OrganizationRepository
	instances  repository.InstanceRepository
	runner     command.Runner
	publisher  events.Publisher
	network    string
	volumeWait time.Duration
	logger     *slog.Logger
}

// New constructs an instance service. volumeWait is how long removal waits
// between deleting a service and force-removing its volume.
func New(
	orgs repository.OrganizationRepository,
	instances repository.InstanceRepository,
	runner command.Runner,
	publisher events.Publisher,
	network string,
	volumeWait time.Duration,
	logger *slog.Logger,
) *Service {
	return &Service{
		orgs:       orgs,
		instances:  instances,
		runner:     runner,
		publisher:  publisher,
		network:    network,
		volumeWait: volumeWait,
		logger:     logger,
	}
}

// CreatePostgres registers a pending postgres instance with generated
// credentials. Provisioning happens asynchronously via ProvisionPostgres.
func (s *Service) CreatePostgres(ctx context.Context, orgID, name, database string, version int) (*domain.PostgresInstance, error) {
	if _, err := s.orgs.GetOrganizationByID(ctx, orgID); err != nil {
		return nil, fmt.Errorf("load organization: %w", err)
	}
	image, ok := postgresImages[version]
	if !ok {
		return nil, fmt.Errorf("unsupported postgres version %d", version)
	}
	username, err := crypto.RandomCredential(6)
	if err != nil {
		return nil, err
	}
	password, err := crypto.RandomCredential(24)
	if err != nil {
		return nil, err
	}

	inst := &domain.PostgresInstance{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Name:           name,
		Image:          image,
		Username:       username,
		Password:       password,
		Database:       database,
		Status:         domain.InstancePending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.instances.CreatePostgresInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	return inst, nil
}

// ProvisionPostgres creates the data volume and swarm service for a
// registered postgres instance.
func (s *Service) ProvisionPostgres(ctx context.Context, instanceID string) error {
	inst, err := s.instances.GetPostgresInstance(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("load instance: %w", err)
	}

	volume := "pgdata-" + inst.ID
	if result := s.runner.Run(ctx, command.Command{
		Program: "docker",
		Args:    []string{"volume", "create", volume},
	}); result.Failed() {
		s.setPostgresStatus(ctx, inst, domain.InstanceFailedCreateVolume, nil)
		return fmt.Errorf("%w: create volume: %s", ErrProvisionFailed, result.Error)
	}

	args := []string{
		"service", "create",
		"--name", "pg-" + inst.ID,
		"-p", "5432",
		"--mount", fmt.Sprintf("type=volume,src=%s,dst=/var/lib/postgresql/data", volume),
		"-e", "POSTGRES_USER=" + inst.Username,
		"-e", "POSTGRES_PASSWORD=" + inst.Password,
		"-e", "POSTGRES_DB=" + inst.Database,
		"--health-cmd", "pg_isready",
		"--health-interval", "5s",
		"--health-timeout", "5s",
		"--health-retries", "5",
		"--network", s.network,
		"-d", inst.Image,
	}
	if result := s.runner.Run(ctx, command.Command{Program: "docker", Args: args}); result.Failed() {
		s.setPostgresStatus(ctx, inst, domain.InstanceFailed, nil)
		return fmt.Errorf("%w: create service: %s", ErrProvisionFailed, result.Error)
	}

	now := time.Now().UTC()
	s.setPostgresStatus(ctx, inst, domain.InstanceRunning, &now)
	s.logger.Info("postgres instance running", "instance_id", inst.ID, "organization_id", inst.OrganizationID)
	return nil
}

// RemovePostgres tears the postgres service down, waits for swarm to
// release the volume, removes it and deletes the record.
func (s *Service) RemovePostgres(ctx context.Context, instanceID string) error {
	inst, err := s.instances.GetPostgresInstance(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("load instance: %w", err)
	}
	if err := s.removeService(ctx, "pg-"+inst.ID, "pgdata-"+inst.ID); err != nil {
		return err
	}
	if err := s.instances.DeletePostgresInstance(ctx, inst.ID); err != nil {
		return fmt.Errorf("delete instance record: %w", err)
	}
	s.publishInstance(ctx, inst.OrganizationID, inst.ID, "postgres", "deleted")
	return nil
}

// CreateRedis registers a pending valkey instance with a generated
// password.
func (s *Service) CreateRedis(ctx context.Context, orgID, name string) (*domain.RedisInstance, error) {
	if _, err := s.orgs.GetOrganizationByID(ctx, orgID); err != nil {
		return nil, fmt.Errorf("load organization: %w", err)
	}
	password, err := crypto.RandomCredential(24)
	if err != nil {
		return nil, err
	}

	inst := &domain.RedisInstance{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Name:           name,
		Image:          valkeyImage,
		Password:       password,
		Status:         domain.InstancePending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.instances.CreateRedisInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	return inst, nil
}

// ProvisionRedis creates the data volume and swarm service for a
// registered valkey instance.
func (s *Service) ProvisionRedis(ctx context.Context, instanceID string) error {
	inst, err := s.instances.GetRedisInstance(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("load instance: %w", err)
	}

	volume := "redisdata-" + inst.ID
	if result := s.runner.Run(ctx, command.Command{
		Program: "docker",
		Args:    []string{"volume", "create", volume},
	}); result.Failed() {
		s.setRedisStatus(ctx, inst, domain.InstanceFailedCreateVolume, nil)
		return fmt.Errorf("%w: create volume: %s", ErrProvisionFailed, result.Error)
	}

	args := []string{
		"service", "create",
		"--name", "redis-" + inst.ID,
		"-p", "6379",
		"--mount", fmt.Sprintf("type=volume,src=%s,dst=/bitnami/valkey/data", volume),
		"-e", "VALKEY_PASSWORD=" + inst.Password,
		"-e", "REDIS_PASSWORD=" + inst.Password,
		"--health-cmd", "echo 1",
		"--health-interval", "2s",
		"--health-timeout", "5s",
		"--health-retries", "5",
		"--network", s.network,
		"-d", inst.Image,
	}
	if result := s.runner.Run(ctx, command.Command{Program: "docker", Args: args}); result.Failed() {
		s.setRedisStatus(ctx, inst, domain.InstanceFailed, nil)
		return fmt.Errorf("%w: create service: %s", ErrProvisionFailed, result.Error)
	}

	now := time.Now().UTC()
	s.setRedisStatus(ctx, inst, domain.InstanceRunning, &now)
	s.logger.Info("redis instance running", "instance_id", inst.ID, "organization_id", inst.OrganizationID)
	return nil
}

// RemoveRedis tears the valkey service down, removes its volume and
// deletes the record.
func (s *Service) RemoveRedis(ctx context.Context, instanceID string) error {
	inst, err := s.instances.GetRedisInstance(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("load instance: %w", err)
	}
	if err := s.removeService(ctx, "redis-"+inst.ID, "redisdata-"+inst.ID); err != nil {
		return err
	}
	if err := s.instances.DeleteRedisInstance(ctx, inst.ID); err != nil {
		return fmt.Errorf("delete instance record: %w", err)
	}
	s.publishInstance(ctx, inst.OrganizationID, inst.ID, "redis", "deleted")
	return nil
}

// removeService removes the swarm service, waits for the volume to detach
// and force-removes it.
func (s *Service) removeService(ctx context.Context, service, volume string) error {
	if result := s.runner.Run(ctx, command.Command{
		Program: "docker",
		Args:    []string{"service", "rm", service},
	}); result.Failed() {
		s.logger.Warn("service removal failed", "service", service, "error", result.Error)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.volumeWait):
	}

	if result := s.runner.Run(ctx, command.Command{
		Program: "docker",
		Args:    []string{"volume", "rm", "--force", volume},
	}); result.Failed() {
		return fmt.Errorf("remove volume %s: %s", volume, result.Error)
	}
	return nil
}

func (s *Service) setPostgresStatus(ctx context.Context, inst *domain.PostgresInstance, status domain.InstanceStatus, deployedAt *time.Time) {
	if err := s.instances.UpdatePostgresInstanceStatus(ctx, inst.ID, status, deployedAt); err != nil {
		s.logger.Error("record postgres instance status", "instance_id", inst.ID, "error", err)
	}
	s.publishInstance(ctx, inst.OrganizationID, inst.ID, "postgres", string(status))
}

func (s *Service) setRedisStatus(ctx context.Context, inst *domain.RedisInstance, status domain.InstanceStatus, deployedAt *time.Time) {
	if err := s.instances.UpdateRedisInstanceStatus(ctx, inst.ID, status, deployedAt); err != nil {
		s.logger.Error("record redis instance status", "instance_id", inst.ID, "error", err)
	}
	s.publishInstance(ctx, inst.OrganizationID, inst.ID, "redis", string(status))
}

func (s *Service) publishInstance(ctx context.Context, orgID, instanceID, kind, status string) {
	payload, err := json.Marshal(map[string]string{
		"instance_id": instanceID,
		"kind":        kind,
		"status":      status,
	})
	if err != nil {
		return
	}
	_ = s.publisher.Publish(ctx, events.Event{
		Type:           events.TypeInstance,
		OrganizationID: orgID,
		Data:           payload,
	})
}
