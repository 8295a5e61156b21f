package instance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/chiefdeploy/chief/internal/command"
	"github.com/chiefdeploy/chief/internal/domain"
	"github.com/chiefdeploy/chief/internal/events"
	"github.com/chiefdeploy/chief/internal/repository"
)

type fakeRunner struct {
	commands []command.Command
	fail     map[string]string
}

func (f *fakeRunner) Run(ctx context.Context, cmd command.Command) command.Result {
	f.commands = append(f.commands, cmd)
	key := cmd.Program + " " + strings.Join(cmd.Args[:min(2, len(cmd.Args))], " ")
	if msg, ok := f.fail[key]; ok {
		return command.Result{Error: msg, ExitCode: 1}
	}
	return command.Result{Output: "ok"}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type stubOrgs struct{}

func (stubOrgs) CreateOrganization(ctx context.Context, org *domain.Organization) error { return nil }
func (stubOrgs) GetOrganizationByID(ctx context.Context, id string) (*domain.Organization, error) {
	if id != "org-1" {
		return nil, repository.ErrNotFound
	}
	return &domain.Organization{ID: id, Name: "acme"}, nil
}

type memInstances struct {
	postgres map[string]*domain.PostgresInstance
	redis    map[string]*domain.RedisInstance
}

func newMemInstances() *memInstances {
	return &memInstances{
		postgres: make(map[string]*domain.PostgresInstance),
		redis:    make(map[string]*domain.RedisInstance),
	}
}

func (m *memInstances) CreatePostgresInstance(ctx context.Context, inst *domain.PostgresInstance) error {
	m.postgres[inst.ID] = inst
	return nil
}
func (m *memInstances) GetPostgresInstance(ctx context.Context, id string) (*domain.PostgresInstance, error) {
	inst, ok := m.postgres[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return inst, nil
}
func (m *memInstances) UpdatePostgresInstanceStatus(ctx context.Context, id string, status domain.InstanceStatus, deployedAt *time.Time) error {
	inst, ok := m.postgres[id]
	if !ok {
		return repository.ErrNotFound
	}
	inst.Status = status
	if deployedAt != nil {
		inst.DeployedAt = deployedAt
	}
	return nil
}
func (m *memInstances) DeletePostgresInstance(ctx context.Context, id string) error {
	if _, ok := m.postgres[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.postgres, id)
	return nil
}
func (m *memInstances) CreateRedisInstance(ctx context.Context, inst *domain.RedisInstance) error {
	m.redis[inst.ID] = inst
	return nil
}
func (m *memInstances) GetRedisInstance(ctx context.Context, id string) (*domain.RedisInstance, error) {
	inst, ok := m.redis[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return inst, nil
}
func (m *memInstances) UpdateRedisInstanceStatus(ctx context.Context, id string, status domain.InstanceStatus, deployedAt *time.Time) error {
	inst, ok := m.redis[id]
	if !ok {
		return repository.ErrNotFound
	}
	inst.Status = status
	if deployedAt != nil {
		inst.DeployedAt = deployedAt
	}
	return nil
}
func (m *memInstances) DeleteRedisInstance(ctx context.Context, id string) error {
	if _, ok := m.redis[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.redis, id)
	return nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, event events.Event) error { return nil }

func newTestService(runner *fakeRunner, store *memInstances) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(stubOrgs{}, store, runner, nopPublisher{}, "chief", time.Millisecond, logger)
}

func TestCreatePostgresGeneratesCredentials(t *testing.T) {
	store := newMemInstances()
	svc := newTestService(&fakeRunner{}, store)

	inst, err := svc.CreatePostgres(context.Background(), "org-1", "maindb", "shop", 16)
	if err != nil {
		t.Fatalf("CreatePostgres: %v", err)
	}
	if inst.Image != "postgres:16-alpine" {
		t.Fatalf("unexpected image %q", inst.Image)
	}
	if len(inst.Username) != 6 || len(inst.Password) != 24 {
		t.Fatalf("unexpected credential lengths %d/%d", len(inst.Username), len(inst.Password))
	}
	if inst.Status != domain.InstancePending {
		t.Fatalf("expected pending status, got %s", inst.Status)
	}
	if _, ok := store.postgres[inst.ID]; !ok {
		t.Fatal("instance not persisted")
	}
}

func TestCreatePostgresRejectsUnknownVersion(t *testing.T) {
	svc := newTestService(&fakeRunner{}, newMemInstances())
	if _, err := svc.CreatePostgres(context.Background(), "org-1", "maindb", "shop", 13); err == nil {
		t.Fatal("expected error for unsupported version")
	}
	if _, err := svc.CreatePostgres(context.Background(), "org-2", "maindb", "shop", 16); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown org, got %v", err)
	}
}

func TestProvisionPostgres(t *testing.T) {
	store := newMemInstances()
	runner := &fakeRunner{}
	svc := newTestService(runner, store)

	inst, err := svc.CreatePostgres(context.Background(), "org-1", "maindb", "shop", 15)
	if err != nil {
		t.Fatalf("CreatePostgres: %v", err)
	}
	if err := svc.ProvisionPostgres(context.Background(), inst.ID); err != nil {
		t.Fatalf("ProvisionPostgres: %v", err)
	}

	if inst.Status != domain.InstanceRunning {
		t.Fatalf("expected running status, got %s", inst.Status)
	}
	if inst.DeployedAt == nil {
		t.Fatal("expected deployed_at to be set")
	}

	var sawVolume, sawService bool
	for _, cmd := range runner.commands {
		args := strings.Join(cmd.Args, " ")
		if strings.HasPrefix(args, "volume create pgdata-"+inst.ID) {
			sawVolume = true
		}
		if strings.HasPrefix(args, "service create --name pg-"+inst.ID) {
			sawService = true
			if !strings.Contains(args, "POSTGRES_USER="+inst.Username) {
				t.Errorf("service create missing user env: %s", args)
			}
			if !strings.Contains(args, "--network chief") {
				t.Errorf("service create missing network: %s", args)
			}
		}
	}
	if !sawVolume || !sawService {
		t.Fatalf("missing docker invocations: volume=%v service=%v", sawVolume, sawService)
	}
}

func TestProvisionPostgresVolumeFailure(t *testing.T) {
	store := newMemInstances()
	runner := &fakeRunner{fail: map[string]string{"docker volume create": "no space"}}
	svc := newTestService(runner, store)

	inst, err := svc.CreatePostgres(context.Background(), "org-1", "maindb", "shop", 14)
	if err != nil {
		t.Fatalf("CreatePostgres: %v", err)
	}
	err = svc.ProvisionPostgres(context.Background(), inst.ID)
	if !errors.Is(err, ErrProvisionFailed) {
		t.Fatalf("expected ErrProvisionFailed, got %v", err)
	}
	if inst.Status != domain.InstanceFailedCreateVolume {
		t.Fatalf("expected failed_create_volume status, got %s", inst.Status)
	}
}

func TestProvisionPostgresServiceFailure(t *testing.T) {
	store := newMemInstances()
	runner := &fakeRunner{fail: map[string]string{"docker service create": "image missing"}}
	svc := newTestService(runner, store)

	inst, _ := svc.CreatePostgres(context.Background(), "org-1", "maindb", "shop", 16)
	err := svc.ProvisionPostgres(context.Background(), inst.ID)
	if !errors.Is(err, ErrProvisionFailed) {
		t.Fatalf("expected ErrProvisionFailed, got %v", err)
	}
	if inst.Status != domain.InstanceFailed {
		t.Fatalf("expected failed status, got %s", inst.Status)
	}
}

func TestRedisLifecycle(t *testing.T) {
	store := newMemInstances()
	runner := &fakeRunner{}
	svc := newTestService(runner, store)

	inst, err := svc.CreateRedis(context.Background(), "org-1", "cache")
	if err != nil {
		t.Fatalf("CreateRedis: %v", err)
	}
	if inst.Image != "bitnami/valkey:7.2" {
		t.Fatalf("unexpected image %q", inst.Image)
	}
	if len(inst.Password) != 24 {
		t.Fatalf("unexpected password length %d", len(inst.Password))
	}

	if err := svc.ProvisionRedis(context.Background(), inst.ID); err != nil {
		t.Fatalf("ProvisionRedis: %v", err)
	}
	if inst.Status != domain.InstanceRunning {
		t.Fatalf("expected running status, got %s", inst.Status)
	}

	if err := svc.RemoveRedis(context.Background(), inst.ID); err != nil {
		t.Fatalf("RemoveRedis: %v", err)
	}
	if _, ok := store.redis[inst.ID]; ok {
		t.Fatal("instance record should be deleted")
	}

	last := runner.commands[len(runner.commands)-1]
	if strings.Join(last.Args, " ") != "volume rm --force redisdata-"+inst.ID {
		t.Fatalf("expected volume removal last, got %v", last.Args)
	}
}

func TestRemovePostgresDeletesRecord(t *testing.T) {
	store := newMemInstances()
	runner := &fakeRunner{}
	svc := newTestService(runner, store)

	inst, _ := svc.CreatePostgres(context.Background(), "org-1", "maindb", "shop", 16)
	if err := svc.RemovePostgres(context.Background(), inst.ID); err != nil {
		t.Fatalf("RemovePostgres: %v", err)
	}
	if _, ok := store.postgres[inst.ID]; ok {
		t.Fatal("instance record should be deleted")
	}
}
