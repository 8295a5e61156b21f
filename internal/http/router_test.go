package httpx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/chiefdeploy/chief/internal/domain"
	"github.com/chiefdeploy/chief/internal/events"
	"github.com/chiefdeploy/chief/internal/github"
	"github.com/chiefdeploy/chief/internal/queue"
	"github.com/chiefdeploy/chief/internal/repository"
	"github.com/chiefdeploy/chief/internal/service/logs"
	"github.com/chiefdeploy/chief/internal/ws"
)

type recordedJob struct {
	queue   string
	payload []byte
}

type recordingProducer struct {
	mu   sync.Mutex
	jobs []recordedJob
}

func (p *recordingProducer) Enqueue(ctx context.Context, queueName string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.jobs = append(p.jobs, recordedJob{queue: queueName, payload: data})
	p.mu.Unlock()
	return nil
}

func (p *recordingProducer) buildJobs() []queue.BuildDeployJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []queue.BuildDeployJob
	for _, job := range p.jobs {
		if job.queue != queue.QueueBuildDeploy {
			continue
		}
		var decoded queue.BuildDeployJob
		if err := json.Unmarshal(job.payload, &decoded); err == nil {
			out = append(out, decoded)
		}
	}
	return out
}

type stubOrgs struct{}

func (stubOrgs) CreateOrganization(ctx context.Context, org *domain.Organization) error { return nil }
func (stubOrgs) GetOrganizationByID(ctx context.Context, id string) (*domain.Organization, error) {
	return &domain.Organization{ID: id, Name: "acme"}, nil
}

type stubProjects struct {
	project *domain.Project
	byRepo  []domain.Project
	deleted []string
}

func (s *stubProjects) CreateProject(ctx context.Context, project *domain.Project) error { return nil }
func (s *stubProjects) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	if s.project == nil || s.project.ID != projectID {
		return nil, repository.ErrNotFound
	}
	return s.project, nil
}
func (s *stubProjects) GetProjectWithSource(ctx context.Context, projectID string) (*domain.Project, *domain.GithubSource, error) {
	project, err := s.GetProjectByID(ctx, projectID)
	return project, nil, err
}
func (s *stubProjects) ListProjectsByRepository(ctx context.Context, sourceID, repo string) ([]domain.Project, error) {
	return s.byRepo, nil
}
func (s *stubProjects) ListProjectsByOrganization(ctx context.Context, orgID string) ([]domain.Project, error) {
	if s.project == nil {
		return nil, nil
	}
	return []domain.Project{*s.project}, nil
}
func (s *stubProjects) UpdateProject(ctx context.Context, project *domain.Project) error { return nil }
func (s *stubProjects) DeleteProject(ctx context.Context, projectID string) error {
	s.deleted = append(s.deleted, projectID)
	return nil
}

type stubBuilds struct {
	build *domain.Build
}

func (s *stubBuilds) CreateBuild(ctx context.Context, build *domain.Build) error { return nil }
func (s *stubBuilds) GetBuildByID(ctx context.Context, buildID string) (*domain.Build, error) {
	if s.build == nil || s.build.ID != buildID {
		return nil, repository.ErrNotFound
	}
	return s.build, nil
}
func (s *stubBuilds) GetLatestBuild(ctx context.Context, projectID string) (*domain.Build, error) {
	if s.build == nil {
		return nil, repository.ErrNotFound
	}
	return s.build, nil
}
func (s *stubBuilds) ListBuildsByProject(ctx context.Context, projectID string, limit int) ([]domain.Build, error) {
	if s.build == nil {
		return nil, nil
	}
	return []domain.Build{*s.build}, nil
}
func (s *stubBuilds) UpdateBuildStatus(ctx context.Context, buildID string, status domain.BuildStatus) error {
	return nil
}
func (s *stubBuilds) FinishBuild(ctx context.Context, buildID string, status domain.BuildStatus, image string, finishedAt time.Time) error {
	return nil
}
func (s *stubBuilds) CompleteDeploy(ctx context.Context, buildID string, status domain.BuildStatus, deployedAt time.Time) error {
	return nil
}

type stubSources struct {
	source        *domain.GithubSource
	installations map[string]int64
}

func (s *stubSources) CreateSource(ctx context.Context, source *domain.GithubSource) error {
	return nil
}
func (s *stubSources) GetSourceByID(ctx context.Context, sourceID string) (*domain.GithubSource, error) {
	if s.source == nil || s.source.ID != sourceID {
		return nil, repository.ErrNotFound
	}
	return s.source, nil
}
func (s *stubSources) GetSourceByOrganization(ctx context.Context, orgID string) (*domain.GithubSource, error) {
	if s.source == nil {
		return nil, repository.ErrNotFound
	}
	return s.source, nil
}
func (s *stubSources) GetSourceByAppID(ctx context.Context, appID string) (*domain.GithubSource, error) {
	if s.source == nil || s.source.AppID != appID {
		return nil, repository.ErrNotFound
	}
	return s.source, nil
}
func (s *stubSources) GetSourceByInstallation(ctx context.Context, installationID int64) (*domain.GithubSource, error) {
	if s.source == nil || s.source.InstallationID == nil || *s.source.InstallationID != installationID {
		return nil, repository.ErrNotFound
	}
	return s.source, nil
}
func (s *stubSources) SetInstallationID(ctx context.Context, sourceID string, installationID int64) error {
	return nil
}
func (s *stubSources) SetInstallationByAppID(ctx context.Context, appID string, installationID int64) error {
	if s.installations == nil {
		s.installations = make(map[string]int64)
	}
	s.installations[appID] = installationID
	return nil
}

type memLogs struct {
	mu      sync.Mutex
	entries []domain.PipelineLog
}

func (m *memLogs) AppendLog(ctx context.Context, entry *domain.PipelineLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memLogs) ListLogs(ctx context.Context, projectID, buildID string) ([]domain.PipelineLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PipelineLog
	for _, entry := range m.entries {
		if entry.ProjectID == projectID && entry.BuildID == buildID {
			out = append(out, entry)
		}
	}
	return out, nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, event events.Event) error { return nil }

type stubGateway struct {
	repos []github.Repository
}

func (g *stubGateway) LatestCommit(ctx context.Context, source *domain.GithubSource, repo string) (github.Commit, error) {
	return github.Commit{}, errors.New("not implemented")
}
func (g *stubGateway) ArchiveURL(ctx context.Context, source *domain.GithubSource, repo, ref string) (string, string, error) {
	return "", "", errors.New("not implemented")
}
func (g *stubGateway) CreateCommitStatus(ctx context.Context, source *domain.GithubSource, repo, sha string, status github.CommitStatus) {
}
func (g *stubGateway) ListInstalledRepositories(ctx context.Context, source *domain.GithubSource) ([]github.Repository, error) {
	return g.repos, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type routerFixture struct {
	router   *Router
	producer *recordingProducer
	projects *stubProjects
	builds   *stubBuilds
	sources  *stubSources
	logRepo  *memLogs
}

func newTestRouter(t *testing.T) *routerFixture {
	t.Helper()
	installation := int64(42)
	fixture := &routerFixture{
		producer: &recordingProducer{},
		projects: &stubProjects{
			project: &domain.Project{
				ID:             "proj-1",
				OrganizationID: "org-1",
				Name:           "shop",
				Repository:     "acme/shop",
				Type:           domain.BuildTypeContainerFile,
				Domain:         "shop.example.com",
				WebPort:        3000,
			},
		},
		builds: &stubBuilds{
			build: &domain.Build{ID: "build-1", ProjectID: "proj-1", Image: "proj-1:abc", Status: domain.BuildStatusDeployed},
		},
		sources: &stubSources{
			source: &domain.GithubSource{
				ID:             "src-1",
				OrganizationID: "org-1",
				AppID:          "12345",
				WebhookSecret:  []byte("hooksecret"),
				PEM:            []byte("pem"),
				InstallationID: &installation,
			},
		},
		logRepo: &memLogs{},
	}
	fixture.projects.byRepo = []domain.Project{*fixture.projects.project}

	fixture.router = NewRouter(Deps{
		Logger:        testLogger(),
		Organizations: stubOrgs{},
		Projects:      fixture.projects,
		Builds:        fixture.builds,
		Sources:       fixture.sources,
		Logs:          logs.New(fixture.logRepo, noopPublisher{}, testLogger()),
		Gateway:       &stubGateway{},
		Producer:      fixture.producer,
		Hub:           ws.NewHub(),
		DBHealth:      func(context.Context) error { return nil },
	})
	return fixture
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func pushBody(ref string) []byte {
	return []byte(`{"ref":"` + ref + `","installation":{"id":42,"app_id":12345},"repository":{"full_name":"acme/shop","default_branch":"main"}}`)
}

func TestPushWebhookQueuesAutomaticBuild(t *testing.T) {
	fixture := newTestRouter(t)
	body := pushBody("refs/heads/main")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", sign("hooksecret", body))
	rr := httptest.NewRecorder()
	fixture.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	jobs := fixture.producer.buildJobs()
	if len(jobs) != 1 {
		t.Fatalf("expected one queued build, got %d", len(jobs))
	}
	if jobs[0].ProjectID != "proj-1" || jobs[0].Trigger != domain.TriggerAutomatic || jobs[0].BuildID != "" {
		t.Fatalf("unexpected job %+v", jobs[0])
	}
}

func TestPushWebhookRejectsBadSignature(t *testing.T) {
	fixture := newTestRouter(t)
	body := pushBody("refs/heads/main")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", sign("wrong", body))
	rr := httptest.NewRecorder()
	fixture.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if len(fixture.producer.buildJobs()) != 0 {
		t.Fatal("no build should be queued for a bad signature")
	}
}

func TestPushWebhookIgnoresNonDefaultBranch(t *testing.T) {
	fixture := newTestRouter(t)
	body := pushBody("refs/heads/feature")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", sign("hooksecret", body))
	rr := httptest.NewRecorder()
	fixture.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	if len(fixture.producer.buildJobs()) != 0 {
		t.Fatal("pushes off the default branch must not queue builds")
	}
}

func TestInstallationEventBindsInstallation(t *testing.T) {
	fixture := newTestRouter(t)
	body := []byte(`{"action":"created","installation":{"id":777,"app_id":12345}}`)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "installation")
	req.Header.Set("X-Hub-Signature-256", sign("hooksecret", body))
	rr := httptest.NewRecorder()
	fixture.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := fixture.sources.installations["12345"]; got != 777 {
		t.Fatalf("expected installation 777 recorded, got %d", got)
	}
}

func TestManualBuildTrigger(t *testing.T) {
	fixture := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/projects/proj-1/builds", bytes.NewReader([]byte(`{"user_id":"user-1"}`)))
	rr := httptest.NewRecorder()
	fixture.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	jobs := fixture.producer.buildJobs()
	if len(jobs) != 1 || jobs[0].Trigger != domain.TriggerManual || jobs[0].TriggeredByUserID != "user-1" {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
}

func TestRedeployCarriesBuildID(t *testing.T) {
	fixture := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/projects/proj-1/builds/build-1/deploy", nil)
	rr := httptest.NewRecorder()
	fixture.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	jobs := fixture.producer.buildJobs()
	if len(jobs) != 1 || jobs[0].BuildID != "build-1" {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
}

func TestRedeployRequiresImage(t *testing.T) {
	fixture := newTestRouter(t)
	fixture.builds.build.Image = ""

	req := httptest.NewRequest(http.MethodPost, "/api/projects/proj-1/builds/build-1/deploy", nil)
	rr := httptest.NewRecorder()
	fixture.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestBuildLogsEndpoint(t *testing.T) {
	fixture := newTestRouter(t)
	fixture.logRepo.entries = []domain.PipelineLog{
		{ID: "l1", ProjectID: "proj-1", BuildID: "build-1", Phase: domain.PhaseBuild, Body: "Build started.", Level: domain.LevelInfo},
		{ID: "l2", ProjectID: "proj-1", BuildID: "build-1", Phase: domain.PhaseDeploy, Body: "Starting deployment.", Level: domain.LevelInfo},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/projects/proj-1/builds/build-1/logs", nil)
	rr := httptest.NewRecorder()
	fixture.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out []map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected two log lines, got %d", len(out))
	}
	if out[1]["phase"] != string(domain.PhaseDeploy) || out[1]["body"] != "Starting deployment." {
		t.Fatalf("unexpected log line %+v", out[1])
	}
}

func TestHealthzReportsDatabaseFailure(t *testing.T) {
	fixture := newTestRouter(t)
	fixture.router.dbHealth = func(context.Context) error { return errors.New("connection refused") }

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	fixture.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}

	fixture.router.dbHealth = func(context.Context) error { return nil }
	rr = httptest.NewRecorder()
	fixture.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
