package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chiefdeploy/chief/internal/domain"
)

type stubProjects struct {
	project *domain.Project
}

func (s *stubProjects) CreateProject(ctx context.Context, project *domain.Project) error { return nil }
func (s *stubProjects) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	return s.project, nil
}
func (s *stubProjects) GetProjectWithSource(ctx context.Context, projectID string) (*domain.Project, *domain.GithubSource, error) {
	return s.project, nil, nil
}
func (s *stubProjects) ListProjectsByRepository(ctx context.Context, sourceID, repository string) ([]domain.Project, error) {
	return []domain.Project{*s.project}, nil
}
func (s *stubProjects) ListProjectsByOrganization(ctx context.Context, orgID string) ([]domain.Project, error) {
	return nil, nil
}
func (s *stubProjects) UpdateProject(ctx context.Context, project *domain.Project) error { return nil }
func (s *stubProjects) DeleteProject(ctx context.Context, projectID string) error        { return nil }

type stubBuilds struct {
	build *domain.Build
}

func (s *stubBuilds) CreateBuild(ctx context.Context, build *domain.Build) error { return nil }
func (s *stubBuilds) GetBuildByID(ctx context.Context, buildID string) (*domain.Build, error) {
	return s.build, nil
}
func (s *stubBuilds) GetLatestBuild(ctx context.Context, projectID string) (*domain.Build, error) {
	return s.build, nil
}
func (s *stubBuilds) ListBuildsByProject(ctx context.Context, projectID string, limit int) ([]domain.Build, error) {
	return nil, nil
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

type stubEndpoints struct {
	endpoints []domain.NotificationEndpoint
}

func (s *stubEndpoints) CreateEndpoint(ctx context.Context, endpoint *domain.NotificationEndpoint) error {
	return nil
}
func (s *stubEndpoints) AttachEndpoint(ctx context.Context, projectID, endpointID string) error {
	return nil
}
func (s *stubEndpoints) ListEndpointsByProject(ctx context.Context, projectID string) ([]domain.NotificationEndpoint, error) {
	return s.endpoints, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendDeliversAllEndpointKinds(t *testing.T) {
	var mu sync.Mutex
	received := map[string]map[string]any{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		mu.Lock()
		received[r.URL.Path] = body
		mu.Unlock()
	}))
	defer srv.Close()

	project := &domain.Project{ID: "proj-1", Name: "shop", Domain: "shop.example.com"}
	build := &domain.Build{ID: "0123456789abcdef", ProjectID: "proj-1"}
	svc := New(
		&stubProjects{project: project},
		&stubBuilds{build: build},
		&stubEndpoints{endpoints: []domain.NotificationEndpoint{
			{ID: "e1", Type: domain.EndpointDiscord, Endpoint: srv.URL + "/discord"},
			{ID: "e2", Type: domain.EndpointSlack, Endpoint: srv.URL + "/slack"},
			{ID: "e3", Type: domain.EndpointWebhook, Endpoint: srv.URL + "/hook"},
		}},
		5*time.Second,
		"https://chief.example.com",
		discardLogger(),
	)

	if err := svc.Send(context.Background(), "proj-1", build.ID, domain.NotifySuccessfulDeploy); err != nil {
		t.Fatalf("Send: %v", err)
	}

	discord := received["/discord"]
	if discord["username"] != "Chief" {
		t.Fatalf("unexpected discord payload %+v", discord)
	}
	if content, _ := discord["content"].(string); !strings.Contains(content, "deployed successfully") || !strings.Contains(content, "0123456") {
		t.Fatalf("unexpected discord message %q", discord["content"])
	}

	slack := received["/slack"]
	if slack["username"] != "Chief" {
		t.Fatalf("unexpected slack payload %+v", slack)
	}
	if text, _ := slack["text"].(string); !strings.Contains(text, "|0123456>") {
		t.Fatalf("slack message missing link format: %q", slack["text"])
	}

	hook := received["/hook"]
	if hook["build_id"] != build.ID || hook["project_id"] != "proj-1" || hook["type"] != "successful_deploy" {
		t.Fatalf("unexpected webhook payload %+v", hook)
	}
}

func TestSendToleratesDeadEndpoint(t *testing.T) {
	project := &domain.Project{ID: "proj-1", Name: "shop"}
	build := &domain.Build{ID: "b1"}
	svc := New(
		&stubProjects{project: project},
		&stubBuilds{build: build},
		&stubEndpoints{endpoints: []domain.NotificationEndpoint{
			{ID: "e1", Type: domain.EndpointWebhook, Endpoint: "http://127.0.0.1:1/hook"},
		}},
		time.Second,
		"https://chief.example.com",
		discardLogger(),
	)
	if err := svc.Send(context.Background(), "proj-1", "b1", domain.NotifyFailedBuild); err != nil {
		t.Fatalf("Send should tolerate dead endpoints: %v", err)
	}
}

func TestMessageTextsPerOutcome(t *testing.T) {
	project := &domain.Project{ID: "proj-1", Name: "shop", Domain: "shop.example.com"}
	build := &domain.Build{ID: "0123456789"}
	svc := New(nil, nil, nil, time.Second, "https://chief.example.com", discardLogger())

	if msg := svc.markdownMessage(project, build, domain.NotifyFailedDeploy); !strings.HasPrefix(msg, "Deployment ") {
		t.Errorf("failed deploy message should start with Deployment: %q", msg)
	}
	if msg := svc.markdownMessage(project, build, domain.NotifyFailedBuild); !strings.HasPrefix(msg, "Build ") || !strings.HasSuffix(msg, "failed.") {
		t.Errorf("unexpected failed build message %q", msg)
	}
	if msg := svc.slackMessage(project, build, domain.NotifySuccessfulDeploy); !strings.Contains(msg, "(shop.example.com)") {
		t.Errorf("successful deploy message should name the domain: %q", msg)
	}
}
