package github

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chiefdeploy/chief/internal/domain"
)

func testKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

func testSource(t *testing.T) *domain.GithubSource {
	t.Helper()
	installation := int64(42)
	return &domain.GithubSource{
		ID:             "src-1",
		OrganizationID: "org-1",
		AppID:          "12345",
		PEM:            testKeyPEM(t),
		InstallationID: &installation,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// methodMux replicates the Go 1.22+ "METHOD /path" ServeMux patterns so
// these tests also run on a Go 1.21 toolchain.
type methodMux struct{ *http.ServeMux }

func newMethodMux() *methodMux { return &methodMux{http.NewServeMux()} }

func (m *methodMux) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	method, path, found := strings.Cut(pattern, " ")
	if !found {
		m.ServeMux.HandleFunc(pattern, handler)
		return
	}
	m.ServeMux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	})
}

func tokenHandler(tokenCalls *atomic.Int64) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if tokenCalls != nil {
			tokenCalls.Add(1)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"token":      "ghs_test_token",
			"expires_at": time.Now().Add(time.Hour).Format(time.RFC3339),
		})
	}
}

func TestLatestCommit(t *testing.T) {
	var tokenCalls atomic.Int64
	mux := newMethodMux()
	mux.HandleFunc("POST /app/installations/42/access_tokens", tokenHandler(&tokenCalls))
	mux.HandleFunc("GET /repos/acme/shop", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer ghs_test_token" {
			t.Errorf("unexpected authorization header %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"id": 1, "full_name": "acme/shop", "default_branch": "main"})
	})
	mux.HandleFunc("GET /repos/acme/shop/commits/main", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"sha":    "abc123",
			"commit": map[string]any{"message": "fix checkout"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, discardLogger())
	commit, err := client.LatestCommit(context.Background(), testSource(t), "acme/shop")
	if err != nil {
		t.Fatalf("LatestCommit: %v", err)
	}
	if commit.SHA != "abc123" || commit.Branch != "main" {
		t.Fatalf("unexpected commit %+v", commit)
	}

	// Second call reuses the cached installation token.
	if _, err := client.LatestCommit(context.Background(), testSource(t), "acme/shop"); err != nil {
		t.Fatalf("second LatestCommit: %v", err)
	}
	if tokenCalls.Load() != 1 {
		t.Fatalf("expected 1 token exchange, got %d", tokenCalls.Load())
	}
}

func TestLatestCommitSourceUnavailable(t *testing.T) {
	mux := newMethodMux()
	mux.HandleFunc("POST /app/installations/42/access_tokens", tokenHandler(nil))
	mux.HandleFunc("GET /repos/acme/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, discardLogger())
	_, err := client.LatestCommit(context.Background(), testSource(t), "acme/gone")
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestLatestCommitRequiresInstallation(t *testing.T) {
	client := NewClient("http://unused", discardLogger())
	source := testSource(t)
	source.InstallationID = nil
	_, err := client.LatestCommit(context.Background(), source, "acme/shop")
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestArchiveURLFollowsRedirect(t *testing.T) {
	mux := newMethodMux()
	mux.HandleFunc("POST /app/installations/42/access_tokens", tokenHandler(nil))
	mux.HandleFunc("GET /repos/acme/shop/tarball/abc123", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://codeload.example.com/archive.tar.gz")
		w.WriteHeader(http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, discardLogger())
	url, token, err := client.ArchiveURL(context.Background(), testSource(t), "acme/shop", "abc123")
	if err != nil {
		t.Fatalf("ArchiveURL: %v", err)
	}
	if url != "https://codeload.example.com/archive.tar.gz" {
		t.Fatalf("unexpected archive url %q", url)
	}
	if token != "ghs_test_token" {
		t.Fatalf("unexpected token %q", token)
	}
}

func TestArchiveURLUnavailable(t *testing.T) {
	mux := newMethodMux()
	mux.HandleFunc("POST /app/installations/42/access_tokens", tokenHandler(nil))
	mux.HandleFunc("GET /repos/acme/shop/tarball/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, discardLogger())
	_, _, err := client.ArchiveURL(context.Background(), testSource(t), "acme/shop", "missing")
	if !errors.Is(err, ErrArchiveUnavailable) {
		t.Fatalf("expected ErrArchiveUnavailable, got %v", err)
	}
}

func TestCreateCommitStatusBestEffort(t *testing.T) {
	var received CommitStatus
	mux := newMethodMux()
	mux.HandleFunc("POST /app/installations/42/access_tokens", tokenHandler(nil))
	mux.HandleFunc("POST /repos/acme/shop/statuses/abc123", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode status: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, discardLogger())
	client.CreateCommitStatus(context.Background(), testSource(t), "acme/shop", "abc123", CommitStatus{
		State:   "pending",
		Context: "chief/build",
	})
	if received.State != "pending" || received.Context != "chief/build" {
		t.Fatalf("unexpected status payload %+v", received)
	}

	// A dead endpoint must not panic or error out.
	broken := NewClient("http://127.0.0.1:1", discardLogger())
	broken.CreateCommitStatus(context.Background(), testSource(t), "acme/shop", "abc123", CommitStatus{Context: "chief/build"})
}

func TestListInstalledRepositoriesPaginates(t *testing.T) {
	mux := newMethodMux()
	mux.HandleFunc("POST /app/installations/42/access_tokens", tokenHandler(nil))
	mux.HandleFunc("GET /installation/repositories", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		repos := make([]map[string]any, 0)
		switch page {
		case "1":
			for i := 0; i < 100; i++ {
				repos = append(repos, map[string]any{"id": i, "full_name": "acme/repo", "default_branch": "main"})
			}
		case "2":
			repos = append(repos, map[string]any{"id": 100, "full_name": "acme/last", "default_branch": "main"})
		}
		json.NewEncoder(w).Encode(map[string]any{"total_count": 101, "repositories": repos})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, discardLogger())
	repos, err := client.ListInstalledRepositories(context.Background(), testSource(t))
	if err != nil {
		t.Fatalf("ListInstalledRepositories: %v", err)
	}
	if len(repos) != 101 {
		t.Fatalf("expected 101 repositories, got %d", len(repos))
	}
	if !strings.HasPrefix(repos[100].FullName, "acme/") {
		t.Fatalf("unexpected repository %+v", repos[100])
	}
}
