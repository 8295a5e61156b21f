// Package github talks to the GitHub REST API on behalf of an installed
// GitHub App: installation tokens, commit lookups, source archives, commit
// statuses and repository listings.
package github

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chiefdeploy/chief/internal/domain"
)

// Sentinel errors callers branch on to classify pipeline failures.
var (
	// ErrSourceUnavailable indicates the source-control provider rejected
	// or failed the request (auth, missing repo, network).
	ErrSourceUnavailable = errors.New("github: source unavailable")
	// ErrArchiveUnavailable indicates the source archive for a commit could
	// not be resolved.
	ErrArchiveUnavailable = errors.New("github: archive unavailable")
)

// Commit identifies a commit on the repository default branch.
type Commit struct {
	SHA     string
	Branch  string
	Message string
}

// Repository is a repo visible to an app installation.
type Repository struct {
	ID            int64  `json:"id"`
	FullName      string `json:"full_name"`
	Private       bool   `json:"private"`
	DefaultBranch string `json:"default_branch"`
}

// CommitStatus mirrors the GitHub commit status API payload.
type CommitStatus struct {
	State       string `json:"state"`
	TargetURL   string `json:"target_url,omitempty"`
	Description string `json:"description,omitempty"`
	Context     string `json:"context"`
}

// Gateway is the source-control surface the pipelines depend on.
type Gateway interface {
	LatestCommit(ctx context.Context, source *domain.GithubSource, repository string) (Commit, error)
	ArchiveURL(ctx context.Context, source *domain.GithubSource, repository, ref string) (string, string, error)
	CreateCommitStatus(ctx context.Context, source *domain.GithubSource, repository, sha string, status CommitStatus)
	ListInstalledRepositories(ctx context.Context, source *domain.GithubSource) ([]Repository, error)
}

// Client implements Gateway against the GitHub REST API.
type Client struct {
	apiBase string
	http    *http.Client
	logger  *slog.Logger

	mu     sync.Mutex
	tokens map[string]cachedToken
}

type cachedToken struct {
	value   string
	expires time.Time
}

// NewClient constructs a Client. apiBase is normally
// "https://api.github.com" and is overridable for tests.
func NewClient(apiBase string, logger *slog.Logger) *Client {
	return &Client{
		apiBase: apiBase,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
		tokens:  make(map[string]cachedToken),
	}
}

// appJWT mints the short-lived RS256 app token GitHub requires for
// installation-level calls.
func appJWT(appID string, key *rsa.PrivateKey) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

// installationToken returns a cached installation access token, fetching a
// fresh one when the cache entry is missing or within a minute of expiry.
func (c *Client) installationToken(ctx context.Context, source *domain.GithubSource) (string, error) {
	if !source.Installed() {
		return "", fmt.Errorf("%w: app not installed", ErrSourceUnavailable)
	}

	c.mu.Lock()
	cached, ok := c.tokens[source.ID]
	c.mu.Unlock()
	if ok && time.Until(cached.expires) > time.Minute {
		return cached.value, nil
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(source.PEM)
	if err != nil {
		return "", fmt.Errorf("%w: parse app key: %v", ErrSourceUnavailable, err)
	}
	token, err := appJWT(source.AppID, key)
	if err != nil {
		return "", fmt.Errorf("%w: sign app token: %v", ErrSourceUnavailable, err)
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", c.apiBase, *source.InstallationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: installation token status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	var body struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode installation token: %v", ErrSourceUnavailable, err)
	}

	c.mu.Lock()
	c.tokens[source.ID] = cachedToken{value: body.Token, expires: body.ExpiresAt}
	c.mu.Unlock()
	return body.Token, nil
}

func (c *Client) apiRequest(ctx context.Context, source *domain.GithubSource, method, path string, payload any) (*http.Response, error) {
	token, err := c.installationToken(ctx, source)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return resp, nil
}

// LatestCommit resolves the newest commit on the repository default branch.
func (c *Client) LatestCommit(ctx context.Context, source *domain.GithubSource, repository string) (Commit, error) {
	resp, err := c.apiRequest(ctx, source, http.MethodGet, "/repos/"+repository, nil)
	if err != nil {
		return Commit{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Commit{}, fmt.Errorf("%w: repository lookup status %d", ErrSourceUnavailable, resp.StatusCode)
	}
	var repo Repository
	if err := json.NewDecoder(resp.Body).Decode(&repo); err != nil {
		return Commit{}, fmt.Errorf("%w: decode repository: %v", ErrSourceUnavailable, err)
	}
	if repo.DefaultBranch == "" {
		return Commit{}, fmt.Errorf("%w: repository has no default branch", ErrSourceUnavailable)
	}

	resp, err = c.apiRequest(ctx, source, http.MethodGet, "/repos/"+repository+"/commits/"+repo.DefaultBranch, nil)
	if err != nil {
		return Commit{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Commit{}, fmt.Errorf("%w: commit lookup status %d", ErrSourceUnavailable, resp.StatusCode)
	}
	var commit struct {
		SHA    string `json:"sha"`
		Commit struct {
			Message string `json:"message"`
		} `json:"commit"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&commit); err != nil {
		return Commit{}, fmt.Errorf("%w: decode commit: %v", ErrSourceUnavailable, err)
	}
	if commit.SHA == "" {
		return Commit{}, fmt.Errorf("%w: empty commit sha", ErrSourceUnavailable)
	}
	return Commit{SHA: commit.SHA, Branch: repo.DefaultBranch, Message: commit.Commit.Message}, nil
}

// ArchiveURL resolves the tarball download URL for a commit plus the
// installation token the download must authenticate with.
func (c *Client) ArchiveURL(ctx context.Context, source *domain.GithubSource, repository, ref string) (string, string, error) {
	token, err := c.installationToken(ctx, source)
	if err != nil {
		return "", "", err
	}

	// GitHub answers tarball requests with a redirect to a signed URL.
	client := &http.Client{
		Timeout: c.http.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	url := fmt.Sprintf("%s/repos/%s/tarball/%s", c.apiBase, repository, ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusFound, http.StatusMovedPermanently, http.StatusTemporaryRedirect:
		location := resp.Header.Get("Location")
		if location == "" {
			return "", "", fmt.Errorf("%w: redirect without location", ErrArchiveUnavailable)
		}
		return location, token, nil
	case http.StatusOK:
		return url, token, nil
	default:
		return "", "", fmt.Errorf("%w: tarball status %d", ErrArchiveUnavailable, resp.StatusCode)
	}
}

// CreateCommitStatus posts a commit status. Failures are logged and
// swallowed: statuses are best effort and never fail a pipeline.
func (c *Client) CreateCommitStatus(ctx context.Context, source *domain.GithubSource, repository, sha string, status CommitStatus) {
	resp, err := c.apiRequest(ctx, source, http.MethodPost, "/repos/"+repository+"/statuses/"+sha, status)
	if err != nil {
		c.logger.Warn("commit status failed", "repository", repository, "sha", sha, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		c.logger.Warn("commit status rejected", "repository", repository, "sha", sha, "status", resp.StatusCode)
	}
}

// ListInstalledRepositories returns every repository the installation can
// see, following pagination.
func (c *Client) ListInstalledRepositories(ctx context.Context, source *domain.GithubSource) ([]Repository, error) {
	var repositories []Repository
	for page := 1; ; page++ {
		path := "/installation/repositories?per_page=100&page=" + strconv.Itoa(page)
		resp, err := c.apiRequest(ctx, source, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		var body struct {
			TotalCount   int          `json:"total_count"`
			Repositories []Repository `json:"repositories"`
		}
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: repository listing status %d", ErrSourceUnavailable, resp.StatusCode)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: decode repository listing: %v", ErrSourceUnavailable, err)
		}
		repositories = append(repositories, body.Repositories...)
		if len(body.Repositories) < 100 || len(repositories) >= body.TotalCount {
			return repositories, nil
		}
	}
}
