package proxy

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
)

// Reloader applies the current proxy configuration.
type Reloader interface {
	Reload(ctx context.Context) error
}

// AdminReloader pushes the aggregate Caddyfile to the Caddy admin API.
type AdminReloader struct {
	adminURL      string
	caddyfilePath string
	http          *http.Client
}

// NewAdminReloader constructs an AdminReloader. adminURL is the base admin
// endpoint, e.g. "http://chief_proxy:2019".
func NewAdminReloader(adminURL, caddyfilePath string) *AdminReloader {
	return &AdminReloader{
		adminURL:      strings.TrimRight(adminURL, "/"),
		caddyfilePath: caddyfilePath,
		http:          &http.Client{Timeout: 10 * time.Second},
	}
}

// Reload reads the aggregate Caddyfile and posts it to the admin load
// endpoint.
func (r *AdminReloader) Reload(ctx context.Context) error {
	data, err := os.ReadFile(r.caddyfilePath)
	if err != nil {
		return fmt.Errorf("read caddyfile: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.adminURL+"/load", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/caddyfile")

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("proxy reload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("proxy reload status %d", resp.StatusCode)
	}
	return nil
}

// NewReloader selects the reload transport by mode: "admin" posts the
// Caddyfile to the admin API, "signal" sends SIGHUP to the proxy container.
func NewReloader(mode, adminURL, caddyfilePath, container string) (Reloader, error) {
	switch mode {
	case "", "admin":
		return NewAdminReloader(adminURL, caddyfilePath), nil
	case "signal":
		return NewDockerReloader(container)
	default:
		return nil, fmt.Errorf("unknown proxy reload mode %q", mode)
	}
}

// DockerReloader triggers proxy reloads by signalling the proxy container.
// Used when the admin API is not reachable from the worker.
type DockerReloader struct {
	client    *client.Client
	container string
}

// NewDockerReloader constructs a DockerReloader for the named container.
func NewDockerReloader(container string) (*DockerReloader, error) {
	container = strings.TrimSpace(container)
	if container == "" {
		return nil, fmt.Errorf("container name required")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &DockerReloader{client: cli, container: container}, nil
}

// Reload sends SIGHUP to the proxy container.
func (r *DockerReloader) Reload(ctx context.Context) error {
	if err := r.client.ContainerKill(ctx, r.container, "HUP"); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("proxy container %s not found", r.container)
		}
		return err
	}
	return nil
}

// Close releases the Docker API connection.
func (r *DockerReloader) Close() error {
	return r.client.Close()
}
