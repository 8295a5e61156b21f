// Package docker wraps the Docker Engine API client the worker uses to
// verify the daemon is reachable before it starts consuming jobs.
package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/client"
)

// Client is a thin handle over the Engine API.
type Client struct {
	api *client.Client
}

// New connects to the daemon at host. An empty host falls back to the
// environment (DOCKER_HOST et al).
func New(host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	api, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Client{api: api}, nil
}

// Ping verifies the daemon answers. The build and deploy pipelines shell
// out to the docker CLI, so an unreachable daemon means every job would
// fail; the worker refuses to start instead.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	return nil
}

// Close releases the API connection.
func (c *Client) Close() error {
	return c.api.Close()
}
