// Package lock provides a Redis-backed deploy lease. At most one deploy per
// project runs at a time across every worker process.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DeployLease serializes deploys per project. The lease carries a TTL so a
// crashed worker cannot wedge a project forever.
type DeployLease struct {
	client         *redis.Client
	ttl            time.Duration
	acquireTimeout time.Duration
}

// NewDeployLease creates a DeployLease.
//   - ttl: how long a lease is held before auto-expiry
//   - acquireTimeout: max time to wait when trying to acquire a lease
func NewDeployLease(client *redis.Client, ttl, acquireTimeout time.Duration) *DeployLease {
	return &DeployLease{
		client:         client,
		ttl:            ttl,
		acquireTimeout: acquireTimeout,
	}
}

func leaseKey(projectID string) string {
	return "chief:deploy_lease:" + projectID
}

// Acquire attempts to obtain the lease for a project, blocking with
// exponential backoff until success or timeout. Returns a unique leaseID
// used for Release.
func (l *DeployLease) Acquire(ctx context.Context, projectID string) (string, error) {
	leaseID := uuid.New().String()
	deadline := time.Now().Add(l.acquireTimeout)
	backoff := 50 * time.Millisecond

	for {
		ok, err := l.client.SetNX(ctx, leaseKey(projectID), leaseID, l.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("redis setnx: %w", err)
		}
		if ok {
			return leaseID, nil
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("timeout acquiring deploy lease after %s", l.acquireTimeout)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}

		// exponential backoff, max 500ms
		backoff *= 2
		if backoff > 500*time.Millisecond {
			backoff = 500 * time.Millisecond
		}
	}
}

// releaseScript atomically checks that the lease value matches before
// deleting, preventing a worker from releasing a lease it no longer owns.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`)

// Release releases the lease only if it is still owned by the given leaseID.
func (l *DeployLease) Release(ctx context.Context, projectID, leaseID string) error {
	_, err := releaseScript.Run(ctx, l.client, []string{leaseKey(projectID)}, leaseID).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("release deploy lease: %w", err)
	}
	return nil
}
