// Package proxy manages the edge proxy: per-project Caddy route files and
// configuration reloads.
package proxy

import (
	"fmt"
	"os"
	"path/filepath"
)

// GenerateRoute renders the Caddy site block for a project service. The
// upstream is dialed by swarm service name on the shared overlay network;
// the second :9999 upstream exists so lb_policy first fails over fast while
// a service restarts.
func GenerateRoute(domain, serviceID string, port int) (string, error) {
	if port < 1 || port > 65535 {
		return "", fmt.Errorf("proxy port must be between 1 and 65535")
	}
	if domain == "" {
		return "", fmt.Errorf("proxy domain cannot be empty")
	}

	route := fmt.Sprintf(`%s, www.%s {
  import pmain

  reverse_proxy %s:%d :9999 {
    import proxy_headers
    lb_policy first
    lb_try_duration 1s
    lb_try_interval 5s
    fail_duration 5s

    transport http {
      dial_timeout 1s
    }
  }
}`, domain, domain, serviceID, port)
	return route, nil
}

// Routes stores per-project route files in the sites directory the main
// Caddyfile imports.
type Routes struct {
	sitesDir string
}

// NewRoutes constructs a Routes store.
func NewRoutes(sitesDir string) *Routes {
	return &Routes{sitesDir: sitesDir}
}

func (r *Routes) path(projectID string) string {
	return filepath.Join(r.sitesDir, projectID+".caddy")
}

// Exists reports whether a route file is present for the project.
func (r *Routes) Exists(projectID string) bool {
	_, err := os.Stat(r.path(projectID))
	return err == nil
}

// Write renders and stores the route file for a project.
func (r *Routes) Write(projectID, domain string, port int) error {
	route, err := GenerateRoute(domain, projectID, port)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.sitesDir, 0o755); err != nil {
		return fmt.Errorf("create sites dir: %w", err)
	}
	if err := os.WriteFile(r.path(projectID), []byte(route), 0o644); err != nil {
		return fmt.Errorf("write route file: %w", err)
	}
	return nil
}

// Remove deletes the route file for a project. A missing file is not an
// error.
func (r *Routes) Remove(projectID string) error {
	if err := os.Remove(r.path(projectID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove route file: %w", err)
	}
	return nil
}
