// Package httpx exposes the controller API: pipeline triggers, the GitHub
// webhook receiver, the query surface and the live event stream.
package httpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chiefdeploy/chief/internal/github"
	"github.com/chiefdeploy/chief/internal/queue"
	"github.com/chiefdeploy/chief/internal/repository"
	"github.com/chiefdeploy/chief/internal/service/instance"
	"github.com/chiefdeploy/chief/internal/service/logs"
	"github.com/chiefdeploy/chief/internal/ws"
)

const (
	healthCheckTimeout = 2 * time.Second

	defaultStreamPing = 30 * time.Second
)

// DeploymentRemover tears down a project's runtime deployment when the
// project is deleted.
type DeploymentRemover interface {
	Remove(ctx context.Context, projectID string) error
}

// Deps carries everything the router hands its handlers.
type Deps struct {
	Logger        *slog.Logger
	Organizations repository.OrganizationRepository
	Projects      repository.ProjectRepository
	Builds        repository.BuildRepository
	Sources       repository.SourceRepository
	Endpoints     repository.NotificationRepository
	Instances     repository.InstanceRepository
	Provisioner   *instance.Service
	Logs          logs.Service
	Gateway       github.Gateway
	Producer      queue.Producer
	Deployments   DeploymentRemover
	Hub           *ws.Hub
	DBHealth      func(context.Context) error
	StreamPing    time.Duration // keepalive ping period for stream clients
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	orgs        repository.OrganizationRepository
	projects    repository.ProjectRepository
	builds      repository.BuildRepository
	sources     repository.SourceRepository
	endpoints   repository.NotificationRepository
	instances   repository.InstanceRepository
	provisioner *instance.Service
	logs        logs.Service
	gateway     github.Gateway
	producer    queue.Producer
	deployments DeploymentRemover
	hub         *ws.Hub
	upgrader    websocket.Upgrader
	dbHealth    func(context.Context) error
	streamPing  time.Duration

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
}

// NewRouter assembles routes with dependencies.
func NewRouter(deps Deps) *Router {
	r := &Router{
		mux:         http.NewServeMux(),
		logger:      deps.Logger,
		orgs:        deps.Organizations,
		projects:    deps.Projects,
		builds:      deps.Builds,
		sources:     deps.Sources,
		endpoints:   deps.Endpoints,
		instances:   deps.Instances,
		provisioner: deps.Provisioner,
		logs:        deps.Logs,
		gateway:     deps.Gateway,
		producer:    deps.Producer,
		deployments: deps.Deployments,
		hub:         deps.Hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		dbHealth:   deps.DBHealth,
		streamPing: deps.StreamPing,
	}
	if r.streamPing <= 0 {
		r.streamPing = defaultStreamPing
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.HandleFunc("/webhooks/github", r.audit("/webhooks/github", r.handleGithubWebhook))
	r.mux.HandleFunc("/api/organizations", r.audit("/api/organizations", r.handleOrganizations))
	r.mux.HandleFunc("/api/organizations/", r.audit("/api/organizations/{id}", r.handleOrganizationByID))
	r.mux.HandleFunc("/api/projects", r.audit("/api/projects", r.handleProjects))
	r.mux.HandleFunc("/api/projects/", r.audit("/api/projects/{id}", r.handleProjectSubroutes))
	r.mux.HandleFunc("/api/sources", r.audit("/api/sources", r.handleSources))
	r.mux.HandleFunc("/api/sources/", r.audit("/api/sources/{id}", r.handleSourceSubroutes))
	r.mux.HandleFunc("/api/notifications", r.audit("/api/notifications", r.handleNotificationEndpoints))
	r.mux.HandleFunc("/api/instances/postgres", r.audit("/api/instances/postgres", r.handleCreatePostgres))
	r.mux.HandleFunc("/api/instances/postgres/", r.audit("/api/instances/postgres/{id}", r.handlePostgresByID))
	r.mux.HandleFunc("/api/instances/redis", r.audit("/api/instances/redis", r.handleCreateRedis))
	r.mux.HandleFunc("/api/instances/redis/", r.audit("/api/instances/redis/{id}", r.handleRedisByID))
	r.mux.HandleFunc("/api/stream", r.audit("/api/stream", r.handleStream))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// handleStream upgrades the connection and subscribes it to the
// organization's event channel until the peer hangs up.
func (r *Router) handleStream(w http.ResponseWriter, req *http.Request) {
	orgID := req.URL.Query().Get("organization_id")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "organization_id query parameter required")
		return
	}
	if _, err := r.orgs.GetOrganizationByID(req.Context(), orgID); err != nil {
		r.writeRepoError(w, err)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(orgID, client)
	go client.KeepAlive(r.streamPing)
	go func() {
		defer func() {
			r.hub.Unregister(orgID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
		r.recordRequestMetrics(req.Method, route, status, duration)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) writeRepoError(w http.ResponseWriter, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
