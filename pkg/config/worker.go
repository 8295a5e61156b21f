package config

import "time"

// WorkerConfig holds runtime configuration for the queue worker process.
type WorkerConfig struct {
	Environment      string
	LogLevel         string
	MetricsAddr      string
	DatabaseURL      string
	RedisURL         string
	AppDomain        string
	SecretsKey       string
	GithubAPIBase    string
	DockerHost       string
	DockerNetwork    string
	Workdir          string
	SitesDir         string
	CaddyfilePath    string
	CaddyAdminURL    string
	ProxyReloadMode  string
	ProxyContainer   string
	QueueConcurrency int
	JobMaxAttempts   int
	JobRetryBase     time.Duration
	DeployLeaseTTL   time.Duration
	DeployLeaseWait  time.Duration
	NotifyTimeout    time.Duration
	VolumeRemoveWait time.Duration
}

// LoadWorkerConfig constructs a WorkerConfig from environment variables.
func LoadWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Environment:      GetString("APP_ENV", "development"),
		LogLevel:         GetString("LOG_LEVEL", "info"),
		MetricsAddr:      GetString("WORKER_METRICS_ADDR", ":4001"),
		DatabaseURL:      GetString("DATABASE_URL", "postgres://chief:chief@db:5432/chief?sslmode=disable"),
		RedisURL:         GetString("REDIS_URL", "redis://redis:6379/0"),
		AppDomain:        GetString("APP_DOMAIN", "chief.local"),
		SecretsKey:       GetString("SECRETS_ENCRYPTION_KEY", "supersecuresecret"),
		GithubAPIBase:    GetString("GITHUB_API_BASE", "https://api.github.com"),
		DockerHost:       GetString("DOCKER_HOST", "unix:///var/run/docker.sock"),
		DockerNetwork:    GetString("DOCKER_NETWORK", "chief"),
		Workdir:          GetString("BUILDER_WORKDIR", "/tmp/builder"),
		SitesDir:         GetString("PROXY_SITES_DIR", "/sites"),
		CaddyfilePath:    GetString("PROXY_CADDYFILE", "/Caddyfile"),
		CaddyAdminURL:    GetString("PROXY_ADMIN_URL", "http://chief_proxy:2019"),
		ProxyReloadMode:  GetString("PROXY_RELOAD_MODE", "admin"),
		ProxyContainer:   GetString("PROXY_CONTAINER_NAME", "chief_proxy"),
		QueueConcurrency: GetInt("QUEUE_CONCURRENCY", 20),
		JobMaxAttempts:   GetInt("JOB_MAX_ATTEMPTS", 3),
		JobRetryBase:     time.Duration(GetInt("JOB_RETRY_BASE_MS", 500)) * time.Millisecond,
		DeployLeaseTTL:   GetSeconds("DEPLOY_LEASE_TTL_SECONDS", 600),
		DeployLeaseWait:  GetSeconds("DEPLOY_LEASE_WAIT_SECONDS", 5),
		NotifyTimeout:    GetSeconds("NOTIFY_TIMEOUT_SECONDS", 10),
		VolumeRemoveWait: GetSeconds("VOLUME_REMOVE_WAIT_SECONDS", 10),
	}
}
