package config

import "time"

// ControllerConfig holds runtime configuration for the controller API process.
type ControllerConfig struct {
	Environment      string
	LogLevel         string
	Addr             string
	DatabaseURL      string
	MigrationsDir    string
	RedisURL         string
	AppDomain        string
	SecretsKey       string
	GithubAPIBase    string
	DockerNetwork    string
	SitesDir         string
	CaddyfilePath    string
	CaddyAdminURL    string
	ProxyReloadMode  string
	ProxyContainer   string
	DeployLeaseTTL   time.Duration
	DeployLeaseWait  time.Duration
	ShutdownTimeout  time.Duration
	StreamPingPeriod time.Duration
}

// LoadControllerConfig constructs a ControllerConfig from environment variables.
func LoadControllerConfig() ControllerConfig {
	return ControllerConfig{
		Environment:      GetString("APP_ENV", "development"),
		LogLevel:         GetString("LOG_LEVEL", "info"),
		Addr:             GetString("CONTROLLER_ADDR", ":4000"),
		DatabaseURL:      GetString("DATABASE_URL", "postgres://chief:chief@db:5432/chief?sslmode=disable"),
		MigrationsDir:    GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		RedisURL:         GetString("REDIS_URL", "redis://redis:6379/0"),
		AppDomain:        GetString("APP_DOMAIN", "chief.local"),
		SecretsKey:       GetString("SECRETS_ENCRYPTION_KEY", "supersecuresecret"),
		GithubAPIBase:    GetString("GITHUB_API_BASE", "https://api.github.com"),
		DockerNetwork:    GetString("DOCKER_NETWORK", "chief"),
		SitesDir:         GetString("PROXY_SITES_DIR", "/sites"),
		CaddyfilePath:    GetString("PROXY_CADDYFILE", "/Caddyfile"),
		CaddyAdminURL:    GetString("PROXY_ADMIN_URL", "http://chief_proxy:2019"),
		ProxyReloadMode:  GetString("PROXY_RELOAD_MODE", "admin"),
		ProxyContainer:   GetString("PROXY_CONTAINER_NAME", "chief_proxy"),
		DeployLeaseTTL:   GetSeconds("DEPLOY_LEASE_TTL_SECONDS", 600),
		DeployLeaseWait:  GetSeconds("DEPLOY_LEASE_WAIT_SECONDS", 5),
		ShutdownTimeout:  GetSeconds("SHUTDOWN_TIMEOUT_SECONDS", 10),
		StreamPingPeriod: GetSeconds("STREAM_PING_SECONDS", 30),
	}
}
