package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/chiefdeploy/chief/internal/app/migrate"
	"github.com/chiefdeploy/chief/internal/command"
	"github.com/chiefdeploy/chief/internal/events"
	"github.com/chiefdeploy/chief/internal/github"
	httpx "github.com/chiefdeploy/chief/internal/http"
	"github.com/chiefdeploy/chief/internal/lock"
	"github.com/chiefdeploy/chief/internal/queue"
	"github.com/chiefdeploy/chief/internal/repository/postgres"
	"github.com/chiefdeploy/chief/internal/service/deploy"
	"github.com/chiefdeploy/chief/internal/service/instance"
	"github.com/chiefdeploy/chief/internal/service/logs"
	"github.com/chiefdeploy/chief/internal/service/proxy"
	"github.com/chiefdeploy/chief/internal/ws"
	"github.com/chiefdeploy/chief/pkg/config"
	"github.com/chiefdeploy/chief/pkg/logger"
)

// volumeRemoveWait only matters on the worker's removal path; the
// controller constructs the instance service solely to register instances.
const volumeRemoveWait = 10 * time.Second

func main() {
	cfg := config.LoadControllerConfig()
	log := logger.New("controller", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Error("invalid redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("redis ping failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool, cfg.SecretsKey)
	hub := ws.NewHub()
	publisher := events.NewPublisher(redisClient, log)
	producer := queue.NewProducer(redisClient)
	gateway := github.NewClient(cfg.GithubAPIBase, log)
	logSvc := logs.New(repo, publisher, log)
	cmdRunner := command.NewRunner(log)

	reloader, err := proxy.NewReloader(cfg.ProxyReloadMode, cfg.CaddyAdminURL, cfg.CaddyfilePath, cfg.ProxyContainer)
	if err != nil {
		log.Error("failed to configure proxy reloader", "error", err)
		os.Exit(1)
	}
	routes := proxy.NewRoutes(cfg.SitesDir)
	lease := lock.NewDeployLease(redisClient, cfg.DeployLeaseTTL, cfg.DeployLeaseWait)
	deploySvc := deploy.New(repo, repo, gateway, cmdRunner, routes, reloader, lease, logSvc, publisher, cfg.DockerNetwork, cfg.AppDomain, log)
	provisioner := instance.New(repo, repo, cmdRunner, publisher, cfg.DockerNetwork, volumeRemoveWait, log)

	subscriber := events.NewSubscriber(redisClient, hub, log)
	go func() {
		if err := subscriber.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("event subscriber stopped", "error", err)
		}
	}()

	router := httpx.NewRouter(httpx.Deps{
		Logger:        log,
		Organizations: repo,
		Projects:      repo,
		Builds:        repo,
		Sources:       repo,
		Endpoints:     repo,
		Instances:     repo,
		Provisioner:   provisioner,
		Logs:          logSvc,
		Gateway:       gateway,
		Producer:      producer,
		Deployments:   deploySvc,
		Hub:           hub,
		DBHealth:      pool.Ping,
		StreamPing:    cfg.StreamPingPeriod,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", router)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("controller starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("controller stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
