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

	"github.com/chiefdeploy/chief/internal/command"
	"github.com/chiefdeploy/chief/internal/docker"
	"github.com/chiefdeploy/chief/internal/events"
	"github.com/chiefdeploy/chief/internal/github"
	"github.com/chiefdeploy/chief/internal/lock"
	"github.com/chiefdeploy/chief/internal/queue"
	"github.com/chiefdeploy/chief/internal/repository/postgres"
	"github.com/chiefdeploy/chief/internal/service/build"
	"github.com/chiefdeploy/chief/internal/service/deploy"
	"github.com/chiefdeploy/chief/internal/service/instance"
	"github.com/chiefdeploy/chief/internal/service/logs"
	"github.com/chiefdeploy/chief/internal/service/notify"
	"github.com/chiefdeploy/chief/internal/service/proxy"
	"github.com/chiefdeploy/chief/internal/worker"
	"github.com/chiefdeploy/chief/internal/workspace"
	"github.com/chiefdeploy/chief/pkg/config"
	"github.com/chiefdeploy/chief/pkg/logger"
)

func main() {
	cfg := config.LoadWorkerConfig()
	log := logger.New("worker", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
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

	// Every pipeline shells out to docker; refuse to start if the daemon
	// is unreachable.
	engine, err := docker.New(cfg.DockerHost)
	if err != nil {
		log.Error("failed to configure docker client", "error", err)
		os.Exit(1)
	}
	defer engine.Close()
	if err := engine.Ping(ctx); err != nil {
		log.Error("docker daemon unreachable", "error", err)
		os.Exit(1)
	}

	workspaces, err := workspace.New(cfg.Workdir)
	if err != nil {
		log.Error("failed to prepare build workdir", "dir", cfg.Workdir, "error", err)
		os.Exit(1)
	}

	reloader, err := proxy.NewReloader(cfg.ProxyReloadMode, cfg.CaddyAdminURL, cfg.CaddyfilePath, cfg.ProxyContainer)
	if err != nil {
		log.Error("failed to configure proxy reloader", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool, cfg.SecretsKey)
	publisher := events.NewPublisher(redisClient, log)
	producer := queue.NewProducer(redisClient)
	gateway := github.NewClient(cfg.GithubAPIBase, log)
	cmdRunner := command.NewRunner(log)
	logSvc := logs.New(repo, publisher, log)
	routes := proxy.NewRoutes(cfg.SitesDir)
	lease := lock.NewDeployLease(redisClient, cfg.DeployLeaseTTL, cfg.DeployLeaseWait)

	buildSvc := build.New(repo, repo, gateway, cmdRunner, workspaces, logSvc, publisher, cfg.AppDomain, log)
	deploySvc := deploy.New(repo, repo, gateway, cmdRunner, routes, reloader, lease, logSvc, publisher, cfg.DockerNetwork, cfg.AppDomain, log)
	notifySvc := notify.New(repo, repo, repo, cfg.NotifyTimeout, cfg.AppDomain, log)
	instanceSvc := instance.New(repo, repo, cmdRunner, publisher, cfg.DockerNetwork, cfg.VolumeRemoveWait, log)

	consumer := queue.NewConsumer(redisClient, log, cfg.QueueConcurrency, cfg.JobMaxAttempts, cfg.JobRetryBase)
	w := worker.New(consumer, producer, buildSvc, deploySvc, notifySvc, instanceSvc, log)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("worker metrics listening", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()

	log.Info("worker starting", "queues", queue.Names, "concurrency", cfg.QueueConcurrency)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics shutdown failed", "error", err)
	}
	log.Info("worker stopped")
}
