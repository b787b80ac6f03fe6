package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/app/migrate"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/dns"
	httpx "github.com/codeblabdev-max/codeb-server-sub015/internal/http"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/lock"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/remote"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/repository/postgres"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/deploy"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/domains"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/envvars"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/ingress"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/release"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/slot"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/ws"
	"github.com/codeblabdev-max/codeb-server-sub015/pkg/config"
	"github.com/codeblabdev-max/codeb-server-sub015/pkg/logger"
)

func main() {
	cfg := config.LoadServerConfig()
	log := logger.New("server", slog.LevelInfo)

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

	repo := postgres.New(pool)

	executor, err := buildExecutor(cfg)
	if err != nil {
		log.Error("failed to configure host executor", "error", err)
		os.Exit(1)
	}

	locker := buildLocker(cfg, log)

	hub := ws.NewHub()

	ingressSvc, err := ingress.New(executor, log, cfg)
	if err != nil {
		log.Error("failed to configure ingress", "error", err)
		os.Exit(1)
	}
	defer ingressSvc.Close()

	mirror := slot.NewMirror(cfg.RegistryMirrorDir)
	slotSvc := slot.New(repo, mirror, log, cfg.GraceWindow)
	envSvc := envvars.New(repo, log, cfg.EnvEncryptionKey)
	deploySvc := deploy.New(repo, repo, slotSvc, envSvc, ingressSvc, executor, locker, hub, log, cfg)
	audit := release.NewAuditLog(cfg.RollbackAuditPath)
	releaseSvc := release.New(slotSvc, repo, ingressSvc, executor, locker, audit, log, cfg)
	dnsClient := dns.NewClient(cfg.DNSAPIBase, cfg.DNSAPIToken)
	domainSvc := domains.New(repo, dnsClient, ingressSvc, slotSvc, net.DefaultResolver, log, cfg)

	router := httpx.NewRouter(log, deploySvc, releaseSvc, slotSvc, domainSvc, envSvc, hub, cfg.JWTSecret, pool.Ping)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

func buildExecutor(cfg config.ServerConfig) (remote.Executor, error) {
	if cfg.RemoteMode == "local" {
		return remote.NewLocalExecutor(), nil
	}
	return remote.NewSSHExecutor(cfg.SSHAddr, cfg.SSHUser, cfg.SSHKeyPath)
}

func buildLocker(cfg config.ServerConfig, log *slog.Logger) lock.Locker {
	if addr := strings.TrimSpace(cfg.LockRedisAddr); addr != "" {
		redisLocker, err := lock.NewRedisLocker(addr, cfg.LockRedisPass, cfg.LockRedisDB, log)
		if err != nil {
			log.Warn("redis locker unavailable, falling back to in-process locks", "error", err)
		} else {
			return redisLocker
		}
	}
	return lock.NewKeyedMutex()
}
