// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main provides the entry point for healctl, the healing
// control plane server. It loads configuration, wires every
// internal/hcp collaborator, starts the deployment-webhook listener,
// and runs the orchestrator until interrupted.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/healctl/internal/buildinfo"
	"github.com/traylinx/healctl/internal/hcp/audit"
	"github.com/traylinx/healctl/internal/hcp/classifier"
	"github.com/traylinx/healctl/internal/hcp/commit"
	"github.com/traylinx/healctl/internal/hcp/confidence"
	"github.com/traylinx/healctl/internal/hcp/identity"
	"github.com/traylinx/healctl/internal/hcp/knowledge"
	"github.com/traylinx/healctl/internal/hcp/metrics"
	"github.com/traylinx/healctl/internal/hcp/orchestrator"
	"github.com/traylinx/healctl/internal/hcp/safety"
	"github.com/traylinx/healctl/internal/hcp/verify"
	"github.com/traylinx/healctl/internal/hcp/webhook"
	"github.com/traylinx/healctl/internal/hcp/worker"
	"github.com/traylinx/healctl/internal/hcp/workspace"
	"github.com/traylinx/healctl/internal/hcpconfig"
	"github.com/traylinx/healctl/internal/logging"
)

// Version, Commit, and BuildDate are overridden via ldflags during
// release builds.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	fmt.Printf("healctl Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Configure File Path")
	flag.Parse()

	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("failed to get working directory: %v", err)
	}

	if err := hcpconfig.LoadDotEnv(filepath.Join(wd, ".env")); err != nil {
		log.WithError(err).Warn("failed to load .env file")
	}

	cfg, err := hcpconfig.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config %s: %v", configPath, err)
	}

	if cfg.Logging.ToFile {
		if err := logging.ConfigureLogOutput(true, cfg.Logging.Dir); err != nil {
			log.WithError(err).Warn("failed to configure file logging, continuing with stdout only")
		}
	}

	if !cfg.Enabled {
		log.Warnf("healing control plane disabled (mode=%s); exiting", cfg.Mode)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg.Storage)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	defer db.Close()

	var kbOpts []knowledge.Option
	var auditOpts []audit.StoreOption
	if cfg.Storage.Driver == "pgx" {
		kbOpts = append(kbOpts, knowledge.WithPostgresPlaceholders())
		auditOpts = append(auditOpts, audit.WithPostgresPlaceholders())
	}

	kbStore := knowledge.New(db, kbOpts...)
	if err := kbStore.Initialize(ctx); err != nil {
		log.Fatalf("failed to initialize knowledge base schema: %v", err)
	}

	auditStore := audit.NewSQLStore(db, auditOpts...)
	if err := auditStore.Initialize(ctx); err != nil {
		log.Fatalf("failed to initialize audit schema: %v", err)
	}

	bus := audit.NewEventBus(256, log.WithField("component", "eventbus"))
	defer bus.Close()
	bus.Subscribe(func(e audit.Event) {
		log.WithFields(log.Fields{
			"kind":      e.Kind,
			"incident":  e.IncidentID,
			"session":   e.SessionID,
			"result":    e.Result,
		}).Info("healing event")
	})

	ws, err := buildWorkspace(ctx, cfg.Workspace, db)
	if err != nil {
		log.Fatalf("failed to build workspace: %v", err)
	}

	commitGateway, err := buildCommitGateway(cfg.Commit, ws)
	if err != nil {
		log.Fatalf("failed to build commit gateway: %v", err)
	}

	scorer := confidence.New(cfg.Confidence.AutoCommitThreshold)
	verifier := verify.New(ws, time.Duration(cfg.Workspace.VerifyTimeoutSec)*time.Second)
	workerAgent := worker.NewHTTPAgent(cfg.Worker.BaseURL, nil)
	classify := classifier.NewDefaultClassifier()
	met := metrics.New(512)

	safetyCfg := safety.DefaultConfig()
	safetyCfg.KillSwitchThreshold = cfg.Safety.KillSwitchThreshold
	safetyCfg.KillSwitchDuration = time.Duration(cfg.Safety.KillSwitchDurationMin) * time.Minute
	safetyCfg.MaxSessionsPerWindow = cfg.Safety.RateLimitMax
	safetyCfg.WindowDuration = time.Duration(cfg.Safety.RateLimitWindowMin) * time.Minute
	safetyCfg.MaxAttemptsPerIncident = cfg.Safety.MaxAttemptsPerIncident
	safetyCfg.Cooldown = time.Duration(cfg.Safety.LockCooldownSec) * time.Second
	safetyEnv := safety.New(safetyCfg)
	safetyEnv.StartSweep(5 * time.Minute)
	defer safetyEnv.StopSweep()

	resolver := identity.New(
		identity.FixedOwner(os.Getenv("HEALCTL_SYSTEM_USER_ID")),
		identity.PersistedOwnerLookup(func(ctx context.Context) (string, error) {
			return "", nil // no persisted-owner store wired; falls through the chain
		}),
	)

	incidents := orchestrator.NewMemoryIncidentRepository()

	orch := orchestrator.New(
		safetyEnv,
		kbStore,
		scorer,
		verifier,
		commitGateway,
		ws,
		workerAgent,
		auditStore,
		incidents,
		resolver,
		orchestrator.WithEventBus(bus),
		orchestrator.WithMetrics(met),
		orchestrator.WithClassifier(classify),
		orchestrator.WithLogger(log.WithField("component", "orchestrator")),
		orchestrator.WithKBAutoApplyThreshold(cfg.Confidence.KBAutoApplyThreshold),
		orchestrator.WithRequireDeployment(cfg.Confidence.RequireDeployment),
	)

	router := gin.New()
	router.Use(gin.Recovery())
	dispatcher := webhook.NewDispatcher(cfg.Webhook.SharedSecretHash, func(report webhook.DeploymentReport) error {
		return orch.HandleDeploymentReport(report)
	}, log.WithField("component", "webhook"))
	dispatcher.Register(router)

	srv := &http.Server{
		Addr:    cfg.Webhook.ListenAddr,
		Handler: router,
	}

	go func() {
		log.Infof("deployment webhook listening on %s", cfg.Webhook.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("webhook server stopped: %v", err)
		}
	}()

	log.Infof("healing control plane running in %s mode", cfg.Mode)
	<-ctx.Done()

	log.Info("shutting down healctl")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("webhook server shutdown did not complete cleanly")
	}
}

// openDatabase opens the configured database/sql driver. The
// knowledge/audit stores work against either sqlite3 (development) or
// pgx's stdlib driver (production).
func openDatabase(cfg hcpconfig.StorageConfig) (*sql.DB, error) {
	driverName := "sqlite3"
	if cfg.Driver == "pgx" {
		driverName = "pgx"
	}
	dsn := cfg.DSN
	if dsn == "" && driverName == "sqlite3" {
		dsn = "healctl.db"
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driverName, err)
	}
	if driverName == "sqlite3" {
		// A single connection avoids sqlite's write-lock contention.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping %s database: %w", driverName, err)
	}
	return db, nil
}

func buildWorkspace(ctx context.Context, cfg hcpconfig.WorkspaceConfig, db *sql.DB) (*workspace.LocalWorkspace, error) {
	root := cfg.Root
	if root == "" {
		root = "."
	}
	var opts []workspace.Option
	if cfg.TypeCheckCmd != "" {
		opts = append(opts, workspace.WithTypeCheckCommand([]string{"sh", "-c", cfg.TypeCheckCmd}))
	}
	switch cfg.SnapshotBackend {
	case "minio":
		endpoint := cfg.SnapshotEndpoint
		if endpoint == "" {
			endpoint = "localhost:9000"
		}
		client, err := minio.New(endpoint, &minio.Options{
			Creds: credentials.NewEnvMinio(),
		})
		if err != nil {
			return nil, fmt.Errorf("build minio snapshot client: %w", err)
		}
		opts = append(opts, workspace.WithDurableBackup(workspace.NewMinioSnapshotter(client, cfg.SnapshotBucket, "")))
	case "sqlite":
		snap := workspace.NewSQLSnapshotter(db, "")
		if err := snap.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("initialize sqlite snapshot store: %w", err)
		}
		opts = append(opts, workspace.WithDurableBackup(snap))
	}
	return workspace.New(root, opts...), nil
}

func buildCommitGateway(cfg hcpconfig.CommitConfig, ws *workspace.LocalWorkspace) (commit.CommitGateway, error) {
	gitGW, err := commit.NewGitGateway(ws.Root,
		commit.WithAuthor(commit.AuthorIdentity{Name: "healctl", Email: "healctl@localhost"}),
		commit.WithBasicAuth(os.Getenv("HEALCTL_GIT_USERNAME"), os.Getenv("HEALCTL_GIT_TOKEN")),
		commit.WithRemoteName(cfg.RemoteName),
	)
	if err != nil {
		return nil, fmt.Errorf("open git repository at %s: %w", ws.Root, err)
	}
	if cfg.Backend != "forge" {
		return gitGW, nil
	}
	return commit.NewForgeGateway(gitGW, &http.Client{Timeout: 30 * time.Second}, cfg.ForgeAPI, cfg.RepoSlug, os.Getenv("HEALCTL_FORGE_TOKEN")), nil
}
