package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"gcli2api-go/internal/config"
	"gcli2api-go/internal/credential"
	"gcli2api-go/internal/events"
	"gcli2api-go/internal/imagehost"
	"gcli2api-go/internal/logging"
	"gcli2api-go/internal/models"
	tracing "gcli2api-go/internal/monitoring/tracing"
	"gcli2api-go/internal/oauth"
	srv "gcli2api-go/internal/server"
	store "gcli2api-go/internal/storage"
	"gcli2api-go/internal/upstream/gemini"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	debug := flag.Bool("debug", false, "enable debug mode")
	flag.Parse()

	cfg := config.LoadWithFile(*configPath)
	if *debug {
		cfg.Server.Debug = true
	}
	if err := cfg.ValidateAndExpandPaths(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing")
	} else {
		defer func() { _ = shutdownTracing(context.Background()) }()
	}

	backend, err := buildStorageBackend(ctx, cfg)
	if err != nil {
		log.WithError(err).Warn("primary storage backend failed, falling back to file backend")
		cfg.Storage.Backend = "file"
		backend, err = buildStorageBackend(ctx, cfg)
		if err != nil {
			log.WithError(err).Fatal("file storage backend fallback failed")
		}
	}
	defer func() { _ = backend.Close() }()

	hub := events.NewHub()
	if cfg.Server.Debug {
		hub.Subscribe(events.TopicCredentialChanged, func(_ context.Context, evt events.Event) {
			log.WithField("topic", evt.Topic).Debugf("credential change: %v", evt.Payload)
		})
	}

	var refresher credential.TokenRefresher
	if cfg.OAuth.ClientID != "" && cfg.OAuth.ClientSecret != "" {
		refresher = oauth.NewClient(cfg.OAuth.ClientID, cfg.OAuth.ClientSecret)
	} else {
		log.Warn("OAuth client credentials not configured; token refresh is unavailable")
	}

	normalMgr := credential.NewManager(backend, "", cfg.Security.AuthDir, refresher, hub)
	antigravityMgr := credential.NewManager(backend, "antigravity", cfg.Security.AuthDir, refresher, hub)

	for _, mgr := range []*credential.Manager{normalMgr, antigravityMgr} {
		mgr.Pool.MaxErrorHistory = cfg.Credential.MaxErrorHistory
		mgr.Pool.AutoDisableWindow = cfg.Credential.AutoDisableWindow
		mgr.Pool.CooldownSeconds = cfg.Credential.Cooldown429Seconds
	}

	if err := normalMgr.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start normal credential manager")
	}
	if err := antigravityMgr.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start antigravity credential manager")
	}

	backendClient := gemini.NewClient(cfg.Backend.BaseURL, cfg.Backend.UnaryTimeout)
	backendClient.MaxRetries = cfg.Backend.MaxRetries

	imageClient := imagehost.NewClient(imagehost.Config{
		Enabled:   cfg.ImageHost.Enabled,
		UploadURL: cfg.ImageHost.UploadURL,
		APIKey:    cfg.ImageHost.APIKey,
	})

	deps := &srv.Deps{
		Config:       cfg,
		Backend:      backendClient,
		ImageHost:    imageClient,
		Hub:          hub,
		SuffixConfig: models.DefaultSuffixConfig(),
		Normal:       srv.Namespace{Name: "", Manager: normalMgr},
		Antigravity:  srv.Namespace{Name: "antigravity", Manager: antigravityMgr},
	}

	engine := srv.NewEngine(deps)
	httpServer := &http.Server{Addr: ":" + cfg.Server.Port, Handler: engine}

	go func() {
		log.Infof("gcli2api-go listening on :%s", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
}

func buildStorageBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	var backend store.Backend
	var err error

	switch cfg.InferredBackend() {
	case "postgres":
		backend, err = store.NewPostgresBackend(cfg.Storage.PostgresDSN)
	case "redis":
		opts, parseErr := redis.ParseURL(cfg.Storage.RedisURL)
		if parseErr != nil {
			return nil, fmt.Errorf("parse redis url: %w", parseErr)
		}
		backend = store.NewRedisBackend(redis.NewClient(opts))
	default:
		backend = store.NewFileBackend(cfg.Storage.FileDir)
	}
	if err != nil {
		return nil, err
	}
	if err := backend.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize storage backend: %w", err)
	}
	return backend, nil
}
