package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/avetrin/govault/internal/auth"
	"github.com/avetrin/govault/internal/config"
	"github.com/avetrin/govault/internal/container"
	"github.com/avetrin/govault/internal/event"
	"github.com/avetrin/govault/internal/file"
	"github.com/avetrin/govault/internal/logger"
	"github.com/avetrin/govault/internal/quota"
	"github.com/avetrin/govault/internal/remote"
	"github.com/avetrin/govault/internal/server"
	"github.com/avetrin/govault/internal/storage"
	"github.com/avetrin/govault/internal/upload"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logg, err := logger.Init()
	if err != nil {
		panic("init logger: " + err.Error())
	}
	defer logg.Sync()

	cfg, err := config.Load()
	if err != nil {
		logg.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := storage.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logg.Fatal("connect postgres", zap.Error(err))
	}
	defer dbPool.Close()

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		logg.Fatal("init remote backend", zap.Error(err))
	}

	hub := event.NewHub(logg)

	quotaRepo := quota.NewRepository(dbPool)
	ledger := quota.NewLedger(quotaRepo, cfg.Quota)

	authRepo := auth.NewRepository(dbPool)
	authService := auth.NewService(authRepo, ledger, cfg.Auth)

	containerRepo := container.NewRepository(dbPool)
	containerService := container.NewService(containerRepo, backend, ledger, hub, logg, cfg.Quota.DefaultMemoryBytes)

	fileRepo := file.NewRepository(dbPool)
	fileService := file.NewService(fileRepo, containerService, backend, ledger, hub, logg)
	containerService.SetFilePurger(fileService)

	coordinator := upload.NewCoordinator(backend, fileService, containerService, ledger, hub, logg)

	router := server.NewRouter(server.Dependencies{
		Config:           cfg,
		DB:               dbPool,
		Backend:          backend,
		AuthService:      authService,
		ContainerService: containerService,
		FileService:      fileService,
		Coordinator:      coordinator,
		Ledger:           ledger,
		Hub:              hub,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logg.Info("GoVault API listening",
			zap.String("address", cfg.Server.Address()),
			zap.String("remote_driver", cfg.Remote.Driver))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logg.Info("shutting down gracefully")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logg.Error("shutdown error", zap.Error(err))
	}
}

func newBackend(ctx context.Context, cfg config.Config) (remote.Backend, error) {
	if cfg.Remote.Driver == "minio" {
		client, err := storage.NewMinIOClient(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		return remote.NewCloudObjectBackend(ctx, client, cfg.MinIO.Bucket, cfg.MinIO.Region)
	}
	return remote.NewLocalDiskBackend(cfg.Remote.LocalRoot, cfg.Remote.PublicURL)
}
