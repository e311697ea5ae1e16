package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vbonduro/homewiz/internal/auth"
	"github.com/vbonduro/homewiz/internal/blobstore"
	"github.com/vbonduro/homewiz/internal/blobstore/local"
	s3store "github.com/vbonduro/homewiz/internal/blobstore/s3"
	"github.com/vbonduro/homewiz/internal/cache"
	"github.com/vbonduro/homewiz/internal/config"
	"github.com/vbonduro/homewiz/internal/db"
	"github.com/vbonduro/homewiz/internal/ident"
	"github.com/vbonduro/homewiz/internal/logging"
	"github.com/vbonduro/homewiz/internal/service"
	"github.com/vbonduro/homewiz/internal/store"
	"github.com/vbonduro/homewiz/internal/upload"
	"github.com/vbonduro/homewiz/internal/vision"
	claudevision "github.com/vbonduro/homewiz/internal/vision/claude"
	"github.com/vbonduro/homewiz/internal/web"
)

func main() {
	cfg := config.Load()

	logger, cleanup, err := logging.New(logging.Options{
		Level:     cfg.LogLevel,
		File:      cfg.LogFile,
		SentryDSN: cfg.SentryDSN,
	})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("homewiz exited with error", "error", err)
		cleanup()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	driver, dsn := db.DriverSQLite, db.SQLiteDSN(cfg.DBPath)
	if cfg.UsePostgres() {
		driver, dsn = db.DriverPostgres, cfg.DBConnection
	}
	logger.Info("opening database", "driver", driver)
	database, err := db.Open(driver, dsn)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	blobs, err := newBlobStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	c, err := newCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("failed to close cache", "error", err)
		}
	}()

	authn, err := newAuthenticator(cfg, logger)
	if err != nil {
		return err
	}

	svc := service.NewPropertyService(
		store.NewEntityStore(database),
		store.NewBuildingStore(database),
		store.NewRoomStore(database),
		store.NewMediaStore(database),
		blobs,
		ident.NewAllocator(),
		newCategorizer(cfg, logger),
		c,
		logger,
		upload.WithConcurrency(cfg.UploadConcurrency),
	)

	server := web.NewServer(svc, authn, logger, web.Options{
		CORSOrigin:     cfg.CORSOrigin,
		MaxUploadBytes: cfg.MaxUploadBytes,
		ServeMedia:     cfg.BlobBackend != "s3",
	})
	httpServer := server.HTTPServer(cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newBlobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blobstore.BlobStore, error) {
	if cfg.BlobBackend == "s3" {
		logger.Info("using S3 blob store", "bucket", cfg.S3Bucket)
		return s3store.New(ctx, s3store.Config{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3PathStyle,
			PublicURL:    cfg.S3PublicURL,
		})
	}
	logger.Info("using local blob store", "path", cfg.BlobLocalPath)
	return local.New(cfg.BlobLocalPath, cfg.PublicURL)
}

func newCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.Cache, error) {
	if cfg.CacheBackend == "redis" {
		logger.Info("using redis cache", "addr", cfg.RedisAddr)
		return cache.NewRedis(ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		}, cfg.CacheTTL, logger)
	}
	return cache.NewMemory(cfg.CacheTTL), nil
}

func newAuthenticator(cfg *config.Config, logger *slog.Logger) (auth.Authenticator, error) {
	if cfg.AuthMode == "disabled" {
		logger.Warn("authentication disabled, every request acts as admin")
		return auth.Static{Session: auth.Session{UserID: "local", Role: auth.RoleAdmin}}, nil
	}
	return auth.NewClerkVerifier(cfg.ClerkJWTPublicKey, cfg.ClerkIssuer)
}

func newCategorizer(cfg *config.Config, logger *slog.Logger) vision.Categorizer {
	switch cfg.VisionBackend {
	case "claude":
		if cfg.ClaudeAPIKey == "" {
			logger.Error("CLAUDE_API_KEY is required when VISION_BACKEND=claude")
			return nil
		}
		logger.Info("using Claude photo categorizer", "model", cfg.ClaudeModel)
		return claudevision.NewCategorizer(cfg.ClaudeAPIKey, cfg.ClaudeModel)
	default:
		logger.Info("photo categorizer disabled, uncategorized building photos are filed under outside")
		return nil
	}
}
