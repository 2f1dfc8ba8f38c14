package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tink/internal/api"
	"tink/internal/auth"
	"tink/internal/blob"
	"tink/internal/config"
	"tink/internal/db"
	"tink/internal/media"
	"tink/internal/mediaurl"
	"tink/internal/models"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		slog.Warn("unknown log level, using info", "level", cfg.Log.Level)
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))

	database, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), time.Minute)
	err = database.Migrate(migrateCtx)
	migrateCancel()
	if err != nil {
		slog.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	slog.Info("database ready", "driver", cfg.Database.Driver)

	store, localStore, urls, err := openBlobStore(cfg)
	if err != nil {
		slog.Error("failed to initialize blob storage", "error", err)
		os.Exit(1)
	}
	slog.Info("blob storage initialized", "backend", cfg.Storage.Backend, "upload_max_bytes", cfg.Storage.UploadMaxBytes)

	credentials := auth.NewCredentialService(
		database,
		auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL),
		auth.NewPasswordHasher(cfg.Auth.BcryptCost),
		auth.CredentialConfig{
			RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
			QueryTimeout:    cfg.Database.QueryTimeout,
		},
	)

	handle := database.Handle()
	mediaService := media.NewService(database, store, urls,
		map[models.EntityKind]media.EntityChecker{
			models.EntityProject:      db.NewProjectRepository(handle),
			models.EntityOrganization: db.NewOrganizationRepository(handle),
		},
		media.Config{
			MaxUploadBytes: cfg.Storage.UploadMaxBytes,
			QueryTimeout:   cfg.Database.QueryTimeout,
			StorageTimeout: cfg.Storage.Timeout,
		},
	)

	server, err := api.NewServer(cfg, api.Dependencies{
		Database:    database,
		Credentials: credentials,
		Media:       mediaService,
		LocalStore:  localStore,
	})
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	addr := cfg.Addr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", addr, "base_url", cfg.Server.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// openBlobStore returns the configured store and the URL builder for its
// files. The local store is also returned so the router can serve it.
func openBlobStore(cfg *config.Config) (blob.Store, *blob.LocalStore, *mediaurl.Builder, error) {
	switch cfg.Storage.Backend {
	case config.BackendS3:
		s3cfg := cfg.Storage.S3
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Storage.Timeout)
		defer cancel()

		store, err := blob.NewS3Store(ctx, blob.S3Options{
			Region:         s3cfg.Region,
			Bucket:         s3cfg.Bucket,
			Endpoint:       s3cfg.Endpoint,
			AccessKey:      s3cfg.AccessKey,
			SecretKey:      s3cfg.SecretKey,
			Prefix:         s3cfg.Prefix,
			MaxUploadBytes: cfg.Storage.UploadMaxBytes,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("creating s3 store: %w", err)
		}

		baseURL := s3cfg.PublicBaseURL
		if baseURL == "" {
			baseURL = strings.TrimRight(cfg.Server.BaseURL, "/")
		}
		prefix := "/"
		if p := strings.Trim(s3cfg.Prefix, "/"); p != "" {
			prefix = "/" + p + "/"
		}
		return store, nil, mediaurl.New(baseURL, prefix), nil
	default:
		store, err := blob.NewLocalStore(cfg.Storage.Root, cfg.Storage.UploadMaxBytes)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("creating local store: %w", err)
		}
		return store, store, mediaurl.New(cfg.Server.BaseURL, cfg.Storage.PublicPath), nil
	}
}
