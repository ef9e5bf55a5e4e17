package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/etnamonitor/etna-archive/internal/archive"
	"github.com/etnamonitor/etna-archive/internal/config"
	"github.com/etnamonitor/etna-archive/internal/database"
	"github.com/etnamonitor/etna-archive/internal/handlers"
	httpserver "github.com/etnamonitor/etna-archive/internal/http"
	"github.com/etnamonitor/etna-archive/internal/poller"
	"github.com/etnamonitor/etna-archive/internal/storage"
	"github.com/etnamonitor/etna-archive/internal/upstream"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg := config.Load()

	db, err := database.NewPostgresDB(logger, database.PostgresConfig{
		User:     cfg.PostgresUser,
		Password: cfg.PostgresPassword,
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
		DBName:   cfg.PostgresDatabase,
		SSLMode:  cfg.PostgresSSLMode,
	})
	if err != nil {
		logger.WithError(err).Fatal("Database initialization failed")
	}

	manager := archive.NewManager(logger, archive.Config{
		BasePath:      cfg.ArchiveBasePath,
		RetentionDays: cfg.ArchiveRetentionDays,
	})

	client := upstream.NewClient(logger, cfg)

	var mirror storage.Mirror
	if cfg.S3Endpoint != "" {
		mirror = storage.NewS3Mirror(cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := poller.New(logger, cfg, manager, client, db, mirror)
	go p.Start(ctx)

	handler := handlers.NewArchiveHandler(logger, manager, db)

	r := mux.NewRouter()
	r.Use(handlers.LoggingMiddleware(logger, db))
	r.Use(handlers.NewRateLimiter(cfg).Middleware)
	handlers.RegisterRoutes(r, handler)

	if cfg.TLSEnabled {
		httpserver.StartTLS(logger, r)
	}

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
		<-sigint

		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Server shutdown error")
		}
	}()

	logger.WithField("addr", server.Addr).Info("Starting server")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("Server failed")
	}
}
