package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fl1ckyexe/ftp-server/internal/adminapi"
	"github.com/fl1ckyexe/ftp-server/internal/auth"
	"github.com/fl1ckyexe/ftp-server/internal/connlimit"
	"github.com/fl1ckyexe/ftp-server/internal/db"
	"github.com/fl1ckyexe/ftp-server/internal/ftp"
	"github.com/fl1ckyexe/ftp-server/internal/logbuf"
	"github.com/fl1ckyexe/ftp-server/internal/logger"
	"github.com/fl1ckyexe/ftp-server/internal/perm"
	"github.com/fl1ckyexe/ftp-server/internal/ratelimiter"
	"github.com/fl1ckyexe/ftp-server/internal/repo"
	"github.com/fl1ckyexe/ftp-server/internal/stats"
	"github.com/fl1ckyexe/ftp-server/internal/vfs"
	"github.com/fl1ckyexe/ftp-server/pkg/config"
)

// logRingSize bounds the in-memory log buffer served by the LOGS
// command and the admin API.
const logRingSize = 2000

func main() {
	configPath := flag.String("config", "", "Path to config file")
	port := flag.Int("port", 0, "FTP control port (overrides config)")
	root := flag.String("root", "", "Storage root directory (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *root != "" {
		cfg.Storage.Root = *root
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger.SetLevel(cfg.Logging.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	roots := perm.Roots{
		UsersRoot:  filepath.Join(cfg.Storage.Root, "users"),
		SharedRoot: filepath.Join(cfg.Storage.Root, "shared"),
	}
	for _, dir := range []string{roots.UsersRoot, roots.SharedRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Failed to create %s: %v", dir, err)
		}
	}
	logger.Info("Storage root: %s", cfg.Storage.Root)

	database, err := db.Open(ctx, cfg.DatabaseFile())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()
	logger.Info("Database: %s", cfg.DatabaseFile())

	users := repo.NewUsers(database)
	perms := repo.NewPermissions(database)
	folders := repo.NewFolders(database)
	shares := repo.NewSharedFolders(database)
	settingsRepo := repo.NewSettings(database)
	statsRepo := repo.NewStats(database)

	// Persisted limits override the config startup values.
	settings, err := settingsRepo.Get(ctx)
	if err != nil {
		log.Fatalf("Failed to read server settings: %v", err)
	}
	maxConns := cfg.Limits.MaxConnections
	if settings.GlobalMaxConnections > 0 {
		maxConns = settings.GlobalMaxConnections
	}
	uploadLimit := cfg.Limits.UploadBytesPerSec
	if settings.GlobalUploadLimit > 0 {
		uploadLimit = settings.GlobalUploadLimit
	}
	downloadLimit := cfg.Limits.DownloadBytesPerSec
	if settings.GlobalDownloadLimit > 0 {
		downloadLimit = settings.GlobalDownloadLimit
	}

	connections := connlimit.New(maxConns)
	globalUpload := ratelimiter.New(uploadLimit)
	globalDownload := ratelimiter.New(downloadLimit)
	logs := logbuf.New(logRingSize)
	registry := ftp.NewRegistry()

	services := &ftp.Services{
		Auth:           auth.NewService(users, perms),
		Checker:        perm.NewChecker(roots, perms, folders, shares),
		Resolver:       vfs.NewResolver(roots, shares),
		Users:          users,
		Shares:         shares,
		Stats:          stats.NewSink(statsRepo),
		Connections:    connections,
		GlobalUpload:   globalUpload,
		GlobalDownload: globalDownload,
		Roots:          roots,
		Logs:           logs,
	}

	logger.Info("Server configuration:")
	logger.Info("  FTP port: %d", cfg.Server.Port)
	logger.Info("  Max connections: %d", maxConns)
	logger.Info("  Upload limit: %d bytes/s", uploadLimit)
	logger.Info("  Download limit: %d bytes/s", downloadLimit)
	logger.Info("  Shutdown timeout: %v", cfg.Server.ShutdownTimeout)

	var admin *adminapi.Server
	if cfg.Admin.Enabled {
		admin = &adminapi.Server{
			Port:           cfg.Admin.Port,
			Users:          users,
			Perms:          perms,
			Folders:        folders,
			Shares:         shares,
			Settings:       settingsRepo,
			Stats:          statsRepo,
			Connections:    connections,
			GlobalUpload:   globalUpload,
			GlobalDownload: globalDownload,
			Sessions:       registry,
			Logs:           logs,
		}
		if err := admin.EnsureToken(ctx); err != nil {
			log.Fatalf("Failed to initialize admin token: %v", err)
		}
		go func() {
			if err := admin.ListenAndServe(); err != nil {
				logger.Warn("Admin API stopped: %v", err)
			}
		}()
	}

	srv := ftp.NewServer(cfg.Server.Port, services, registry)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running on port %d. Press Ctrl+C to stop.", cfg.Server.Port)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if admin != nil {
			if err := admin.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Admin API shutdown error: %v", err)
			}
		}

		select {
		case err := <-serverDone:
			if err != nil {
				logger.Error("Server shutdown error: %v", err)
				os.Exit(1)
			}
		case <-time.After(cfg.Server.ShutdownTimeout):
			logger.Error("Shutdown timed out")
			os.Exit(1)
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error: %v", err)
			os.Exit(1)
		}
		logger.Info("Server stopped")
	}
}
