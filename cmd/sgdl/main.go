package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/italolelis/sgdl/internal/audit"
	"github.com/italolelis/sgdl/internal/config"
	"github.com/italolelis/sgdl/internal/downloader"
	"github.com/italolelis/sgdl/internal/http/rest"
	"github.com/italolelis/sgdl/internal/logctx"
	"github.com/italolelis/sgdl/internal/media"
	"github.com/italolelis/sgdl/internal/notifier"
	"github.com/italolelis/sgdl/internal/progress"
	"github.com/italolelis/sgdl/internal/storage"
	"github.com/italolelis/sgdl/internal/storage/sqlite"
	"github.com/italolelis/sgdl/internal/telemetry"
	"github.com/italolelis/sgdl/internal/transfer"
	"github.com/italolelis/sgdl/internal/verify"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	version       = "1.0.0"
	notifyTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := logctx.NewLogger(os.Stdout, cfg.SlogLevel(), cfg.Telemetry.ServiceName)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("sgdl starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(ctx, dbPath(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	library := sqlite.NewInstrumentedLibraryRepository(database, tel)

	// =========================================================================
	// Start Download Manager
	client := transfer.NewHTTPClient(transfer.ClientOptions{Timeout: cfg.HTTPTimeout})
	fetcher := transfer.NewInstrumentedFetcher(transfer.NewHTTPFetcher(client, cfg.UserAgent), tel)
	verifier := verify.New(tel)

	manager := downloader.New(fetcher, library, verifier, tel, downloader.Options{
		MaxParallel:         cfg.MaxParallel,
		ChunkSize:           int(cfg.ChunkSize),
		RateLimit:           int64(cfg.RateLimit),
		ProgressQueueSize:   cfg.ProgressQueueSize,
		ProgressSendTimeout: cfg.ProgressSendTimeout,
	})
	manager.Start(ctx)

	defer func() {
		if err := manager.Close(); err != nil {
			logger.Error("failed to close download manager", "err", err)
		}
	}()

	// =========================================================================
	// Start Notification
	notif := buildNotifier(cfg)
	go forwardEvents(ctx, manager.Events(), notif)

	// =========================================================================
	// Start Library Audit
	go runAudit(ctx, library, verifier, notif, cfg.AuditInterval)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	resolver := &media.Resolver{
		DataDir:           cfg.DataDir,
		SoundgasmMediaURL: cfg.SoundgasmMediaURL,
		KemonoURL:         cfg.KemonoURL,
		CoomerURL:         cfg.CoomerURL,
	}

	server := setupServer(ctx, cfg, manager, library, resolver, tel)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for download requests...",
		"data_dir", cfg.DataDir,
		"max_parallel", cfg.MaxParallel,
		"chunk_size", cfg.ChunkSize.String(),
		"audit_interval", cfg.AuditInterval.String(),
	)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return ctx.Err()
	}
}

func dbPath(cfg *config.Config) string {
	if filepath.IsAbs(cfg.DBPath) {
		return cfg.DBPath
	}

	return filepath.Join(cfg.DataDir, cfg.DBPath)
}

func buildNotifier(cfg *config.Config) notifier.Notifier {
	if cfg.DiscordWebhookURL == "" {
		return nil
	}

	client := &http.Client{
		Timeout:   notifyTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	return notifier.NewDiscordNotifier(cfg.DiscordWebhookURL, client)
}

// forwardEvents logs terminal download events and relays them to the notifier. It returns
// when the manager closes its event stream.
func forwardEvents(ctx context.Context, events <-chan downloader.Event, notif notifier.Notifier) {
	logger := logctx.LoggerFromContext(ctx)

	for ev := range events {
		logger.Info("download finished",
			"pointer_id", ev.Pointer.ID,
			"state", ev.State,
			"skipped", ev.Skipped,
			"err", ev.Err,
		)

		var msg string

		switch ev.State {
		case progress.StateCompleted:
			if ev.Skipped {
				continue
			}

			msg = fmt.Sprintf("✅ Download finished: %s (%s)", ev.Pointer.ID, humanize.IBytes(uint64(ev.ContentLength)))
		case progress.StateFailed:
			msg = fmt.Sprintf("❌ Download failed: %s: %v", ev.Pointer.ID, ev.Err)
		default:
			continue
		}

		notify(ctx, notif, msg)
	}
}

func runAudit(ctx context.Context, store storage.LibraryReadRepository, verifier *verify.Verifier, notif notifier.Notifier, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	if interval <= 0 {
		logger.Info("library audit disabled")

		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("audit goroutine shutting down.")

			return
		case <-ticker.C:
			report, err := audit.VerifyLibrary(ctx, store, verifier)
			if err != nil {
				logger.Error("failed to audit library", "err", err)

				continue
			}

			if len(report.Findings) > 0 {
				notify(ctx, notif, fmt.Sprintf("⚠️ Library audit: %d of %d files failed verification", len(report.Findings), report.Checked))
			}
		}
	}
}

func notify(ctx context.Context, notif notifier.Notifier, msg string) {
	if notif == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := notif.Notify(ctx, msg); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to send notification", "err", err)
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	manager *downloader.Manager,
	library storage.LibraryStore,
	resolver *media.Resolver,
	tel *telemetry.Telemetry,
) *http.Server {
	handler := rest.NewDownloadsHandler(cfg.API.Username, cfg.API.Password, manager, library, resolver, tel)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "sgdl"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
