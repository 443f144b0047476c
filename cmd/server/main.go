package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/pflag"

	"kafer/internal/adapters/archive"
	"kafer/internal/adapters/email"
	web "kafer/internal/adapters/http"
	"kafer/internal/adapters/http/middleware"
	"kafer/internal/adapters/http/perf"
	"kafer/internal/adapters/storage"
	backupStore "kafer/internal/adapters/storage/backup"
	outboxStore "kafer/internal/adapters/storage/outbox"
	sessionStore "kafer/internal/adapters/storage/session"
	"kafer/internal/application/orchestrators"
	"kafer/internal/app"
	"kafer/internal/config"
	"kafer/internal/logging"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	configFile := pflag.StringP("config", "c", "", "path to the YAML config file")
	showVersion := pflag.Bool("version", false, "print the version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	closer := logging.Init(cfg.Log)
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server_failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	settings, err := app.Settings(cfg)
	if err != nil {
		return err
	}
	cd, err := app.Codec(cfg)
	if err != nil {
		return fmt.Errorf("build codec: %w", err)
	}

	// Performance instrumentation: one collector for requests, queries and sheet calls
	collector := perf.NewCollector(perf.DefaultRingSize)
	ledger := app.Ledger(cfg, cd, &http.Client{
		Timeout:   cfg.Sheet.Timeout,
		Transport: &perf.Transport{Collector: collector},
	})

	db, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	timedDB := storage.NewTimedDB(db, collector)

	sessions := sessionStore.NewSQLiteStore(timedDB, sessionStore.DefaultTTL)
	sessions.Start(ctx, 10*time.Minute)

	if cfg.Backup.Bucket != "" {
		client, err := archive.NewS3Client(ctx, cfg.Backup.Region)
		if err != nil {
			return fmt.Errorf("build s3 client: %w", err)
		}
		backer := &archive.Backer{
			Source:   ledger,
			Uploader: client,
			Runs:     backupStore.NewSQLiteStore(timedDB),
			Bucket:   cfg.Backup.Bucket,
			Prefix:   cfg.Backup.Prefix,
		}
		backer.Start(ctx, cfg.Backup.Interval)
		slog.Info("backup_event", "event", "scheduled", "bucket", cfg.Backup.Bucket, "interval", cfg.Backup.Interval.String())
	}

	mailer := email.New(cfg.Email.ResendKey, cfg.Email.From)
	if cfg.Email.ResendKey == "" && cfg.IsProduction() {
		slog.Warn("email_disabled", "reason", "RESEND_API_KEY is not set")
	}
	var retries *orchestrators.OutboxProcessor
	if cfg.Email.RetryInterval > 0 {
		retries = orchestrators.NewOutboxProcessor(outboxStore.NewSQLiteStore(timedDB), mailer)
		retries.Start(ctx, cfg.Email.RetryInterval)
	}

	csrfKey, err := loadCSRFKey(cfg)
	if err != nil {
		return err
	}

	handler, err := web.NewMux(web.Deps{
		Ledger:         ledger,
		Sessions:       sessions,
		Settings:       settings,
		AdminID:        cfg.Ledger.AdminID,
		Mailer:         mailer,
		Outbox:         retries,
		Collector:      collector,
		Limiter:        middleware.NewRateLimiter(ctx, 10, time.Second),
		ConfirmTimeout: cfg.Sheet.PollTimeout,
		CSRFKey:        csrfKey,
		Secure:         cfg.IsProduction(),
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Sheet.PollTimeout + cfg.Sheet.Timeout + 10*time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server_starting", "version", version, "addr", cfg.Server.Addr, "env", cfg.Server.Env, "write_scheme", cd.WriteScheme())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("server_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// loadCSRFKey decodes server.csrf_key (64 hex characters). In production the
// key is required; elsewhere a random key is generated per startup.
func loadCSRFKey(cfg *config.Config) ([]byte, error) {
	if cfg.Server.CSRFKey != "" {
		key, err := hex.DecodeString(cfg.Server.CSRFKey)
		if err != nil || len(key) != 32 {
			return nil, errors.New("server.csrf_key must be 64 hex characters (32 bytes)")
		}
		return key, nil
	}
	if cfg.IsProduction() {
		return nil, errors.New("server.csrf_key is required in production")
	}
	token, err := sessionStore.NewToken()
	if err != nil {
		return nil, err
	}
	slog.Warn("csrf_key_random", "reason", "server.csrf_key is not set")
	return hex.DecodeString(token)
}
