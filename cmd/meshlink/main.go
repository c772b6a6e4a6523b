// meshlink keeps a control channel session to a mesh backend open and bridges
// it to stdio: stdin lines are sent as text frames, inbound frames are
// written to stdout.
// Usage: meshlink -config configs/meshlink.example.yaml
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
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rickgao/meshlink/internal/api"
	"github.com/rickgao/meshlink/internal/config"
	"github.com/rickgao/meshlink/internal/connection"
	"github.com/rickgao/meshlink/internal/database"
	"github.com/rickgao/meshlink/internal/journal"
	"github.com/rickgao/meshlink/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/meshlink.example.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	exitOnEOF := flag.Bool("exit-on-eof", false, "shut down when stdin is closed")
	flag.Parse()

	// Logs go to stderr; stdout carries frames
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := run(*configPath, *exitOnEOF, logger); err != nil {
		logger.Error("meshlink failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, exitOnEOF bool, logger *slog.Logger) error {
	logger.Info("starting meshlink",
		"version", version.String(),
		"config", configPath,
	)

	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionID := uuid.New()
	mc := cfg.ManagerConfig()
	mc.OnMessage = func(msg connection.Message) {
		if err := writeFrame(os.Stdout, msg); err != nil {
			logger.Warn("failed to write frame", "error", err)
		}
	}
	mc.OnStateChange = func(s connection.State) {
		logger.Info("session state", "state", s)
	}

	// Credential probe
	var prober connection.Prober
	if mc.RefreshTokenBeforeReconnect {
		opts := []api.ClientOption{
			api.WithLogger(logger),
			api.WithTimeout(cfg.API.Timeout),
			api.WithRateLimit(rate.Limit(cfg.API.RateLimit), cfg.API.RateBurst),
		}
		if src := cfg.TokenSource(); src != nil {
			opts = append(opts, api.WithTokenSource(src))
		}
		apiClient := api.NewClient(cfg.API.BaseURL, opts...)
		prober = api.SessionProber(apiClient)
	}

	// Optional journal
	var jw *journal.Writer
	if cfg.Journal.Enabled {
		logger.Info("connecting to journal database",
			"host", cfg.Journal.Database.Host,
			"port", cfg.Journal.Database.Port,
			"database", cfg.Journal.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Journal.Database)
		if err != nil {
			return fmt.Errorf("connect journal database: %w", err)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		jw = journal.NewWriter(journal.WriterConfig{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, logger)
		if err := jw.Start(ctx); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := jw.Stop(stopCtx); err != nil {
				logger.Warn("journal stop failed", "error", err)
			}
		}()

		journal.Attach(&mc, jw, sessionID)
	}

	manager := connection.NewManager(mc, connection.Deps{
		Dialer:    connection.NewDialer(cfg.TransportConfig(), logger),
		Prober:    prober,
		Logger:    logger,
		SessionID: sessionID,
	})
	defer manager.Dispose()

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
		Handler:           createHealthHandler(manager, jw),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	// Stdin reads cannot be interrupted, so the pump runs outside the group
	go func() {
		if err := pipeInput(gctx, os.Stdin, manager.Send, logger); err != nil {
			logger.Warn("stdin pump stopped", "error", err)
		}
		if exitOnEOF {
			logger.Info("stdin closed")
			stop()
		}
	}()

	manager.Connect()
	logger.Info("meshlink running",
		"session_id", sessionID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("meshlink stopped")
	return nil
}
