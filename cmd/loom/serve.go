package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotcommander/loom/internal/config"
	"github.com/dotcommander/loom/internal/core"
	"github.com/dotcommander/loom/internal/gen"
	"github.com/dotcommander/loom/internal/graph"
	"github.com/dotcommander/loom/internal/publish"
	"github.com/dotcommander/loom/internal/runner"
	"github.com/dotcommander/loom/internal/server"
	"github.com/dotcommander/loom/internal/session"
	"github.com/dotcommander/loom/internal/stage"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the story workflow service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions, err := session.New(cfg.Session.Path)
	if err != nil {
		return err
	}
	defer sessions.Close()

	store, err := graph.NewMongoStore(ctx, cfg.Graph.URI, cfg.Graph.Database)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("closing graph store", "error", err)
		}
	}()

	generator, err := gen.New(ctx, gen.Config{
		APIKey:            cfg.Generation.APIKey,
		Model:             cfg.Generation.Model,
		RequestsPerMinute: cfg.Generation.RequestsPerMinute,
		Timeout:           cfg.Generation.Timeout,
	}, logger)
	if err != nil {
		return err
	}

	broker := publish.NewBroker(logger)

	stages := map[core.Target]core.Stage{
		core.TargetConcept:   stage.NewConcept(store, generator, logger),
		core.TargetCharacter: stage.NewCharacter(store, generator, logger),
		core.TargetStructure: stage.NewStructure(store, generator, logger),
		core.TargetProse:     stage.NewProse(store, generator, logger),
	}
	driverCfg := core.DefaultDriverConfig()
	driverCfg.MaxRetries = cfg.Workflow.MaxRetries
	driverCfg.LogWindow = cfg.Workflow.LogWindow
	driver := core.NewDriver(stages, sessions, store, broker, logger, driverCfg)

	run := runner.New(ctx, driver, sessions, broker, cfg.Workflow.MaxConcurrentStories, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(sessions, store, run, broker, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := run.Wait(); err != nil {
		logger.Warn("runner shutdown", "error", err)
	}
	return nil
}
