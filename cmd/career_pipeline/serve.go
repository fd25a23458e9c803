package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/jonathan/career-pipeline/internal/server"
)

const (
	lockFileName    = "career_pipeline.lock"
	shutdownTimeout = 30 * time.Second
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		Long:  `Start an HTTP server that accepts pipeline runs, reports their status and streams live progress over SSE and WebSocket.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			jwtCfg, err := cfg.JWT()
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			lockPath := filepath.Join(cfg.LockDir, lockFileName)
			lock := flock.New(lockPath)
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !ok {
				return errors.New("another career_pipeline server is already running")
			}
			defer func() {
				if err := lock.Unlock(); err != nil {
					logger.Warn("failed to release server lock", "lock", lockPath, "error", err)
				}
			}()

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := ctx.newRuntime(sigCtx, logger)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := rt.Close(shutdownCtx); err != nil {
					logger.Warn("engine shutdown incomplete", "error", err)
				}
			}()

			srv := server.New(server.Options{
				Addr:             cfg.Addr(),
				Engine:           rt.engine,
				Store:            rt.store,
				Hub:              rt.hub,
				JWT:              server.NewJWTService(jwtCfg),
				Logger:           logger,
				RateLimitPerHour: cfg.RateLimitPerHour,
			})
			logger.Info("career_pipeline server starting", "addr", cfg.Addr(), "postgres", cfg.UsePostgres(), "lock", lockPath)
			return srv.ListenAndServe(sigCtx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (overrides PORT)")
	return cmd
}
