package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/rewind/internal/app"
	"github.com/ternarybob/rewind/internal/common"
	"github.com/ternarybob/rewind/internal/server"
)

var serveLoadJob string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the replay server",
	Long:  `Starts the HTTP and WebSocket server that drives the timeline views, optionally loading a job on startup.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveLoadJob, "job", "", "Job to load on startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Int("port", config.Server.Port).
		Str("host", config.Server.Host).
		Str("api", config.API.BaseURL).
		Msg("Starting Rewind server")

	application, err := app.New(config, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Close()

	srv := server.New(application)

	errChan := make(chan error, 1)
	common.SafeGo(logger, "http-server", func() {
		errChan <- srv.Start()
	})

	if serveLoadJob != "" {
		common.SafeGo(logger, "startup-load", func() {
			if err := application.Session.LoadJob(context.Background(), serveLoadJob); err != nil {
				logger.Warn().Err(err).Str("job_id", serveLoadJob).Msg("Startup job load failed")
			}
		})
	}

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info().Msg("Interrupt signal received")
	case err := <-errChan:
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	logger.Info().Msg("Server stopped")
	return nil
}
