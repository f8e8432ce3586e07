package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/moabualruz/rice-search/internal/app"
	"github.com/moabualruz/rice-search/internal/config"
	"github.com/moabualruz/rice-search/internal/grpcapi"
	"github.com/moabualruz/rice-search/internal/httpapi"
	"github.com/moabualruz/rice-search/internal/logging"
	mcpserver "github.com/moabualruz/rice-search/internal/mcp"
)

var flagMCPStdio bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the search server (HTTP, gRPC, WebSocket, optional MCP stdio)",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&flagMCPStdio, "mcp-stdio", false, "also serve MCP over stdio")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagDebug {
		cfg.LogLevel = "debug"
	}

	logger, cleanup, err := logging.Setup(logging.Config{
		Level:         cfg.LogLevel,
		FilePath:      cfg.LogFile(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	})
	if err != nil {
		return err
	}
	defer cleanup()
	slog.SetDefault(logger)

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewServer(a, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.DrainTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return grpcapi.NewService(a, logger).Serve(gctx, cfg.GRPCAddr)
	})

	if flagMCPStdio {
		g.Go(func() error {
			return mcpserver.NewServer(a, logger).Run(gctx)
		})
	}

	<-gctx.Done()
	logger.Info("signal received, draining")

	drainCtx, cancel := context.WithTimeout(context.Background(), app.DrainTimeout+5*time.Second)
	defer cancel()
	if err := a.Shutdown(drainCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
