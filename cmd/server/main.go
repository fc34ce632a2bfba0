package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/backend/defaults"
	"github.com/GriffinCanCode/devportal/backend/internal/features"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/monitoring"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags override the environment
	port := flag.String("port", cfg.Server.Port, "Server port")
	dev := flag.Bool("dev", cfg.Logging.Development, "Development logging")
	appConfig := flag.String("config", strings.Join(cfg.App.Paths, ","), "Comma separated app-config files")
	flag.Parse()

	cfg.Server.Port = *port
	cfg.Logging.Development = *dev
	cfg.App.Paths = splitPaths(*appConfig)
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("Backend failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	app, err := config.LoadAppConfig(cfg.App.Paths, cfg.App.Optional)
	if err != nil {
		return err
	}

	b := defaults.New(cfg, app, logger, monitoring.NewMetrics())
	b.Add(features.Default()...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		return err
	}

	var failure error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	case failure = <-b.Failed():
		logger.Error("Backend service failed, shutting down", zap.Error(failure))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(failure, b.Stop(shutdownCtx))
}

func splitPaths(raw string) []string {
	var paths []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}
