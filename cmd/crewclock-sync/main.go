package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"crewclock-sync/internal/config"
	"crewclock-sync/internal/device"
	"crewclock-sync/internal/logger"
	"crewclock-sync/internal/service"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting crewclock-sync service")

	// Headless: capture runs through an embedding UI; this process only drains the
	// queue, so camera and GPS are wired as denied capabilities.
	svc, err := service.NewSyncService(cfg, device.DeniedCamera{}, device.DeniedLocator{}, log)
	if err != nil {
		log.Fatal("Failed to create sync service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	errChan := make(chan error, 1)
	go func() {
		if err := svc.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	// SIGHUP doubles as the reconnect/foreground nudge for the drain loop.
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				log.Info("Received SIGHUP, waking sync engine")
				svc.Engine().Wake()
				continue
			}
			log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case err := <-errChan:
			log.Error("Service error", zap.Error(err))
			cancel()
		}
		break
	}

	if err := svc.Stop(context.Background()); err != nil {
		log.Error("Error stopping service", zap.Error(err))
	}

	log.Info("Service stopped")
}
