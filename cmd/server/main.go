package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanchriswhite/propview/internal/app"
	"github.com/bryanchriswhite/propview/internal/config"
	"github.com/bryanchriswhite/propview/internal/logger"
)

func main() {
	fmt.Println("🔭 propview - camera capture and recording server")
	fmt.Println("=================================================")

	configMgr, err := config.NewManager("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize config manager: %v\n", err)
		os.Exit(1)
	}
	cfg := configMgr.Get()

	logger.Init(cfg.LogLevel, true)
	log := logger.WithComponent("server")
	log.Info().Str("path", configMgr.GetConfigPath()).Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, configMgr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}

	log.Info().Msgf("Server starting on http://localhost:%d", cfg.ServerPort)
	err = a.Serve(ctx)
	if cerr := a.Close(); cerr != nil {
		log.Warn().Err(cerr).Msg("Close")
	}
	if err != nil {
		if errors.Is(err, app.ErrDeviceLost) {
			log.Error().Msg("Camera disconnected")
		}
		log.Fatal().Err(err).Msg("Server error")
	}

	fmt.Println()
	log.Info().Msg("Shutting down gracefully...")
}
