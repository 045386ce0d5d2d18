package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanchriswhite/propview/internal/app"
	"github.com/bryanchriswhite/propview/internal/logger"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the propview server",
	Long: `Open the configured camera, start the acquisition engine and serve the
REST API, the websocket notification stream and the MJPEG previews until
interrupted.`,
	Example: `  # Start server on default port (8080) with the simulated camera
  propview serve

  # Start server on custom port
  propview serve --port 9090

  # Start with specific config file
  propview serve --config /path/to/config.yaml

  # Start with debug logging
  propview serve --log-level debug`,
	RunE: runServe,
}

var serveLive bool

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveLive, "live", false, "switch live mode on at startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("serve")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, configMgr)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		return err
	}
	if serveLive {
		if err := a.Engine().SetLiveMode(true); err != nil {
			return err
		}
	}

	fmt.Println()
	log.Info().Msg("✅ propview is running!")
	log.Info().Msgf("   - Preview: http://localhost:%d", cfg.ServerPort)
	log.Info().Msgf("   - API: http://localhost:%d/api", cfg.ServerPort)
	log.Info().Msg("   - Press Ctrl+C to stop")
	fmt.Println()

	if err := a.Listen(ctx); err != nil {
		return err
	}
	log.Info().Msg("Shutting down gracefully...")
	return nil
}
