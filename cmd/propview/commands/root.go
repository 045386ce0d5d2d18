package commands

import (
	"fmt"
	"os"

	"github.com/bryanchriswhite/propview/internal/config"
	"github.com/bryanchriswhite/propview/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "propview",
		Short: "propview - camera capture and recording server",
		Long: `propview drives an industrial camera: it keeps a bounded queue of capture
requests in flight, previews completed frames as MJPEG streams and records
bounded or continuous frame sequences.

Features:
  • Live acquisition with a configurable request queue depth
  • Manual or automatic rotation over capture settings
  • One-shot and ring-buffer sequence recording
  • FITS export of recorded sequences
  • REST API and websocket notification stream`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/propview/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("driver", "", "device driver (default is sim)")
	rootCmd.PersistentFlags().Bool("pretty", true, "human readable log output")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("device.driver", rootCmd.PersistentFlags().Lookup("driver"))
	viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig reads the config file, applies the command line overrides
// without saving them and initializes logging
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()

	if port := viper.GetInt("server_port"); port > 0 {
		cfg.ServerPort = port
	}
	if level := viper.GetString("log_level"); level != "" {
		cfg.LogLevel = level
	}
	if driver := viper.GetString("device.driver"); driver != "" {
		cfg.Device.Driver = driver
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger.Init(cfg.LogLevel, viper.GetBool("pretty"))
	logger.WithComponent("config").Debug().
		Str("path", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")
	return configMgr, cfg, nil
}
