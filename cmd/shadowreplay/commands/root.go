package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/ShadowReplay/internal/config"
	"github.com/bryanchriswhite/ShadowReplay/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "shadowreplay",
		Short: "ShadowReplay - Instant replay buffer for VR capture",
		Long: `ShadowReplay keeps the last few seconds of captured frames in memory
and writes them to a clip the moment a controller combo is pressed.

Features:
  • Continuous capture into a fixed-size replay window
  • Edge-triggered save combo with cooldown
  • Saves run in the background without stalling capture
  • Clip catalog with thumbnails and MP4 export
  • REST API, live MJPEG preview and MQTT notifications`,
		SilenceUsage: true,
	}
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/shadowreplay/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
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

// loadConfig opens the config manager, applies flag overrides and sets up
// logging to match.
func loadConfig(cmd *cobra.Command) (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if f := flags.Lookup("port"); f != nil && f.Changed {
		if err := configMgr.BindFlag("server_port", f); err != nil {
			return nil, err
		}
	}
	if f := flags.Lookup("log-level"); f != nil && f.Changed {
		if err := configMgr.BindFlag("log_level", f); err != nil {
			return nil, err
		}
	}

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	return configMgr, nil
}
