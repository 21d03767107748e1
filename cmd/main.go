package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"preik/internal/config"
)

const (
	appName               = "preik"
	defaultConfigFilePath = "./configs/config.yaml"
)

var (
	configFilePath string
	debug          bool
	pretty         bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           appName,
	Short:         "AI chat widget backend: document ingestion, retrieval and credit metering",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.LoadConfig(configFilePath)
		if err != nil {
			return err
		}
		setupLogging(&cfg.Log)
		log.Debug().Str("config", configFilePath).Msg("Loaded config")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFilePath, "config", defaultConfigFilePath, "config file location")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging output")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "enable pretty (human readable) logging output")
}

// setupLogging configures the global zerolog logger. Flags win over the config file.
func setupLogging(logCfg *config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(strings.ToLower(logCfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if pretty || logCfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		stop()
		os.Exit(1)
	}
}
