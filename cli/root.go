package cli

import (
	"context"

	"github.com/gear6io/oxygen/server/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version is reported by --version and advertised in facility.get.
var Version = "0.1.0"

type contextKey string

const loggerKey contextKey = "logger"

var rootCmd = &cobra.Command{
	Use:   "oxygen",
	Short: "Network service for arcade cabinets",
	Long: `Oxygen answers the network calls of eAmuse arcade cabinets.

It decodes the compressed and encrypted packets cabinets send, routes each
call to the handler registered for the game and version, and answers in the
framing the cabinet used.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var configPath string

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteWithContext runs the root command with a context carrying the logger
func ExecuteWithContext(ctx context.Context) error {
	rootCmd.SetContext(ctx)

	if logger := getLoggerFromContext(ctx); logger != nil {
		logger.Debug().Str("cmd", "root").Msg("Executing root command")
	}

	return rootCmd.Execute()
}

// WithLogger stores logger in ctx for the subcommands.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

func getLoggerFromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return nil
	}
	if logger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return &logger
	}
	return nil
}

// loadConfig reads --config when given, else the defaults with
// environment overrides.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadConfig(configPath)
	}
	cfg := config.LoadDefaultConfig()
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (.yml or .toml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
}
