package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gear6io/oxygen/server"
	"github.com/gear6io/oxygen/server/config"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cabinet backend, stream and admin listeners",
	Long: `Run the network service until SIGINT or SIGTERM.

The backend listener answers cabinet calls over HTTP POST. The stream
listener answers the same calls over framed TCP when enabled. The admin
listener serves read-only status, sessions, registry and events.

Settings come from --config, then OXYGEN_<SECTION>_<KEY> environment
variables, for example OXYGEN_SERVER_BACKEND_PORT=9000.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

type serveOptions struct {
	host       string
	publicHost string
	stream     bool
}

var serveOpts = &serveOptions{}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveOpts.host, "host", "", "bind address, overriding the configuration")
	serveCmd.Flags().StringVar(&serveOpts.publicHost, "public-host", "", "address advertised to cabinets")
	serveCmd.Flags().BoolVar(&serveOpts.stream, "stream", false, "enable the framed TCP listener")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)

	logger, closer, err := config.SetupLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	srv, err := server.New(cfg, Version, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create server")
		return err
	}

	ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Server failed to start")
		_ = srv.Shutdown()
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("Received shutdown signal")

	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
		return err
	}
	logger.Info().Str("uptime", srv.GetUptime().String()).Msg("Server stopped gracefully")
	return nil
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if serveOpts.host != "" {
		cfg.Server.Host = serveOpts.host
	}
	if serveOpts.publicHost != "" {
		cfg.Server.PublicHost = serveOpts.publicHost
	}
	if cmd.Flags().Changed("stream") {
		cfg.Server.StreamEnabled = serveOpts.stream
	}
}

// contextOrBackground guards commands run without ExecuteWithContext.
func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
