package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gear6io/oxygen/cli"
	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
)

func main() {
	logger := setupLogger()

	ctx := cli.WithLogger(context.Background(), logger)

	if err := cli.ExecuteWithContext(ctx); err != nil {
		fmt.Fprint(os.Stderr, pterm.Error.Sprintln(err.Error()))
		logger.Debug().Str("cmd", "main").Err(err).Msg("CLI execution failed")
		os.Exit(1)
	}
}

// setupLogger writes CLI diagnostics to stderr. OXYGEN_DEBUG=1 lowers the
// level to debug; the serve command configures its own logger.
func setupLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if os.Getenv("OXYGEN_DEBUG") != "" {
		level = zerolog.DebugLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Str("app", "oxygen").
		Logger()
}
