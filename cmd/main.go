package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/urfave/cli/v3"

	"github.com/nathom/streamrip-sub000/internal/shared"
)

func main() {
	logger := shared.NewLogger(nil)
	runner := NewRunner(logger)

	app := &cli.Command{
		Name:     "rip",
		Usage:    "Download music from Qobuz, Deezer, Tidal and SoundCloud",
		Version:  "1.0.0",
		Commands: runner.register(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		// Individual items failing does not make the run itself a
		// failure; the tuples are in the ledger for `rip failed`.
		var partial *shared.PartialFailureError
		if errors.As(err, &partial) {
			logger.Warn("run completed with failures", "count", len(partial.Failed))
			os.Exit(0)
		}
		logger.Fatalf("application error: %v", err)
	}
}
