package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/reconcile-runner/cmd/froyo-runner/commands"
	"github.com/openfroyo/reconcile-runner/pkg/telemetry"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	_ = godotenv.Load()

	// Setup structured logging
	setupLogging()

	// Create context that cancels on interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Received interrupt signal, stopping run...")
		cancel()
	}()

	args := commands.ArgsFor(os.Args[0], os.Args[1:])
	err := commands.Execute(ctx, args, Version, Commit, BuildDate)

	var exitErr *commands.ExitError
	if errors.As(err, &exitErr) {
		cancel()
		os.Exit(exitErr.Code)
	}
	if err != nil {
		log.Error().Err(err).Msg("Command execution failed")
		cancel()
		os.Exit(1)
	}
}

// setupLogging configures the global zerolog logger on stderr.
// Stdout carries the job event stream.
func setupLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(telemetry.ParseLogLevel(strings.ToLower(os.Getenv("LOG_LEVEL"))))
}
