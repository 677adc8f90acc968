package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dpnlabs/dpn/cmd/dpn/commands"
	"github.com/dpnlabs/dpn/pkg/engine"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Exit codes. Scripts drive retry and alerting off these, so they are
// part of the CLI contract.
const (
	exitOK             = 0
	exitError          = 1
	exitValidation     = 2
	exitRolledBack     = 3
	exitRollbackFailed = 4
	exitLockContention = 5
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(exitCode(err))
	}
	os.Exit(exitOK)
}

// exitCode maps the error taxonomy onto the CLI contract.
func exitCode(err error) int {
	var rbErr *engine.RollbackError
	if errors.As(err, &rbErr) {
		return exitRollbackFailed
	}
	switch {
	case engine.IsValidation(err):
		return exitValidation
	case engine.IsLockContention(err):
		return exitLockContention
	case engine.IsOperationFailed(err):
		// The operation failed but every committed step was undone.
		return exitRolledBack
	default:
		return exitError
	}
}
