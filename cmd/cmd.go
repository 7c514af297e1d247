// Package cmd provides the writersroom CLI commands.
//
// Commands:
//   - run: initialize everything and wait for a signal
//   - migrate: apply database migrations and exit
//   - projects: create and list projects
//   - ingest: chunk, embed, and index documents into a project
//   - ask: stream one completion turn on a thread
//
// Graceful shutdown is implemented for all commands via context
// cancellation on SIGINT/SIGTERM.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/writersroom/backend/internal/log"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	GitCommit  = "unknown"
)

// Execute is the main entry point for the writersroom CLI.
func Execute() error {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level})
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "run":
		return runRun()
	case "migrate":
		return runMigrate()
	case "projects":
		return runProjects(os.Args[2:])
	case "ingest":
		return runIngest(os.Args[2:])
	case "ask":
		return runAsk(os.Args[2:])
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

func runVersion() {
	fmt.Printf("writersroom %s (%s)\n", AppVersion, GitCommit)
}

func runHelp() {
	fmt.Print(`writersroom - project-grounded writing assistant

Usage:
  writersroom <command> [flags]

Commands:
  run        Initialize everything and wait (wiring sanity check)
  migrate    Apply database migrations and exit
  projects   Create and list projects
  ingest     Chunk, embed, and index documents into a project
  ask        Stream one completion turn
  version    Show version information
  help       Show this message

Environment:
  DATABASE_URL       PostgreSQL connection URL (overrides config file)
  OPENAI_API_KEY     Enables the openai provider
  GEMINI_API_KEY     Enables the googleai provider
  DEBUG              Any value enables debug logging
`)
}
