package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/writersroom/backend/internal/app"
	"github.com/writersroom/backend/internal/config"
	"github.com/writersroom/backend/internal/stream"
)

// runAsk streams one completion turn to stdout. Ctrl-C cancels the turn;
// a cancelled turn persists nothing.
func runAsk(args []string) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	providerFlag := fs.String("provider", "", "provider for this turn (default from config)")
	modelFlag := fs.String("model", "", "model for this turn (default from config)")
	threadFlag := fs.String("thread", "", "continue an existing thread")
	projectFlag := fs.String("project", "", "bind a new thread to a project")
	if err := fs.Parse(args); err != nil {
		return err
	}

	question := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("question is empty")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if *providerFlag == "" {
		*providerFlag = cfg.Provider
	}
	if *modelFlag == "" {
		*modelFlag = cfg.ModelName
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Setup(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	threadID, isNew, err := resolveThread(ctx, a, *threadFlag, *projectFlag)
	if err != nil {
		return err
	}

	result, err := a.Coordinator.Stream(ctx, threadID, question, stream.Options{
		Provider:    *providerFlag,
		Model:       *modelFlag,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}, func(token string) {
		fmt.Print(token)
	})
	if err != nil {
		return err
	}
	fmt.Println()

	switch result.State {
	case stream.StateCancelled:
		fmt.Fprintln(os.Stderr, "cancelled, nothing saved")
		return nil
	case stream.StateAborted:
		fmt.Fprintf(os.Stderr, "stream aborted: %v (partial reply saved)\n", result.Err)
	}

	if len(result.Citations) > 0 {
		fmt.Fprintln(os.Stderr, "\nSources:")
		for _, c := range result.Citations {
			fmt.Fprintf(os.Stderr, "  %s [chunk %d] (%.2f)\n", c.Filename, c.ChunkIndex, c.Similarity)
		}
	}

	if isNew {
		a.Titles.MaybeSetTitle(ctx, threadID, question)
	}
	fmt.Fprintf(os.Stderr, "thread: %s\n", threadID)
	return nil
}

// resolveThread returns the thread to stream on, creating one when no
// -thread flag was given.
func resolveThread(ctx context.Context, a *app.App, threadFlag, projectFlag string) (uuid.UUID, bool, error) {
	if threadFlag != "" {
		id, err := uuid.Parse(threadFlag)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("invalid thread ID %q: %w", threadFlag, err)
		}
		return id, false, nil
	}

	var projectID *uuid.UUID
	if projectFlag != "" {
		id, err := uuid.Parse(projectFlag)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("invalid project ID %q: %w", projectFlag, err)
		}
		projectID = &id
	}

	th, err := a.Threads.Create(ctx, nil, projectID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("creating thread: %w", err)
	}
	return th.ID, true, nil
}
