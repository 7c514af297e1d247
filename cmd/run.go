package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/writersroom/backend/internal/app"
	"github.com/writersroom/backend/internal/config"
)

// runRun initializes the full application, reports the enabled providers,
// and waits for a shutdown signal. Useful as a wiring and credentials
// sanity check before pointing traffic at the process.
func runRun() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Setup(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	fmt.Printf("writersroom ready, providers: %v\n", a.Router.Providers())
	fmt.Println("press Ctrl-C to stop")

	<-ctx.Done()
	return nil
}
