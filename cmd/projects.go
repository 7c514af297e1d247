package cmd

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/writersroom/backend/internal/config"
	"github.com/writersroom/backend/internal/database"
	"github.com/writersroom/backend/internal/project"
)

// runProjects creates or lists projects. Provider credentials are not
// required; only the database is touched.
func runProjects(args []string) error {
	fs := flag.NewFlagSet("projects", flag.ContinueOnError)
	create := fs.String("create", "", "create a project with this name")
	instructions := fs.String("instructions", "", "project instructions (with -create)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return err
	}
	defer pool.Close()

	store := project.NewStore(pool, nil)

	if *create != "" {
		p, err := store.Create(ctx, nil, *create, *instructions)
		if err != nil {
			return fmt.Errorf("creating project: %w", err)
		}
		fmt.Printf("created project %s (%s)\n", p.Name, p.ID)
		return nil
	}

	list, err := store.List(ctx, nil)
	if err != nil {
		return fmt.Errorf("listing projects: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("no projects")
		return nil
	}
	for _, p := range list {
		fmt.Printf("%s  %s\n", p.ID, p.Name)
	}
	return nil
}
