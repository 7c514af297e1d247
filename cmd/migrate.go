package cmd

import (
	"fmt"

	"github.com/writersroom/backend/db"
	"github.com/writersroom/backend/internal/config"
)

// runMigrate applies pending migrations without starting the app.
func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	fmt.Println("migrations applied")
	return nil
}
