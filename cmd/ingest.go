package cmd

import (
	"context"
	"flag"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"github.com/writersroom/backend/internal/app"
	"github.com/writersroom/backend/internal/config"
	"github.com/writersroom/backend/internal/project"
)

// runIngest chunks, embeds, and indexes files into a project. Embedding
// failures are partial: chunks without embeddings stay stored and are
// retried with -reembed.
func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	projectFlag := fs.String("project", "", "project ID (required)")
	reembed := fs.Bool("reembed", false, "retry chunks that have no embedding, then exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *projectFlag == "" {
		return fmt.Errorf("-project is required")
	}
	projectID, err := uuid.Parse(*projectFlag)
	if err != nil {
		return fmt.Errorf("invalid project ID %q: %w", *projectFlag, err)
	}

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

	if *reembed {
		embedded, failures, err := a.Ingestor.ReembedPending(ctx, projectID)
		if err != nil {
			return fmt.Errorf("re-embedding: %w", err)
		}
		fmt.Printf("embedded %d pending chunks, %d still failing\n", embedded, len(failures))
		return nil
	}

	files := fs.Args()
	if len(files) == 0 {
		return fmt.Errorf("no files to ingest")
	}

	inputs := make([]project.Input, 0, len(files))
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		contentType := mime.TypeByExtension(filepath.Ext(path))
		if contentType == "" {
			contentType = "text/plain"
		}
		inputs = append(inputs, project.Input{
			Filename:    filepath.Base(path),
			ContentType: contentType,
			Text:        string(content),
		})
	}

	reports, errs := a.Ingestor.IngestAll(ctx, projectID, inputs)
	var failed bool
	for i, rep := range reports {
		if errs[i] != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", inputs[i].Filename, errs[i])
			failed = true
			continue
		}
		fmt.Printf("%s: %d chunks, %d embedded\n", rep.Filename, rep.Chunks, rep.Embedded)
		if len(rep.Failures) > 0 {
			fmt.Printf("  %d chunks pending embedding, retry with -reembed\n", len(rep.Failures))
		}
	}
	if failed {
		return fmt.Errorf("some documents failed to ingest")
	}
	return nil
}
