package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docgraph/internal/pipeline"
	"github.com/fyrsmithlabs/docgraph/internal/watch"
)

func (a *app) watchCmd() *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the pipeline whenever the local source changes",
		Long: `watch runs the pipeline once, then again after every burst of changes to
the pages export or the files root. GitHub sources cannot be watched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			paths, err := a.watchPaths()
			if err != nil {
				return err
			}
			p, err := a.open(ctx, pipeline.Needs{Source: true, Embedder: true, Graph: true})
			if err != nil {
				return err
			}
			defer closePipeline(ctx, p, a.logger)

			w, err := watch.New(watch.Options{
				Paths:    paths,
				Debounce: debounce,
				SkipDir:  skipDir,
			}, a.logger.Named("watch"))
			if err != nil {
				return err
			}
			defer w.Stop()
			if err := w.Start(ctx); err != nil {
				return err
			}
			return a.watchLoop(ctx, p, w.Changes())
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 2*time.Second, "quiet period before a change triggers a run")
	return cmd
}

// watchLoop runs p once and then once per change until ctx is done. Failed
// runs are logged and do not stop the loop.
func (a *app) watchLoop(ctx context.Context, p *pipeline.Pipeline, changes <-chan watch.Change) error {
	a.runOnce(ctx, p, nil)
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-changes:
			a.runOnce(ctx, p, c.Paths)
		}
	}
}

func (a *app) runOnce(ctx context.Context, p *pipeline.Pipeline, changed []string) {
	if len(changed) > 0 {
		a.logger.Info(ctx, "source changed", zap.Int("paths", len(changed)), zap.Strings("sample", changed[:min(len(changed), 5)]))
	}
	s, err := p.Run(ctx)
	if err != nil {
		a.logger.Error(ctx, "watched run failed", zap.Error(err))
	}
	if s != nil {
		fmt.Fprintf(a.out, "%s %s processed=%d skipped=%d errors=%d edges=%d\n",
			s.RunID, s.Status, s.Processed(), s.Skipped(), s.Errors(), s.Edges())
	}
}

func (a *app) watchPaths() ([]string, error) {
	prof, err := a.cfg.Profile()
	if err != nil {
		return nil, err
	}
	switch prof.Source {
	case "pages":
		return []string{a.cfg.Source.Pages.Path}, nil
	case "files":
		return []string{a.cfg.Source.Files.Root}, nil
	default:
		return nil, fmt.Errorf("%w: source %q cannot be watched", pipeline.ErrPrecondition, prof.Source)
	}
}

func skipDir(path string) bool {
	switch filepath.Base(path) {
	case ".git", "node_modules", "vendor", ".venv", "__pycache__":
		return true
	}
	return false
}
