// Command docgraph embeds a document corpus into a vector index and
// materializes its similarity graph.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docgraph/internal/config"
	"github.com/fyrsmithlabs/docgraph/internal/logging"
	"github.com/fyrsmithlabs/docgraph/internal/pipeline"
	"github.com/fyrsmithlabs/docgraph/internal/telemetry"
)

var version = "dev"

// Exit codes.
const (
	exitOK           = 0
	exitFailure      = 1
	exitPrecondition = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout)
	cmd.SetArgs(args)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, pipeline.ErrPrecondition):
		fmt.Fprintln(stderr, "docgraph:", err)
		return exitPrecondition
	default:
		fmt.Fprintln(stderr, "docgraph:", err)
		return exitFailure
	}
}

// app is the state shared by every subcommand once configuration is loaded.
type app struct {
	flags struct {
		config     string
		corpus     string
		logLevel   string
		recreate   bool
		clearGraph bool
		threshold  float64
		topK       int
	}

	out    io.Writer
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	root := &cobra.Command{
		Use:   "docgraph",
		Short: "Build a semantic similarity graph over a document corpus",
		Long: `docgraph reads documents from a source, embeds them into a vector index
and materializes documents, structural links and similarity edges in a
graph database.

Examples:
  # Ingest and resolve the pages corpus
  docgraph run --config docgraph.yaml

  # Re-embed the code corpus from scratch
  docgraph ingest --corpus code --recreate

  # Recompute similarity edges with a stricter threshold
  docgraph resolve --threshold 0.85`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.config, "config", "docgraph.yaml", "configuration file")
	pf.StringVar(&a.flags.corpus, "corpus", "", "corpus profile (pages, code, ...)")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	pf.BoolVar(&a.flags.recreate, "recreate", false, "drop and recreate the vector collection")
	pf.BoolVar(&a.flags.clearGraph, "clear-graph", false, "delete the whole graph before materializing")
	pf.Float64Var(&a.flags.threshold, "threshold", 0, "similarity threshold override")
	pf.IntVar(&a.flags.topK, "top-k", 0, "neighbours per document override")

	root.AddCommand(
		a.ingestCmd(),
		a.resolveCmd(),
		a.materializeCmd(),
		a.runCmd(),
		a.searchCmd(),
		a.runsCmd(),
		a.serveCmd(),
		a.watchCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.flags.config)
	if err != nil {
		return err
	}
	if err := a.applyFlags(cmd, cfg); err != nil {
		return err
	}
	a.cfg = cfg

	a.tel, err = telemetry.New(cmd.Context(), telemetry.FromConfig(cfg.Telemetry, version), nil)
	if err != nil {
		return err
	}
	a.logger, err = newLogger(cfg.Logging, a.tel)
	if err != nil {
		return err
	}
	a.logger.Debug(cmd.Context(), "configuration loaded",
		zap.String("corpus", cfg.Corpus),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("graph", cfg.Graph.Provider),
	)
	return nil
}

// applyFlags overrides cfg with explicitly set flags and revalidates it.
func (a *app) applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("corpus") {
		cfg.Corpus = a.flags.corpus
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = a.flags.logLevel
	}
	if a.flags.recreate {
		cfg.VectorStore.Recreate = true
	}
	if a.flags.clearGraph {
		cfg.Graph.Clear = true
	}
	if flags.Changed("threshold") {
		cfg.Similarity.Threshold = a.flags.threshold
	}
	if flags.Changed("top-k") {
		cfg.Similarity.TopK = a.flags.topK
	}
	return cfg.Validate()
}

func (a *app) teardown(ctx context.Context) error {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return a.tel.Shutdown(context.WithoutCancel(ctx))
}

func newLogger(lc config.LoggingConfig, tel *telemetry.Telemetry) (*logging.Logger, error) {
	cfg := logging.NewDefaultConfig()
	if lc.Level != "" {
		level, err := logging.LevelFromString(lc.Level)
		if err != nil {
			return nil, fmt.Errorf("logging.level: %w", err)
		}
		cfg.Level = level
	}
	if lc.Format != "" {
		cfg.Format = lc.Format
	}
	cfg.Output.OTEL = tel.LoggerProvider() != nil
	return logging.NewLogger(cfg, tel.LoggerProvider())
}

// open connects the pipeline for the active corpus.
func (a *app) open(ctx context.Context, needs pipeline.Needs) (*pipeline.Pipeline, error) {
	return pipeline.Open(ctx, a.cfg, needs, a.logger)
}

func closePipeline(ctx context.Context, p *pipeline.Pipeline, logger *logging.Logger) {
	if err := p.Close(); err != nil {
		logger.Warn(ctx, "closing pipeline", zap.Error(err))
	}
}
