package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docgraph/internal/pipeline"
	"github.com/fyrsmithlabs/docgraph/internal/runlog"
)

func (a *app) ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Normalize, embed and store documents with their graph nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.phase(cmd.Context(), pipeline.Needs{Source: true, Embedder: true, Graph: true},
				func(ctx context.Context, p *pipeline.Pipeline, s *runlog.Summary) (bool, error) {
					stats, err := p.Ingest(ctx)
					s.Ingest = stats
					return stats != nil, err
				})
		},
	}
}

func (a *app) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Derive similarity edges from stored vectors and replace them in the graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.phase(cmd.Context(), pipeline.Needs{Graph: true},
				func(ctx context.Context, p *pipeline.Pipeline, s *runlog.Summary) (bool, error) {
					stats, err := p.Resolve(ctx)
					s.Resolve = stats
					return stats != nil, err
				})
		},
	}
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Ingest then resolve the corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			p, err := a.open(ctx, pipeline.Needs{Source: true, Embedder: true, Graph: true})
			if err != nil {
				return err
			}
			defer closePipeline(ctx, p, a.logger)

			s, err := p.Run(ctx)
			if s != nil {
				if perr := a.printJSON(s); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

// phase runs one stage under a run summary so that partial runs are
// recorded like full ones. fn reports whether the stage got past its
// preconditions.
func (a *app) phase(ctx context.Context, needs pipeline.Needs, fn func(context.Context, *pipeline.Pipeline, *runlog.Summary) (bool, error)) error {
	p, err := a.open(ctx, needs)
	if err != nil {
		return err
	}
	defer closePipeline(ctx, p, a.logger)

	ctx, s := p.NewSummary(ctx)
	started, err := fn(ctx, p, s)
	if !started && errors.Is(err, pipeline.ErrPrecondition) {
		return err
	}
	if err == nil && s.Resolve != nil {
		if analysis, aerr := p.Analyze(ctx); aerr == nil {
			s.Graph = analysis
		}
	}
	err = p.Record(ctx, s, err)
	if perr := a.printJSON(s); perr != nil {
		return perr
	}
	return err
}

func (a *app) materializeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "materialize",
		Short: "Merge document nodes and structural relationships into the graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			p, err := a.open(ctx, pipeline.Needs{Source: true, Graph: true})
			if err != nil {
				return err
			}
			defer closePipeline(ctx, p, a.logger)

			stats, err := p.Materialize(ctx)
			if err != nil {
				return err
			}
			return a.printJSON(stats)
		},
	}
}

func (a *app) searchCmd() *cobra.Command {
	var (
		limit  int
		rerank bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over the corpus collection",
		Example: `  docgraph search "how are similarity edges oriented"
  docgraph search --corpus code --limit 10 --rerank "qdrant retry"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if rerank {
				a.cfg.Search.Rerank = true
			}
			p, err := a.open(ctx, pipeline.Needs{Embedder: true})
			if err != nil {
				return err
			}
			defer closePipeline(ctx, p, a.logger)

			hits, err := p.Search(ctx, strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Fprintln(a.out, "no results")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SCORE\tKEY\tTITLE\tPREVIEW")
			for _, h := range hits {
				fmt.Fprintf(tw, "%.4f\t%s\t%s\t%s\n", h.Score, h.Key, h.Title, oneLine(h.Preview, 60))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "number of results")
	cmd.Flags().BoolVar(&rerank, "rerank", false, "reorder hits by lexical overlap with the query")
	return cmd
}

func (a *app) runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recent runs or show one run summary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := a.cfg.Run.LedgerPath
			if path == "" {
				return errors.New("run.ledger_path is not configured")
			}
			ledger, err := runlog.OpenLedger(path)
			if err != nil {
				return err
			}
			defer ledger.Close()

			if len(args) == 1 {
				s, err := ledger.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return a.printJSON(s)
			}

			entries, err := ledger.Recent(ctx, a.cfg.Corpus, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tDURATION\tPROCESSED\tSKIPPED\tERRORS\tEDGES")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
					e.RunID, e.StartedAt.Local().Format(time.DateTime), e.Status,
					e.Duration.Round(time.Millisecond), e.Processed, e.Skipped, e.Errors, e.Edges)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs")
	return cmd
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "…"
	}
	return s
}
