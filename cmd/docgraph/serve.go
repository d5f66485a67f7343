package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/fyrsmithlabs/docgraph/internal/http"
	"github.com/fyrsmithlabs/docgraph/internal/pipeline"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run history, search, run triggering and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}
			p, err := a.open(ctx, pipeline.Needs{Source: true, Embedder: true, Graph: true})
			if err != nil {
				return err
			}
			defer closePipeline(ctx, p, a.logger)

			srv, err := httpapi.NewServer(a.serverOptions(p))
			if err != nil {
				return err
			}
			return serveUntilDone(ctx, srv, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}

func (a *app) serverOptions(p *pipeline.Pipeline) httpapi.Options {
	reg := p.Registry()
	// Registration fails only when the collectors are already present.
	_ = reg.Register(collectors.NewGoCollector())
	_ = reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := httpapi.Options{
		Addr:     a.cfg.Server.Addr,
		Corpus:   a.cfg.Corpus,
		Searcher: p,
		Runner:   p,
		Redactor: p.Redactor(),
		Gatherer: reg,
		Logger:   a.logger,
	}
	if l := p.Ledger(); l != nil {
		opts.Runs = l
	}
	return opts
}

func serveUntilDone(ctx context.Context, srv *httpapi.Server, a *app) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.logger.Info(ctx, "shutdown requested", zap.Error(context.Cause(ctx)))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
