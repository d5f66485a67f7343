package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/docgraph/internal/config"
	"github.com/fyrsmithlabs/docgraph/internal/document"
	"github.com/fyrsmithlabs/docgraph/internal/embeddings"
	"github.com/fyrsmithlabs/docgraph/internal/extraction"
	"github.com/fyrsmithlabs/docgraph/internal/graph"
	"github.com/fyrsmithlabs/docgraph/internal/identity"
	"github.com/fyrsmithlabs/docgraph/internal/logging"
	"github.com/fyrsmithlabs/docgraph/internal/neo4jdb"
	"github.com/fyrsmithlabs/docgraph/internal/notify"
	"github.com/fyrsmithlabs/docgraph/internal/qdrant"
	"github.com/fyrsmithlabs/docgraph/internal/runlog"
	"github.com/fyrsmithlabs/docgraph/internal/secrets"
	"github.com/fyrsmithlabs/docgraph/internal/source"
	"github.com/fyrsmithlabs/docgraph/internal/textnorm"
	"github.com/fyrsmithlabs/docgraph/internal/vectorstore"
)

// ConfigFrom derives the pipeline configuration of the active corpus.
func ConfigFrom(cfg *config.Config) (Config, error) {
	prof, err := cfg.Profile()
	if err != nil {
		return Config{}, err
	}
	indexes := make([]PayloadIndex, 0, len(prof.PayloadIndexes))
	for _, pi := range prof.PayloadIndexes {
		indexes = append(indexes, PayloadIndex{Field: pi.Field, Type: vectorstore.PayloadIndexType(pi.Type)})
	}
	return Config{
		Corpus:            cfg.Corpus,
		Kind:              document.Kind(prof.Kind),
		Collection:        prof.Collection,
		Dimension:         cfg.Embeddings.Dimension,
		Recreate:          cfg.VectorStore.Recreate,
		PayloadIndexes:    indexes,
		HeaderStyle:       textnorm.Style(prof.HeaderStyle),
		MaxChars:          prof.MaxChars,
		PreviewChars:      prof.PreviewChars,
		RequireBody:       prof.RequireBody,
		BatchSize:         prof.BatchSize,
		FlushSize:         prof.FlushSize,
		RetryDelay:        cfg.VectorStore.RetryDelay.Duration(),
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
		IdentityStrategy:  identity.Strategy(cfg.VectorStore.IdentityStrategy),
		TopK:              prof.TopK,
		Threshold:         prof.Threshold,
		ScrollPageSize:    prof.ScrollPageSize,
		Label:             prof.Label,
		KeyProperty:       prof.KeyProperty,
		Relationship:      prof.Relationship,
		ClearGraph:        cfg.Graph.Clear,
		Rerank:            cfg.Search.Rerank,
		RerankWeight:      float32(cfg.Search.RerankWeight),
		SearchCandidates:  cfg.Search.Candidates,
		SummaryPath:       cfg.SummaryPath(),
		MetricsTextfile:   cfg.Run.MetricsTextfile,
	}, nil
}

// Needs selects the collaborators Open connects. The vector index is
// always opened.
type Needs struct {
	Source   bool
	Embedder bool
	Graph    bool
}

// Open builds the pipeline of the active corpus and connects the stores
// selected by needs. Connection failures wrap ErrPrecondition. Close the
// returned pipeline to release every connection.
func Open(ctx context.Context, cfg *config.Config, needs Needs, logger *logging.Logger) (p *Pipeline, err error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	pcfg, err := ConfigFrom(cfg)
	if err != nil {
		return nil, err
	}

	var (
		deps    Deps
		closers []func() error
	)
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	deps.Index, err = OpenIndex(cfg.VectorStore, logger)
	if err != nil {
		return nil, precondition("opening vector store: %w", err)
	}
	closers = append(closers, deps.Index.Close)

	if needs.Embedder {
		provider, err := embeddings.NewProvider(embeddings.ProviderConfig{
			Provider:  cfg.Embeddings.Provider,
			Model:     cfg.Embeddings.Model,
			BaseURL:   cfg.Embeddings.BaseURL,
			APIKey:    cfg.Embeddings.APIKey.Value(),
			CacheDir:  cfg.Embeddings.CacheDir,
			Dimension: cfg.Embeddings.Dimension,
			Timeout:   cfg.Embeddings.Timeout.Duration(),
			Logger:    logger.Underlying(),
		})
		if err != nil {
			return nil, precondition("creating embedder: %w", err)
		}
		closers = append(closers, provider.Close)
		deps.Embedder = provider
	}

	if needs.Graph {
		deps.Graph, err = OpenGraph(ctx, cfg.Graph, logger)
		if err != nil {
			return nil, precondition("opening graph store: %w", err)
		}
		if deps.Graph != nil {
			g := deps.Graph
			closers = append(closers, func() error { return g.Close(context.Background()) })
		}
	}

	if needs.Source {
		deps.Source, deps.Revision, err = OpenSource(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Secrets.Redact {
		allow, err := secrets.LoadAllowlist(cfg.Secrets.Allowlist)
		if err != nil {
			return nil, precondition("loading secrets allowlist: %w", err)
		}
		deps.Redactor, err = secrets.NewGitleaksRedactor(allow)
		if err != nil {
			return nil, precondition("creating redactor: %w", err)
		}
	}

	if path := cfg.Run.LedgerPath; path != "" {
		ledger, err := runlog.OpenLedger(path)
		if err != nil {
			logger.Warn(ctx, "run ledger unavailable", zap.String("path", path), zap.Error(err))
		} else {
			deps.Ledger = ledger
			closers = append(closers, ledger.Close)
		}
	}

	publisher, err := notify.New(notify.Options{
		URL:     cfg.Notify.NATSURL,
		Subject: cfg.Notify.Subject,
		Timeout: cfg.Notify.Timeout.Duration(),
	}, logger)
	if err != nil {
		logger.Warn(ctx, "run notifications disabled", zap.Error(err))
		err = nil
	} else if publisher != nil {
		deps.Notifier = publisher
		closers = append(closers, publisher.Close)
	}

	p, err = New(pcfg, deps, logger)
	if err != nil {
		return nil, err
	}
	for _, c := range closers {
		p.onClose(c)
	}
	return p, nil
}

// OpenIndex connects the configured vector store.
func OpenIndex(cfg config.VectorStoreConfig, logger *logging.Logger) (vectorstore.Index, error) {
	switch cfg.Provider {
	case "qdrant":
		q := cfg.Qdrant
		return qdrant.NewGRPCClient(&qdrant.ClientConfig{
			Host:           q.Host,
			Port:           q.Port,
			UseTLS:         q.UseTLS,
			APIKey:         q.APIKey.Value(),
			MaxMessageSize: q.MaxMessageSize,
			DialTimeout:    q.DialTimeout.Duration(),
			RequestTimeout: q.RequestTimeout.Duration(),
			RetryAttempts:  q.RetryAttempts,
			RetryBackoff:   q.RetryBackoff.Duration(),
		}, logger.Named("qdrant"))
	case "chromem":
		return vectorstore.NewChromemIndex(vectorstore.ChromemConfig{
			Path:     cfg.Chromem.Path,
			Compress: cfg.Chromem.Compress,
		}, logger.Underlying())
	case "memory":
		return vectorstore.NewMemoryIndex(), nil
	default:
		return nil, fmt.Errorf("unknown vector store provider %q", cfg.Provider)
	}
}

// OpenGraph connects the configured graph store. Provider "none" returns a
// nil store.
func OpenGraph(ctx context.Context, cfg config.GraphConfig, logger *logging.Logger) (graph.Store, error) {
	switch cfg.Provider {
	case "neo4j":
		n := cfg.Neo4j
		client, err := neo4jdb.New(ctx, neo4jdb.Config{
			URI:            n.URI,
			User:           n.User,
			Password:       n.Password.Value(),
			Database:       n.Database,
			MaxPoolSize:    n.MaxPoolSize,
			ConnectTimeout: n.ConnectTimeout.Duration(),
		}, logger)
		if err != nil {
			return nil, err
		}
		return graph.NewNeo4jStore(client, logger), nil
	case "memory":
		return graph.NewMemoryStore(), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown graph provider %q", cfg.Provider)
	}
}

// OpenSource creates the source connector of the active corpus and reads
// the git revision of local trees.
func OpenSource(ctx context.Context, cfg *config.Config, logger *logging.Logger) (source.Source, *source.Revision, error) {
	prof, err := cfg.Profile()
	if err != nil {
		return nil, nil, err
	}

	switch prof.Source {
	case "pages":
		pc := cfg.Source.Pages
		return source.NewPagesSource(source.PagesOptions{Path: pc.Path, PageSize: pc.PageSize}), nil, nil

	case "files":
		fc := cfg.Source.Files
		src, err := source.NewFilesSource(source.FilesOptions{
			Root:        fc.Root,
			Include:     fc.Include,
			Exclude:     fc.Exclude,
			IgnoreFiles: fc.IgnoreFiles,
			MaxFileSize: fc.MaxFileSize,
			PageSize:    fc.PageSize,
			Extractor:   extraction.NewDefaultRegistry(),
		}, logger)
		if err != nil {
			return nil, nil, precondition("%w", err)
		}
		rev, err := source.ReadRevision(src.Root())
		if err != nil {
			logger.Warn(ctx, "git revision unavailable", zap.String("root", src.Root()), zap.Error(err))
		}
		return src, rev, nil

	case "github":
		gc := cfg.Source.GitHub
		var limiter *rate.Limiter
		if gc.RequestsPerSecond > 0 {
			limiter = rate.NewLimiter(rate.Limit(gc.RequestsPerSecond), 1)
		}
		src, err := source.NewGitHubSource(source.NewGitHubClient(ctx, gc.Token.Value()), source.GitHubOptions{
			Owner:       gc.Owner,
			Repo:        gc.Repo,
			Ref:         gc.Ref,
			Include:     gc.Include,
			Exclude:     gc.Exclude,
			MaxFileSize: gc.MaxFileSize,
			PageSize:    gc.PageSize,
			Limiter:     limiter,
			Extractor:   extraction.NewDefaultRegistry(),
		}, logger)
		if err != nil {
			return nil, nil, precondition("%w", err)
		}
		return src, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown source %q", prof.Source)
	}
}
