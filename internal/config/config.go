// Package config loads docgraph configuration.
//
// Values come from built-in defaults, then an optional YAML file, then the
// environment. Two corpus profiles are built in: "pages" for knowledge base
// page exports and "code" for source trees. The active profile is selected
// with the top-level corpus key.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/docgraph/internal/sanitize"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Corpus profile names.
const (
	CorpusPages = "pages"
	CorpusCode  = "code"
)

// Config holds the complete docgraph configuration.
type Config struct {
	Corpus      string                  `koanf:"corpus"`
	Corpora     map[string]CorpusConfig `koanf:"corpora"`
	Source      SourceConfig            `koanf:"source"`
	Embeddings  EmbeddingsConfig        `koanf:"embeddings"`
	VectorStore VectorStoreConfig       `koanf:"vectorstore"`
	Graph       GraphConfig             `koanf:"graph"`
	Similarity  SimilarityOverrides     `koanf:"similarity"`
	Search      SearchConfig            `koanf:"search"`
	Secrets     SecretsConfig           `koanf:"secrets"`
	Run         RunConfig               `koanf:"run"`
	Notify      NotifyConfig            `koanf:"notify"`
	Server      ServerConfig            `koanf:"server"`
	Logging     LoggingConfig           `koanf:"logging"`
	Telemetry   TelemetryConfig         `koanf:"telemetry"`
}

// CorpusConfig is a per-corpus profile.
type CorpusConfig struct {
	// Kind is "page" or "code".
	Kind string `koanf:"kind"`
	// Source is the connector: "pages", "files" or "github".
	Source string `koanf:"source"`

	Label        string `koanf:"label"`
	KeyProperty  string `koanf:"key_property"`
	Collection   string `koanf:"collection"`
	HeaderStyle  string `koanf:"header_style"`
	MaxChars     int    `koanf:"max_chars"`
	PreviewChars int    `koanf:"preview_chars"`
	RequireBody  bool   `koanf:"require_body"`

	BatchSize int `koanf:"batch_size"`
	FlushSize int `koanf:"flush_size"`

	TopK           int     `koanf:"top_k"`
	Threshold      float64 `koanf:"threshold"`
	Relationship   string  `koanf:"relationship"`
	ScrollPageSize int     `koanf:"scroll_page_size"`

	PayloadIndexes []PayloadIndex `koanf:"payload_indexes"`
}

// PayloadIndex declares a vector payload field index.
type PayloadIndex struct {
	Field string `koanf:"field"`
	Type  string `koanf:"type"` // keyword | integer
}

// SourceConfig configures the source connectors.
type SourceConfig struct {
	Pages  PagesSourceConfig  `koanf:"pages"`
	Files  FilesSourceConfig  `koanf:"files"`
	GitHub GitHubSourceConfig `koanf:"github"`
}

// PagesSourceConfig reads a JSON page export.
type PagesSourceConfig struct {
	Path     string `koanf:"path"`
	PageSize int    `koanf:"page_size"`
}

// FilesSourceConfig walks a directory tree.
type FilesSourceConfig struct {
	Root        string   `koanf:"root"`
	Include     []string `koanf:"include"`
	Exclude     []string `koanf:"exclude"`
	IgnoreFiles []string `koanf:"ignore_files"`
	MaxFileSize int64    `koanf:"max_file_size"`
	PageSize    int      `koanf:"page_size"`
}

// GitHubSourceConfig reads a repository tree through the GitHub API.
type GitHubSourceConfig struct {
	Owner       string   `koanf:"owner"`
	Repo        string   `koanf:"repo"`
	Ref         string   `koanf:"ref"`
	Token       Secret   `koanf:"token"`
	Include     []string `koanf:"include"`
	Exclude     []string `koanf:"exclude"`
	MaxFileSize int64    `koanf:"max_file_size"`
	PageSize    int      `koanf:"page_size"`
	// RequestsPerSecond bounds API calls; 0 disables the limit.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider          string   `koanf:"provider"` // tei | openai | fastembed
	BaseURL           string   `koanf:"base_url"`
	Model             string   `koanf:"model"`
	APIKey            Secret   `koanf:"api_key"`
	Dimension         int      `koanf:"dimension"`
	CacheDir          string   `koanf:"cache_dir"`
	Timeout           Duration `koanf:"timeout"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
}

// VectorStoreConfig configures the vector index.
type VectorStoreConfig struct {
	Provider         string        `koanf:"provider"` // qdrant | chromem | memory
	Collection       string        `koanf:"collection"`
	Recreate         bool          `koanf:"recreate"`
	RetryDelay       Duration      `koanf:"retry_delay"`
	IdentityStrategy string        `koanf:"identity_strategy"` // auto | hash
	Qdrant           QdrantConfig  `koanf:"qdrant"`
	Chromem          ChromemConfig `koanf:"chromem"`
}

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host           string   `koanf:"host"`
	Port           int      `koanf:"port"`
	UseTLS         bool     `koanf:"use_tls"`
	APIKey         Secret   `koanf:"api_key"`
	MaxMessageSize int      `koanf:"max_message_size"`
	DialTimeout    Duration `koanf:"dial_timeout"`
	RequestTimeout Duration `koanf:"request_timeout"`
	RetryAttempts  int      `koanf:"retry_attempts"`
	RetryBackoff   Duration `koanf:"retry_backoff"`
}

// ChromemConfig configures the embedded chromem-go database.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// GraphConfig configures the graph store.
type GraphConfig struct {
	Provider string      `koanf:"provider"` // neo4j | memory | none
	Clear    bool        `koanf:"clear"`
	Neo4j    Neo4jConfig `koanf:"neo4j"`
}

// Neo4jConfig configures the Neo4j driver.
type Neo4jConfig struct {
	URI            string   `koanf:"uri"`
	User           string   `koanf:"user"`
	Password       Secret   `koanf:"password"`
	Database       string   `koanf:"database"`
	MaxPoolSize    int      `koanf:"max_pool_size"`
	ConnectTimeout Duration `koanf:"connect_timeout"`
}

// SimilarityOverrides override the active profile when non-zero.
type SimilarityOverrides struct {
	Threshold float64 `koanf:"threshold"`
	TopK      int     `koanf:"top_k"`
}

// SearchConfig tunes semantic search.
type SearchConfig struct {
	// Rerank reorders vector hits by lexical overlap with the query.
	Rerank bool `koanf:"rerank"`
	// RerankWeight is the weight of lexical overlap in (0,1].
	RerankWeight float64 `koanf:"rerank_weight"`
	// Candidates is the multiple of the requested limit fetched before
	// reranking.
	Candidates int `koanf:"candidates"`
}

// SecretsConfig configures secret redaction.
type SecretsConfig struct {
	Redact    bool   `koanf:"redact"`
	Allowlist string `koanf:"allowlist"`
}

// RunConfig configures run metadata outputs.
type RunConfig struct {
	SummaryPath     string `koanf:"summary_path"`
	LedgerPath      string `koanf:"ledger_path"`
	MetricsTextfile string `koanf:"metrics_textfile"`
}

// NotifyConfig publishes run summaries to NATS when URL is set.
type NotifyConfig struct {
	NATSURL string   `koanf:"nats_url"`
	Subject string   `koanf:"subject"`
	Timeout Duration `koanf:"timeout"`
}

// ServerConfig configures the HTTP API served by "docgraph serve".
type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // grpc | http/protobuf
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Corpus: CorpusPages,
		Corpora: map[string]CorpusConfig{
			CorpusPages: {
				Kind:           "page",
				Source:         "pages",
				Label:          "Page",
				KeyProperty:    "id",
				Collection:     "notion_pages",
				HeaderStyle:    "title",
				MaxChars:       4096,
				PreviewChars:   500,
				BatchSize:      4,
				FlushSize:      10,
				TopK:           5,
				Threshold:      0.75,
				Relationship:   "SIMILAR_TO",
				ScrollPageSize: 100,
				PayloadIndexes: []PayloadIndex{{Field: "word_count", Type: "integer"}},
			},
			CorpusCode: {
				Kind:           "code",
				Source:         "files",
				Label:          "CodeFile",
				KeyProperty:    "path",
				Collection:     "code_files",
				HeaderStyle:    "file",
				MaxChars:       8000,
				PreviewChars:   1000,
				RequireBody:    true,
				BatchSize:      4,
				FlushSize:      20,
				TopK:           10,
				Threshold:      0.75,
				Relationship:   "SIMILAR_TO",
				ScrollPageSize: 100,
				PayloadIndexes: []PayloadIndex{
					{Field: "module", Type: "keyword"},
					{Field: "lines", Type: "integer"},
				},
			},
		},
		Source: SourceConfig{
			Pages: PagesSourceConfig{Path: "notion_export/pages.json", PageSize: 100},
			Files: FilesSourceConfig{
				Root:        ".",
				Include:     []string{"*.swift"},
				MaxFileSize: 1 << 20,
				IgnoreFiles: []string{".gitignore", ".docgraphignore"},
				PageSize:    100,
			},
			GitHub: GitHubSourceConfig{
				MaxFileSize:       1 << 20,
				PageSize:          100,
				Include:           []string{"*.swift"},
				RequestsPerSecond: 10,
			},
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "tei",
			BaseURL:   "http://localhost:8080",
			Model:     "BAAI/bge-m3",
			Dimension: 1024,
			Timeout:   Duration(2 * time.Minute),
		},
		VectorStore: VectorStoreConfig{
			Provider:         "qdrant",
			RetryDelay:       Duration(2 * time.Second),
			IdentityStrategy: "auto",
			Qdrant: QdrantConfig{
				Host:           "localhost",
				Port:           6334,
				MaxMessageSize: 50 * 1024 * 1024,
				DialTimeout:    Duration(5 * time.Second),
				RequestTimeout: Duration(30 * time.Second),
				RetryAttempts:  3,
				RetryBackoff:   Duration(time.Second),
			},
			Chromem: ChromemConfig{Path: ".docgraph/vectors", Compress: true},
		},
		Graph: GraphConfig{
			Provider: "neo4j",
			Neo4j: Neo4jConfig{
				URI:            "bolt://localhost:7687",
				User:           "neo4j",
				Database:       "neo4j",
				MaxPoolSize:    10,
				ConnectTimeout: Duration(5 * time.Second),
			},
		},
		Search:  SearchConfig{RerankWeight: 0.5, Candidates: 3},
		Secrets: SecretsConfig{Redact: true},
		Run: RunConfig{
			SummaryPath: ".docgraph/{corpus}_stats.json",
			LedgerPath:  ".docgraph/runs.db",
		},
		Notify:  NotifyConfig{Subject: "docgraph.runs", Timeout: Duration(5 * time.Second)},
		Server:  ServerConfig{Addr: "127.0.0.1:8090"},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			ServiceName: "docgraph",
			SampleRate:  1.0,
		},
	}
}

// Profile returns the active corpus profile with overrides applied.
func (c *Config) Profile() (CorpusConfig, error) {
	p, ok := c.Corpora[c.Corpus]
	if !ok {
		return CorpusConfig{}, fmt.Errorf("%w: unknown corpus %q (known: %s)", ErrInvalid, c.Corpus, strings.Join(c.corpusNames(), ", "))
	}
	if c.VectorStore.Collection != "" {
		p.Collection = c.VectorStore.Collection
	}
	if c.Similarity.Threshold != 0 {
		p.Threshold = c.Similarity.Threshold
	}
	if c.Similarity.TopK != 0 {
		p.TopK = c.Similarity.TopK
	}
	return p, nil
}

func (c *Config) corpusNames() []string {
	names := make([]string, 0, len(c.Corpora))
	for name := range c.Corpora {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SummaryPath returns Run.SummaryPath with {corpus} expanded.
func (c *Config) SummaryPath() string {
	return strings.ReplaceAll(c.Run.SummaryPath, "{corpus}", sanitize.Identifier(c.Corpus))
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the configuration and the active profile.
func (c *Config) Validate() error {
	p, err := c.Profile()
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("corpus %q: %w", c.Corpus, err)
	}

	switch c.Embeddings.Provider {
	case "tei", "openai":
		if c.Embeddings.BaseURL == "" {
			return fmt.Errorf("%w: embeddings.base_url is required for %s", ErrInvalid, c.Embeddings.Provider)
		}
	case "fastembed":
	default:
		return fmt.Errorf("%w: unknown embeddings.provider %q", ErrInvalid, c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension < 1 {
		return fmt.Errorf("%w: embeddings.dimension must be >= 1, got %d", ErrInvalid, c.Embeddings.Dimension)
	}
	if c.Embeddings.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: embeddings.requests_per_second must be >= 0", ErrInvalid)
	}

	switch c.VectorStore.Provider {
	case "qdrant":
		if c.VectorStore.Qdrant.Host == "" {
			return fmt.Errorf("%w: vectorstore.qdrant.host is required", ErrInvalid)
		}
		if c.VectorStore.Qdrant.Port <= 0 || c.VectorStore.Qdrant.Port > 65535 {
			return fmt.Errorf("%w: invalid vectorstore.qdrant.port %d", ErrInvalid, c.VectorStore.Qdrant.Port)
		}
	case "chromem":
		if c.VectorStore.Chromem.Path == "" {
			return fmt.Errorf("%w: vectorstore.chromem.path is required", ErrInvalid)
		}
	case "memory":
	default:
		return fmt.Errorf("%w: unknown vectorstore.provider %q", ErrInvalid, c.VectorStore.Provider)
	}
	switch c.VectorStore.IdentityStrategy {
	case "", "auto", "hash":
	default:
		return fmt.Errorf("%w: unknown vectorstore.identity_strategy %q", ErrInvalid, c.VectorStore.IdentityStrategy)
	}

	switch c.Graph.Provider {
	case "neo4j":
		if c.Graph.Neo4j.URI == "" {
			return fmt.Errorf("%w: graph.neo4j.uri is required", ErrInvalid)
		}
	case "memory", "none":
	default:
		return fmt.Errorf("%w: unknown graph.provider %q", ErrInvalid, c.Graph.Provider)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: logging.format must be json or console", ErrInvalid)
	}
	for name, patterns := range map[string][]string{
		"source.files.include":  c.Source.Files.Include,
		"source.github.include": c.Source.GitHub.Include,
	} {
		if err := sanitize.ValidateGlobPatterns(patterns); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalid, name, err)
		}
	}
	if c.Search.RerankWeight <= 0 || c.Search.RerankWeight > 1 {
		return fmt.Errorf("%w: search.rerank_weight must be in (0,1], got %v", ErrInvalid, c.Search.RerankWeight)
	}
	if c.Search.Candidates < 1 {
		return fmt.Errorf("%w: search.candidates must be >= 1, got %d", ErrInvalid, c.Search.Candidates)
	}
	if c.Source.GitHub.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: source.github.requests_per_second must be >= 0", ErrInvalid)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("%w: telemetry.sample_rate must be within [0,1]", ErrInvalid)
	}
	return nil
}

// Validate checks a single corpus profile.
func (p CorpusConfig) Validate() error {
	switch p.Kind {
	case "page", "code":
	default:
		return fmt.Errorf("%w: kind must be page or code, got %q", ErrInvalid, p.Kind)
	}
	switch p.Source {
	case "pages", "files", "github":
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalid, p.Source)
	}
	switch p.HeaderStyle {
	case "title", "file":
	default:
		return fmt.Errorf("%w: unknown header_style %q", ErrInvalid, p.HeaderStyle)
	}
	if p.Threshold <= 0 || p.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be in (0,1], got %v", ErrInvalid, p.Threshold)
	}
	if p.TopK < 1 {
		return fmt.Errorf("%w: top_k must be >= 1, got %d", ErrInvalid, p.TopK)
	}
	if p.BatchSize < 1 {
		return fmt.Errorf("%w: batch_size must be >= 1, got %d", ErrInvalid, p.BatchSize)
	}
	if p.FlushSize < 1 {
		return fmt.Errorf("%w: flush_size must be >= 1, got %d", ErrInvalid, p.FlushSize)
	}
	if p.ScrollPageSize < 1 {
		return fmt.Errorf("%w: scroll_page_size must be >= 1, got %d", ErrInvalid, p.ScrollPageSize)
	}
	if p.MaxChars < 0 || p.PreviewChars < 0 {
		return fmt.Errorf("%w: max_chars and preview_chars must be >= 0", ErrInvalid)
	}
	if err := sanitize.ValidateCollection(p.Collection); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	for name, ident := range map[string]string{
		"label":        p.Label,
		"key_property": p.KeyProperty,
		"relationship": p.Relationship,
	} {
		if !identifierPattern.MatchString(ident) {
			return fmt.Errorf("%w: %s %q is not a valid graph identifier", ErrInvalid, name, ident)
		}
	}
	for _, idx := range p.PayloadIndexes {
		if idx.Field == "" || (idx.Type != "keyword" && idx.Type != "integer") {
			return fmt.Errorf("%w: payload index %+v needs a field and type keyword|integer", ErrInvalid, idx)
		}
	}
	return nil
}
