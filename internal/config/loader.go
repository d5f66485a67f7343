package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every docgraph environment variable.
	EnvPrefix = "DOCGRAPH_"
)

// envAliases maps the unprefixed variable names used by existing
// deployments to config keys.
var envAliases = map[string]string{
	"NEO4J_URI":            "graph.neo4j.uri",
	"NEO4J_USER":           "graph.neo4j.user",
	"NEO4J_PASSWORD":       "graph.neo4j.password",
	"NEO4J_DATABASE":       "graph.neo4j.database",
	"QDRANT_HOST":          "vectorstore.qdrant.host",
	"QDRANT_PORT":          "vectorstore.qdrant.port",
	"QDRANT_COLLECTION":    "vectorstore.collection",
	"VECTOR_DIM":           "embeddings.dimension",
	"SIMILARITY_THRESHOLD": "similarity.threshold",
	"EMBEDDING_BASE_URL":   "embeddings.base_url",
	"EMBEDDING_MODEL":      "embeddings.model",
	"OPENAI_API_KEY":       "embeddings.api_key",
	"GITHUB_TOKEN":         "source.github.token",
	"NATS_URL":             "notify.nats_url",
}

// Load reads configuration from defaults, the YAML file at path (if it
// exists) and the environment, in increasing precedence.
//
// Environment variables use the DOCGRAPH_ prefix and a double underscore
// between nesting levels:
//
//	DOCGRAPH_VECTORSTORE__QDRANT__HOST -> vectorstore.qdrant.host
//	DOCGRAPH_CORPORA__CODE__TOP_K      -> corpora.code.top_k
//
// The file must have 0600 or 0400 permissions and be at most 1MB.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults are loaded as a layer so that partial corpus profiles in
	// the file merge with the built-in profile instead of replacing it.
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		content, err := readConfigFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps an environment variable name to a config key. Returning ""
// tells koanf to skip the variable.
func envKey(name string) string {
	if key, ok := envAliases[name]; ok {
		return key
	}
	if !strings.HasPrefix(name, EnvPrefix) {
		return ""
	}
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// readConfigFile opens path once and validates it through the open
// descriptor to avoid a stat/open race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", info.Name())
	}
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0o600 && perm != 0o400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
