package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Allowlist contains content regex patterns and literal stopwords that are
// never treated as secrets.
type Allowlist struct {
	Regexes   []string
	StopWords []string
}

// LoadAllowlist reads the [allowlist] table of a Gitleaks-style TOML file.
// A missing file yields an empty allowlist.
func LoadAllowlist(path string) (*Allowlist, error) {
	if path == "" {
		return &Allowlist{}, nil
	}

	var file struct {
		Allowlist struct {
			Regexes   []string `toml:"regexes"`
			StopWords []string `toml:"stopwords"`
		} `toml:"allowlist"`
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Allowlist{}, nil
		}
		return nil, err
	}

	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, pattern := range file.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: '%s' in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}

	return &Allowlist{
		Regexes:   file.Allowlist.Regexes,
		StopWords: file.Allowlist.StopWords,
	}, nil
}

// apply appends the allowlist to a Gitleaks config. Patterns were compiled
// once by LoadAllowlist, so a failure here is a programming error.
func (a *Allowlist) apply(cfg *gitleaksConfig.Config) error {
	if a == nil || (len(a.Regexes) == 0 && len(a.StopWords) == 0) {
		return nil
	}
	entry := &gitleaksConfig.Allowlist{
		Description: "docgraph allowlist",
		StopWords:   append([]string(nil), a.StopWords...),
	}
	for _, pattern := range a.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidRegex, pattern, err)
		}
		entry.Regexes = append(entry.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	cfg.Allowlists = append(cfg.Allowlists, entry)
	return nil
}
