package sanitize

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

var (
	// ErrInvalidCollection indicates a collection name the vector stores
	// would reject.
	ErrInvalidCollection = errors.New("invalid collection name")

	// ErrInvalidPattern indicates a malformed or unsafe glob pattern.
	ErrInvalidPattern = errors.New("invalid pattern")
)

var (
	collectionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

	// Shell metacharacters and runs of dots or stars never appear in
	// legitimate include patterns.
	dangerousPatternChars = regexp.MustCompile("[;|$`\\\\<>&(){}]|\\.{3,}|\\*{3,}")
)

// ValidateCollection checks that name can be used as a collection name.
func ValidateCollection(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollection)
	}
	if !collectionPattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match %s, got %q", ErrInvalidCollection, collectionPattern, name)
	}
	return nil
}

// ValidateGlobPattern checks a path.Match pattern for syntax errors,
// traversal and shell metacharacters. The empty pattern is allowed.
func ValidateGlobPattern(pattern string) error {
	if pattern == "" {
		return nil
	}
	if dangerousPatternChars.MatchString(pattern) {
		return fmt.Errorf("%w: %q contains unsafe characters", ErrInvalidPattern, pattern)
	}
	if strings.Contains(pattern, "..") {
		return fmt.Errorf("%w: %q contains path traversal", ErrInvalidPattern, pattern)
	}
	if _, err := path.Match(pattern, "test"); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
	}
	return nil
}

// ValidateGlobPatterns validates every pattern and reports the first
// failure with its index.
func ValidateGlobPatterns(patterns []string) error {
	for i, p := range patterns {
		if err := ValidateGlobPattern(p); err != nil {
			return fmt.Errorf("pattern[%d]: %w", i, err)
		}
	}
	return nil
}
