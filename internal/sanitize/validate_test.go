package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateCollection(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "valid", in: "code_files"},
		{name: "digits", in: "pages_2024"},
		{name: "empty", in: "", wantErr: true},
		{name: "uppercase and dash", in: "Notion-Pages"},
		{name: "space", in: "notion pages", wantErr: true},
		{name: "traversal", in: "../pages", wantErr: true},
		{name: "slash", in: "x/y", wantErr: true},
		{name: "too long", in: strings.Repeat("a", 65), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCollection(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCollection)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateGlobPattern(t *testing.T) {
	tests := []struct {
		pattern string
		wantErr bool
	}{
		{pattern: ""},
		{pattern: "*.swift"},
		{pattern: "Sources/*.go"},
		{pattern: "[a-z]*.md"},
		{pattern: "[", wantErr: true},
		{pattern: "../*.go", wantErr: true},
		{pattern: "*.go; rm -rf /", wantErr: true},
		{pattern: "$(whoami)", wantErr: true},
		{pattern: "*.{md,txt}", wantErr: true},
		{pattern: "a***", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			err := ValidateGlobPattern(tt.pattern)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPattern)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateGlobPatterns_ReportsIndex(t *testing.T) {
	err := ValidateGlobPatterns([]string{"*.go", "*.md", "["})
	assert.ErrorIs(t, err, ErrInvalidPattern)
	assert.Contains(t, err.Error(), "pattern[2]")
	assert.NoError(t, ValidateGlobPatterns(nil))
}
