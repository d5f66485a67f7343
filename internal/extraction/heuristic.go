package extraction

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/fyrsmithlabs/docgraph/internal/document"
)

// PatternExtractor implements Extractor with regular expressions.
type PatternExtractor struct {
	patterns []*compiledPattern
}

// compiledPattern holds a pre-compiled regex pattern.
type compiledPattern struct {
	Pattern
	regex *regexp.Regexp
}

// SwiftPatterns returns the declaration rules used for .swift files.
func SwiftPatterns() []Pattern {
	return []Pattern{
		{Field: FieldImports, Regex: `(?m)^import\s+(\w+)`},
		{Field: FieldClasses, Regex: `(?:final\s+)?class\s+(\w+)`},
		{Field: FieldStructs, Regex: `struct\s+(\w+)`},
		{Field: FieldEnums, Regex: `enum\s+(\w+)`},
		{Field: FieldProtocols, Regex: `protocol\s+(\w+)`},
		{Field: FieldExtensions, Regex: `extension\s+(\w+)`},
		{Field: FieldFunctions, Regex: `(?:public|internal|private|open|fileprivate)?\s*func\s+(\w+)`},
	}
}

// NewPatternExtractor compiles patterns. Every pattern needs one capture group.
func NewPatternExtractor(patterns []Pattern) (*PatternExtractor, error) {
	compiled := make([]*compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("compiling %s pattern: %w", p.Field, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("%s pattern %q has no capture group", p.Field, p.Regex)
		}
		compiled = append(compiled, &compiledPattern{Pattern: p, regex: re})
	}
	return &PatternExtractor{patterns: compiled}, nil
}

// Extract applies every rule to content.
func (e *PatternExtractor) Extract(_ string, content string) document.Symbols {
	found := make(map[Field][]string)
	for _, p := range e.patterns {
		for _, m := range p.regex.FindAllStringSubmatch(content, -1) {
			found[p.Field] = append(found[p.Field], m[1])
		}
	}
	return buildSymbols(found)
}

// buildSymbols dedups and sorts each slot so output is stable across runs.
func buildSymbols(found map[Field][]string) document.Symbols {
	s := document.Symbols{
		Imports:    uniqueSorted(found[FieldImports]),
		Classes:    uniqueSorted(found[FieldClasses]),
		Structs:    uniqueSorted(found[FieldStructs]),
		Enums:      uniqueSorted(found[FieldEnums]),
		Protocols:  uniqueSorted(found[FieldProtocols]),
		Extensions: uniqueSorted(found[FieldExtensions]),
		Functions:  uniqueSorted(found[FieldFunctions]),
	}
	if len(s.Functions) > MaxFunctions {
		s.Functions = s.Functions[:MaxFunctions]
	}
	return s
}

func uniqueSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

var _ Extractor = (*PatternExtractor)(nil)
