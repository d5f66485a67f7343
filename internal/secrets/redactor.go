package secrets

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Finding is a detected secret. The value is kept only long enough to
// redact it and is never logged.
type Finding struct {
	RuleID string
	Line   int
	Match  string
}

// Redactor replaces detected secrets with markers.
type Redactor interface {
	Redact(text string) (string, []Finding)
}

// GitleaksRedactor runs the Gitleaks default rule set. The detector is
// built once; it is not safe for concurrent use.
type GitleaksRedactor struct {
	detector *detect.Detector
}

// NewGitleaksRedactor builds a detector with the default config plus allowlist.
func NewGitleaksRedactor(allowlist *Allowlist) (*GitleaksRedactor, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating gitleaks detector: %w", err)
	}
	if err := allowlist.apply(&detector.Config); err != nil {
		return nil, err
	}
	return &GitleaksRedactor{detector: detector}, nil
}

// Redact implements Redactor.
func (r *GitleaksRedactor) Redact(text string) (string, []Finding) {
	if text == "" {
		return text, nil
	}
	raw := r.detector.DetectString(text)
	if len(raw) == 0 {
		return text, nil
	}
	findings := make([]Finding, 0, len(raw))
	for _, f := range raw {
		findings = append(findings, Finding{
			RuleID: f.RuleID,
			Line:   f.StartLine,
			Match:  f.Secret,
		})
	}
	return ReplaceFindings(text, findings), findings
}

// ReplaceFindings substitutes every occurrence of each finding's value.
// Longer values go first so that a secret containing another is replaced whole.
func ReplaceFindings(text string, findings []Finding) string {
	sorted := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if f.Match != "" {
			sorted = append(sorted, f)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Match) > len(sorted[j].Match)
	})
	for _, f := range sorted {
		text = strings.ReplaceAll(text, f.Match, Marker(f.RuleID))
	}
	return text
}

// Marker returns the replacement text for a rule.
func Marker(ruleID string) string {
	return "[REDACTED:" + ruleID + "]"
}

// NopRedactor returns its input unchanged.
type NopRedactor struct{}

// Redact implements Redactor.
func (NopRedactor) Redact(text string) (string, []Finding) { return text, nil }

var (
	_ Redactor = (*GitleaksRedactor)(nil)
	_ Redactor = NopRedactor{}
)
