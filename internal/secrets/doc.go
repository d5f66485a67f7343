// Package secrets redacts credentials from text before it leaves the process.
//
// Detection uses the Gitleaks default rule set. Every detected secret is
// replaced by a "[REDACTED:<rule-id>]" marker, which keeps enough context for
// the embedding while dropping the value itself. Allowlists are read from
// Gitleaks-style TOML files.
package secrets
