// Package extraction pulls declared symbols out of source files.
//
// Extractors are pluggable and keyed by file extension. Their output is
// descriptive metadata stored in the vector payload and graph properties;
// nothing in the pipeline branches on it.
//
// Two extractors are provided:
//   - PatternExtractor: regex rules, with a default rule set for Swift
//   - GoExtractor: go/parser based declarations for Go files
//
// Usage:
//
//	reg := extraction.NewDefaultRegistry()
//	symbols := reg.Extract("Sources/App/HomeView.swift", content)
package extraction
