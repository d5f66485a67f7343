// Package vectorstore defines the vector index contract used by the
// pipeline and the Writer that buffers points into it.
//
// Implementations:
//   - qdrant.Index (package internal/qdrant): external Qdrant over gRPC
//   - ChromemIndex: embedded chromem-go database persisted to disk
//   - MemoryIndex: brute-force cosine index for dry runs and tests
//
// Every implementation ranks query results by descending cosine
// similarity and pages full scans with an opaque cursor. Point ids are
// produced by the identity mapper, so an upsert of the same document
// always replaces the same point.
package vectorstore
