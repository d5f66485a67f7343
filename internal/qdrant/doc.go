// Package qdrant implements vectorstore.Index on Qdrant over gRPC.
//
// Reads (collection info, query, scroll, count) are retried with
// exponential backoff on transient gRPC codes. Upserts are never retried
// here; vectorstore.Writer owns that policy.
package qdrant
