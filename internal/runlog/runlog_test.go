package runlog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docgraph/internal/graph"
	"github.com/fyrsmithlabs/docgraph/internal/similarity"
	"github.com/fyrsmithlabs/docgraph/internal/source"
	"github.com/fyrsmithlabs/docgraph/internal/vectorstore"
)

func sampleSummary(id, corpus string, started time.Time) *Summary {
	s := &Summary{
		RunID:      id,
		Corpus:     corpus,
		Collection: "code_files",
		Source:     "files",
		VectorDim:  1024,
		StartedAt:  started,
		Ingest: &IngestStats{
			Total:       10,
			Processed:   7,
			Skipped:     2,
			Invalid:     1,
			EmbedErrors: 1,
			Writer:      vectorstore.WriterStats{Written: 7, Errors: 2, DroppedBatches: 1},
			Graph:       graph.Stats{NodeErrors: 1, Structural: map[string]int{"BELONGS_TO": 9}},
			Modules:     []string{"App", "Root"},
		},
		Resolve: &ResolveStats{
			Similarity: similarity.Stats{Points: 7, Edges: 5, Errors: 1},
			Graph:      graph.Stats{SimilarityErrors: 1},
		},
		Revision: &source.Revision{Commit: "abc123", Branch: "main"},
	}
	s.Finish(started.Add(90*time.Second), nil)
	return s
}

func TestSummaryTotals(t *testing.T) {
	s := sampleSummary("r1", "code", time.Date(2024, 5, 17, 9, 0, 0, 0, time.UTC))

	assert.Equal(t, StatusCompleted, s.Status)
	assert.Equal(t, 90.0, s.DurationSeconds)
	assert.Equal(t, 7, s.Processed())
	assert.Equal(t, 3, s.Skipped())
	// embed 1 + writer 2 + node 1 + query 1 + similarity write 1
	assert.Equal(t, 6, s.Errors())
	assert.Equal(t, 5, s.Edges())

	empty := &Summary{StartedAt: time.Now()}
	empty.Finish(time.Now(), errors.New("collection missing"))
	assert.Equal(t, StatusFailed, empty.Status)
	assert.Equal(t, "collection missing", empty.Error)
	assert.Zero(t, empty.Processed())
	assert.Zero(t, empty.Skipped())
	assert.Zero(t, empty.Errors())
	assert.Zero(t, empty.Edges())
}

func TestWriteReadSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "code_stats.json")
	s := sampleSummary("r1", "code", time.Date(2024, 5, 17, 9, 0, 0, 0, time.UTC))

	require.NoError(t, WriteSummary(path, s))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	got, err := ReadSummary(path)
	require.NoError(t, err)
	assert.Equal(t, s.RunID, got.RunID)
	assert.Equal(t, s.Ingest.Modules, got.Ingest.Modules)
	assert.Equal(t, 5, got.Edges())
	assert.Equal(t, "abc123", got.Revision.Commit)

	// Rewrite replaces the file and leaves no temp files behind.
	s.Status = StatusFailed
	require.NoError(t, WriteSummary(path, s))
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := OpenLedger(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, l.Close()) })
	return l
}

func TestLedger_RecordAndList(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 17, 9, 0, 0, 0, time.UTC)

	require.NoError(t, l.Record(ctx, sampleSummary("r1", "code", base)))
	require.NoError(t, l.Record(ctx, sampleSummary("r2", "pages", base.Add(time.Minute))))
	require.NoError(t, l.Record(ctx, sampleSummary("r3", "code", base.Add(2*time.Minute+500*time.Millisecond))))

	all, err := l.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"r3", "r2", "r1"}, []string{all[0].RunID, all[1].RunID, all[2].RunID})

	code, err := l.Recent(ctx, "code", 1)
	require.NoError(t, err)
	require.Len(t, code, 1)
	e := code[0]
	assert.Equal(t, "r3", e.RunID)
	assert.True(t, base.Add(2*time.Minute+500*time.Millisecond).Equal(e.StartedAt))
	assert.Equal(t, 90*time.Second, e.Duration)
	assert.Equal(t, 7, e.Processed)
	assert.Equal(t, 3, e.Skipped)
	assert.Equal(t, 6, e.Errors)
	assert.Equal(t, 5, e.Edges)
	assert.Equal(t, "abc123", e.Revision)
	assert.Equal(t, StatusCompleted, e.Status)
}

func TestLedger_RecordReplacesSameRun(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	s := sampleSummary("r1", "code", time.Now())
	require.NoError(t, l.Record(ctx, s))
	s.Finish(time.Now(), errors.New("neo4j unreachable"))
	require.NoError(t, l.Record(ctx, s))

	entries, err := l.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, StatusFailed, entries[0].Status)
	assert.Equal(t, "neo4j unreachable", entries[0].Error)

	got, err := l.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 7, got.Processed())
}

func TestLedger_Errors(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	_, err := l.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	assert.Error(t, l.Record(ctx, &Summary{}))

	_, err = OpenLedger("")
	assert.Error(t, err)
}

func TestLedger_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	l, err := OpenLedger(path)
	require.NoError(t, err)
	v, err := l.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	require.NoError(t, l.Record(ctx, sampleSummary("r1", "code", time.Now())))
	require.NoError(t, l.Close())

	l, err = OpenLedger(path)
	require.NoError(t, err)
	defer l.Close()
	v, err = l.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	entries, err := l.Recent(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
