package embeddings

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/docgraph/internal/logging"
)

// scriptedEmbedder returns a one-element vector per text holding the text's
// length, and fails the calls listed in failCalls (zero based).
type scriptedEmbedder struct {
	calls     [][]string
	failCalls map[int]bool
	short     map[int]bool
}

func (s *scriptedEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	n := len(s.calls)
	s.calls = append(s.calls, append([]string(nil), texts...))
	if s.failCalls[n] {
		return nil, fmt.Errorf("%w: model overloaded", ErrEmbeddingFailed)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	if s.short[n] {
		out = out[:len(out)-1]
	}
	return out, nil
}

func TestBatchEmbedder_PreservesOrder(t *testing.T) {
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff", "g"}
	fake := &scriptedEmbedder{}
	b, err := NewBatchEmbedder(fake, BatchConfig{BatchSize: 3}, nil)
	require.NoError(t, err)

	res, err := b.Embed(context.Background(), texts)
	require.NoError(t, err)

	require.Len(t, fake.calls, 3)
	assert.Equal(t, []string{"a", "bb", "ccc"}, fake.calls[0])
	assert.Equal(t, []string{"dddd", "eeeee", "ffffff"}, fake.calls[1])
	assert.Equal(t, []string{"g"}, fake.calls[2])

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, res.Positions)
	for i, v := range res.Vectors {
		assert.Equal(t, float32(len(texts[res.Positions[i]])), v[0])
	}
	assert.Zero(t, res.Dropped)
	assert.Zero(t, res.FailedChunks)
}

func TestBatchEmbedder_DropsFailedChunk(t *testing.T) {
	tests := []struct {
		name          string
		fake          *scriptedEmbedder
		dimension     int
		wantPositions []int
		wantDropped   int
		wantFailed    int
	}{
		{
			name:          "call error",
			fake:          &scriptedEmbedder{failCalls: map[int]bool{1: true}},
			wantPositions: []int{0, 1, 4},
			wantDropped:   2,
			wantFailed:    1,
		},
		{
			name:          "count mismatch",
			fake:          &scriptedEmbedder{short: map[int]bool{0: true}},
			wantPositions: []int{2, 3, 4},
			wantDropped:   2,
			wantFailed:    1,
		},
		{
			name:        "dimension mismatch",
			fake:        &scriptedEmbedder{},
			dimension:   8,
			wantDropped: 5,
			wantFailed:  3,
		},
		{
			name:          "all fail but last",
			fake:          &scriptedEmbedder{failCalls: map[int]bool{0: true, 1: true}},
			wantPositions: []int{4},
			wantDropped:   4,
			wantFailed:    2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logging.NewTestLogger()
			b, err := NewBatchEmbedder(tt.fake, BatchConfig{BatchSize: 2, Dimension: tt.dimension}, logger.Logger)
			require.NoError(t, err)

			res, err := b.Embed(context.Background(), []string{"a", "b", "c", "d", "e"})
			require.NoError(t, err)

			assert.Len(t, tt.fake.calls, 3, "processing continues after a failed chunk")
			if tt.wantPositions == nil {
				assert.Empty(t, res.Positions)
			} else {
				assert.Equal(t, tt.wantPositions, res.Positions)
			}
			assert.Len(t, res.Vectors, len(res.Positions))
			assert.Equal(t, tt.wantDropped, res.Dropped)
			assert.Equal(t, tt.wantFailed, res.FailedChunks)
			assert.Equal(t, tt.wantFailed, logger.CountLevel(zapcore.WarnLevel))
		})
	}
}

func TestBatchEmbedder_Empty(t *testing.T) {
	fake := &scriptedEmbedder{}
	b, err := NewBatchEmbedder(fake, BatchConfig{BatchSize: 4}, nil)
	require.NoError(t, err)

	res, err := b.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Vectors)
	assert.Empty(t, fake.calls)
}

func TestBatchEmbedder_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := &scriptedEmbedder{}
	b, err := NewBatchEmbedder(fake, BatchConfig{BatchSize: 1, RequestsPerSecond: 1}, nil)
	require.NoError(t, err)

	res, err := b.Embed(ctx, []string{"a", "b"})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, res.Vectors)
	assert.Empty(t, fake.calls)
}

func TestNewBatchEmbedder_Validation(t *testing.T) {
	_, err := NewBatchEmbedder(nil, BatchConfig{BatchSize: 1}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewBatchEmbedder(&scriptedEmbedder{}, BatchConfig{BatchSize: 0}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewBatchEmbedder(&scriptedEmbedder{}, BatchConfig{BatchSize: 1, RequestsPerSecond: -1}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
