package qdrant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fyrsmithlabs/docgraph/internal/logging"
	"github.com/fyrsmithlabs/docgraph/internal/vectorstore"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeAPI records requests and replays scripted errors per method.
type fakeAPI struct {
	errs map[string][]error

	calls map[string]int

	exists     bool
	info       *qdrant.CollectionInfo
	count      uint64
	hits       []*qdrant.ScoredPoint
	pages      [][]*qdrant.RetrievedPoint
	offsets    []*qdrant.PointId
	upserts    []*qdrant.UpsertPoints
	indexes    []*qdrant.CreateFieldIndexCollection
	created    []*qdrant.CreateCollection
	scrollReqs []*qdrant.ScrollPoints
	deleted    []string
	closed     bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{errs: map[string][]error{}, calls: map[string]int{}}
}

func (f *fakeAPI) next(method string) error {
	f.calls[method]++
	queue := f.errs[method]
	if len(queue) == 0 {
		return nil
	}
	f.errs[method] = queue[1:]
	return queue[0]
}

func (f *fakeAPI) HealthCheck(context.Context) (*qdrant.HealthCheckReply, error) {
	if err := f.next("HealthCheck"); err != nil {
		return nil, err
	}
	return &qdrant.HealthCheckReply{Title: "qdrant", Version: "1.16.0"}, nil
}

func (f *fakeAPI) CollectionExists(context.Context, string) (bool, error) {
	if err := f.next("CollectionExists"); err != nil {
		return false, err
	}
	return f.exists, nil
}

func (f *fakeAPI) GetCollectionInfo(context.Context, string) (*qdrant.CollectionInfo, error) {
	if err := f.next("GetCollectionInfo"); err != nil {
		return nil, err
	}
	return f.info, nil
}

func (f *fakeAPI) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.created = append(f.created, req)
	return f.next("CreateCollection")
}

func (f *fakeAPI) DeleteCollection(_ context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	return f.next("DeleteCollection")
}

func (f *fakeAPI) CreateFieldIndex(_ context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error) {
	f.indexes = append(f.indexes, req)
	return &qdrant.UpdateResult{}, f.next("CreateFieldIndex")
}

func (f *fakeAPI) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.upserts = append(f.upserts, req)
	if err := f.next("Upsert"); err != nil {
		return nil, err
	}
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeAPI) Query(context.Context, *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	if err := f.next("Query"); err != nil {
		return nil, err
	}
	return f.hits, nil
}

func (f *fakeAPI) ScrollAndOffset(_ context.Context, req *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error) {
	f.scrollReqs = append(f.scrollReqs, req)
	if err := f.next("ScrollAndOffset"); err != nil {
		return nil, nil, err
	}
	i := len(f.scrollReqs) - 1
	if i >= len(f.pages) {
		return nil, nil, nil
	}
	return f.pages[i], f.offsets[i], nil
}

func (f *fakeAPI) Count(context.Context, *qdrant.CountPoints) (uint64, error) {
	if err := f.next("Count"); err != nil {
		return 0, err
	}
	return f.count, nil
}

func (f *fakeAPI) Close() error {
	f.closed = true
	return nil
}

func newTestClient(t *testing.T, fake *fakeAPI) (*GRPCClient, *logging.TestLogger) {
	t.Helper()
	cfg := DefaultClientConfig()
	cfg.RetryAttempts = 2
	cfg.RetryBackoff = time.Millisecond
	logger := logging.NewTestLogger()
	c := newClient(fake, cfg, logger.Logger)
	c.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return c, logger
}

func unavailable() error { return status.Error(codes.Unavailable, "connection refused") }

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"unavailable", status.Error(codes.Unavailable, "x"), true},
		{"deadline", status.Error(codes.DeadlineExceeded, "x"), true},
		{"aborted", status.Error(codes.Aborted, "x"), true},
		{"exhausted", status.Error(codes.ResourceExhausted, "x"), true},
		{"not found", status.Error(codes.NotFound, "x"), false},
		{"invalid", status.Error(codes.InvalidArgument, "x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransientError(tt.err))
		})
	}
}

func TestClientConfig(t *testing.T) {
	cfg := &ClientConfig{}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, time.Second, cfg.RetryBackoff)
	assert.Equal(t, qdrant.Distance_Cosine, cfg.Distance)

	bad := DefaultClientConfig()
	bad.Port = 70000
	assert.Error(t, bad.Validate())

	bad = DefaultClientConfig()
	bad.RetryAttempts = -1
	assert.Error(t, bad.Validate())
}

func TestNewGRPCClient_RequiresLogger(t *testing.T) {
	_, err := NewGRPCClient(nil, nil)
	require.Error(t, err)
}

func TestRetryOperation(t *testing.T) {
	t.Run("recovers after transient errors", func(t *testing.T) {
		fake := newFakeAPI()
		fake.count = 42
		fake.errs["Count"] = []error{unavailable(), unavailable()}
		c, logger := newTestClient(t, fake)

		n, err := c.Count(context.Background(), "docs")
		require.NoError(t, err)
		assert.Equal(t, 42, n)
		assert.Equal(t, 3, fake.calls["Count"])
		logger.AssertLogged(t, zapcore.InfoLevel, "operation recovered after retries")
	})

	t.Run("gives up after retry budget", func(t *testing.T) {
		fake := newFakeAPI()
		fake.errs["Count"] = []error{unavailable(), unavailable(), unavailable()}
		c, logger := newTestClient(t, fake)

		_, err := c.Count(context.Background(), "docs")
		require.Error(t, err)
		assert.Equal(t, codes.Unavailable, status.Code(err))
		assert.Equal(t, 3, fake.calls["Count"])
		logger.AssertLogged(t, zapcore.WarnLevel, "operation failed after all retries exhausted")
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		fake := newFakeAPI()
		fake.errs["Count"] = []error{status.Error(codes.PermissionDenied, "nope")}
		c, _ := newTestClient(t, fake)

		_, err := c.Count(context.Background(), "docs")
		require.Error(t, err)
		assert.Equal(t, 1, fake.calls["Count"])
	})
}

func TestUpsert_SingleAttempt(t *testing.T) {
	fake := newFakeAPI()
	fake.errs["Upsert"] = []error{unavailable()}
	c, _ := newTestClient(t, fake)

	err := c.Upsert(context.Background(), "docs", []vectorstore.Point{
		{ID: "7d444840-9dc0-11d1-b245-5ffdce74fad2", Vector: []float32{1, 0}},
	})
	require.Error(t, err)
	assert.Equal(t, 1, fake.calls["Upsert"])
}

func TestUpsert_ConvertsPayload(t *testing.T) {
	fake := newFakeAPI()
	c, _ := newTestClient(t, fake)

	err := c.Upsert(context.Background(), "docs", []vectorstore.Point{{
		ID:     "7d444840-9dc0-11d1-b245-5ffdce74fad2",
		Vector: []float32{0.5, 0.5},
		Payload: map[string]any{
			"title":      "Intro",
			"word_count": 12,
			"tags":       []string{"a", "b"},
			"created":    time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		},
	}})
	require.NoError(t, err)
	require.Len(t, fake.upserts, 1)

	req := fake.upserts[0]
	assert.True(t, req.GetWait())
	require.Len(t, req.GetPoints(), 1)
	p := req.GetPoints()[0]
	assert.Equal(t, "7d444840-9dc0-11d1-b245-5ffdce74fad2", p.GetId().GetUuid())
	assert.Equal(t, "Intro", p.GetPayload()["title"].GetStringValue())
	assert.Equal(t, int64(12), p.GetPayload()["word_count"].GetIntegerValue())
	assert.Len(t, p.GetPayload()["tags"].GetListValue().GetValues(), 2)
	assert.Equal(t, "2024-03-01T10:00:00Z", p.GetPayload()["created"].GetStringValue())
}

func TestUpsert_EmptyIsNoop(t *testing.T) {
	fake := newFakeAPI()
	c, _ := newTestClient(t, fake)
	require.NoError(t, c.Upsert(context.Background(), "docs", nil))
	assert.Zero(t, fake.calls["Upsert"])
}

func TestVectorSize(t *testing.T) {
	t.Run("reads unnamed vector params", func(t *testing.T) {
		fake := newFakeAPI()
		fake.info = &qdrant.CollectionInfo{
			Config: &qdrant.CollectionConfig{
				Params: &qdrant.CollectionParams{
					VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: 1024, Distance: qdrant.Distance_Cosine}),
				},
			},
		}
		c, _ := newTestClient(t, fake)
		size, err := c.VectorSize(context.Background(), "docs")
		require.NoError(t, err)
		assert.Equal(t, 1024, size)
	})

	t.Run("missing collection", func(t *testing.T) {
		fake := newFakeAPI()
		fake.errs["GetCollectionInfo"] = []error{status.Error(codes.NotFound, "no such collection")}
		c, _ := newTestClient(t, fake)
		_, err := c.VectorSize(context.Background(), "docs")
		assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
	})
}

func TestCreateCollectionAndIndexes(t *testing.T) {
	fake := newFakeAPI()
	c, _ := newTestClient(t, fake)
	ctx := context.Background()

	require.NoError(t, c.CreateCollection(ctx, "code_files", 384))
	require.Len(t, fake.created, 1)
	params := fake.created[0].GetVectorsConfig().GetParams()
	assert.Equal(t, uint64(384), params.GetSize())
	assert.Equal(t, qdrant.Distance_Cosine, params.GetDistance())

	assert.ErrorIs(t, c.CreateCollection(ctx, "bad name", 384), vectorstore.ErrInvalidCollectionName)
	assert.ErrorIs(t, c.CreateCollection(ctx, "ok", 0), vectorstore.ErrInvalidConfig)

	require.NoError(t, c.CreatePayloadIndex(ctx, "code_files", "module", vectorstore.PayloadKeyword))
	require.NoError(t, c.CreatePayloadIndex(ctx, "code_files", "lines", vectorstore.PayloadInteger))
	require.Len(t, fake.indexes, 2)
	assert.Equal(t, qdrant.FieldType_FieldTypeKeyword, fake.indexes[0].GetFieldType())
	assert.Equal(t, qdrant.FieldType_FieldTypeInteger, fake.indexes[1].GetFieldType())
	assert.ErrorIs(t, c.CreatePayloadIndex(ctx, "code_files", "x", "geo"), vectorstore.ErrInvalidConfig)
}

func TestDeleteCollection_Missing(t *testing.T) {
	fake := newFakeAPI()
	c, _ := newTestClient(t, fake)
	require.NoError(t, c.DeleteCollection(context.Background(), "gone"))
	assert.Empty(t, fake.deleted)

	fake.exists = true
	require.NoError(t, c.DeleteCollection(context.Background(), "gone"))
	assert.Equal(t, []string{"gone"}, fake.deleted)
}

func TestQuery_ConvertsHits(t *testing.T) {
	fake := newFakeAPI()
	fake.hits = []*qdrant.ScoredPoint{
		{Id: qdrant.NewIDUUID("a"), Score: 0.9, Payload: qdrant.NewValueMap(map[string]any{"title": "A", "tags": []any{"x"}})},
		{Id: qdrant.NewIDNum(17), Score: 0.5},
	}
	c, _ := newTestClient(t, fake)

	hits, err := c.Query(context.Background(), "docs", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 0.9, hits[0].Score, 1e-6)
	assert.Equal(t, "A", hits[0].Payload["title"])
	assert.Equal(t, []any{"x"}, hits[0].Payload["tags"])
	assert.Equal(t, "17", hits[1].ID)
}

func TestScroll_Cursor(t *testing.T) {
	fake := newFakeAPI()
	fake.pages = [][]*qdrant.RetrievedPoint{
		{{Id: qdrant.NewIDUUID("a"), Vectors: &qdrant.VectorsOutput{
			VectorsOptions: &qdrant.VectorsOutput_Vector{Vector: &qdrant.VectorOutput{Data: []float32{1, 0}}},
		}}},
		{{Id: qdrant.NewIDUUID("b")}},
	}
	fake.offsets = []*qdrant.PointId{qdrant.NewIDUUID("b"), nil}
	c, _ := newTestClient(t, fake)

	var ids []string
	err := vectorstore.ScanAll(context.Background(), c, "docs", 1, func(points []vectorstore.Point) error {
		for _, p := range points {
			ids = append(ids, p.ID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
	require.Len(t, fake.scrollReqs, 2)
	assert.Nil(t, fake.scrollReqs[0].GetOffset())
	assert.Equal(t, "b", fake.scrollReqs[1].GetOffset().GetUuid())
	assert.True(t, fake.scrollReqs[0].GetWithVectors().GetEnable())
}

func TestPointIDRoundTrip(t *testing.T) {
	assert.Equal(t, "42", pointIDString(parsePointID("42")))
	assert.Equal(t, "0", pointIDString(qdrant.NewIDNum(0)))
	id := "7d444840-9dc0-11d1-b245-5ffdce74fad2"
	assert.Equal(t, id, pointIDString(parsePointID(id)))
	assert.Equal(t, "", pointIDString(nil))
}

func TestClose(t *testing.T) {
	fake := newFakeAPI()
	c, _ := newTestClient(t, fake)
	require.NoError(t, c.Close())
	assert.True(t, fake.closed)
}
