package qdrant

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/docgraph/internal/logging"
	"github.com/fyrsmithlabs/docgraph/internal/vectorstore"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const tracerName = "docgraph.qdrant"

// api is the subset of *qdrant.Client used by GRPCClient.
type api interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, collectionName string) error
	CreateFieldIndex(ctx context.Context, request *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	ScrollAndOffset(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Close() error
}

// GRPCClient implements vectorstore.Index using Qdrant's official Go client.
type GRPCClient struct {
	client api
	config *ClientConfig
	logger *logging.Logger
	tracer trace.Tracer
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewGRPCClient dials Qdrant and verifies the server answers a health check.
// An unreachable server is a startup failure.
func NewGRPCClient(config *ClientConfig, logger *logging.Logger) (*GRPCClient, error) {
	if config == nil {
		config = DefaultClientConfig()
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	qdrantConfig := &qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	}
	if !config.UseTLS {
		qdrantConfig.GrpcOptions = append(qdrantConfig.GrpcOptions,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	}

	client, err := qdrant.NewClient(qdrantConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	c := newClient(client, config, logger)

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	logger.Info(ctx, "connecting to qdrant",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
	)
	if err := c.Health(ctx); err != nil {
		_ = client.Close()
		logger.Error(ctx, "qdrant health check failed",
			zap.String("host", config.Host),
			zap.Int("port", config.Port),
			zap.Error(err),
		)
		return nil, err
	}
	logger.Info(ctx, "qdrant connection established",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
	)
	return c, nil
}

func newClient(client api, config *ClientConfig, logger *logging.Logger) *GRPCClient {
	return &GRPCClient{
		client: client,
		config: config,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		sleep:  sleepContext,
	}
}

// Health performs a health check on the Qdrant connection.
func (c *GRPCClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	if _, err := c.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// CollectionExists reports whether the collection is present.
func (c *GRPCClient) CollectionExists(ctx context.Context, collection string) (bool, error) {
	ctx, span := c.startSpan(ctx, "CollectionExists", collection)
	defer span.End()

	var exists bool
	err := c.retryOperation(ctx, func(ctx context.Context) error {
		ok, err := c.client.CollectionExists(ctx, collection)
		if err != nil {
			return err
		}
		exists = ok
		return nil
	})
	return exists, endSpan(span, err)
}

// CreateCollection creates a collection with one unnamed dense vector.
func (c *GRPCClient) CreateCollection(ctx context.Context, collection string, dimension int) error {
	if err := vectorstore.ValidateCollectionName(collection); err != nil {
		return err
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", vectorstore.ErrInvalidConfig, dimension)
	}
	ctx, span := c.startSpan(ctx, "CreateCollection", collection)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	err := c.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: c.config.Distance,
		}),
	})
	if err != nil {
		err = fmt.Errorf("creating collection %s: %w", collection, err)
	}
	return endSpan(span, err)
}

// DeleteCollection drops a collection. A missing collection is not an error.
func (c *GRPCClient) DeleteCollection(ctx context.Context, collection string) error {
	exists, err := c.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	ctx, span := c.startSpan(ctx, "DeleteCollection", collection)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	if err := c.client.DeleteCollection(ctx, collection); err != nil {
		return endSpan(span, fmt.Errorf("deleting collection %s: %w", collection, err))
	}
	return nil
}

// VectorSize returns the dimension of the collection's dense vector.
func (c *GRPCClient) VectorSize(ctx context.Context, collection string) (int, error) {
	ctx, span := c.startSpan(ctx, "VectorSize", collection)
	defer span.End()

	var info *qdrant.CollectionInfo
	err := c.retryOperation(ctx, func(ctx context.Context) error {
		var err error
		info, err = c.client.GetCollectionInfo(ctx, collection)
		return err
	})
	if err != nil {
		if status.Code(err) == grpccodes.NotFound {
			return 0, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, collection)
		}
		return 0, endSpan(span, err)
	}
	size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	if size == 0 {
		return 0, fmt.Errorf("%w: collection %s has no unnamed dense vector", vectorstore.ErrDimensionMismatch, collection)
	}
	return int(size), nil
}

// CreatePayloadIndex declares a keyword or integer field index and waits
// for it to be applied.
func (c *GRPCClient) CreatePayloadIndex(ctx context.Context, collection, field string, typ vectorstore.PayloadIndexType) error {
	var fieldType qdrant.FieldType
	switch typ {
	case vectorstore.PayloadKeyword:
		fieldType = qdrant.FieldType_FieldTypeKeyword
	case vectorstore.PayloadInteger:
		fieldType = qdrant.FieldType_FieldTypeInteger
	default:
		return fmt.Errorf("%w: unsupported payload index type %q", vectorstore.ErrInvalidConfig, typ)
	}
	ctx, span := c.startSpan(ctx, "CreatePayloadIndex", collection)
	defer span.End()
	span.SetAttributes(attribute.String("qdrant.field", field))

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	_, err := c.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		FieldName:      field,
		FieldType:      qdrant.PtrOf(fieldType),
	})
	if err != nil {
		err = fmt.Errorf("creating payload index %s.%s: %w", collection, field, err)
	}
	return endSpan(span, err)
}

// Upsert writes points in a single request and waits for the write to be
// applied. It is attempted exactly once.
func (c *GRPCClient) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}
	ctx, span := c.startSpan(ctx, "Upsert", collection)
	defer span.End()
	span.SetAttributes(attribute.Int("qdrant.points", len(points)))

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		ps, err := toPointStruct(p)
		if err != nil {
			return endSpan(span, err)
		}
		structs = append(structs, ps)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	if err != nil {
		err = fmt.Errorf("upserting %d points into %s: %w", len(points), collection, err)
	}
	return endSpan(span, err)
}

// Query returns the nearest neighbours of vector with payload.
func (c *GRPCClient) Query(ctx context.Context, collection string, vector []float32, limit int) ([]vectorstore.ScoredPoint, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx, span := c.startSpan(ctx, "Query", collection)
	defer span.End()

	var hits []*qdrant.ScoredPoint
	err := c.retryOperation(ctx, func(ctx context.Context) error {
		res, err := c.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		hits = res
		return nil
	})
	if err != nil {
		return nil, endSpan(span, err)
	}

	out := make([]vectorstore.ScoredPoint, 0, len(hits))
	for _, h := range hits {
		out = append(out, vectorstore.ScoredPoint{
			Point: vectorstore.Point{
				ID:      pointIDString(h.GetId()),
				Payload: fromPayload(h.GetPayload()),
			},
			Score: h.GetScore(),
		})
	}
	return out, nil
}

// Scroll returns one page of points with vectors and payload. The cursor
// is the textual form of Qdrant's next-page offset id.
func (c *GRPCClient) Scroll(ctx context.Context, collection string, limit int, cursor string) ([]vectorstore.Point, string, error) {
	if limit <= 0 {
		return nil, "", fmt.Errorf("%w: scroll limit must be positive", vectorstore.ErrInvalidConfig)
	}
	ctx, span := c.startSpan(ctx, "Scroll", collection)
	defer span.End()

	req := &qdrant.ScrollPoints{
		CollectionName: collection,
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}
	if cursor != "" {
		req.Offset = parsePointID(cursor)
	}

	var (
		page   []*qdrant.RetrievedPoint
		offset *qdrant.PointId
	)
	err := c.retryOperation(ctx, func(ctx context.Context) error {
		res, next, err := c.client.ScrollAndOffset(ctx, req)
		if err != nil {
			return err
		}
		page, offset = res, next
		return nil
	})
	if err != nil {
		if status.Code(err) == grpccodes.NotFound {
			return nil, "", fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, collection)
		}
		return nil, "", endSpan(span, err)
	}

	points := make([]vectorstore.Point, 0, len(page))
	for _, p := range page {
		points = append(points, vectorstore.Point{
			ID:      pointIDString(p.GetId()),
			Vector:  denseVector(p.GetVectors()),
			Payload: fromPayload(p.GetPayload()),
		})
	}
	span.SetAttributes(attribute.Int("qdrant.points", len(points)))
	return points, pointIDString(offset), nil
}

// Count returns the exact number of points in the collection.
func (c *GRPCClient) Count(ctx context.Context, collection string) (int, error) {
	ctx, span := c.startSpan(ctx, "Count", collection)
	defer span.End()

	var n uint64
	err := c.retryOperation(ctx, func(ctx context.Context) error {
		res, err := c.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: collection,
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return err
		}
		n = res
		return nil
	})
	if err != nil {
		return 0, endSpan(span, err)
	}
	return int(n), nil
}

// Close closes the client connection.
func (c *GRPCClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// retryOperation runs a read with a per-attempt timeout, retrying transient
// gRPC failures with exponential backoff.
func (c *GRPCClient) retryOperation(ctx context.Context, operation func(ctx context.Context) error) error {
	var lastErr error
	backoff := c.config.RetryBackoff
	startTime := time.Now()

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
		err := operation(attemptCtx)
		cancel()
		if err == nil {
			if attempt > 0 {
				c.logger.Info(ctx, "operation recovered after retries",
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(startTime)),
				)
			}
			return nil
		}

		lastErr = err
		if !isTransientError(err) {
			return err
		}
		if attempt == c.config.RetryAttempts {
			break
		}

		c.logger.Debug(ctx, "retrying operation after transient error",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.config.RetryAttempts),
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)
		if err := c.sleep(ctx, backoff); err != nil {
			return fmt.Errorf("operation canceled: %w", err)
		}
		backoff *= 2
	}

	c.logger.Warn(ctx, "operation failed after all retries exhausted",
		zap.Int("total_attempts", c.config.RetryAttempts+1),
		zap.Duration("total_time", time.Since(startTime)),
		zap.Error(lastErr),
	)
	return fmt.Errorf("operation failed after %d retries: %w", c.config.RetryAttempts, lastErr)
}

func (c *GRPCClient) startSpan(ctx context.Context, op, collection string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "qdrant."+op, trace.WithAttributes(
		attribute.String("qdrant.collection", collection),
	))
}

func endSpan(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// isTransientError checks if an error is transient and should be retried.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

var _ vectorstore.Index = (*GRPCClient)(nil)

func toPointStruct(p vectorstore.Point) (*qdrant.PointStruct, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("point id is required")
	}
	payload := make(map[string]*qdrant.Value, len(p.Payload))
	for k, v := range p.Payload {
		val, err := qdrant.NewValue(normalizeValue(v))
		if err != nil {
			return nil, fmt.Errorf("point %s payload %q: %w", p.ID, k, err)
		}
		payload[k] = val
	}
	return &qdrant.PointStruct{
		Id:      parsePointID(p.ID),
		Vectors: qdrant.NewVectors(p.Vector...),
		Payload: payload,
	}, nil
}

// normalizeValue widens typed slices and maps into the shapes accepted by
// qdrant.NewValue.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case []int:
		out := make([]any, len(val))
		for i, n := range val {
			out[i] = n
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalizeValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = normalizeValue(e)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = e
		}
		return out
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return val.String()
	default:
		return v
	}
}

// parsePointID accepts the textual forms produced by pointIDString.
func parsePointID(s string) *qdrant.PointId {
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return qdrant.NewIDNum(n)
	}
	return qdrant.NewIDUUID(s)
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	if _, ok := id.GetPointIdOptions().(*qdrant.PointId_Num); ok {
		return strconv.FormatUint(id.GetNum(), 10)
	}
	return ""
}

func denseVector(vectors *qdrant.VectorsOutput) []float32 {
	vec := vectors.GetVector()
	if vec == nil {
		return nil
	}
	if dense := vec.GetDense(); dense != nil {
		return dense.GetData()
	}
	// Servers older than 1.13 fill the deprecated flat field.
	return vec.GetData()
}

func fromPayload(payload map[string]*qdrant.Value) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = fromValue(v)
	}
	return out
}

func fromValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch val := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_ListValue:
		items := val.ListValue.GetValues()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = fromValue(item)
		}
		return out
	case *qdrant.Value_StructValue:
		fields := val.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for k, f := range fields {
			out[k] = fromValue(f)
		}
		return out
	default:
		return nil
	}
}
