// Package qdrant is a vector.Index backed by Qdrant over gRPC.
package qdrant

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/vector"
	"github.com/docqa/backend/pkg/circuitbreaker"
	"github.com/docqa/backend/pkg/logger"
	"github.com/docqa/backend/pkg/retry"
)

// payloadRecordID keeps the chunk record id; Qdrant point ids must be
// unsigned integers or UUIDs, so points use a name-based UUID of it.
const payloadRecordID = "record_id"

var pointNamespace = uuid.MustParse("6f1c3f5e-9f6a-4c1e-9d0e-1a2b3c4d5e6f")

type Options struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Timeout    time.Duration
}

type Client struct {
	client      *qdrant.Client
	collection  string
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(opts Options) (*Client, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("qdrant host is required")
	}
	if opts.Port <= 0 {
		opts.Port = 6334
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("qdrant", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          15 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OnStateChange:    metrics.ObserveCircuitState,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.DefaultConfig()
	retryConfig.MaxAttempts = 3
	retryConfig.Logger = logger.GetLogger()

	logger.Info("Qdrant client initialized",
		zap.String("host", opts.Host),
		zap.Int("port", opts.Port),
		zap.String("collection", opts.Collection),
	)

	return &Client{
		client:      client,
		collection:  opts.Collection,
		timeout:     opts.Timeout,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

// PointID is the Qdrant point id for a record id.
func PointID(recordID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(recordID)).String()
}

// classify marks request errors the server will keep rejecting.
func classify(err error) error {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.NotFound, codes.AlreadyExists,
		codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
		return retry.Permanent(err)
	}
	return err
}

func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return classify(fn(callCtx))
		})
	})
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return nil
}

func (c *Client) EnsureCollection(ctx context.Context, dim int) error {
	var exists bool
	err := c.call(ctx, "check collection", func(ctx context.Context) error {
		var err error
		exists, err = c.client.CollectionExists(ctx, c.collection)
		return err
	})
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = c.call(ctx, "create collection", func(ctx context.Context) error {
		return c.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: c.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return err
	}

	err = c.call(ctx, "create payload index", func(ctx context.Context) error {
		_, err := c.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: c.collection,
			FieldName:      vector.MetaWorkspaceID,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		return err
	})
	if err != nil {
		logger.Warn("Failed to create payload index", zap.Error(err))
	}

	logger.Info("Collection created", zap.String("collection", c.collection), zap.Int("dim", dim))
	return nil
}

func toPoints(namespace string, records []vector.Record) []*qdrant.PointStruct {
	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		payload := make(map[string]any, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			payload[k] = v
		}
		payload[vector.MetaWorkspaceID] = namespace
		payload[payloadRecordID] = r.ID

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(r.ID)),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: qdrant.NewValueMap(payload),
		}
	}
	return points
}

func (c *Client) Upsert(ctx context.Context, namespace string, records []vector.Record) error {
	wait := true
	for _, page := range vector.Pages(records, vector.UpsertPageSize) {
		points := toPoints(namespace, page)
		err := c.call(ctx, "upsert points", func(ctx context.Context) error {
			_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: c.collection,
				Wait:           &wait,
				Points:         points,
			})
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func filterFor(namespace string, filter vector.Filter) *qdrant.Filter {
	must := []*qdrant.Condition{qdrant.NewMatch(vector.MetaWorkspaceID, namespace)}
	if filter.DocumentID != "" {
		must = append(must, qdrant.NewMatch(vector.MetaDocumentID, filter.DocumentID))
	}
	return &qdrant.Filter{Must: must}
}

func (c *Client) Query(ctx context.Context, namespace string, vec []float32, topK int) ([]vector.Match, error) {
	if len(vec) == 0 {
		return nil, nil
	}

	limit := uint64(topK)
	var points []*qdrant.ScoredPoint
	err := c.call(ctx, "search", func(ctx context.Context) error {
		var err error
		points, err = c.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: c.collection,
			Query:          qdrant.NewQuery(vec...),
			Filter:         filterFor(namespace, vector.Filter{}),
			Limit:          &limit,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	matches := make([]vector.Match, 0, len(points))
	for _, p := range points {
		matches = append(matches, toMatch(p))
	}
	return matches, nil
}

func toMatch(p *qdrant.ScoredPoint) vector.Match {
	metadata := make(map[string]string, len(p.GetPayload()))
	for k, v := range p.GetPayload() {
		metadata[k] = stringify(v)
	}

	id := metadata[payloadRecordID]
	if id == "" {
		id = p.GetId().GetUuid()
		if id == "" {
			id = strconv.FormatUint(p.GetId().GetNum(), 10)
		}
	}
	delete(metadata, payloadRecordID)

	return vector.Match{ID: id, Score: float64(p.GetScore()), Metadata: metadata}
}

func (c *Client) Delete(ctx context.Context, namespace string, filter vector.Filter) error {
	wait := true
	return c.call(ctx, "delete points", func(ctx context.Context) error {
		_, err := c.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: c.collection,
			Wait:           &wait,
			Points:         qdrant.NewPointsSelectorFilter(filterFor(namespace, filter)),
		})
		return err
	})
}

func (c *Client) Close() error {
	return c.client.Close()
}

func stringify(v *qdrant.Value) string {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return strconv.FormatInt(kind.IntegerValue, 10)
	case *qdrant.Value_DoubleValue:
		return strconv.FormatFloat(kind.DoubleValue, 'f', -1, 64)
	case *qdrant.Value_BoolValue:
		return strconv.FormatBool(kind.BoolValue)
	default:
		return ""
	}
}
