package zilliz

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/vector"
	"github.com/docqa/backend/pkg/logger"
)

const (
	fieldID        = "id"
	fieldEmbedding = "embedding"
	fieldChunkIdx  = "chunk_index"
)

var varcharFields = []string{
	vector.MetaWorkspaceID,
	vector.MetaDocumentID,
	vector.MetaChunkID,
	vector.MetaFilename,
}

// Client is a Milvus/Zilliz backed vector.Index. Namespaces map to a
// workspace_id filter on a single collection.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

func NewClient(ctx context.Context, endpoint, apiKey, collectionName string) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func varcharField(name string, maxLength int) *entity.Field {
	return &entity.Field{
		Name:     name,
		DataType: entity.FieldTypeVarChar,
		TypeParams: map[string]string{
			"max_length": strconv.Itoa(maxLength),
		},
	}
}

func (z *Client) EnsureCollection(ctx context.Context, dim int) error {
	z.vectorDim = dim

	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", z.collectionName))
		return z.load(ctx)
	}

	primary := varcharField(fieldID, 512)
	primary.PrimaryKey = true
	primary.AutoID = false

	schema := &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "workspace document chunk embeddings",
		Fields: []*entity.Field{
			primary,
			{
				Name:     fieldEmbedding,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": strconv.Itoa(dim),
				},
			},
			varcharField(vector.MetaWorkspaceID, 128),
			varcharField(vector.MetaDocumentID, 64),
			varcharField(vector.MetaChunkID, 64),
			{
				Name:     fieldChunkIdx,
				DataType: entity.FieldTypeInt64,
			},
			varcharField(vector.MetaFilename, 512),
		},
	}

	if err := z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexAUTOINDEX(entity.COSINE)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := z.client.CreateIndex(ctx, z.collectionName, fieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	logger.Info("Collection created", zap.String("collection", z.collectionName), zap.Int("dim", dim))

	return z.load(ctx)
}

func (z *Client) load(ctx context.Context) error {
	if err := z.client.LoadCollection(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

func (z *Client) Upsert(ctx context.Context, namespace string, records []vector.Record) error {
	for _, page := range vector.Pages(records, vector.UpsertPageSize) {
		if err := z.upsertPage(ctx, namespace, page); err != nil {
			return err
		}
	}
	return nil
}

func (z *Client) upsertPage(ctx context.Context, namespace string, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}

	ids := make([]string, len(records))
	embeddings := make([][]float32, len(records))
	indexes := make([]int64, len(records))
	meta := make(map[string][]string, len(varcharFields))
	for _, f := range varcharFields {
		meta[f] = make([]string, len(records))
	}

	dim := z.vectorDim
	for i, r := range records {
		ids[i] = r.ID
		embeddings[i] = r.Vector
		if dim == 0 {
			dim = len(r.Vector)
		}
		for _, f := range varcharFields {
			meta[f][i] = r.Metadata[f]
		}
		meta[vector.MetaWorkspaceID][i] = namespace
		n, _ := strconv.ParseInt(r.Metadata[vector.MetaIndex], 10, 64)
		indexes[i] = n
	}

	columns := []entity.Column{
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnFloatVector(fieldEmbedding, dim, embeddings),
		entity.NewColumnInt64(fieldChunkIdx, indexes),
	}
	for _, f := range varcharFields {
		columns = append(columns, entity.NewColumnVarChar(f, meta[f]))
	}

	if _, err := z.client.Upsert(ctx, z.collectionName, "", columns...); err != nil {
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}

	logger.Debug("Vectors upserted", zap.String("namespace", namespace), zap.Int("count", len(records)))
	return nil
}

func quote(s string) string {
	return strconv.Quote(s)
}

func namespaceExpr(namespace string, filter vector.Filter) string {
	parts := []string{fmt.Sprintf("%s == %s", vector.MetaWorkspaceID, quote(namespace))}
	if filter.DocumentID != "" {
		parts = append(parts, fmt.Sprintf("%s == %s", vector.MetaDocumentID, quote(filter.DocumentID)))
	}
	return strings.Join(parts, " && ")
}

func (z *Client) Query(ctx context.Context, namespace string, vec []float32, topK int) ([]vector.Match, error) {
	sp, err := entity.NewIndexAUTOINDEXSearchParam(1)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	expr := namespaceExpr(namespace, vector.Filter{})
	outputFields := append([]string{fieldChunkIdx}, varcharFields...)

	searchResult, err := z.client.Search(
		ctx,
		z.collectionName,
		[]string{},
		expr,
		outputFields,
		[]entity.Vector{entity.FloatVector(vec)},
		fieldEmbedding,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	matches := make([]vector.Match, 0)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			id, err := sr.IDs.GetAsString(i)
			if err != nil {
				return nil, fmt.Errorf("failed to read result id: %w", err)
			}

			metadata := make(map[string]string, len(varcharFields)+1)
			for _, f := range varcharFields {
				col := sr.Fields.GetColumn(f)
				if col == nil {
					continue
				}
				if v, err := col.GetAsString(i); err == nil {
					metadata[f] = v
				}
			}
			if col := sr.Fields.GetColumn(fieldChunkIdx); col != nil {
				if v, err := col.GetAsInt64(i); err == nil {
					metadata[vector.MetaIndex] = strconv.FormatInt(v, 10)
				}
			}

			matches = append(matches, vector.Match{
				ID:       id,
				Score:    float64(sr.Scores[i]),
				Metadata: metadata,
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(matches)),
		zap.String("filter", expr),
	)

	return matches, nil
}

func (z *Client) Delete(ctx context.Context, namespace string, filter vector.Filter) error {
	expr := namespaceExpr(namespace, filter)
	if err := z.client.Delete(ctx, z.collectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}

	logger.Info("Vectors deleted", zap.String("filter", expr))
	return nil
}
