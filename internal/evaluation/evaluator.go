// Package evaluation replays a question dataset against the answer engine
// and summarizes how confident and grounded the answers were.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/docqa/backend/internal/answer"
	"github.com/docqa/backend/internal/embedding"
	"github.com/docqa/backend/internal/query"
	"github.com/docqa/backend/pkg/logger"
)

type Answerer interface {
	Answer(ctx context.Context, req query.Request) (*query.Response, error)
}

type Evaluator struct {
	engine   Answerer
	embedder embedding.Embedder
}

type Dataset struct {
	Items []DatasetItem `json:"items"`
}

type DatasetItem struct {
	Query       string `json:"query"`
	GroundTruth string `json:"ground_truth"`
	Category    string `json:"category"`
}

type ItemResult struct {
	Query            string       `json:"query"`
	QueryID          string       `json:"query_id"`
	Confidence       answer.Level `json:"confidence"`
	Citations        int          `json:"citations"`
	Enriched         bool         `json:"enriched"`
	CosineSimilarity float64      `json:"cosine_similarity"`
	Error            string       `json:"error,omitempty"`
}

type Report struct {
	TotalQueries        int          `json:"total_queries"`
	Failed              int          `json:"failed"`
	HighCount           int          `json:"high"`
	MediumCount         int          `json:"medium"`
	LowCount            int          `json:"low"`
	CitedCount          int          `json:"cited"`
	EnrichedCount       int          `json:"enriched"`
	AvgCosineSimilarity float64      `json:"avg_cosine_similarity"`
	Items               []ItemResult `json:"items"`
}

// NewEvaluator scores answers against ground truth with embedder when one
// is given; similarity stays zero otherwise.
func NewEvaluator(engine Answerer, embedder embedding.Embedder) *Evaluator {
	return &Evaluator{
		engine:   engine,
		embedder: embedder,
	}
}

func (e *Evaluator) EvaluateQuery(ctx context.Context, workspaceID string, item DatasetItem, enrich bool) ItemResult {
	result := ItemResult{Query: item.Query}

	resp, err := e.engine.Answer(ctx, query.Request{
		Workspace: workspaceID,
		Question:  item.Query,
		Enrich:    enrich,
	})
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.QueryID = resp.QueryID
	result.Confidence = resp.Confidence
	result.Citations = len(resp.Citations)
	result.Enriched = resp.Enrichment != nil && resp.Enrichment.AddedDocs > 0

	if item.GroundTruth != "" && e.embedder != nil {
		sim, err := e.calculateCosineSimilarity(ctx, resp.Answer, item.GroundTruth)
		if err != nil {
			logger.Warn("Failed to calculate cosine similarity", zap.Error(err))
		}
		result.CosineSimilarity = sim
	}

	logger.Debug("Query evaluated",
		zap.String("query_id", result.QueryID),
		zap.String("confidence", string(result.Confidence)),
		zap.Int("citations", result.Citations),
	)

	return result
}

func (e *Evaluator) RunDatasetEvaluation(ctx context.Context, workspaceID string, dataset *Dataset, enrich bool) (*Report, error) {
	logger.Info("Running dataset evaluation", zap.Int("items", len(dataset.Items)))

	report := &Report{
		TotalQueries: len(dataset.Items),
		Items:        make([]ItemResult, 0, len(dataset.Items)),
	}

	var totalCosineSim float64
	var scored int

	for i, item := range dataset.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		logger.Info("Evaluating item", zap.Int("index", i+1), zap.Int("total", len(dataset.Items)))

		result := e.EvaluateQuery(ctx, workspaceID, item, enrich)
		report.Items = append(report.Items, result)

		if result.Error != "" {
			report.Failed++
			continue
		}

		switch result.Confidence {
		case answer.LevelHigh:
			report.HighCount++
		case answer.LevelMedium:
			report.MediumCount++
		default:
			report.LowCount++
		}
		if result.Citations > 0 {
			report.CitedCount++
		}
		if result.Enriched {
			report.EnrichedCount++
		}
		if item.GroundTruth != "" {
			totalCosineSim += result.CosineSimilarity
			scored++
		}
	}

	if scored > 0 {
		report.AvgCosineSimilarity = totalCosineSim / float64(scored)
	}

	logger.Info("Dataset evaluation completed",
		zap.Int("total", report.TotalQueries),
		zap.Int("failed", report.Failed),
		zap.Int("high", report.HighCount),
		zap.Int("medium", report.MediumCount),
		zap.Int("low", report.LowCount),
	)

	return report, nil
}

func (e *Evaluator) calculateCosineSimilarity(ctx context.Context, text1, text2 string) (float64, error) {
	embs, err := e.embedder.Embed(ctx, []string{text1, text2})
	if err != nil {
		return 0, err
	}
	if len(embs) != 2 {
		return 0, fmt.Errorf("embedding count mismatch: got %d, expected 2", len(embs))
	}

	return cosineSimilarity(embs[0], embs[1]), nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// LoadDataset accepts either {"items": [...]} or a bare array of items.
func LoadDataset(data []byte) (*Dataset, error) {
	var dataset Dataset
	if err := json.Unmarshal(data, &dataset); err == nil && len(dataset.Items) > 0 {
		return &dataset, nil
	}

	var items []DatasetItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}

	return &Dataset{Items: items}, nil
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func GenerateReport(report *Report) string {
	return fmt.Sprintf(`
Evaluation Report
=================

Total Queries: %d (failed: %d)

Confidence:
- High: %d (%.1f%%)
- Medium: %d (%.1f%%)
- Low: %d (%.1f%%)

Grounding:
- Cited answers: %d (%.1f%%)
- Enriched from web: %d

Cosine Similarity to ground truth: %.3f
`,
		report.TotalQueries, report.Failed,
		report.HighCount, percent(report.HighCount, report.TotalQueries),
		report.MediumCount, percent(report.MediumCount, report.TotalQueries),
		report.LowCount, percent(report.LowCount, report.TotalQueries),
		report.CitedCount, percent(report.CitedCount, report.TotalQueries),
		report.EnrichedCount,
		report.AvgCosineSimilarity,
	)
}
