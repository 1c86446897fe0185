package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docqa/backend/pkg/circuitbreaker"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docqa_query_duration_seconds",
			Help:    "Question resolution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"mode"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_query_total",
			Help: "Total number of questions processed",
		},
		[]string{"status"},
	)

	ConfidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docqa_confidence_score",
			Help:    "Persisted answer confidence scores",
			Buckets: []float64{0.2, 0.6, 0.9, 1.0},
		},
	)

	RetrievalCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docqa_retrieval_candidates",
			Help:    "Number of ranked chunks per retrieval",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	RetrievalDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docqa_retrieval_dropped_total",
			Help: "Vector matches whose chunk no longer exists in the store",
		},
	)

	SynthesisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_synthesis_total",
			Help: "Answers by synthesis path",
		},
		[]string{"source"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	EnrichmentTriggered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docqa_enrichment_triggered_total",
			Help: "Total number of enrichment attempts",
		},
	)

	EnrichmentDocuments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_enrichment_documents_total",
			Help: "Web documents considered during enrichment, by outcome",
		},
		[]string{"status"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DocumentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_documents_processed_total",
			Help: "Documents ingested or reindexed, by outcome",
		},
		[]string{"status"},
	)

	EmbeddingInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docqa_embedding_in_flight",
			Help: "Embedding calls currently holding a gate slot",
		},
	)

	FeedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_feedback_total",
			Help: "Feedback submissions by rating",
		},
		[]string{"rating"},
	)

	// 0 closed, 1 half-open, 2 open.
	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docqa_circuit_state",
			Help: "Current circuit breaker state by dependency",
		},
		[]string{"name"},
	)
)

func Init() {
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryTotal)
	prometheus.MustRegister(ConfidenceScore)
	prometheus.MustRegister(RetrievalCandidates)
	prometheus.MustRegister(RetrievalDropped)
	prometheus.MustRegister(SynthesisTotal)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(EnrichmentTriggered)
	prometheus.MustRegister(EnrichmentDocuments)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(DocumentsProcessed)
	prometheus.MustRegister(EmbeddingInFlight)
	prometheus.MustRegister(FeedbackTotal)
	prometheus.MustRegister(CircuitState)
}

// ObserveCircuitState is a circuitbreaker state-change hook.
func ObserveCircuitState(name string, _, to circuitbreaker.State) {
	CircuitState.WithLabelValues(name).Set(float64(to))
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
