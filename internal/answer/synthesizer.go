// Package answer turns an assembled context into an answer: a language model
// when one is available, otherwise a deterministic extractive summary.
package answer

import (
	"context"

	"go.uber.org/zap"

	"github.com/docqa/backend/internal/llm"
	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/pkg/logger"
)

// Source records which path produced an answer.
type Source string

const (
	SourceModel      Source = "model"
	SourceExtractive Source = "extractive"
	SourceNoEvidence Source = "no_evidence"
)

const (
	noEvidenceAnswer     = "I couldn't find relevant information in your uploaded documents."
	noEvidenceSuggestion = "Upload more domain-relevant files"
)

// Generator produces a model answer. llm.Client implements it.
type Generator interface {
	GenerateAnswer(ctx context.Context, question string, history []llm.Turn, contextBlock string) llm.AnswerOutcome
}

type Input struct {
	Question     string
	History      []llm.Turn
	ContextBlock string
	// Texts are the context chunk texts in rank order.
	Texts    []string
	AvgScore float64
}

type Result struct {
	Answer              string   `json:"answer"`
	Confidence          Level    `json:"confidence"`
	MissingInfo         []string `json:"missing_info"`
	SuggestedEnrichment []string `json:"suggested_enrichment"`
	Source              Source   `json:"-"`
}

type Synthesizer struct {
	generator Generator
	budget    int
}

// NewSynthesizer builds a synthesizer; a nil generator always falls back.
func NewSynthesizer(generator Generator) *Synthesizer {
	return &Synthesizer{generator: generator, budget: ExtractiveBudget}
}

// Synthesize never fails. Model errors, timeouts and malformed replies all
// fall through to the extractive answer.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) Result {
	if len(in.Texts) == 0 {
		metrics.SynthesisTotal.WithLabelValues(string(SourceNoEvidence)).Inc()
		return NoEvidence(in.Question)
	}

	classified := Classify(in.AvgScore, len(in.Texts))

	if s.generator != nil {
		outcome := s.generator.GenerateAnswer(ctx, in.Question, in.History, in.ContextBlock)
		if outcome.Kind == llm.OutcomeOK {
			level, ok := ParseLevel(outcome.Confidence)
			if !ok {
				level = classified
			}
			metrics.SynthesisTotal.WithLabelValues(string(SourceModel)).Inc()
			return Result{
				Answer:              outcome.Answer,
				Confidence:          level,
				MissingInfo:         nonNil(outcome.MissingInfo),
				SuggestedEnrichment: nonNil(outcome.SuggestedEnrichment),
				Source:              SourceModel,
			}
		}

		logger.Info("Falling back to extractive answer", zap.String("outcome", outcome.Kind.String()))
	}

	metrics.SynthesisTotal.WithLabelValues(string(SourceExtractive)).Inc()
	return Result{
		Answer:              Extractive(in.Texts, s.budget),
		Confidence:          classified,
		MissingInfo:         []string{fallbackMissing, in.Question},
		SuggestedEnrichment: []string{fallbackSuggestion},
		Source:              SourceExtractive,
	}
}

// NoEvidence is the answer given when retrieval found nothing.
func NoEvidence(question string) Result {
	return Result{
		Answer:              noEvidenceAnswer,
		Confidence:          LevelLow,
		MissingInfo:         []string{question},
		SuggestedEnrichment: []string{noEvidenceSuggestion},
		Source:              SourceNoEvidence,
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
