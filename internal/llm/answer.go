package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/docqa/backend/pkg/circuitbreaker"
	"github.com/docqa/backend/pkg/logger"
)

type OutcomeKind int

const (
	// OutcomeOK carries a usable answer.
	OutcomeOK OutcomeKind = iota
	// OutcomeMalformed means the model replied but the reply was not a usable object.
	OutcomeMalformed
	// OutcomeUnavailable covers a missing key, timeouts and transport errors.
	OutcomeUnavailable
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "unavailable"
	}
}

// Turn is one prior exchange of a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MaxHistoryTurns bounds how much conversation is replayed to the model.
const MaxHistoryTurns = 6

type AnswerOutcome struct {
	Kind                OutcomeKind
	Answer              string
	Confidence          string
	MissingInfo         []string
	SuggestedEnrichment []string
	Err                 error
}

const answerSystemPrompt = "You are a retrieval-augmented assistant. Use ONLY the provided context to answer. " +
	"If insufficient, say what is missing. Cite as [1],[2],… referring to the Context."

const answerFormatInstruction = "Return a JSON object with keys: answer, confidence (high|medium|low), " +
	"missing_info (array of strings), suggested_enrichment (array of strings)."

// GenerateAnswer asks the model for a grounded answer as a JSON object.
// It never returns an error; failures are reported through the outcome kind.
func (c *Client) GenerateAnswer(ctx context.Context, question string, history []Turn, contextBlock string) AnswerOutcome {
	messages := historyMessages(history)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: fmt.Sprintf("Question:\n%s\n\nContext:\n%s\n\n%s", question, contextBlock, answerFormatInstruction),
	})

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: answerSystemPrompt,
		Messages:     messages,
		JSON:         true,
	})
	if err != nil {
		if circuitbreaker.IsRejected(err) {
			logger.Warn("LLM circuit open, skipping model call", zap.String("breaker", c.cb.Name()))
		} else {
			logger.Warn("LLM answer unavailable", zap.Error(err))
		}
		return AnswerOutcome{Kind: OutcomeUnavailable, Err: err}
	}

	outcome := ParseAnswer(resp.Content)
	if outcome.Kind != OutcomeOK {
		logger.Warn("LLM answer malformed", zap.Error(outcome.Err))
	}
	return outcome
}

func historyMessages(history []Turn) []openai.ChatCompletionMessage {
	if len(history) > MaxHistoryTurns {
		history = history[len(history)-MaxHistoryTurns:]
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	for _, turn := range history {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		if strings.EqualFold(turn.Role, openai.ChatMessageRoleAssistant) {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: content})
	}
	return messages
}

// ParseAnswer decodes the model's JSON reply. A reply without a non-empty
// answer string is malformed. List fields tolerate a bare string and skip
// non-string items.
func ParseAnswer(content string) AnswerOutcome {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return AnswerOutcome{Kind: OutcomeMalformed, Err: fmt.Errorf("failed to decode answer object: %w", err)}
	}

	answer, _ := raw["answer"].(string)
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return AnswerOutcome{Kind: OutcomeMalformed, Err: fmt.Errorf("answer object has no answer text")}
	}

	confidence, _ := raw["confidence"].(string)

	return AnswerOutcome{
		Kind:                OutcomeOK,
		Answer:              answer,
		Confidence:          strings.TrimSpace(confidence),
		MissingInfo:         stringList(raw["missing_info"]),
		SuggestedEnrichment: stringList(raw["suggested_enrichment"]),
	}
}

func stringList(v interface{}) []string {
	out := []string{}
	switch val := v.(type) {
	case string:
		if s := strings.TrimSpace(val); s != "" {
			out = append(out, s)
		}
	case []interface{}:
		for _, item := range val {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}
