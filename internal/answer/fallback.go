package answer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ExtractiveBudget caps the characters of an extractive answer body.
const ExtractiveBudget = 1200

const (
	extractiveBanner   = "Extractive answer (no LLM available):\n\n"
	noSnippetsAnswer   = "No relevant snippets found in your uploaded documents."
	fallbackMissing    = "More comprehensive sources may be required"
	fallbackSuggestion = "Enable auto-enrichment or upload additional documents"
)

// Extractive builds a deterministic answer from the first sentence of each
// chunk, in order, until the budget runs out.
func Extractive(texts []string, budget int) string {
	if budget <= 0 {
		budget = ExtractiveBudget
	}

	var picks []string
	remaining := budget
	for _, text := range texts {
		sentence := firstSentence(text)
		if sentence == "" {
			continue
		}
		if len(sentence) > remaining {
			sentence = truncate(sentence, remaining)
		}
		picks = append(picks, sentence)
		remaining -= len(sentence) + 1
		if remaining <= 0 {
			break
		}
	}

	if len(picks) == 0 {
		return noSnippetsAnswer
	}
	return extractiveBanner + strings.Join(picks, "\n\n")
}

// firstSentence returns the first non-empty segment of text. Segments end
// after '.', '!' or '?' followed by whitespace, or at a newline.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	start := 0
	for i, r := range text {
		end := -1
		switch {
		case r == '\n':
			end = i
		case unicode.IsSpace(r) && i > 0 && strings.ContainsRune(".!?", rune(text[i-1])):
			end = i
		}
		if end < 0 {
			continue
		}
		if s := strings.TrimSpace(text[start:end]); s != "" {
			return s
		}
		start = end + utf8.RuneLen(r)
	}
	return strings.TrimSpace(text[start:])
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
