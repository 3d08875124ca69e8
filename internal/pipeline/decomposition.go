package pipeline

import (
	"context"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/cloo-solutions/deepresearch/internal/domain"
	"github.com/cloo-solutions/deepresearch/internal/openai"
)

// MaxGeneratedSubQuestions caps model-generated sub-questions; the original
// query is always added in front of them.
const MaxGeneratedSubQuestions = 7

// enumerationMarker matches list prefixes such as "1.", "2)", "Q3:" or "-".
// A marker must be followed by whitespace, so "3.5%" and "2024:" survive.
var enumerationMarker = regexp.MustCompile(`^\s*(?:[Qq]\d{1,2}\s*[.):]|\d{1,2}[.)]|[-*•])\s+`)

// Decomposition is the output of the decomposition stage.
type Decomposition struct {
	// SubQuestions always starts with the original query.
	SubQuestions []string
	Usage        domain.TokenUsage
}

// Decomposer splits a research query into sub-questions.
type Decomposer struct {
	model   ChatModel
	timeout time.Duration
	opts    openai.ChatOptions
}

// NewDecomposer creates a decomposition worker.
func NewDecomposer(model ChatModel, timeout time.Duration) *Decomposer {
	return &Decomposer{
		model:   model,
		timeout: timeout,
		opts:    openai.ChatOptions{Temperature: 0.2, MaxTokens: 600},
	}
}

// Decompose asks the model for sub-questions. It never fails: on timeout,
// model error or unparseable output the result degrades to [query].
func (d *Decomposer) Decompose(ctx context.Context, query string) StageResult[Decomposition] {
	fallback := Decomposition{SubQuestions: []string{query}}

	completion, err := withTimeout(ctx, d.timeout, func(ctx context.Context) (*openai.Completion, error) {
		return d.model.ChatCompletion(ctx, []openai.Message{
			{Role: openai.RoleSystem, Content: decompositionSystemPrompt},
			{Role: openai.RoleUser, Content: query},
		}, d.opts)
	})
	if err != nil {
		log.Printf("pipeline: decomposition failed, using original query: %v", err)
		return degraded(fallback, err)
	}

	var raw []any
	if err := decodeJSONArray(completion.Text, &raw); err != nil {
		log.Printf("pipeline: decomposition output unparseable, using original query: %v", err)
		fallback.Usage = usageOf(completion)
		return degraded(fallback, err)
	}

	return succeeded(Decomposition{
		SubQuestions: normalizeSubQuestions(query, raw),
		Usage:        usageOf(completion),
	})
}

// normalizeSubQuestions keeps string elements, strips enumeration markers,
// drops empties, duplicates and restatements of the query, caps the list and
// prepends the query.
func normalizeSubQuestions(query string, raw []any) []string {
	out := []string{query}
	seen := map[string]bool{query: true}
	for _, item := range raw {
		if len(out) > MaxGeneratedSubQuestions {
			break
		}
		text, ok := item.(string)
		if !ok {
			continue
		}
		text = strings.TrimSpace(enumerationMarker.ReplaceAllString(text, ""))
		if text == "" || seen[text] {
			continue
		}
		seen[text] = true
		out = append(out, text)
	}
	return out
}
