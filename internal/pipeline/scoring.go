package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloo-solutions/deepresearch/internal/domain"
	"github.com/cloo-solutions/deepresearch/internal/openai"
	"github.com/cloo-solutions/deepresearch/internal/scoring"
)

const maxPromptSourceChars = 600

// Assessment is the output of the scoring stage.
type Assessment struct {
	Sources    []domain.Source
	Claims     []domain.Claim
	Confidence scoring.JobConfidence
	Usage      domain.TokenUsage
}

type extractedClaim struct {
	Text                 string `json:"text"`
	SupportingIndices    []int  `json:"supportingIndices"`
	ContradictingIndices []int  `json:"contradictingIndices"`
}

// Assessor scores sources, extracts claims and computes job confidence.
type Assessor struct {
	model      ChatModel
	timeout    time.Duration
	sources    *scoring.SourceScorer
	claims     *scoring.ClaimScorer
	confidence *scoring.JobConfidenceCalculator
	opts       openai.ChatOptions
}

// NewAssessor creates a scoring worker.
func NewAssessor(model ChatModel, timeout time.Duration, sources *scoring.SourceScorer) *Assessor {
	if sources == nil {
		sources = scoring.NewSourceScorer()
	}
	return &Assessor{
		model:      model,
		timeout:    timeout,
		sources:    sources,
		claims:     scoring.NewClaimScorer(),
		confidence: scoring.NewJobConfidenceCalculator(),
		opts:       openai.ChatOptions{Temperature: 0, MaxTokens: 2000},
	}
}

// Assess scores every source, then asks the model for claims. Claim
// extraction failures degrade to the scored sources with no claims and zero
// confidence.
func (a *Assessor) Assess(ctx context.Context, query string, sources []domain.Source) StageResult[Assessment] {
	scored := make([]domain.Source, len(sources))
	for i := range sources {
		scored[i] = sources[i]
		a.sources.Apply(&scored[i])
	}

	out := Assessment{
		Sources:    scored,
		Claims:     []domain.Claim{},
		Confidence: a.confidence.CalculateJobConfidence(nil, len(scored)),
	}
	if len(scored) == 0 {
		return succeeded(out)
	}

	completion, err := withTimeout(ctx, a.timeout, func(ctx context.Context) (*openai.Completion, error) {
		return a.model.ChatCompletion(ctx, []openai.Message{
			{Role: openai.RoleSystem, Content: claimExtractionSystemPrompt},
			{Role: openai.RoleUser, Content: buildClaimPrompt(query, scored)},
		}, a.opts)
	})
	if err != nil {
		log.Printf("pipeline: claim extraction failed: %v", err)
		return degraded(out, err)
	}
	out.Usage = usageOf(completion)

	var extracted []extractedClaim
	if err := decodeJSONArray(completion.Text, &extracted); err != nil {
		log.Printf("pipeline: claim extraction output unparseable: %v", err)
		return degraded(out, fmt.Errorf("parse claims: %w", err))
	}

	for _, ec := range extracted {
		text := strings.TrimSpace(ec.Text)
		if text == "" {
			continue
		}
		claim := a.claims.ScoreClaim(text,
			pickSources(scored, ec.SupportingIndices),
			pickSources(scored, ec.ContradictingIndices))
		out.Claims = append(out.Claims, claim)
	}
	out.Confidence = a.confidence.CalculateJobConfidence(out.Claims, len(scored))
	return succeeded(out)
}

// pickSources maps indices to sources, dropping out-of-range and repeated
// indices.
func pickSources(sources []domain.Source, indices []int) []domain.Source {
	picked := make([]domain.Source, 0, len(indices))
	seen := make(map[int]bool, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(sources) || seen[idx] {
			continue
		}
		seen[idx] = true
		picked = append(picked, sources[idx])
	}
	return picked
}

func buildClaimPrompt(query string, sources []domain.Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n\nSources:\n", query)
	for i, src := range sources {
		label := src.Title
		if label == "" {
			label = src.URL
		}
		if label != "" {
			fmt.Fprintf(&b, "[%d] %s\n", i, label)
		} else {
			fmt.Fprintf(&b, "[%d]\n", i)
		}
		fmt.Fprintf(&b, "%s\n\n", truncate(src.Text, maxPromptSourceChars))
	}
	return b.String()
}

func truncate(text string, limit int) string {
	clean := strings.Join(strings.Fields(text), " ")
	runes := []rune(clean)
	if len(runes) <= limit {
		return clean
	}
	return string(runes[:limit-3]) + "..."
}
