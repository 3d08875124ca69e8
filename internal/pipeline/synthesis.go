package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/cloo-solutions/deepresearch/internal/domain"
	"github.com/cloo-solutions/deepresearch/internal/openai"
	"github.com/cloo-solutions/deepresearch/internal/scoring"
)

// SynthesisFailedPrefix starts the report body of a failed synthesis.
const SynthesisFailedPrefix = "Synthesis failed: "

var errEmptyReport = errors.New("model returned an empty report")

// Report is the output of the synthesis stage.
type Report struct {
	Markdown string
	Usage    domain.TokenUsage
}

// Synthesizer writes the cited markdown report.
type Synthesizer struct {
	model   ChatModel
	timeout time.Duration
	opts    openai.ChatOptions
}

// NewSynthesizer creates a synthesis worker.
func NewSynthesizer(model ChatModel, timeout time.Duration) *Synthesizer {
	return &Synthesizer{
		model:   model,
		timeout: timeout,
		opts:    openai.ChatOptions{Temperature: 0.3, MaxTokens: 3000},
	}
}

// Synthesize produces the report. On failure the report body states that
// synthesis failed along with the error, and the result is degraded.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, sources []domain.Source, claims []domain.Claim, confidence scoring.JobConfidence) StageResult[Report] {
	prompt := buildSynthesisPrompt(query, sources, claims, confidence)

	completion, err := withTimeout(ctx, s.timeout, func(ctx context.Context) (*openai.Completion, error) {
		return s.model.ChatCompletion(ctx, []openai.Message{
			{Role: openai.RoleSystem, Content: synthesisSystemPrompt},
			{Role: openai.RoleUser, Content: prompt},
		}, s.opts)
	})
	if err != nil {
		log.Printf("pipeline: synthesis failed: %v", err)
		return degraded(Report{Markdown: SynthesisFailedPrefix + err.Error()}, err)
	}
	if strings.TrimSpace(completion.Text) == "" {
		return degraded(Report{Markdown: SynthesisFailedPrefix + errEmptyReport.Error(), Usage: usageOf(completion)}, errEmptyReport)
	}

	return succeeded(Report{Markdown: completion.Text, Usage: usageOf(completion)})
}

func buildSynthesisPrompt(query string, sources []domain.Source, claims []domain.Claim, confidence scoring.JobConfidence) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n\n", query)

	b.WriteString("Sources:\n")
	if len(sources) == 0 {
		b.WriteString("(no sources were found)\n")
	}
	for i, src := range sources {
		title := src.Title
		if title == "" {
			title = truncate(src.Text, 80)
		}
		url := src.URL
		if url == "" {
			url = "internal knowledge"
		}
		fmt.Fprintf(&b, "[%d] %s - %s (score %.2f)\n", i+1, title, url, src.CompositeScore)
	}

	b.WriteString("\nClaims:\n")
	if len(claims) == 0 {
		b.WriteString("(no claims were extracted)\n")
	}
	for _, claim := range claims {
		fmt.Fprintf(&b, "- %s (confidence %d%%)", claim.Text, percent(claim.ConfidenceScore))
		if claim.ContradictionFlag {
			b.WriteString(" [CONTRADICTED]")
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nOverall confidence: %d%%\n", percent(confidence.Score))
	if confidence.HasContradictions {
		b.WriteString("\n")
		b.WriteString(contradictionInstruction)
		b.WriteString("\n")
	}
	b.WriteString("\nWrite the report in markdown, citing sources as [N].\n")
	return b.String()
}

func percent(v float64) int {
	return int(math.Round(scoring.Clamp(v, 0, 1) * 100))
}
