package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cloo-solutions/deepresearch/internal/domain"
	"github.com/cloo-solutions/deepresearch/internal/scoring"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTopK                 = 5
	DefaultMaxSources           = 40
	DefaultRetrievalConcurrency = 4
)

// Retrieval is the output of the retrieval stage.
type Retrieval struct {
	Sources []domain.Source
	// Evidence maps each sub-question to the IDs of the sources it surfaced.
	Evidence map[string][]string
}

// RetrieverConfig tunes the retrieval stage.
type RetrieverConfig struct {
	TopK        int
	MaxSources  int
	Concurrency int
	// Timeout bounds each individual channel call.
	Timeout time.Duration
}

// Retriever fans sub-questions out to the knowledge index and the optional
// web channel and fuses the ranked lists.
type Retriever struct {
	knowledge  KnowledgeSearcher
	web        WebSearcher
	classifier *scoring.Classifier
	cfg        RetrieverConfig
	newID      func() string
}

// NewRetriever creates a retrieval worker. web may be nil, which disables the
// web channel.
func NewRetriever(knowledge KnowledgeSearcher, web WebSearcher, classifier *scoring.Classifier, cfg RetrieverConfig) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = DefaultMaxSources
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultRetrievalConcurrency
	}
	if classifier == nil {
		classifier = scoring.NewClassifier(scoring.ClassifierConfig{})
	}
	return &Retriever{
		knowledge:  knowledge,
		web:        web,
		classifier: classifier,
		cfg:        cfg,
		newID:      uuid.NewString,
	}
}

// WebEnabled reports whether the web channel is configured.
func (r *Retriever) WebEnabled() bool {
	return r.web != nil
}

// Retrieve queries every channel for every sub-question concurrently. A failed
// channel call contributes an empty list; the result is degraded only when
// every call failed.
func (r *Retriever) Retrieve(ctx context.Context, subQuestions []string, scopeID string) StageResult[Retrieval] {
	channels := 1
	if r.web != nil {
		channels = 2
	}
	lists := make([]rankedList, len(subQuestions)*channels)

	var (
		mu   sync.Mutex
		errs []error
	)
	recordErr := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, question := range subQuestions {
		slot := i * channels
		lists[slot].Question = i
		g.Go(func() error {
			items, err := r.searchKnowledge(gctx, scopeID, question)
			if err != nil {
				log.Printf("pipeline: knowledge search failed for %q: %v", question, err)
				recordErr(fmt.Errorf("knowledge search: %w", err))
				return nil
			}
			lists[slot].Items = items
			return nil
		})
		if r.web == nil {
			continue
		}
		lists[slot+1].Question = i
		g.Go(func() error {
			items, err := r.searchWeb(gctx, question)
			if err != nil {
				log.Printf("pipeline: web search failed for %q: %v", question, err)
				recordErr(fmt.Errorf("web search: %w", err))
				return nil
			}
			lists[slot+1].Items = items
			return nil
		})
	}
	_ = g.Wait()

	fused := fuseRankedLists(lists, r.cfg.MaxSources)
	out := Retrieval{
		Sources:  make([]domain.Source, 0, len(fused)),
		Evidence: make(map[string][]string, len(subQuestions)),
	}
	for _, q := range subQuestions {
		out.Evidence[q] = []string{}
	}
	for _, f := range fused {
		src := f.Source
		src.ID = r.newID()
		out.Sources = append(out.Sources, src)
		for _, q := range f.Questions {
			out.Evidence[subQuestions[q]] = append(out.Evidence[subQuestions[q]], src.ID)
		}
	}

	if len(subQuestions) > 0 && len(errs) == len(lists) {
		return degraded(out, errors.Join(errs...))
	}
	return succeeded(out)
}

func (r *Retriever) searchKnowledge(ctx context.Context, scopeID, question string) ([]rankedEvidence, error) {
	hits, err := withTimeout(ctx, r.cfg.Timeout, func(ctx context.Context) ([]domain.KnowledgeHit, error) {
		return r.knowledge.Search(ctx, scopeID, question, r.cfg.TopK)
	})
	if err != nil {
		return nil, err
	}

	items := make([]rankedEvidence, 0, len(hits))
	for _, hit := range hits {
		if strings.TrimSpace(hit.Text) == "" {
			continue
		}
		tier := hit.Metadata.CredibilityTier
		if !tier.IsValid() {
			tier = domain.TierSecondary
		}
		score := hit.Score
		items = append(items, rankedEvidence{
			ID: hit.ID,
			Source: domain.Source{
				Text:            hit.Text,
				Title:           hit.Metadata.Title,
				URL:             hit.Metadata.URL,
				PublishedAt:     hit.Metadata.PublishedAt,
				RetrievalMethod: domain.RetrievalMethodRAG,
				ChannelScore:    &score,
				DomainAuthority: hit.Metadata.DomainAuthority,
				CredibilityTier: tier,
			},
		})
	}
	return items, nil
}

func (r *Retriever) searchWeb(ctx context.Context, question string) ([]rankedEvidence, error) {
	hits, err := withTimeout(ctx, r.cfg.Timeout, func(ctx context.Context) ([]domain.WebHit, error) {
		return r.web.Search(ctx, question, r.cfg.TopK)
	})
	if err != nil {
		return nil, err
	}

	items := make([]rankedEvidence, 0, len(hits))
	for _, hit := range hits {
		text := strings.TrimSpace(hit.Snippet)
		if text == "" {
			text = strings.TrimSpace(hit.Title)
		}
		if text == "" {
			continue
		}
		class := r.classifier.Classify(hit.URL)
		authority := class.DomainAuthority
		items = append(items, rankedEvidence{
			ID: urlKey(hit.URL),
			Source: domain.Source{
				Text:            text,
				Title:           hit.Title,
				URL:             hit.URL,
				PublishedAt:     hit.PublishedAt,
				RetrievalMethod: domain.RetrievalMethodWeb,
				DomainAuthority: &authority,
				CredibilityTier: class.Tier,
			},
		})
	}
	return items, nil
}
