package pipeline

import (
	"net/url"
	"sort"
	"strings"

	"github.com/cloo-solutions/deepresearch/internal/domain"
	"github.com/cloo-solutions/deepresearch/internal/scoring"
)

const (
	rrfK          = 60
	textKeyLength = 120
)

// rankedEvidence is one item of a ranked channel list. ID is the upstream
// identifier when the channel supplies one.
type rankedEvidence struct {
	ID     string
	Source domain.Source
}

// rankedList is the ordered output of one channel for one sub-question.
type rankedList struct {
	Question int
	Items    []rankedEvidence
}

type fusionCandidate struct {
	source    domain.Source
	rrfScore  float64
	questions map[int]bool
}

// fusedEvidence is a fused source with the sub-questions that surfaced it.
type fusedEvidence struct {
	Source    domain.Source
	Questions []int
}

// fuseRankedLists merges ranked lists with Reciprocal Rank Fusion:
// score(d) = sum over lists of 1/(k + rank + 1), rank 0-based. Items are keyed
// by ID, falling back to a normalized text prefix; the first-seen payload is
// kept and scores accumulate. The output is sorted by score, deduplicated by
// text prefix and capped at maxSources when maxSources > 0.
func fuseRankedLists(lists []rankedList, maxSources int) []fusedEvidence {
	candidates := make(map[string]*fusionCandidate)
	order := make([]*fusionCandidate, 0)

	for _, list := range lists {
		for rank, item := range list.Items {
			key := fusionKey(item)
			if key == "" {
				continue
			}
			cand, ok := candidates[key]
			if !ok {
				cand = &fusionCandidate{source: item.Source, questions: make(map[int]bool)}
				candidates[key] = cand
				order = append(order, cand)
			}
			cand.rrfScore += 1.0 / float64(rrfK+rank+1)
			cand.questions[list.Question] = true
			if item.Source.ChannelScore != nil {
				if cand.source.ChannelScore == nil || *item.Source.ChannelScore > *cand.source.ChannelScore {
					score := *item.Source.ChannelScore
					cand.source.ChannelScore = &score
				}
			}
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].rrfScore > order[j].rrfScore
	})

	kept := make([]*fusionCandidate, 0, len(order))
	byText := make(map[string]*fusionCandidate, len(order))
	for _, cand := range order {
		key := textKey(cand.source.Text)
		if first, ok := byText[key]; ok {
			for q := range cand.questions {
				first.questions[q] = true
			}
			continue
		}
		byText[key] = cand
		kept = append(kept, cand)
	}
	if maxSources > 0 && len(kept) > maxSources {
		kept = kept[:maxSources]
	}

	out := make([]fusedEvidence, 0, len(kept))
	maxRRF := 0.0
	if len(kept) > 0 {
		maxRRF = kept[0].rrfScore
	}
	for _, cand := range kept {
		src := cand.source
		src.RRFScore = cand.rrfScore
		switch {
		case src.ChannelScore != nil:
			src.RelevanceScore = scoring.Clamp(*src.ChannelScore, 0, 1)
		case maxRRF > 0:
			src.RelevanceScore = cand.rrfScore / maxRRF
		}

		questions := make([]int, 0, len(cand.questions))
		for q := range cand.questions {
			questions = append(questions, q)
		}
		sort.Ints(questions)
		out = append(out, fusedEvidence{Source: src, Questions: questions})
	}
	return out
}

func fusionKey(item rankedEvidence) string {
	if id := strings.TrimSpace(item.ID); id != "" {
		return "id:" + id
	}
	if key := textKey(item.Source.Text); key != "" {
		return "text:" + key
	}
	return ""
}

// textKey lower-cases text, collapses whitespace and keeps the first
// textKeyLength runes.
func textKey(text string) string {
	clean := strings.ToLower(strings.Join(strings.Fields(text), " "))
	runes := []rune(clean)
	if len(runes) > textKeyLength {
		runes = runes[:textKeyLength]
	}
	return string(runes)
}

// urlKey identifies a web result by its address: host lower-cased without a
// leading "www.", path without a trailing slash, query kept, scheme and
// fragment dropped. It returns "" when raw has no host.
func urlKey(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	key := strings.TrimPrefix(strings.ToLower(u.Host), "www.") + strings.TrimRight(u.Path, "/")
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return "url:" + key
}
