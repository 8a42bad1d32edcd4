package pipeline

import (
	"context"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"github.com/ayurbridge/terminology-api/internal/domain/targetcode"
)

const (
	// MaxCandidates bounds what downstream consumers see.
	MaxCandidates = 10

	minVectorSimilarity = 0.5
	keywordSearchLimit  = 15
	maxKeywords         = 5
	minKeywordLength    = 4
)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true,
	"from": true, "that": true, "this": true,
	"disorder": true, "disease": true,
}

// TargetSearcher is the slice of the target repository the retriever needs.
type TargetSearcher interface {
	SearchFullText(ctx context.Context, query string, k int) ([]targetcode.ScoredTarget, error)
	SearchByKeywords(ctx context.Context, keywords []string, k int) ([]targetcode.ScoredTarget, error)
	SearchByVector(ctx context.Context, vec pgvector.Vector, k int, minSimilarity float64) ([]targetcode.ScoredTarget, error)
}

// Retriever produces ranked target candidates for a source description.
// Vector retrieval is preferred because cross-script source terminology often
// shares no lexical tokens with English target titles; the lexical and
// keyword fallbacks guarantee progress when embeddings are absent or weak.
type Retriever struct {
	targets TargetSearcher
	logger  zerolog.Logger
}

func NewRetriever(targets TargetSearcher, logger zerolog.Logger) *Retriever {
	return &Retriever{targets: targets, logger: logger}
}

// Retrieve runs the staged search. Search-stage failures are soft: they are
// returned alongside whatever a later stage produced.
func (r *Retriever) Retrieve(ctx context.Context, text string, queryVec []float32) ([]targetcode.ScoredTarget, []string) {
	var soft []string

	if len(queryVec) > 0 {
		hits, err := r.targets.SearchByVector(ctx, pgvector.NewVector(queryVec), MaxCandidates, minVectorSimilarity)
		if err != nil {
			soft = append(soft, "vector search failed: "+err.Error())
		} else if len(hits) > 0 {
			return hits, soft
		}
	}

	hits, err := r.targets.SearchFullText(ctx, text, MaxCandidates)
	if err != nil {
		soft = append(soft, "fulltext search failed: "+err.Error())
	} else if len(hits) > 0 {
		return hits, soft
	}

	keywords := ExtractKeywords(text)
	if len(keywords) == 0 {
		return nil, soft
	}
	hits, err = r.targets.SearchByKeywords(ctx, keywords, keywordSearchLimit)
	if err != nil {
		soft = append(soft, "keyword search failed: "+err.Error())
		return nil, soft
	}
	if len(hits) > MaxCandidates {
		hits = hits[:MaxCandidates]
	}
	return hits, soft
}

// ExtractKeywords derives the keyword-fallback query terms: split on
// whitespace, '/', '-' and '|', lowercase, drop short tokens and stop words,
// keep the first five.
func ExtractKeywords(text string) []string {
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '/' || r == '-' || r == '|'
	})

	var out []string
	for _, tok := range tokens {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if len([]rune(tok)) < minKeywordLength {
			continue
		}
		if stopWords[tok] {
			continue
		}
		out = append(out, tok)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}
