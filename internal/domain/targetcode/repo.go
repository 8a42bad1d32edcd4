package targetcode

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// ErrNotFound is returned when no target code matches a unique lookup.
var ErrNotFound = errors.New("target code not found")

// Coverage reports how much of the catalog has embeddings.
type Coverage struct {
	Total         int     `json:"total"`
	WithEmbedding int     `json:"with_embedding"`
	Percentage    float64 `json:"percentage"`
}

type TargetCodeRepository interface {
	Create(ctx context.Context, tc *TargetCode) error
	FindByCode(ctx context.Context, code string) (*TargetCode, error)
	GetByID(ctx context.Context, id uuid.UUID) (*TargetCode, error)

	// SearchFullText ranks candidates by lexical score over title and
	// definition. Scores are nonnegative; results come back in nonincreasing
	// score order, ties broken by code ascending.
	SearchFullText(ctx context.Context, query string, k int) ([]ScoredTarget, error)

	// SearchByKeywords scores each candidate by the fraction of keywords
	// appearing (case-insensitively) in title or definition, dropping
	// zero-score rows. Same ordering contract as SearchFullText.
	SearchByKeywords(ctx context.Context, keywords []string, k int) ([]ScoredTarget, error)

	// SearchByVector returns candidates with cosine similarity >=
	// minSimilarity ordered by similarity descending. Rows without an
	// embedding are excluded.
	SearchByVector(ctx context.Context, vec pgvector.Vector, k int, minSimilarity float64) ([]ScoredTarget, error)

	SearchAutocomplete(ctx context.Context, q string, limit int) ([]*TargetCode, error)
	EmbeddingCoverage(ctx context.Context) (*Coverage, error)
	ListMissingEmbeddings(ctx context.Context, limit int) ([]*TargetCode, error)
	UpdateEmbedding(ctx context.Context, id uuid.UUID, embedding pgvector.Vector) error
	Count(ctx context.Context) (int, error)
	EnsureVectorIndexes(ctx context.Context) error
}
