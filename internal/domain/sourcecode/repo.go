package sourcecode

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// ErrNotFound is returned when no source code matches a unique lookup.
var ErrNotFound = errors.New("source code not found")

// Coverage reports how much of the catalog has embeddings.
type Coverage struct {
	Total        int     `json:"total"`
	WithEmbedding int    `json:"with_embedding"`
	Percentage   float64 `json:"percentage"`
}

type SourceCodeRepository interface {
	Create(ctx context.Context, sc *SourceCode) error
	FindByCode(ctx context.Context, code, system string) (*SourceCode, error)
	GetByID(ctx context.Context, id uuid.UUID) (*SourceCode, error)
	// SearchAutocomplete matches q as a case-insensitive substring of term,
	// english_name, or searchable_text, optionally filtered by system.
	SearchAutocomplete(ctx context.Context, q, system string, limit int) ([]*SourceCode, error)
	// List pages through the catalog with the same substring filter,
	// returning the filtered total for ValueSet expansion.
	List(ctx context.Context, filter, system string, limit, offset int) ([]*SourceCode, int, error)
	CountBySystem(ctx context.Context) (map[string]int, error)
	EmbeddingCoverage(ctx context.Context) (*Coverage, error)
	ListMissingEmbeddings(ctx context.Context, limit int) ([]*SourceCode, error)
	UpdateEmbedding(ctx context.Context, id uuid.UUID, embedding pgvector.Vector) error
}
