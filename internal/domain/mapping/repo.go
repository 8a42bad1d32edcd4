package mapping

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no mapping matches a lookup.
var ErrNotFound = errors.New("mapping not found")

type MappingRepository interface {
	// Upsert writes a mapping atomically keyed on (source_id, target_id).
	// When the existing row was human-validated, the AI-produced fields are
	// left untouched and only updated_at is bumped; the returned row always
	// reflects what is actually stored.
	Upsert(ctx context.Context, m *Mapping) (*Mapping, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Mapping, error)
	GetDetailByID(ctx context.Context, id uuid.UUID) (*Detail, error)

	// FindDetailBySource returns the strongest stored mapping for a source
	// code, or ErrNotFound.
	FindDetailBySource(ctx context.Context, code, system string) (*Detail, error)

	List(ctx context.Context, f Filter, limit, offset int) ([]*Detail, int, error)
	Stats(ctx context.Context) (*Stats, error)

	// SetValidation records a human review action: status, validator, and
	// validated_at always move together. Approval flips the provenance to
	// HUMAN_VALIDATED.
	SetValidation(ctx context.Context, id uuid.UUID, status, validator string) (*Mapping, error)

	// WithinTx runs fn with a context carrying an open transaction; every
	// repository call made through that context joins it. fn returning an
	// error rolls the transaction back.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
