package sourcecode

import (
	"context"
	"fmt"
	"strings"
)

type Service struct {
	repo SourceCodeRepository
}

func NewService(repo SourceCodeRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) FindByCode(ctx context.Context, code, system string) (*SourceCode, error) {
	if !IsValidSystem(system) {
		return nil, fmt.Errorf("unknown system %q", system)
	}
	return s.repo.FindByCode(ctx, code, system)
}

// Autocomplete requires at least two characters of query text so the
// substring scan stays bounded.
func (s *Service) Autocomplete(ctx context.Context, q, system string, limit int) ([]*SourceCode, error) {
	q = strings.TrimSpace(q)
	if len([]rune(q)) < 2 {
		return nil, fmt.Errorf("query must be at least 2 characters")
	}
	if system != "" && !IsValidSystem(system) {
		return nil, fmt.Errorf("unknown system %q", system)
	}
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	return s.repo.SearchAutocomplete(ctx, q, system, limit)
}

func (s *Service) List(ctx context.Context, filter, system string, limit, offset int) ([]*SourceCode, int, error) {
	return s.repo.List(ctx, filter, system, limit, offset)
}

func (s *Service) CountBySystem(ctx context.Context) (map[string]int, error) {
	return s.repo.CountBySystem(ctx)
}

func (s *Service) EmbeddingCoverage(ctx context.Context) (*Coverage, error) {
	return s.repo.EmbeddingCoverage(ctx)
}
