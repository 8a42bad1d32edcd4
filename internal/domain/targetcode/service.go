package targetcode

import (
	"context"
	"fmt"
	"strings"
)

type Service struct {
	repo TargetCodeRepository
}

func NewService(repo TargetCodeRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) FindByCode(ctx context.Context, code string) (*TargetCode, error) {
	return s.repo.FindByCode(ctx, code)
}

func (s *Service) Autocomplete(ctx context.Context, q string, limit int) ([]*TargetCode, error) {
	q = strings.TrimSpace(q)
	if len([]rune(q)) < 2 {
		return nil, fmt.Errorf("query must be at least 2 characters")
	}
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	return s.repo.SearchAutocomplete(ctx, q, limit)
}

func (s *Service) EmbeddingCoverage(ctx context.Context) (*Coverage, error) {
	return s.repo.EmbeddingCoverage(ctx)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
