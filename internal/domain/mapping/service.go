package mapping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ayurbridge/terminology-api/internal/domain/sourcecode"
	"github.com/ayurbridge/terminology-api/internal/pipeline"
	"github.com/ayurbridge/terminology-api/internal/platform/cache"
)

// SourceFinder is the slice of the source repository the service needs.
type SourceFinder interface {
	FindByCode(ctx context.Context, code, system string) (*sourcecode.SourceCode, error)
}

// PipelineRunner runs the mapping workflow for one source code.
type PipelineRunner interface {
	Run(ctx context.Context, src *sourcecode.SourceCode) (*pipeline.Outcome, error)
}

// SourceView is the source half of a translate response.
type SourceView struct {
	Code        string `json:"code"`
	System      string `json:"system"`
	Term        string `json:"term"`
	EnglishName string `json:"english_name,omitempty"`
}

// TargetView is the target half of a translate response.
type TargetView struct {
	Code  string `json:"code"`
	Title string `json:"title"`
}

// View is the mapping payload served to callers and stored in the mappings
// cache, so a cached response is identical to the fresh one it mirrors.
type View struct {
	Source        SourceView  `json:"source"`
	Target        *TargetView `json:"target"`
	Equivalence   string      `json:"equivalence"`
	Confidence    float64     `json:"confidence"`
	MappingSource string      `json:"mapping_source,omitempty"`
	Reasoning     string      `json:"reasoning"`
}

// TranslateResult is the full translate response body.
type TranslateResult struct {
	Success          bool   `json:"success"`
	ResultSource     string `json:"source"` // "cached" | "ai_workflow"
	Mapping          View   `json:"mapping"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`
}

// Service orchestrates translate requests: cache in front, pipeline behind,
// persistence and cache repopulation after.
type Service struct {
	sources  SourceFinder
	mappings MappingRepository
	pipe     PipelineRunner
	caches   *cache.Layer
	logger   zerolog.Logger
}

func NewService(sources SourceFinder, mappings MappingRepository, pipe PipelineRunner, caches *cache.Layer, logger zerolog.Logger) *Service {
	return &Service{
		sources:  sources,
		mappings: mappings,
		pipe:     pipe,
		caches:   caches,
		logger:   logger,
	}
}

// Translate maps one source code interactively. A cache hit bypasses the
// pipeline entirely; an unmatched outcome is returned but never persisted or
// cached, so the next identical request re-runs the pipeline.
func (s *Service) Translate(ctx context.Context, code, system string) (*TranslateResult, error) {
	start := time.Now()
	system = sourcecode.NormalizeSystem(system)

	key := cache.MappingKey(system, code)
	if v, ok := s.caches.Mappings.Get(key); ok {
		return &TranslateResult{
			Success:          true,
			ResultSource:     "cached",
			Mapping:          v.(View),
			ProcessingTimeMS: time.Since(start).Milliseconds(),
		}, nil
	}

	// A mapping persisted earlier (or seeded by a reviewer) short-circuits
	// the pipeline the same way a warm cache entry does.
	if d, err := s.mappings.FindDetailBySource(ctx, code, system); err == nil {
		view := detailToView(d)
		s.caches.Mappings.Set(key, view)
		return &TranslateResult{
			Success:          true,
			ResultSource:     "cached",
			Mapping:          view,
			ProcessingTimeMS: time.Since(start).Milliseconds(),
		}, nil
	} else if !errors.Is(err, ErrNotFound) {
		s.logger.Warn().Err(err).Str("code", code).Msg("stored-mapping lookup failed; running pipeline")
	}

	src, err := s.sources.FindByCode(ctx, code, system)
	if err != nil {
		return nil, err
	}

	out, err := s.pipe.Run(ctx, src)
	if err != nil {
		return nil, err
	}

	view := View{
		Source: SourceView{
			Code:        src.Code,
			System:      src.System,
			Term:        src.Term,
			EnglishName: derefStr(src.EnglishName),
		},
		Equivalence: out.Equivalence,
		Confidence:  out.Confidence,
		Reasoning:   out.Reasoning,
	}

	if out.Matched() {
		view.Target = &TargetView{Code: out.Target.Code, Title: out.Target.Title}
		view.MappingSource = SourceAIValidated
		s.persistAndCache(ctx, src, out, key, view)
	}

	return &TranslateResult{
		Success:          out.Matched(),
		ResultSource:     "ai_workflow",
		Mapping:          view,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}, nil
}

// persistAndCache upserts the decided mapping and repopulates the cache
// entry. A persistence failure is logged and swallowed: the caller still
// gets the mapping, and the cache stays empty so the next call retries. The
// cached entry reflects the stored row, which can differ from the pipeline
// outcome when a reviewer has already human-validated the pair.
func (s *Service) persistAndCache(ctx context.Context, src *sourcecode.SourceCode, out *pipeline.Outcome, key string, view View) {
	stored, err := s.mappings.Upsert(ctx, &Mapping{
		SourceID:      src.ID,
		TargetID:      out.Target.ID,
		Equivalence:   out.Equivalence,
		Confidence:    out.Confidence,
		MappingSource: SourceAIValidated,
		Reasoning:     out.Reasoning,
	})
	if err != nil {
		s.logger.Error().Err(err).
			Str("code", src.Code).
			Str("system", src.System).
			Msg("mapping persistence failed; returning unpersisted result")
		return
	}

	view.Equivalence = stored.Equivalence
	view.Confidence = stored.Confidence
	view.MappingSource = stored.MappingSource
	view.Reasoning = stored.Reasoning

	s.caches.Mappings.Delete(key)
	s.caches.Mappings.Set(key, view)
}

// ProcessBatchItem runs the pipeline for one batch-job item. The job queue
// records a returned error as an item failure.
func (s *Service) ProcessBatchItem(ctx context.Context, code, system string, saveResults bool) (interface{}, error) {
	system = sourcecode.NormalizeSystem(system)
	if !sourcecode.IsValidSystem(system) {
		return nil, fmt.Errorf("unknown system %q", system)
	}

	src, err := s.sources.FindByCode(ctx, code, system)
	if err != nil {
		if errors.Is(err, sourcecode.ErrNotFound) {
			return nil, fmt.Errorf("code not found")
		}
		return nil, err
	}

	out, err := s.pipe.Run(ctx, src)
	if err != nil {
		return nil, err
	}

	view := View{
		Source: SourceView{
			Code:        src.Code,
			System:      src.System,
			Term:        src.Term,
			EnglishName: derefStr(src.EnglishName),
		},
		Equivalence: out.Equivalence,
		Confidence:  out.Confidence,
		Reasoning:   out.Reasoning,
	}
	if out.Matched() {
		view.Target = &TargetView{Code: out.Target.Code, Title: out.Target.Title}
		view.MappingSource = SourceAIValidated
		if saveResults {
			s.persistAndCache(ctx, src, out, cache.MappingKey(system, code), view)
		}
	}
	return view, nil
}

// LookupExisting returns the strongest stored mapping for a source code, the
// shape the synchronous batch endpoint serves without running the pipeline.
func (s *Service) LookupExisting(ctx context.Context, code, system string) (*View, error) {
	d, err := s.mappings.FindDetailBySource(ctx, code, sourcecode.NormalizeSystem(system))
	if err != nil {
		return nil, err
	}
	v := detailToView(d)
	return &v, nil
}

// List pages through stored mappings.
func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Detail, int, error) {
	if f.Equivalence != "" && !IsValidEquivalence(f.Equivalence) {
		return nil, 0, fmt.Errorf("unknown equivalence %q", f.Equivalence)
	}
	if f.Status != "" && !IsValidValidationStatus(f.Status) {
		return nil, 0, fmt.Errorf("unknown validation status %q", f.Status)
	}
	return s.mappings.List(ctx, f, limit, offset)
}

// Stats aggregates the mapping table.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.mappings.Stats(ctx)
}

// Validate records a human review verdict and invalidates the cached entry
// for the mapping's source code. The status write and the detail read-back
// that drives the invalidation run in one transaction, so the cache key is
// derived from the row the reviewer actually changed.
func (s *Service) Validate(ctx context.Context, id uuid.UUID, status, validator string) (*Mapping, error) {
	if !IsValidValidationStatus(status) {
		return nil, fmt.Errorf("unknown validation status %q", status)
	}
	if validator == "" {
		return nil, fmt.Errorf("validator is required")
	}

	var m *Mapping
	var d *Detail
	err := s.mappings.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if m, err = s.mappings.SetValidation(ctx, id, status, validator); err != nil {
			return err
		}
		d, err = s.mappings.GetDetailByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.caches.Mappings.Delete(cache.MappingKey(d.SourceSystem, d.SourceCode))
	return m, nil
}

func detailToView(d *Detail) View {
	return View{
		Source: SourceView{
			Code:        d.SourceCode,
			System:      d.SourceSystem,
			Term:        d.SourceTerm,
			EnglishName: derefStr(d.SourceEnglish),
		},
		Target:        &TargetView{Code: d.TargetCode, Title: d.TargetTitle},
		Equivalence:   d.Equivalence,
		Confidence:    d.Confidence,
		MappingSource: d.MappingSource,
		Reasoning:     d.Reasoning,
	}
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
