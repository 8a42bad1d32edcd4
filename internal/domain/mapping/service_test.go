package mapping

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayurbridge/terminology-api/internal/domain/sourcecode"
	"github.com/ayurbridge/terminology-api/internal/domain/targetcode"
	"github.com/ayurbridge/terminology-api/internal/pipeline"
	"github.com/ayurbridge/terminology-api/internal/platform/cache"
)

type fakeSources struct {
	byKey map[string]*sourcecode.SourceCode
}

func (f *fakeSources) FindByCode(ctx context.Context, code, system string) (*sourcecode.SourceCode, error) {
	if sc, ok := f.byKey[system+":"+code]; ok {
		return sc, nil
	}
	return nil, sourcecode.ErrNotFound
}

type fakeMappings struct {
	details   map[string]*Detail // keyed system:code
	upserts   []*Mapping
	upsertErr error
	byID      map[uuid.UUID]*Detail
}

func (f *fakeMappings) Upsert(ctx context.Context, m *Mapping) (*Mapping, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	f.upserts = append(f.upserts, m)
	cp := *m
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.ValidationStatus = StatusPending
	return &cp, nil
}

func (f *fakeMappings) GetByID(ctx context.Context, id uuid.UUID) (*Mapping, error) {
	if d, ok := f.byID[id]; ok {
		return &d.Mapping, nil
	}
	return nil, ErrNotFound
}

func (f *fakeMappings) GetDetailByID(ctx context.Context, id uuid.UUID) (*Detail, error) {
	if d, ok := f.byID[id]; ok {
		return d, nil
	}
	return nil, ErrNotFound
}

func (f *fakeMappings) FindDetailBySource(ctx context.Context, code, system string) (*Detail, error) {
	if d, ok := f.details[system+":"+code]; ok {
		return d, nil
	}
	return nil, ErrNotFound
}

func (f *fakeMappings) List(ctx context.Context, fl Filter, limit, offset int) ([]*Detail, int, error) {
	return nil, 0, nil
}

func (f *fakeMappings) Stats(ctx context.Context) (*Stats, error) {
	return &Stats{}, nil
}

func (f *fakeMappings) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (f *fakeMappings) SetValidation(ctx context.Context, id uuid.UUID, status, validator string) (*Mapping, error) {
	d, ok := f.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	m := d.Mapping
	m.ValidationStatus = status
	m.Validator = &validator
	if status == StatusApproved {
		m.MappingSource = SourceHumanValidated
	}
	return &m, nil
}

type fakePipe struct {
	outcome *pipeline.Outcome
	err     error
	calls   int
}

func (f *fakePipe) Run(ctx context.Context, src *sourcecode.SourceCode) (*pipeline.Outcome, error) {
	f.calls++
	return f.outcome, f.err
}

func strPtr(s string) *string { return &s }

func testSource() *sourcecode.SourceCode {
	return &sourcecode.SourceCode{
		ID:          uuid.New(),
		Code:        "AAA-1",
		System:      "ayurveda",
		Term:        "ज्वर",
		EnglishName: strPtr("Jvara"),
	}
}

func matchedOutcome(code string, conf float64) *pipeline.Outcome {
	return &pipeline.Outcome{
		Target:      &targetcode.TargetCode{ID: uuid.New(), Code: code, Title: "Title " + code},
		Equivalence: EquivalenceEquivalent,
		Confidence:  conf,
		Reasoning:   "High confidence text match",
	}
}

func newTestService(src *sourcecode.SourceCode, repo *fakeMappings, pipe *fakePipe) (*Service, *cache.Layer) {
	sources := &fakeSources{byKey: map[string]*sourcecode.SourceCode{}}
	if src != nil {
		sources.byKey[src.System+":"+src.Code] = src
	}
	caches := cache.NewLayer()
	svc := NewService(sources, repo, pipe, caches, zerolog.New(os.Stderr))
	return svc, caches
}

func TestTranslate_StoredMappingServedAsCached(t *testing.T) {
	src := testSource()
	repo := &fakeMappings{details: map[string]*Detail{
		"ayurveda:AAA-1": {
			Mapping:      Mapping{Equivalence: EquivalenceEquivalent, Confidence: 0.85},
			SourceCode:   "AAA-1",
			SourceSystem: "ayurveda",
			SourceTerm:   "ज्वर",
			TargetCode:   "SK00.0",
			TargetTitle:  "Fever disorder",
		},
	}}
	pipe := &fakePipe{}
	svc, _ := newTestService(src, repo, pipe)

	res, err := svc.Translate(context.Background(), "AAA-1", "ayurveda")
	require.NoError(t, err)

	assert.Equal(t, "cached", res.ResultSource)
	assert.True(t, res.Success)
	require.NotNil(t, res.Mapping.Target)
	assert.Equal(t, "SK00.0", res.Mapping.Target.Code)
	assert.Equal(t, EquivalenceEquivalent, res.Mapping.Equivalence)
	assert.Equal(t, 0.85, res.Mapping.Confidence)
	assert.Equal(t, 0, pipe.calls, "stored mapping must bypass the pipeline")
}

func TestTranslate_FreshRunPersistsAndCaches(t *testing.T) {
	src := testSource()
	repo := &fakeMappings{details: map[string]*Detail{}}
	pipe := &fakePipe{outcome: matchedOutcome("SK00.0", 0.95)}
	svc, caches := newTestService(src, repo, pipe)

	res, err := svc.Translate(context.Background(), "AAA-1", "ayurveda")
	require.NoError(t, err)

	assert.Equal(t, "ai_workflow", res.ResultSource)
	assert.True(t, res.Success)
	require.Len(t, repo.upserts, 1)
	assert.Equal(t, SourceAIValidated, repo.upserts[0].MappingSource)
	assert.Equal(t, src.ID, repo.upserts[0].SourceID)

	// Cache coherence: next call serves byte-identical mapping as cached.
	res2, err := svc.Translate(context.Background(), "AAA-1", "ayurveda")
	require.NoError(t, err)
	assert.Equal(t, "cached", res2.ResultSource)
	assert.Equal(t, res.Mapping, res2.Mapping)
	assert.Equal(t, 1, pipe.calls)

	_, ok := caches.Mappings.Get(cache.MappingKey("ayurveda", "AAA-1"))
	assert.True(t, ok)
}

func TestTranslate_UnmatchedNotPersistedNotCached(t *testing.T) {
	src := testSource()
	repo := &fakeMappings{details: map[string]*Detail{}}
	pipe := &fakePipe{outcome: &pipeline.Outcome{
		Equivalence: EquivalenceUnmatched,
		Confidence:  0,
		Reasoning:   "No candidates",
	}}
	svc, caches := newTestService(src, repo, pipe)

	res, err := svc.Translate(context.Background(), "AAA-1", "ayurveda")
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Nil(t, res.Mapping.Target)
	assert.Equal(t, EquivalenceUnmatched, res.Mapping.Equivalence)
	assert.Empty(t, repo.upserts)

	_, ok := caches.Mappings.Get(cache.MappingKey("ayurveda", "AAA-1"))
	assert.False(t, ok, "unmatched outcomes must not be cached")

	// The next identical request re-runs the pipeline.
	_, err = svc.Translate(context.Background(), "AAA-1", "ayurveda")
	require.NoError(t, err)
	assert.Equal(t, 2, pipe.calls)
}

func TestTranslate_PersistFailureSwallowed(t *testing.T) {
	src := testSource()
	repo := &fakeMappings{details: map[string]*Detail{}, upsertErr: errors.New("db down")}
	pipe := &fakePipe{outcome: matchedOutcome("SK00.0", 0.9)}
	svc, caches := newTestService(src, repo, pipe)

	res, err := svc.Translate(context.Background(), "AAA-1", "ayurveda")
	require.NoError(t, err, "persistence failures must not surface")

	assert.Equal(t, "ai_workflow", res.ResultSource)
	require.NotNil(t, res.Mapping.Target)

	_, ok := caches.Mappings.Get(cache.MappingKey("ayurveda", "AAA-1"))
	assert.False(t, ok, "failed persist must leave the cache empty so the next call retries")
}

func TestTranslate_SourceNotFound(t *testing.T) {
	repo := &fakeMappings{details: map[string]*Detail{}}
	svc, _ := newTestService(nil, repo, &fakePipe{})

	_, err := svc.Translate(context.Background(), "NOPE-1", "ayurveda")
	assert.ErrorIs(t, err, sourcecode.ErrNotFound)
}

func TestTranslate_PipelineErrorPropagates(t *testing.T) {
	src := testSource()
	repo := &fakeMappings{details: map[string]*Detail{}}
	pipe := &fakePipe{err: context.DeadlineExceeded}
	svc, _ := newTestService(src, repo, pipe)

	_, err := svc.Translate(context.Background(), "AAA-1", "ayurveda")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProcessBatchItem_CodeNotFound(t *testing.T) {
	repo := &fakeMappings{details: map[string]*Detail{}}
	svc, _ := newTestService(nil, repo, &fakePipe{})

	_, err := svc.ProcessBatchItem(context.Background(), "NOPE", "ayurveda", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code not found")
}

func TestProcessBatchItem_SaveResultsControlsPersistence(t *testing.T) {
	src := testSource()

	repo := &fakeMappings{details: map[string]*Detail{}}
	pipe := &fakePipe{outcome: matchedOutcome("SK00.0", 0.9)}
	svc, _ := newTestService(src, repo, pipe)

	_, err := svc.ProcessBatchItem(context.Background(), "AAA-1", "ayurveda", false)
	require.NoError(t, err)
	assert.Empty(t, repo.upserts, "save_results=false must not persist")

	_, err = svc.ProcessBatchItem(context.Background(), "AAA-1", "ayurveda", true)
	require.NoError(t, err)
	assert.Len(t, repo.upserts, 1)
}

func TestValidate_RejectsBadInput(t *testing.T) {
	repo := &fakeMappings{byID: map[uuid.UUID]*Detail{}}
	svc, _ := newTestService(nil, repo, &fakePipe{})

	_, err := svc.Validate(context.Background(), uuid.New(), "MAYBE", "reviewer")
	assert.Error(t, err)

	_, err = svc.Validate(context.Background(), uuid.New(), StatusApproved, "")
	assert.Error(t, err)
}

func TestValidate_ApprovalInvalidatesCache(t *testing.T) {
	id := uuid.New()
	detail := &Detail{
		Mapping:      Mapping{ID: id, Equivalence: EquivalenceEquivalent, Confidence: 0.8},
		SourceCode:   "AAA-1",
		SourceSystem: "ayurveda",
		SourceTerm:   "ज्वर",
		TargetCode:   "SK00.0",
		TargetTitle:  "Fever disorder",
	}
	repo := &fakeMappings{byID: map[uuid.UUID]*Detail{id: detail}}
	svc, caches := newTestService(nil, repo, &fakePipe{})

	caches.Mappings.Set(cache.MappingKey("ayurveda", "AAA-1"), View{})

	m, err := svc.Validate(context.Background(), id, StatusApproved, "reviewer-1")
	require.NoError(t, err)
	assert.Equal(t, SourceHumanValidated, m.MappingSource)
	require.NotNil(t, m.Validator)
	assert.Equal(t, "reviewer-1", *m.Validator)

	_, ok := caches.Mappings.Get(cache.MappingKey("ayurveda", "AAA-1"))
	assert.False(t, ok, "human action must invalidate the cached mapping")
}
