package pipeline

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayurbridge/terminology-api/internal/domain/targetcode"
)

type fakeSearcher struct {
	vectorHits   []targetcode.ScoredTarget
	vectorErr    error
	fulltextHits []targetcode.ScoredTarget
	fulltextErr  error
	keywordHits  []targetcode.ScoredTarget
	keywordErr   error

	vectorCalls   int
	fulltextCalls int
	keywordCalls  int
	gotKeywords   []string
}

func (f *fakeSearcher) SearchByVector(ctx context.Context, vec pgvector.Vector, k int, min float64) ([]targetcode.ScoredTarget, error) {
	f.vectorCalls++
	return f.vectorHits, f.vectorErr
}

func (f *fakeSearcher) SearchFullText(ctx context.Context, q string, k int) ([]targetcode.ScoredTarget, error) {
	f.fulltextCalls++
	return f.fulltextHits, f.fulltextErr
}

func (f *fakeSearcher) SearchByKeywords(ctx context.Context, kws []string, k int) ([]targetcode.ScoredTarget, error) {
	f.keywordCalls++
	f.gotKeywords = kws
	return f.keywordHits, f.keywordErr
}

func scored(code string, score float64, method string) targetcode.ScoredTarget {
	return targetcode.ScoredTarget{
		Target: &targetcode.TargetCode{Code: code, Title: "Title " + code},
		Score:  score,
		Method: method,
	}
}

func newTestRetriever(f *fakeSearcher) *Retriever {
	return NewRetriever(f, zerolog.New(os.Stderr))
}

func TestRetrieve_VectorPreferred(t *testing.T) {
	f := &fakeSearcher{
		vectorHits:   []targetcode.ScoredTarget{scored("SK00.0", 0.92, "vector")},
		fulltextHits: []targetcode.ScoredTarget{scored("SK99.9", 0.5, "fulltext")},
	}
	hits, soft := newTestRetriever(f).Retrieve(context.Background(), "fever", testVec())

	require.Len(t, hits, 1)
	assert.Equal(t, "SK00.0", hits[0].Target.Code)
	assert.Empty(t, soft)
	assert.Equal(t, 0, f.fulltextCalls, "fulltext must not run when vector hits exist")
}

func TestRetrieve_FallsBackToFullText(t *testing.T) {
	f := &fakeSearcher{
		fulltextHits: []targetcode.ScoredTarget{scored("SK01.0", 0.4, "fulltext")},
	}
	hits, _ := newTestRetriever(f).Retrieve(context.Background(), "fever", testVec())

	require.Len(t, hits, 1)
	assert.Equal(t, "fulltext", hits[0].Method)
	assert.Equal(t, 1, f.vectorCalls)
	assert.Equal(t, 0, f.keywordCalls)
}

func TestRetrieve_NoVectorSkipsVectorSearch(t *testing.T) {
	f := &fakeSearcher{
		fulltextHits: []targetcode.ScoredTarget{scored("SK01.0", 0.4, "fulltext")},
	}
	newTestRetriever(f).Retrieve(context.Background(), "fever", nil)
	assert.Equal(t, 0, f.vectorCalls)
}

func TestRetrieve_KeywordFallback(t *testing.T) {
	f := &fakeSearcher{
		keywordHits: []targetcode.ScoredTarget{
			scored("SK02.0", 0.6, "keyword"),
			scored("SK02.1", 0.4, "keyword"),
		},
	}
	hits, _ := newTestRetriever(f).Retrieve(context.Background(), "chronic digestive weakness", nil)

	require.Len(t, hits, 2)
	assert.Equal(t, []string{"chronic", "digestive", "weakness"}, f.gotKeywords)
}

func TestRetrieve_KeywordTruncatedToMax(t *testing.T) {
	var hits []targetcode.ScoredTarget
	for i := 0; i < keywordSearchLimit; i++ {
		hits = append(hits, scored(string(rune('A'+i)), 1.0-float64(i)*0.01, "keyword"))
	}
	f := &fakeSearcher{keywordHits: hits}

	got, _ := newTestRetriever(f).Retrieve(context.Background(), "chronic digestive weakness", nil)
	assert.Len(t, got, MaxCandidates)
}

func TestRetrieve_EmptyKeywordsReturnsNothing(t *testing.T) {
	f := &fakeSearcher{}
	hits, _ := newTestRetriever(f).Retrieve(context.Background(), "the and for", nil)

	assert.Empty(t, hits)
	assert.Equal(t, 0, f.keywordCalls, "keyword search must not run with no keywords")
}

func TestRetrieve_SoftErrorsAccumulate(t *testing.T) {
	f := &fakeSearcher{
		vectorErr:   errors.New("index missing"),
		fulltextErr: errors.New("fts down"),
		keywordHits: []targetcode.ScoredTarget{scored("SK03.0", 0.5, "keyword")},
	}
	hits, soft := newTestRetriever(f).Retrieve(context.Background(), "digestive weakness", testVec())

	require.Len(t, hits, 1)
	assert.Len(t, soft, 2)
}

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			"splits on separators",
			"vata-pitta imbalance/disturbance",
			[]string{"vata", "pitta", "imbalance", "disturbance"},
		},
		{
			"drops short and stop words",
			"the fever and red rash for days",
			[]string{"fever", "rash", "days"},
		},
		{
			"caps at five",
			"alpha bravo charlie delta echo foxtrot golf",
			[]string{"alpha", "bravo", "charlie", "delta", "echo"},
		},
		{
			"drops disorder and disease",
			"chronic disorder disease pattern",
			[]string{"chronic", "pattern"},
		},
		{
			"empty input",
			"",
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractKeywords(tt.in))
		})
	}
}

func TestExtractKeywords_Deterministic(t *testing.T) {
	in := "chronic digestive weakness with burning"
	first := ExtractKeywords(in)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ExtractKeywords(in))
	}
}

func testVec() []float32 {
	v := make([]float32, 768)
	for i := range v {
		v[i] = 0.01
	}
	return v
}
