// Package pipeline implements the staged mapping workflow: normalize the
// source description, embed it, retrieve target candidates, then either
// accept the top candidate outright or hand the short list to the LLM
// adjudicator. Soft failures accumulate and the pipeline continues on a
// degraded path; an unmatched outcome comes from an empty candidate list or
// from the adjudicator selecting no candidate.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayurbridge/terminology-api/internal/domain/sourcecode"
	"github.com/ayurbridge/terminology-api/internal/domain/targetcode"
	"github.com/ayurbridge/terminology-api/internal/platform/llm"
)

// Equivalence labels the pipeline can produce.
const (
	EquivalenceEquivalent = "EQUIVALENT"
	EquivalenceWider      = "WIDER"
	EquivalenceNarrower   = "NARROWER"
	EquivalenceInexact    = "INEXACT"
	EquivalenceUnmatched  = "UNMATCHED"
)

var adjudicatorEquivalences = map[string]bool{
	EquivalenceEquivalent: true,
	EquivalenceWider:      true,
	EquivalenceNarrower:   true,
	EquivalenceInexact:    true,
	EquivalenceUnmatched:  true,
}

const (
	highConfidenceThreshold = 0.9
	highConfidenceFloor     = 0.85
	fallbackConfidence      = 0.5
	adjudicationCandidates  = 3
	definitionTruncation    = 200
)

// Embedder is the slice of the embedding client the pipeline needs.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Adjudicator is the slice of the LLM client the pipeline needs.
type Adjudicator interface {
	Adjudicate(ctx context.Context, src llm.SourceInput, candidates []llm.CandidateInput) (*llm.Judgment, error)
}

// Outcome is the pipeline's result for one source code. Target is nil when
// unmatched; Errors collects the soft failures encountered along the way.
type Outcome struct {
	Target      *targetcode.TargetCode
	Equivalence string
	Confidence  float64
	Reasoning   string
	Candidates  int
	TopScore    float64
	Method      string
	Errors      []string
	ElapsedMS   int64
}

// Matched reports whether a target was selected.
func (o *Outcome) Matched() bool { return o.Target != nil }

// Pipeline wires the stages together.
type Pipeline struct {
	embedder    Embedder
	retriever   *Retriever
	adjudicator Adjudicator
	logger      zerolog.Logger
}

func New(embedder Embedder, retriever *Retriever, adjudicator Adjudicator, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		embedder:    embedder,
		retriever:   retriever,
		adjudicator: adjudicator,
		logger:      logger,
	}
}

// Run executes the full workflow for one source code. It respects ctx at
// every external call; a cancelled context surfaces as the context error so
// the caller can map it to a deadline response without persisting anything.
func (p *Pipeline) Run(ctx context.Context, src *sourcecode.SourceCode) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{Equivalence: EquivalenceUnmatched}
	defer func() { out.ElapsedMS = time.Since(start).Milliseconds() }()

	// Normalize. An empty description still proceeds so retrieval can use
	// the code itself as a last resort.
	normalized := src.DescriptionText()
	if normalized == "" {
		out.Errors = append(out.Errors, "No text available for source code; using code as query")
		normalized = src.Code
	}

	// Embed.
	var queryVec []float32
	vec, err := p.embedder.EmbedQuery(ctx, normalized)
	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		out.Errors = append(out.Errors, "embedding failed: "+err.Error())
	default:
		queryVec = vec
	}

	// Search.
	candidates, soft := p.retriever.Retrieve(ctx, normalized, queryVec)
	out.Errors = append(out.Errors, soft...)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	out.Candidates = len(candidates)

	// Route.
	if len(candidates) == 0 {
		out.Confidence = 0
		out.Reasoning = "No candidates"
		return out, nil
	}
	top := candidates[0]
	out.TopScore = top.Score
	out.Method = top.Method

	if top.Score > highConfidenceThreshold {
		out.Target = top.Target
		out.Confidence = top.Score
		if out.Confidence < highConfidenceFloor {
			out.Confidence = highConfidenceFloor
		}
		out.Equivalence = EquivalenceEquivalent
		out.Reasoning = "High confidence text match"
		return out, nil
	}

	p.adjudicate(ctx, src, normalized, candidates, out)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return out, nil
}

// adjudicate runs the LLM over the top candidates and fills in the outcome,
// falling back to the top search hit on any adjudicator failure.
func (p *Pipeline) adjudicate(ctx context.Context, src *sourcecode.SourceCode, normalized string, candidates []targetcode.ScoredTarget, out *Outcome) {
	n := adjudicationCandidates
	if len(candidates) < n {
		n = len(candidates)
	}
	shortlist := candidates[:n]

	inputs := make([]llm.CandidateInput, n)
	byCode := make(map[string]*targetcode.TargetCode, n)
	for i, c := range shortlist {
		inputs[i] = llm.CandidateInput{
			Code:       c.Target.Code,
			Title:      c.Target.Title,
			Definition: c.Target.TruncatedDefinition(definitionTruncation),
		}
		byCode[c.Target.Code] = c.Target
	}

	judgment, err := p.adjudicator.Adjudicate(ctx, llm.SourceInput{
		Code:        src.Code,
		System:      src.System,
		Term:        src.Term,
		Description: normalized,
	}, inputs)
	if ctx.Err() != nil {
		return
	}

	if err == nil && judgment.SelectedCode == nil {
		// The model judged every candidate unacceptable. That is a valid
		// verdict, not a failure.
		out.Target = nil
		out.Equivalence = EquivalenceUnmatched
		out.Confidence = 0
		out.Reasoning = judgment.Reasoning
		if out.Reasoning == "" {
			out.Reasoning = "No candidate accepted by adjudicator"
		}
		return
	}

	if err == nil {
		selected, known := byCode[*judgment.SelectedCode]
		if known && adjudicatorEquivalences[judgment.Equivalence] {
			out.Target = selected
			out.Equivalence = judgment.Equivalence
			out.Confidence = judgment.Confidence
			out.Reasoning = judgment.Reasoning
			return
		}
		if !known {
			err = errUnknownSelection(*judgment.SelectedCode)
		} else {
			err = errBadEquivalence(judgment.Equivalence)
		}
	}

	out.Errors = append(out.Errors, "adjudication failed: "+err.Error())
	p.logger.Warn().Err(err).Str("code", src.Code).Msg("adjudicator failure, using top search result")

	top := candidates[0]
	out.Target = top.Target
	out.Equivalence = EquivalenceInexact
	out.Confidence = fallbackConfidence
	out.Reasoning = "AI validation failed; using top search result"
}

type pipelineError string

func (e pipelineError) Error() string { return string(e) }

func errUnknownSelection(code string) error {
	return pipelineError("selected code " + code + " is not among the candidates")
}

func errBadEquivalence(eq string) error {
	return pipelineError("equivalence " + eq + " is not a valid adjudicator verdict")
}
