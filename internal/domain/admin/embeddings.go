package admin

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"github.com/ayurbridge/terminology-api/internal/domain/sourcecode"
	"github.com/ayurbridge/terminology-api/internal/domain/targetcode"
)

const defaultGenerateBatch = 50

// DocumentEmbedder is the slice of the embedding client the generator needs.
type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator backfills missing embedding columns in bounded batches, used by
// both the admin endpoint and the generate-embeddings command.
type Generator struct {
	sources  sourcecode.SourceCodeRepository
	targets  targetcode.TargetCodeRepository
	embedder DocumentEmbedder
	logger   zerolog.Logger
}

func NewGenerator(sources sourcecode.SourceCodeRepository, targets targetcode.TargetCodeRepository, embedder DocumentEmbedder, logger zerolog.Logger) *Generator {
	return &Generator{sources: sources, targets: targets, embedder: embedder, logger: logger}
}

// Generate embeds up to batch rows of the given kind ("source" or "target")
// that are missing embeddings. It returns how many rows were updated.
func (g *Generator) Generate(ctx context.Context, kind string, batch int) (int, error) {
	if batch <= 0 || batch > 500 {
		batch = defaultGenerateBatch
	}

	switch kind {
	case "source":
		return g.generateSources(ctx, batch)
	case "target":
		return g.generateTargets(ctx, batch)
	default:
		return 0, fmt.Errorf("kind must be source or target, got %q", kind)
	}
}

func (g *Generator) generateSources(ctx context.Context, batch int) (int, error) {
	rows, err := g.sources.ListMissingEmbeddings(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("list source codes without embeddings: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	texts := make([]string, len(rows))
	for i, sc := range rows {
		texts[i] = sourceDocumentText(sc)
	}

	vectors, err := g.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed source documents: %w", err)
	}

	updated := 0
	for i, sc := range rows {
		if err := g.sources.UpdateEmbedding(ctx, sc.ID, pgvector.NewVector(vectors[i])); err != nil {
			g.logger.Error().Err(err).Str("code", sc.Code).Msg("source embedding update failed")
			continue
		}
		updated++
	}
	return updated, nil
}

func (g *Generator) generateTargets(ctx context.Context, batch int) (int, error) {
	rows, err := g.targets.ListMissingEmbeddings(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("list target codes without embeddings: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	texts := make([]string, len(rows))
	for i, tc := range rows {
		texts[i] = targetDocumentText(tc)
	}

	vectors, err := g.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed target documents: %w", err)
	}

	updated := 0
	for i, tc := range rows {
		if err := g.targets.UpdateEmbedding(ctx, tc.ID, pgvector.NewVector(vectors[i])); err != nil {
			g.logger.Error().Err(err).Str("code", tc.Code).Msg("target embedding update failed")
			continue
		}
		updated++
	}
	return updated, nil
}

// sourceDocumentText builds the indexed text for a source code: every
// available description field, so the document vector carries more signal
// than the first-non-empty query text.
func sourceDocumentText(sc *sourcecode.SourceCode) string {
	parts := []string{sc.Term}
	for _, f := range []*string{sc.EnglishName, sc.ShortDefinition, sc.LongDefinition, sc.SearchableText} {
		if f != nil && strings.TrimSpace(*f) != "" {
			parts = append(parts, strings.TrimSpace(*f))
		}
	}
	return strings.Join(parts, " | ")
}

func targetDocumentText(tc *targetcode.TargetCode) string {
	parts := []string{tc.Title}
	if d := tc.DefinitionText(); d != "" {
		parts = append(parts, d)
	}
	if len(tc.Synonyms) > 0 {
		parts = append(parts, strings.Join(tc.Synonyms, ", "))
	}
	return strings.Join(parts, " | ")
}
