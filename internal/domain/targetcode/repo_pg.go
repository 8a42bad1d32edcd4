package targetcode

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/ayurbridge/terminology-api/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type targetCodeRepoPG struct{ pool *pgxpool.Pool }

func NewTargetCodeRepoPG(pool *pgxpool.Pool) TargetCodeRepository {
	return &targetCodeRepoPG{pool: pool}
}

func (r *targetCodeRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const tcCols = `id, code, title, definition, category, parent_code,
	synonyms, inclusions, exclusions, traditional_systems,
	(embedding IS NOT NULL), created_at, updated_at`

func scanTarget(row pgx.Row) (*TargetCode, error) {
	var tc TargetCode
	err := row.Scan(&tc.ID, &tc.Code, &tc.Title, &tc.Definition, &tc.Category,
		&tc.ParentCode, &tc.Synonyms, &tc.Inclusions, &tc.Exclusions,
		&tc.TraditionalSystems, &tc.HasEmbedding, &tc.CreatedAt, &tc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &tc, err
}

func (r *targetCodeRepoPG) Create(ctx context.Context, tc *TargetCode) error {
	if tc.ID == uuid.Nil {
		tc.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO target_codes (id, code, title, definition, category, parent_code,
			synonyms, inclusions, exclusions, traditional_systems)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (code) DO UPDATE SET
			title = EXCLUDED.title,
			definition = EXCLUDED.definition,
			category = EXCLUDED.category,
			parent_code = EXCLUDED.parent_code,
			synonyms = EXCLUDED.synonyms,
			inclusions = EXCLUDED.inclusions,
			exclusions = EXCLUDED.exclusions,
			traditional_systems = EXCLUDED.traditional_systems,
			updated_at = NOW()`,
		tc.ID, tc.Code, tc.Title, tc.Definition, tc.Category, tc.ParentCode,
		tc.Synonyms, tc.Inclusions, tc.Exclusions, tc.TraditionalSystems)
	return err
}

func (r *targetCodeRepoPG) FindByCode(ctx context.Context, code string) (*TargetCode, error) {
	return scanTarget(r.conn(ctx).QueryRow(ctx,
		`SELECT `+tcCols+` FROM target_codes WHERE code = $1`, code))
}

func (r *targetCodeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TargetCode, error) {
	return scanTarget(r.conn(ctx).QueryRow(ctx,
		`SELECT `+tcCols+` FROM target_codes WHERE id = $1`, id))
}

func (r *targetCodeRepoPG) scanScored(rows pgx.Rows, method string) ([]ScoredTarget, error) {
	var out []ScoredTarget
	for rows.Next() {
		var tc TargetCode
		var score float64
		err := rows.Scan(&tc.ID, &tc.Code, &tc.Title, &tc.Definition, &tc.Category,
			&tc.ParentCode, &tc.Synonyms, &tc.Inclusions, &tc.Exclusions,
			&tc.TraditionalSystems, &tc.HasEmbedding, &tc.CreatedAt, &tc.UpdatedAt,
			&score)
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredTarget{Target: &tc, Score: score, Method: method})
	}
	return out, rows.Err()
}

func (r *targetCodeRepoPG) SearchFullText(ctx context.Context, query string, k int) ([]ScoredTarget, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+tcCols+`,
			ts_rank(to_tsvector('english', title || ' ' || COALESCE(definition, '')),
				plainto_tsquery('english', $1))::float8 AS score
		FROM target_codes
		WHERE to_tsvector('english', title || ' ' || COALESCE(definition, ''))
			@@ plainto_tsquery('english', $1)
		ORDER BY score DESC, code ASC
		LIMIT $2`, query, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanScored(rows, "fulltext")
}

func (r *targetCodeRepoPG) SearchByKeywords(ctx context.Context, keywords []string, k int) ([]ScoredTarget, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+tcCols+`,
			(SELECT COUNT(*) FROM unnest($1::text[]) kw
				WHERE title ILIKE '%' || kw || '%'
					OR COALESCE(definition, '') ILIKE '%' || kw || '%')::float8
				/ cardinality($1::text[]) AS score
		FROM target_codes
		WHERE EXISTS (SELECT 1 FROM unnest($1::text[]) kw
			WHERE title ILIKE '%' || kw || '%'
				OR COALESCE(definition, '') ILIKE '%' || kw || '%')
		ORDER BY score DESC, code ASC
		LIMIT $2`, keywords, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanScored(rows, "keyword")
}

func (r *targetCodeRepoPG) SearchByVector(ctx context.Context, vec pgvector.Vector, k int, minSimilarity float64) ([]ScoredTarget, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+tcCols+`, (1 - (embedding <=> $1))::float8 AS similarity
		FROM target_codes
		WHERE embedding IS NOT NULL
			AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1 ASC, code ASC
		LIMIT $2`, vec, k, minSimilarity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanScored(rows, "vector")
}

func (r *targetCodeRepoPG) SearchAutocomplete(ctx context.Context, q string, limit int) ([]*TargetCode, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+tcCols+` FROM target_codes
		WHERE code ILIKE '%' || $1 || '%' OR title ILIKE '%' || $1 || '%'
		ORDER BY code ASC
		LIMIT $2`, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*TargetCode
	for rows.Next() {
		tc, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, tc)
	}
	return items, rows.Err()
}

func (r *targetCodeRepoPG) EmbeddingCoverage(ctx context.Context) (*Coverage, error) {
	var cov Coverage
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*), COUNT(embedding) FROM target_codes`).Scan(&cov.Total, &cov.WithEmbedding)
	if err != nil {
		return nil, err
	}
	if cov.Total > 0 {
		cov.Percentage = 100 * float64(cov.WithEmbedding) / float64(cov.Total)
	}
	return &cov, nil
}

func (r *targetCodeRepoPG) ListMissingEmbeddings(ctx context.Context, limit int) ([]*TargetCode, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+tcCols+` FROM target_codes WHERE embedding IS NULL ORDER BY code ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*TargetCode
	for rows.Next() {
		tc, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, tc)
	}
	return items, rows.Err()
}

func (r *targetCodeRepoPG) UpdateEmbedding(ctx context.Context, id uuid.UUID, embedding pgvector.Vector) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE target_codes SET embedding = $2, updated_at = NOW() WHERE id = $1`, id, embedding)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *targetCodeRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM target_codes`).Scan(&n)
	return n, err
}

// EnsureVectorIndexes creates the approximate-NN indexes when the catalog was
// loaded before the vector extension was available.
func (r *targetCodeRepoPG) EnsureVectorIndexes(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_target_codes_embedding ON target_codes
			USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64)`,
		`CREATE INDEX IF NOT EXISTS idx_source_codes_embedding ON source_codes
			USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64)`,
	} {
		if _, err := r.conn(ctx).Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
