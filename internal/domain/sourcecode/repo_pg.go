package sourcecode

import (
	"context"
	"errors"
	"fmt"

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

type sourceCodeRepoPG struct{ pool *pgxpool.Pool }

func NewSourceCodeRepoPG(pool *pgxpool.Pool) SourceCodeRepository {
	return &sourceCodeRepoPG{pool: pool}
}

func (r *sourceCodeRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const scCols = `id, code, system, term, term_normalized, native_script,
	short_definition, long_definition, english_name, searchable_text,
	(embedding IS NOT NULL), created_at, updated_at`

func (r *sourceCodeRepoPG) scanRow(row pgx.Row) (*SourceCode, error) {
	var sc SourceCode
	err := row.Scan(&sc.ID, &sc.Code, &sc.System, &sc.Term, &sc.TermNormalized,
		&sc.NativeScript, &sc.ShortDefinition, &sc.LongDefinition,
		&sc.EnglishName, &sc.SearchableText, &sc.HasEmbedding,
		&sc.CreatedAt, &sc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &sc, err
}

func (r *sourceCodeRepoPG) Create(ctx context.Context, sc *SourceCode) error {
	if sc.ID == uuid.Nil {
		sc.ID = uuid.New()
	}
	sc.System = NormalizeSystem(sc.System)
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO source_codes (id, code, system, term, term_normalized, native_script,
			short_definition, long_definition, english_name, searchable_text)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (code, system) DO UPDATE SET
			term = EXCLUDED.term,
			term_normalized = EXCLUDED.term_normalized,
			native_script = EXCLUDED.native_script,
			short_definition = EXCLUDED.short_definition,
			long_definition = EXCLUDED.long_definition,
			english_name = EXCLUDED.english_name,
			searchable_text = EXCLUDED.searchable_text,
			updated_at = NOW()`,
		sc.ID, sc.Code, sc.System, sc.Term, sc.TermNormalized, sc.NativeScript,
		sc.ShortDefinition, sc.LongDefinition, sc.EnglishName, sc.SearchableText)
	return err
}

func (r *sourceCodeRepoPG) FindByCode(ctx context.Context, code, system string) (*SourceCode, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+scCols+` FROM source_codes WHERE code = $1 AND system = $2`,
		code, NormalizeSystem(system)))
}

func (r *sourceCodeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SourceCode, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+scCols+` FROM source_codes WHERE id = $1`, id))
}

func (r *sourceCodeRepoPG) SearchAutocomplete(ctx context.Context, q, system string, limit int) ([]*SourceCode, error) {
	query := `SELECT ` + scCols + ` FROM source_codes
		WHERE (term ILIKE '%' || $1 || '%'
			OR english_name ILIKE '%' || $1 || '%'
			OR searchable_text ILIKE '%' || $1 || '%')`
	args := []interface{}{q}
	if system != "" {
		query += ` AND system = $2`
		args = append(args, NormalizeSystem(system))
	}
	query += fmt.Sprintf(` ORDER BY term ASC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *sourceCodeRepoPG) List(ctx context.Context, filter, system string, limit, offset int) ([]*SourceCode, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	if filter != "" {
		args = append(args, filter)
		where += fmt.Sprintf(` AND (term ILIKE '%%' || $%d || '%%'
			OR english_name ILIKE '%%' || $%d || '%%'
			OR searchable_text ILIKE '%%' || $%d || '%%')`, len(args), len(args), len(args))
	}
	if system != "" {
		args = append(args, NormalizeSystem(system))
		where += fmt.Sprintf(` AND system = $%d`, len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM source_codes`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + scCols + ` FROM source_codes` + where +
		fmt.Sprintf(` ORDER BY code ASC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := r.collect(rows)
	return items, total, err
}

func (r *sourceCodeRepoPG) CountBySystem(ctx context.Context) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT system, COUNT(*) FROM source_codes GROUP BY system`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var system string
		var n int
		if err := rows.Scan(&system, &n); err != nil {
			return nil, err
		}
		out[system] = n
	}
	return out, rows.Err()
}

func (r *sourceCodeRepoPG) EmbeddingCoverage(ctx context.Context) (*Coverage, error) {
	var cov Coverage
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*), COUNT(embedding) FROM source_codes`).Scan(&cov.Total, &cov.WithEmbedding)
	if err != nil {
		return nil, err
	}
	if cov.Total > 0 {
		cov.Percentage = 100 * float64(cov.WithEmbedding) / float64(cov.Total)
	}
	return &cov, nil
}

func (r *sourceCodeRepoPG) ListMissingEmbeddings(ctx context.Context, limit int) ([]*SourceCode, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+scCols+` FROM source_codes WHERE embedding IS NULL ORDER BY code ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *sourceCodeRepoPG) UpdateEmbedding(ctx context.Context, id uuid.UUID, embedding pgvector.Vector) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE source_codes SET embedding = $2, updated_at = NOW() WHERE id = $1`, id, embedding)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sourceCodeRepoPG) collect(rows pgx.Rows) ([]*SourceCode, error) {
	var items []*SourceCode
	for rows.Next() {
		sc, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, sc)
	}
	return items, rows.Err()
}
