package mapping

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayurbridge/terminology-api/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type mappingRepoPG struct{ pool *pgxpool.Pool }

func NewMappingRepoPG(pool *pgxpool.Pool) MappingRepository {
	return &mappingRepoPG{pool: pool}
}

func (r *mappingRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const mCols = `m.id, m.source_id, m.target_id, m.equivalence, m.confidence,
	m.mapping_source, m.validation_status, m.validator, m.validated_at,
	m.reasoning, m.created_at, m.updated_at`

func scanMapping(row pgx.Row) (*Mapping, error) {
	var m Mapping
	err := row.Scan(&m.ID, &m.SourceID, &m.TargetID, &m.Equivalence, &m.Confidence,
		&m.MappingSource, &m.ValidationStatus, &m.Validator, &m.ValidatedAt,
		&m.Reasoning, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &m, err
}

func scanDetail(row pgx.Row) (*Detail, error) {
	var d Detail
	err := row.Scan(&d.ID, &d.SourceID, &d.TargetID, &d.Equivalence, &d.Confidence,
		&d.MappingSource, &d.ValidationStatus, &d.Validator, &d.ValidatedAt,
		&d.Reasoning, &d.CreatedAt, &d.UpdatedAt,
		&d.SourceCode, &d.SourceSystem, &d.SourceTerm, &d.SourceEnglish,
		&d.TargetCode, &d.TargetTitle)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &d, err
}

const detailJoin = ` FROM mappings m
	JOIN source_codes s ON s.id = m.source_id
	JOIN target_codes t ON t.id = m.target_id`

const detailCols = mCols + `,
	s.code, s.system, s.term, s.english_name,
	t.code, t.title`

// Upsert inserts or updates under the (source_id, target_id) unique key. The
// human-validated guard lives in the ON CONFLICT clause so concurrent
// pipeline writes cannot clobber a reviewer's verdict.
func (r *mappingRepoPG) Upsert(ctx context.Context, m *Mapping) (*Mapping, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.ValidationStatus == "" {
		m.ValidationStatus = StatusPending
	}

	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO mappings AS m
			(id, source_id, target_id, equivalence, confidence, mapping_source,
			 validation_status, reasoning)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (source_id, target_id) DO UPDATE SET
			equivalence = CASE WHEN m.mapping_source = 'HUMAN_VALIDATED'
				THEN m.equivalence ELSE EXCLUDED.equivalence END,
			confidence = CASE WHEN m.mapping_source = 'HUMAN_VALIDATED'
				THEN m.confidence ELSE EXCLUDED.confidence END,
			mapping_source = CASE WHEN m.mapping_source = 'HUMAN_VALIDATED'
				THEN m.mapping_source ELSE EXCLUDED.mapping_source END,
			reasoning = CASE WHEN m.mapping_source = 'HUMAN_VALIDATED'
				THEN m.reasoning ELSE EXCLUDED.reasoning END,
			updated_at = NOW()
		RETURNING id, source_id, target_id, equivalence, confidence,
			mapping_source, validation_status, validator, validated_at,
			reasoning, created_at, updated_at`,
		m.ID, m.SourceID, m.TargetID, m.Equivalence, m.Confidence,
		m.MappingSource, m.ValidationStatus, m.Reasoning)

	return scanMapping(row)
}

func (r *mappingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Mapping, error) {
	return scanMapping(r.conn(ctx).QueryRow(ctx,
		`SELECT `+mCols+` FROM mappings m WHERE m.id = $1`, id))
}

func (r *mappingRepoPG) GetDetailByID(ctx context.Context, id uuid.UUID) (*Detail, error) {
	return scanDetail(r.conn(ctx).QueryRow(ctx,
		`SELECT `+detailCols+detailJoin+` WHERE m.id = $1`, id))
}

func (r *mappingRepoPG) FindDetailBySource(ctx context.Context, code, system string) (*Detail, error) {
	return scanDetail(r.conn(ctx).QueryRow(ctx,
		`SELECT `+detailCols+detailJoin+`
		WHERE s.code = $1 AND s.system = $2
		ORDER BY m.confidence DESC, m.updated_at DESC
		LIMIT 1`, code, system))
}

var sortColumns = map[string]string{
	"created_at":  "m.created_at",
	"confidence":  "m.confidence",
	"equivalence": "m.equivalence",
}

func (r *mappingRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Detail, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}

	add := func(clause string, val interface{}) {
		args = append(args, val)
		where += fmt.Sprintf(clause, len(args))
	}

	if f.System != "" {
		add(` AND s.system = $%d`, f.System)
	}
	if f.Equivalence != "" {
		add(` AND m.equivalence = $%d`, f.Equivalence)
	}
	if f.Status != "" {
		add(` AND m.validation_status = $%d`, f.Status)
	}
	if f.MinConfidence > 0 {
		add(` AND m.confidence >= $%d`, f.MinConfidence)
	}
	if f.MaxConfidence > 0 {
		add(` AND m.confidence <= $%d`, f.MaxConfidence)
	}
	if f.Search != "" {
		args = append(args, f.Search)
		n := len(args)
		where += fmt.Sprintf(` AND (s.code ILIKE '%%' || $%d || '%%'
			OR s.term ILIKE '%%' || $%d || '%%'
			OR s.english_name ILIKE '%%' || $%d || '%%'
			OR t.code ILIKE '%%' || $%d || '%%'
			OR t.title ILIKE '%%' || $%d || '%%')`, n, n, n, n, n)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+detailJoin+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sortCol, ok := sortColumns[f.SortBy]
	if !ok {
		sortCol = "m.created_at"
	}
	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}

	query := `SELECT ` + detailCols + detailJoin + where +
		fmt.Sprintf(` ORDER BY %s %s, m.id ASC LIMIT $%d OFFSET $%d`,
			sortCol, dir, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Detail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

func (r *mappingRepoPG) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByMappingSource:    make(map[string]int),
		ByValidationStatus: make(map[string]int),
		BySystem:           make(map[string]int),
	}

	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(AVG(confidence), 0) FROM mappings`).
		Scan(&st.Total, &st.AverageConfidence)
	if err != nil {
		return nil, err
	}

	groupInto := func(query string, dest map[string]int) error {
		rows, err := r.conn(ctx).Query(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var key string
			var n int
			if err := rows.Scan(&key, &n); err != nil {
				return err
			}
			dest[key] = n
		}
		return rows.Err()
	}

	if err := groupInto(`SELECT mapping_source, COUNT(*) FROM mappings GROUP BY mapping_source`, st.ByMappingSource); err != nil {
		return nil, err
	}
	if err := groupInto(`SELECT validation_status, COUNT(*) FROM mappings GROUP BY validation_status`, st.ByValidationStatus); err != nil {
		return nil, err
	}
	if err := groupInto(`SELECT s.system, COUNT(*) FROM mappings m JOIN source_codes s ON s.id = m.source_id GROUP BY s.system`, st.BySystem); err != nil {
		return nil, err
	}
	return st, nil
}

func (r *mappingRepoPG) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(db.WithTx(ctx, tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (r *mappingRepoPG) SetValidation(ctx context.Context, id uuid.UUID, status, validator string) (*Mapping, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE mappings SET
			validation_status = $2,
			validator = $3,
			validated_at = NOW(),
			mapping_source = CASE WHEN $2 = 'APPROVED' THEN 'HUMAN_VALIDATED' ELSE mapping_source END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING id, source_id, target_id, equivalence, confidence,
			mapping_source, validation_status, validator, validated_at,
			reasoning, created_at, updated_at`,
		id, status, validator)
	return scanMapping(row)
}
