package auditlog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type auditRepoPG struct{ pool *pgxpool.Pool }

func NewAuditRepoPG(pool *pgxpool.Pool) AuditRepository {
	return &auditRepoPG{pool: pool}
}

func (r *auditRepoPG) Insert(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, action, resource_type, resource_id, actor, ip,
			user_agent, method, path, request_body, response_status, duration_ms, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		rec.ID, rec.Action, rec.ResourceType, rec.ResourceID, rec.Actor, rec.IP,
		rec.UserAgent, rec.Method, rec.Path, rec.RequestBody, rec.ResponseStatus,
		rec.DurationMS, rec.Metadata)
	return err
}

func (r *auditRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Record, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}

	add := func(clause string, val interface{}) {
		args = append(args, val)
		where += fmt.Sprintf(clause, len(args))
	}

	if f.Action != "" {
		add(` AND action = $%d`, f.Action)
	}
	if f.ResourceType != "" {
		add(` AND resource_type = $%d`, f.ResourceType)
	}
	if f.Actor != "" {
		add(` AND actor = $%d`, f.Actor)
	}
	if f.From != nil {
		add(` AND created_at >= $%d`, *f.From)
	}
	if f.To != nil {
		add(` AND created_at <= $%d`, *f.To)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, action, resource_type, resource_id, actor, ip, user_agent,
		method, path, request_body, response_status, duration_ms, metadata, created_at
		FROM audit_logs` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Action, &rec.ResourceType, &rec.ResourceID,
			&rec.Actor, &rec.IP, &rec.UserAgent, &rec.Method, &rec.Path,
			&rec.RequestBody, &rec.ResponseStatus, &rec.DurationMS,
			&rec.Metadata, &rec.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &rec)
	}
	return items, total, rows.Err()
}
