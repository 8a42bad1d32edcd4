package auditlog

import "context"

type AuditRepository interface {
	Insert(ctx context.Context, rec *Record) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Record, int, error)
}
