package auditlog

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ayurbridge/terminology-api/internal/platform/middleware"
)

// Recorder buffers audit entries and writes them off the response path. A
// full buffer drops the entry rather than blocking a request; a write
// failure is logged and never surfaced.
type Recorder struct {
	repo   AuditRepository
	logger zerolog.Logger
	ch     chan middleware.AuditEntry
}

func NewRecorder(ctx context.Context, repo AuditRepository, logger zerolog.Logger) *Recorder {
	r := &Recorder{
		repo:   repo,
		logger: logger,
		ch:     make(chan middleware.AuditEntry, 256),
	}
	go r.drain(ctx)
	return r
}

// Record implements middleware.AuditRecorder.
func (r *Recorder) Record(entry middleware.AuditEntry) {
	select {
	case r.ch <- entry:
	default:
		r.logger.Warn().Str("path", entry.Path).Msg("audit buffer full, entry dropped")
	}
}

func (r *Recorder) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-r.ch:
			rec := toRecord(entry)
			if err := r.repo.Insert(context.Background(), rec); err != nil {
				r.logger.Error().Err(err).Str("path", entry.Path).Msg("audit write failed")
			}
		}
	}
}

func toRecord(e middleware.AuditEntry) *Record {
	rec := &Record{
		Action:       e.Action,
		ResourceType: e.ResourceType,
	}
	rec.ResourceID = optional(e.ResourceID)
	rec.Actor = optional(e.Actor)
	rec.IP = optional(e.IP)
	rec.UserAgent = optional(e.UserAgent)
	rec.Method = optional(e.Method)
	rec.Path = optional(e.Path)
	if e.Status != 0 {
		status := e.Status
		rec.ResponseStatus = &status
	}
	duration := int(e.DurationMS)
	rec.DurationMS = &duration
	if e.RequestID != "" || e.Query != "" {
		rec.Metadata = map[string]interface{}{}
		if e.RequestID != "" {
			rec.Metadata["request_id"] = e.RequestID
		}
		if e.Query != "" {
			rec.Metadata["query"] = e.Query
		}
	}
	return rec
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Service exposes audit queries for the admin surface.
type Service struct {
	repo AuditRepository
}

func NewService(repo AuditRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Record, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}
