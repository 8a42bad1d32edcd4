package auditlog

import (
	"time"

	"github.com/google/uuid"
)

// Record is one persisted audit entry.
type Record struct {
	ID             uuid.UUID              `db:"id" json:"id"`
	Action         string                 `db:"action" json:"action"`
	ResourceType   string                 `db:"resource_type" json:"resource_type"`
	ResourceID     *string                `db:"resource_id" json:"resource_id,omitempty"`
	Actor          *string                `db:"actor" json:"actor,omitempty"`
	IP             *string                `db:"ip" json:"ip,omitempty"`
	UserAgent      *string                `db:"user_agent" json:"user_agent,omitempty"`
	Method         *string                `db:"method" json:"method,omitempty"`
	Path           *string                `db:"path" json:"path,omitempty"`
	RequestBody    *string                `db:"request_body" json:"request_body,omitempty"`
	ResponseStatus *int                   `db:"response_status" json:"response_status,omitempty"`
	DurationMS     *int                   `db:"duration_ms" json:"duration_ms,omitempty"`
	Metadata       map[string]interface{} `db:"metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time              `db:"created_at" json:"created_at"`
}

// Filter narrows an audit listing.
type Filter struct {
	Action       string
	ResourceType string
	Actor        string
	From         *time.Time
	To           *time.Time
}
