package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AuditEvent struct {
	bun.BaseModel `bun:"table:audit_events"`

	ID            int64          `bun:"id,pk,autoincrement"`
	Action        string         `bun:"action,notnull"`
	AppointmentID uuid.UUID      `bun:"appointment_id,type:uuid"`
	ActorID       string         `bun:"actor_id"`
	Metadata      map[string]any `bun:"metadata,type:jsonb"`
	CreatedAt     time.Time      `bun:"created_at,notnull,default:current_timestamp"`
}

type AuditRepository interface {
	InsertAuditEvent(ctx context.Context, ev AuditEvent) error
}
