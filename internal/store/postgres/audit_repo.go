package postgres

import (
	"context"

	"github.com/uptrace/bun"

	"fitbook/backend/internal/store"
)

type AuditRepo struct {
	db *bun.DB
}

func NewAuditRepo(db *bun.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) InsertAuditEvent(ctx context.Context, ev store.AuditEvent) error {
	_, err := r.db.NewInsert().Model(&ev).ExcludeColumn("id", "created_at").Exec(ctx)
	return err
}
