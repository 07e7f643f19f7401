package memory

import (
	"context"
	"sync"
	"time"

	"fitbook/backend/internal/store"
)

type AuditLog struct {
	mu     sync.Mutex
	nextID int64
	events []store.AuditEvent
}

func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (l *AuditLog) InsertAuditEvent(ctx context.Context, ev store.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	ev.ID = l.nextID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	l.events = append(l.events, ev)
	return nil
}

// Events returns a copy of everything recorded so far, oldest first.
func (l *AuditLog) Events() []store.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]store.AuditEvent(nil), l.events...)
}
