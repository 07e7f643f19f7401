package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"fitbook/backend/internal/store"
)

const (
	ActionCreated   = "appointment_created"
	ActionUpdated   = "appointment_updated"
	ActionConfirmed = "appointment_confirmed"
	ActionRejected  = "appointment_rejected"
	ActionCancelled = "appointment_cancelled"
)

const defaultQueueSize = 100

type Event struct {
	Action        string
	AppointmentID uuid.UUID
	ActorID       string
	Metadata      map[string]any
}

// Recorder accepts lifecycle events. Recording never fails the caller.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}

// Dispatcher persists events on a background worker. When the queue is full
// the event is dropped with a warning.
type Dispatcher struct {
	repo   store.AuditRepository
	logger *slog.Logger
	queue  chan Event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(repo store.AuditRepository, logger *slog.Logger, queueSize int) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	d := &Dispatcher{
		repo:   repo,
		logger: logger.With("component", "audit"),
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
	}

	go d.worker()
	return d
}

func (d *Dispatcher) worker() {
	defer close(d.done)
	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := d.repo.InsertAuditEvent(ctx, store.AuditEvent{
			Action:        ev.Action,
			AppointmentID: ev.AppointmentID,
			ActorID:       ev.ActorID,
			Metadata:      ev.Metadata,
		})
		cancel()
		if err != nil {
			d.logger.Error("audit insert failed", "action", ev.Action, "appointment_id", ev.AppointmentID.String(), "err", err)
		}
	}
}

func (d *Dispatcher) Record(_ context.Context, ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("audit dispatcher closed, dropping event", "action", ev.Action)
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.logger.Warn("audit queue full, dropping event", "action", ev.Action, "appointment_id", ev.AppointmentID.String())
	}
}

// Close stops accepting events and waits for queued ones to be written, or
// for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
