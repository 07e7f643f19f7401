package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"fitbook/backend/internal/domain"
)

type ListFilter struct {
	TrainerID int64
	Status    domain.Status
	Limit     int
}

type AppointmentRepository interface {
	// InTrainerTransaction runs fn atomically with respect to every other
	// writer on the same trainer's schedule.
	InTrainerTransaction(ctx context.Context, trainerID int64, fn func(ctx context.Context, tx TrainerTx) error) error

	Get(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Appointment, error)
	List(ctx context.Context, filter ListFilter) ([]domain.Appointment, error)
	ListByTrainer(ctx context.Context, trainerID int64, windowStart, windowEnd time.Time) ([]domain.Appointment, error)

	// UpdateStatus moves an appointment to status `to`. It fails with
	// ErrNotFound when the appointment does not exist or is cancelled, and
	// with ErrStale when seen is set and differs from the row's UpdatedAt.
	UpdateStatus(ctx context.Context, appointmentID uuid.UUID, to domain.Status, seen time.Time) (domain.Appointment, error)
}
