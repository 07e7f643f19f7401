package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"fitbook/backend/internal/domain"
)

// TrainerTx is the view of one trainer's schedule inside
// AppointmentRepository.InTrainerTransaction.
type TrainerTx interface {
	ListAppointments(ctx context.Context, trainerID int64, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	// GetAppointment reads a row that stays protected until commit: writers
	// outside the transaction either wait for it or make the commit fail
	// with ErrTransient.
	GetAppointment(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error)
	CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	UpdateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
}
