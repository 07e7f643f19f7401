package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"fitbook/backend/internal/domain"
	"fitbook/backend/internal/store"
)

const noOverlapConstraint = "appointments_no_overlap"

type AppointmentRepo struct {
	db *bun.DB
}

func NewAppointmentRepo(db *bun.DB) *AppointmentRepo {
	return &AppointmentRepo{db: db}
}

type trainerTx struct {
	tx bun.Tx
}

func (r *AppointmentRepo) InTrainerTransaction(ctx context.Context, trainerID int64, fn func(ctx context.Context, tx store.TrainerTx) error) error {
	err := r.db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx bun.Tx) error {
		if err := lockTrainerSchedule(ctx, tx, trainerID); err != nil {
			return err
		}
		return fn(ctx, trainerTx{tx: tx})
	})
	return mapWriteError(err)
}

func lockTrainerSchedule(ctx context.Context, tx bun.Tx, trainerID int64) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", "fitbook:trainer:"+strconv.FormatInt(trainerID, 10)).Exec(ctx)
	return err
}

func (r *AppointmentRepo) Get(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	var appt domain.Appointment
	err := r.db.NewSelect().
		Model(&appt).
		Where("id = ?", appointmentID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.db.NewSelect().
		Model(&rows).
		Where("owner_id = ?", ownerID).
		OrderExpr("start_time DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AppointmentRepo) List(ctx context.Context, filter store.ListFilter) ([]domain.Appointment, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	var rows []domain.Appointment
	q := r.db.NewSelect().Model(&rows)
	if filter.TrainerID != 0 {
		q = q.Where("trainer_id = ?", filter.TrainerID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	err := q.OrderExpr("start_time DESC").Limit(limit).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AppointmentRepo) ListByTrainer(ctx context.Context, trainerID int64, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	return listTrainerAppointments(ctx, r.db, trainerID, windowStart, windowEnd)
}

func (r *AppointmentRepo) UpdateStatus(ctx context.Context, appointmentID uuid.UUID, to domain.Status, seen time.Time) (domain.Appointment, error) {
	var appt domain.Appointment
	q := r.db.NewUpdate().
		Model(&appt).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", appointmentID).
		Where("status <> ?", domain.StatusCancelled)
	if !seen.IsZero() {
		q = q.Where("updated_at = ?", seen)
	}
	res, err := q.Returning("*").Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, mapWriteError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if affected == 0 {
		return domain.Appointment{}, r.statusUpdateMiss(ctx, appointmentID, seen)
	}
	return appt, nil
}

// statusUpdateMiss explains why a guarded status update matched no row.
func (r *AppointmentRepo) statusUpdateMiss(ctx context.Context, appointmentID uuid.UUID, seen time.Time) error {
	if seen.IsZero() {
		return store.ErrNotFound
	}
	current, err := r.Get(ctx, appointmentID)
	if err != nil {
		return err
	}
	if !current.Status.Active() {
		return store.ErrNotFound
	}
	return store.ErrStale
}

func (r trainerTx) ListAppointments(ctx context.Context, trainerID int64, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	return listTrainerAppointments(ctx, r.tx, trainerID, windowStart, windowEnd)
}

func (r trainerTx) GetAppointment(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	var appt domain.Appointment
	err := r.tx.NewSelect().
		Model(&appt).
		Where("id = ?", appointmentID).
		For("UPDATE").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, err
	}
	return appt, nil
}

func (r trainerTx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := appt

	res, err := r.tx.NewInsert().
		Model(&m).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return domain.Appointment{}, mapWriteError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if affected > 0 {
		return m, nil
	}

	// The ID already exists: an idempotent replay of the same request, or a
	// reused key with different content.
	var existing domain.Appointment
	if err := r.tx.NewSelect().Model(&existing).Where("id = ?", m.ID).Limit(1).Scan(ctx); err != nil {
		return domain.Appointment{}, err
	}
	if existing.OwnerID != appt.OwnerID ||
		existing.TrainerID != appt.TrainerID ||
		existing.ServiceID != appt.ServiceID ||
		existing.Notes != appt.Notes ||
		!existing.StartTime.Equal(appt.StartTime) ||
		!existing.EndTime.Equal(appt.EndTime) {
		return domain.Appointment{}, store.ErrIdempotencyConflict
	}
	return existing, nil
}

func (r trainerTx) UpdateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := appt

	res, err := r.tx.NewUpdate().
		Model(&m).
		Column("trainer_id", "service_id", "start_time", "end_time", "status", "notes", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return domain.Appointment{}, mapWriteError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if affected == 0 {
		return domain.Appointment{}, store.ErrNotFound
	}
	return m, nil
}

func listTrainerAppointments(ctx context.Context, db bun.IDB, trainerID int64, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := db.NewSelect().
		Model(&rows).
		Where("trainer_id = ?", trainerID).
		Where("status <> ?", domain.StatusCancelled).
		Where("start_time < ?", windowEnd).
		Where("end_time > ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mapWriteError translates Postgres failures raised while writing a trainer's
// schedule into store sentinels.
func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23P01":
		if pgErr.ConstraintName == noOverlapConstraint {
			return store.ErrConflict
		}
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", store.ErrTransient, pgErr.Message)
	}
	return err
}
