package appointments

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"fitbook/backend/internal/audit"
	"fitbook/backend/internal/domain"
	"fitbook/backend/internal/store"
)

const (
	maxNotesLength          = 1000
	maxIdempotencyKeyLength = 256
)

type Notice string

const (
	NoticeCreated          Notice = "Your appointment has been booked and is awaiting confirmation."
	NoticeUpdated          Notice = "Your appointment has been updated."
	NoticeRequiresApproval Notice = "Your appointment has been updated and requires re-approval."
	NoticeConfirmed        Notice = "The appointment has been confirmed."
	NoticeRejected         Notice = "The appointment has been rejected."
	NoticeCancelled        Notice = "The appointment has been cancelled."
)

type Result struct {
	Appointment domain.Appointment
	Notice      Notice
}

type Decision string

const (
	DecisionConfirm Decision = "confirm"
	DecisionReject  Decision = "reject"
)

type Service struct {
	repo     store.AppointmentRepository
	catalog  store.Catalog
	recorder audit.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithRecorder(r audit.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func NewService(repo store.AppointmentRepository, catalog store.Catalog, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		catalog:  catalog,
		recorder: audit.Nop{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "service.appointments")
	return s
}

type CreateInput struct {
	ServiceID      int64
	TrainerID      int64
	Start          time.Time
	Notes          string
	IdempotencyKey string
}

func (s *Service) Create(ctx context.Context, req domain.Requester, in CreateInput) (Result, error) {
	if !req.Authenticated() {
		return Result{}, unauthenticated()
	}
	if !req.IsMember() {
		return Result{}, forbidden("only members can book appointments")
	}

	slot, err := s.resolveSlot(ctx, in.ServiceID, in.TrainerID, in.Start)
	if err != nil {
		return Result{}, err
	}
	notes, err := normalizeNotes(in.Notes)
	if err != nil {
		return Result{}, err
	}

	appt := domain.Appointment{
		TrainerID: slot.trainer.ID,
		ServiceID: slot.service.ID,
		OwnerID:   req.ID,
		StartTime: slot.interval.Start,
		EndTime:   slot.interval.End,
		Status:    domain.StatusPending,
		Notes:     notes,
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if len(key) > maxIdempotencyKeyLength {
			return Result{}, validationError("idempotencyKey", "idempotency key too long")
		}
		appt.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("fitbook:create_appointment:"+req.ID+":"+key))
	}

	var (
		created domain.Appointment
		replay  bool
	)
	err = s.commit(ctx, "create appointment", func() error {
		return s.repo.InTrainerTransaction(ctx, appt.TrainerID, func(ctx context.Context, tx store.TrainerTx) error {
			replay = false
			if appt.ID != uuid.Nil {
				if _, err := tx.GetAppointment(ctx, appt.ID); err == nil {
					replay = true
				} else if !errors.Is(err, store.ErrNotFound) {
					return err
				}
			}

			if !replay {
				existing, err := tx.ListAppointments(ctx, appt.TrainerID, appt.StartTime, appt.EndTime)
				if err != nil {
					return err
				}
				if domain.HasConflict(appt.Interval(), existing, uuid.Nil) {
					return ErrSlotConflict
				}
			}

			var err error
			created, err = tx.CreateAppointment(ctx, appt)
			return err
		})
	})
	if err != nil {
		return Result{}, err
	}

	if replay {
		s.logger.Info("appointment create replayed", "appointment_id", created.ID.String(), "owner_id", req.ID)
	} else {
		s.logger.Info("appointment created",
			"appointment_id", created.ID.String(),
			"trainer_id", created.TrainerID,
			"service_id", created.ServiceID,
			"owner_id", created.OwnerID,
		)
		s.record(ctx, audit.ActionCreated, created, req, map[string]any{
			"trainer_id": created.TrainerID,
			"service_id": created.ServiceID,
			"start_time": created.StartTime.Format(time.RFC3339),
		})
	}
	notice := NoticeCreated
	if replay {
		notice = noticeForStatus(created.Status)
	}
	return Result{Appointment: created, Notice: notice}, nil
}

// noticeForStatus describes a replayed appointment by its current status.
func noticeForStatus(st domain.Status) Notice {
	switch st {
	case domain.StatusConfirmed:
		return NoticeConfirmed
	case domain.StatusRejected:
		return NoticeRejected
	case domain.StatusCancelled:
		return NoticeCancelled
	default:
		return NoticeCreated
	}
}

type EditInput struct {
	ServiceID int64
	TrainerID int64
	Start     time.Time
	Notes     string
}

// Edit replaces an appointment's service, trainer, start and notes. A change
// to any of the first three sends the appointment back to pending.
func (s *Service) Edit(ctx context.Context, req domain.Requester, appointmentID uuid.UUID, in EditInput) (Result, error) {
	if !req.Authenticated() {
		return Result{}, unauthenticated()
	}

	current, err := s.load(ctx, appointmentID)
	if err != nil {
		return Result{}, err
	}
	if current.OwnerID != req.ID {
		return Result{}, forbidden("only the owner can edit an appointment")
	}
	if current.Status == domain.StatusCancelled {
		return Result{}, validationError("status", "cancelled appointments cannot be edited")
	}

	slot, err := s.resolveSlot(ctx, in.ServiceID, in.TrainerID, in.Start)
	if err != nil {
		return Result{}, err
	}
	notes, err := normalizeNotes(in.Notes)
	if err != nil {
		return Result{}, err
	}

	var (
		updated  domain.Appointment
		material bool
	)
	err = s.commit(ctx, "edit appointment", func() error {
		return s.repo.InTrainerTransaction(ctx, slot.trainer.ID, func(ctx context.Context, tx store.TrainerTx) error {
			row, err := tx.GetAppointment(ctx, appointmentID)
			if err != nil {
				return err
			}
			if row.Status == domain.StatusCancelled {
				return validationError("status", "cancelled appointments cannot be edited")
			}

			existing, err := tx.ListAppointments(ctx, slot.trainer.ID, slot.interval.Start, slot.interval.End)
			if err != nil {
				return err
			}
			if domain.HasConflict(slot.interval, existing, row.ID) {
				return ErrSlotConflict
			}

			material = row.ServiceID != slot.service.ID ||
				row.TrainerID != slot.trainer.ID ||
				!row.StartTime.Equal(slot.interval.Start)

			row.ServiceID = slot.service.ID
			row.TrainerID = slot.trainer.ID
			row.StartTime = slot.interval.Start
			row.EndTime = slot.interval.End
			row.Notes = notes
			if material {
				row.Status = domain.StatusPending
			}
			updated, err = tx.UpdateAppointment(ctx, row)
			return err
		})
	})
	if err != nil {
		return Result{}, err
	}

	notice := NoticeUpdated
	if material {
		notice = NoticeRequiresApproval
	}
	s.logger.Info("appointment updated",
		"appointment_id", updated.ID.String(),
		"material_change", material,
		"status", string(updated.Status),
	)
	s.record(ctx, audit.ActionUpdated, updated, req, map[string]any{
		"material_change": material,
		"previous_status": string(current.Status),
		"status":          string(updated.Status),
	})
	return Result{Appointment: updated, Notice: notice}, nil
}

func (s *Service) Confirm(ctx context.Context, req domain.Requester, appointmentID uuid.UUID) (Result, error) {
	return s.Decide(ctx, req, appointmentID, DecisionConfirm)
}

func (s *Service) Reject(ctx context.Context, req domain.Requester, appointmentID uuid.UUID) (Result, error) {
	return s.Decide(ctx, req, appointmentID, DecisionReject)
}

// Decide records an administrator's confirmation or rejection. The slot is
// not re-checked: the appointment already holds it.
func (s *Service) Decide(ctx context.Context, req domain.Requester, appointmentID uuid.UUID, d Decision) (Result, error) {
	if !req.Authenticated() {
		return Result{}, unauthenticated()
	}
	if !req.IsAdmin() {
		return Result{}, forbidden("only administrators can confirm or reject appointments")
	}

	var (
		to     domain.Status
		action string
		notice Notice
	)
	switch d {
	case DecisionConfirm:
		to, action, notice = domain.StatusConfirmed, audit.ActionConfirmed, NoticeConfirmed
	case DecisionReject:
		to, action, notice = domain.StatusRejected, audit.ActionRejected, NoticeRejected
	default:
		return Result{}, validationError("decision", "decision must be confirm or reject")
	}

	current, err := s.load(ctx, appointmentID)
	if err != nil {
		return Result{}, err
	}
	// The decision applies to the appointment as loaded; an edit landing in
	// between fails the update instead of being confirmed unseen.
	appt, err := s.transition(ctx, appointmentID, to, current.UpdatedAt, "cancelled appointments cannot be confirmed or rejected")
	if err != nil {
		return Result{}, err
	}

	s.logger.Info("appointment decided", "appointment_id", appt.ID.String(), "status", string(appt.Status), "admin_id", req.ID)
	s.record(ctx, action, appt, req, nil)
	return Result{Appointment: appt, Notice: notice}, nil
}

// Cancel releases the appointment's slot. Owners and administrators may
// cancel; cancellation is terminal.
func (s *Service) Cancel(ctx context.Context, req domain.Requester, appointmentID uuid.UUID) (Result, error) {
	if !req.Authenticated() {
		return Result{}, unauthenticated()
	}

	current, err := s.load(ctx, appointmentID)
	if err != nil {
		return Result{}, err
	}
	if current.OwnerID != req.ID && !req.IsAdmin() {
		return Result{}, forbidden("only the owner or an administrator can cancel an appointment")
	}
	if current.Status == domain.StatusCancelled {
		return Result{}, validationError("status", "appointment is already cancelled")
	}

	appt, err := s.transition(ctx, appointmentID, domain.StatusCancelled, time.Time{}, "appointment is already cancelled")
	if err != nil {
		return Result{}, err
	}

	s.logger.Info("appointment cancelled", "appointment_id", appt.ID.String(), "actor_id", req.ID)
	s.record(ctx, audit.ActionCancelled, appt, req, map[string]any{
		"previous_status": string(current.Status),
	})
	return Result{Appointment: appt, Notice: NoticeCancelled}, nil
}

func (s *Service) Get(ctx context.Context, req domain.Requester, appointmentID uuid.UUID) (domain.Appointment, error) {
	if !req.Authenticated() {
		return domain.Appointment{}, unauthenticated()
	}
	appt, err := s.load(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, err
	}
	if appt.OwnerID != req.ID && !req.IsAdmin() {
		// Other members' appointments are indistinguishable from missing ones.
		return domain.Appointment{}, ErrAppointmentNotFound
	}
	return appt, nil
}

func (s *Service) ListMine(ctx context.Context, req domain.Requester) ([]domain.Appointment, error) {
	if !req.Authenticated() {
		return nil, unauthenticated()
	}
	rows, err := s.repo.ListByOwner(ctx, req.ID)
	if err != nil {
		return nil, &PersistenceError{Op: "list appointments", Err: err}
	}
	return rows, nil
}

type ListFilter struct {
	TrainerID int64
	Status    domain.Status
	Limit     int
}

func (s *Service) ListAll(ctx context.Context, req domain.Requester, filter ListFilter) ([]domain.Appointment, error) {
	if !req.Authenticated() {
		return nil, unauthenticated()
	}
	if !req.IsAdmin() {
		return nil, forbidden("only administrators can list all appointments")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, validationError("status", "unknown status")
	}
	if filter.Limit < 0 {
		return nil, validationError("limit", "limit must not be negative")
	}
	rows, err := s.repo.List(ctx, store.ListFilter{
		TrainerID: filter.TrainerID,
		Status:    filter.Status,
		Limit:     filter.Limit,
	})
	if err != nil {
		return nil, &PersistenceError{Op: "list appointments", Err: err}
	}
	return rows, nil
}

type bookingSlot struct {
	service  domain.Service
	trainer  domain.Trainer
	interval domain.Interval
}

// resolveSlot validates a requested booking. The end is always derived from
// the service duration.
func (s *Service) resolveSlot(ctx context.Context, serviceID, trainerID int64, start time.Time) (bookingSlot, error) {
	if serviceID <= 0 {
		return bookingSlot{}, validationError("serviceId", "service is required")
	}
	svc, err := s.catalog.GetService(ctx, serviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return bookingSlot{}, ErrServiceNotFound
		}
		return bookingSlot{}, &PersistenceError{Op: "get service", Err: err}
	}
	if svc.Duration() <= 0 {
		return bookingSlot{}, validationError("duration", "service duration must be positive")
	}

	if start.IsZero() {
		return bookingSlot{}, validationError("start", "start time is required")
	}
	start = start.UTC()
	if !start.After(s.now()) {
		return bookingSlot{}, validationError("start", "start time must be in the future")
	}
	interval := domain.Interval{Start: start, End: start.Add(svc.Duration())}
	if !interval.Valid() {
		return bookingSlot{}, validationError("start", "end time must be after start time")
	}

	if trainerID <= 0 {
		return bookingSlot{}, validationError("trainerId", "trainer is required")
	}
	trainer, err := s.catalog.GetTrainer(ctx, trainerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return bookingSlot{}, ErrTrainerNotFound
		}
		return bookingSlot{}, &PersistenceError{Op: "get trainer", Err: err}
	}
	if !trainer.Qualified(svc.ID) {
		return bookingSlot{}, validationError("trainerId", "trainer is not qualified for "+svc.Name)
	}

	return bookingSlot{service: svc, trainer: trainer, interval: interval}, nil
}

func (s *Service) load(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("id", "appointment id is required")
	}
	appt, err := s.repo.Get(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Appointment{}, ErrAppointmentNotFound
		}
		return domain.Appointment{}, &PersistenceError{Op: "get appointment", Err: err}
	}
	return appt, nil
}

// transition moves a live appointment to status to. The store refuses to
// move cancelled rows, which surfaces here as a validation error. A non-zero
// seen guards the update against a row that changed after it was loaded.
func (s *Service) transition(ctx context.Context, appointmentID uuid.UUID, to domain.Status, seen time.Time, cancelledMsg string) (domain.Appointment, error) {
	var appt domain.Appointment
	err := s.commit(ctx, "update appointment status", func() error {
		var err error
		appt, err = s.repo.UpdateStatus(ctx, appointmentID, to, seen)
		if errors.Is(err, store.ErrNotFound) {
			return validationError("status", cancelledMsg)
		}
		return err
	})
	return appt, err
}

// commit runs fn and retries it once when the store reports a transient
// failure. Store errors are translated into the service's error taxonomy.
func (s *Service) commit(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if errors.Is(err, store.ErrTransient) {
		s.logger.Warn("transient store failure, retrying", "op", op, "err", err)
		err = fn()
	}
	if err == nil {
		return nil
	}

	var vErr *ValidationError
	var aErr *AuthorizationError
	switch {
	case errors.As(err, &vErr), errors.As(err, &aErr):
		return err
	case errors.Is(err, store.ErrConflict):
		return ErrSlotConflict
	case errors.Is(err, store.ErrStale):
		return ErrAppointmentChanged
	case errors.Is(err, store.ErrIdempotencyConflict):
		return validationError("idempotencyKey", "idempotency key was already used for a different request")
	case errors.Is(err, store.ErrNotFound):
		return ErrAppointmentNotFound
	}

	s.logger.Error("store failure", "op", op, "err", err)
	return &PersistenceError{Op: op, Err: err}
}

func (s *Service) record(ctx context.Context, action string, appt domain.Appointment, req domain.Requester, metadata map[string]any) {
	s.recorder.Record(ctx, audit.Event{
		Action:        action,
		AppointmentID: appt.ID,
		ActorID:       req.ID,
		Metadata:      metadata,
	})
}

func normalizeNotes(notes string) (string, error) {
	notes = strings.TrimSpace(notes)
	if len(notes) > maxNotesLength {
		return "", validationError("notes", "notes too long")
	}
	return notes, nil
}
