package grpc

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	"fitbook/backend/internal/domain"
	"fitbook/backend/internal/service/appointments"
	"fitbook/backend/internal/service/availability"
)

type AppointmentsServer struct {
	svc          appointmentsService
	availability availabilityService
	log          *slog.Logger
}

var _ AppointmentsServiceServer = (*AppointmentsServer)(nil)

type appointmentsService interface {
	Create(ctx context.Context, req domain.Requester, in appointments.CreateInput) (appointments.Result, error)
	Edit(ctx context.Context, req domain.Requester, id uuid.UUID, in appointments.EditInput) (appointments.Result, error)
	Decide(ctx context.Context, req domain.Requester, id uuid.UUID, d appointments.Decision) (appointments.Result, error)
	Cancel(ctx context.Context, req domain.Requester, id uuid.UUID) (appointments.Result, error)
	Get(ctx context.Context, req domain.Requester, id uuid.UUID) (domain.Appointment, error)
	ListMine(ctx context.Context, req domain.Requester) ([]domain.Appointment, error)
	ListAll(ctx context.Context, req domain.Requester, filter appointments.ListFilter) ([]domain.Appointment, error)
}

type availabilityService interface {
	Find(ctx context.Context, q availability.Query) ([]availability.AvailableTrainer, error)
}

func NewAppointmentsServer(svc appointmentsService, avail availabilityService, log *slog.Logger) *AppointmentsServer {
	if log == nil {
		log = slog.Default()
	}
	return &AppointmentsServer{
		svc:          svc,
		availability: avail,
		log:          log.With(slog.String("component", "grpc.appointments")),
	}
}

func (s *AppointmentsServer) CreateAppointment(ctx context.Context, req *CreateAppointmentRequest) (*AppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", "CreateAppointment"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	if req.StartTime == nil {
		log.Warn("invalid request", slog.String("reason", "missing_start_time"))
		return nil, invalidArgument("start_time", "start_time is required")
	}

	who := requesterFrom(ctx)
	res, err := s.svc.Create(ctx, who, appointments.CreateInput{
		ServiceID:      req.ServiceID,
		TrainerID:      req.TrainerID,
		Start:          req.StartTime.AsTime(),
		Notes:          req.Notes,
		IdempotencyKey: idempotencyKey(ctx),
	})
	if err != nil {
		return nil, s.toStatus(log, err, slog.String("owner_id", who.ID), slog.Int64("trainer_id", req.TrainerID))
	}

	log.Info(
		"appointment created",
		slog.String("appointment_id", res.Appointment.ID.String()),
		slog.String("owner_id", res.Appointment.OwnerID),
		slog.Int64("trainer_id", res.Appointment.TrainerID),
		slog.Time("start_time", res.Appointment.StartTime),
		slog.Time("end_time", res.Appointment.EndTime),
	)
	return toAppointmentResponse(res), nil
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("idempotency-key")
	if len(values) == 0 {
		values = md.Get("x-idempotency-key")
	}
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func (s *AppointmentsServer) EditAppointment(ctx context.Context, req *EditAppointmentRequest) (*AppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", "EditAppointment"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := parseAppointmentID(req.AppointmentID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, err
	}
	if req.StartTime == nil {
		log.Warn("invalid request", slog.String("reason", "missing_start_time"), slog.String("appointment_id", id.String()))
		return nil, invalidArgument("start_time", "start_time is required")
	}

	who := requesterFrom(ctx)
	res, err := s.svc.Edit(ctx, who, id, appointments.EditInput{
		ServiceID: req.ServiceID,
		TrainerID: req.TrainerID,
		Start:     req.StartTime.AsTime(),
		Notes:     req.Notes,
	})
	if err != nil {
		return nil, s.toStatus(log, err, slog.String("appointment_id", id.String()), slog.String("owner_id", who.ID))
	}

	log.Info(
		"appointment edited",
		slog.String("appointment_id", id.String()),
		slog.String("status", string(res.Appointment.Status)),
		slog.String("notice", string(res.Notice)),
	)
	return toAppointmentResponse(res), nil
}

func (s *AppointmentsServer) DecideAppointment(ctx context.Context, req *DecideAppointmentRequest) (*AppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", "DecideAppointment"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := parseAppointmentID(req.AppointmentID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, err
	}
	d := appointments.Decision(strings.ToLower(strings.TrimSpace(req.Decision)))
	if d != appointments.DecisionConfirm && d != appointments.DecisionReject {
		log.Warn("invalid request", slog.String("reason", "unknown_decision"), slog.String("decision", req.Decision))
		return nil, invalidArgument("decision", "decision must be confirm or reject")
	}

	who := requesterFrom(ctx)
	res, err := s.svc.Decide(ctx, who, id, d)
	if err != nil {
		return nil, s.toStatus(log, err, slog.String("appointment_id", id.String()), slog.String("actor_id", who.ID))
	}

	log.Info("appointment decided", slog.String("appointment_id", id.String()), slog.String("status", string(res.Appointment.Status)))
	return toAppointmentResponse(res), nil
}

func (s *AppointmentsServer) CancelAppointment(ctx context.Context, req *CancelAppointmentRequest) (*AppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", "CancelAppointment"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := parseAppointmentID(req.AppointmentID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, err
	}

	who := requesterFrom(ctx)
	res, err := s.svc.Cancel(ctx, who, id)
	if err != nil {
		return nil, s.toStatus(log, err, slog.String("appointment_id", id.String()), slog.String("actor_id", who.ID))
	}

	log.Info("appointment cancelled", slog.String("appointment_id", id.String()), slog.String("actor_id", who.ID))
	return toAppointmentResponse(res), nil
}

func (s *AppointmentsServer) GetAppointment(ctx context.Context, req *GetAppointmentRequest) (*AppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", "GetAppointment"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := parseAppointmentID(req.AppointmentID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, err
	}

	appt, err := s.svc.Get(ctx, requesterFrom(ctx), id)
	if err != nil {
		return nil, s.toStatus(log, err, slog.String("appointment_id", id.String()))
	}
	return &AppointmentResponse{Appointment: toWireAppointment(appt)}, nil
}

func (s *AppointmentsServer) ListAppointments(ctx context.Context, req *ListAppointmentsRequest) (*ListAppointmentsResponse, error) {
	log := s.log.With(slog.String("rpc", "ListAppointments"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	who := requesterFrom(ctx)
	var (
		appts []domain.Appointment
		err   error
	)
	if req.All {
		filter := appointments.ListFilter{TrainerID: req.TrainerID, Limit: int(req.Limit)}
		if req.Status != "" {
			st, perr := domain.ParseStatus(req.Status)
			if perr != nil {
				log.Warn("invalid request", slog.String("reason", "unknown_status"), slog.String("status", req.Status))
				return nil, invalidArgument("status", "status must be pending, confirmed, rejected or cancelled")
			}
			filter.Status = st
		}
		appts, err = s.svc.ListAll(ctx, who, filter)
	} else {
		appts, err = s.svc.ListMine(ctx, who)
	}
	if err != nil {
		return nil, s.toStatus(log, err, slog.String("requester_id", who.ID))
	}

	out := make([]*Appointment, 0, len(appts))
	for _, a := range appts {
		out = append(out, toWireAppointment(a))
	}

	log.Debug("appointments listed", slog.String("requester_id", who.ID), slog.Bool("all", req.All), slog.Int("count", len(out)))
	return &ListAppointmentsResponse{Appointments: out}, nil
}

func (s *AppointmentsServer) FindAvailableTrainers(ctx context.Context, req *FindAvailableTrainersRequest) (*FindAvailableTrainersResponse, error) {
	log := s.log.With(slog.String("rpc", "FindAvailableTrainers"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	if req.StartTime == nil {
		log.Warn("invalid request", slog.String("reason", "missing_start_time"))
		return nil, invalidArgument("start_time", "start_time is required")
	}

	found, err := s.availability.Find(ctx, availability.Query{
		ServiceID: req.ServiceID,
		Start:     req.StartTime.AsTime(),
		Duration:  time.Duration(req.DurationMinutes) * time.Minute,
	})
	if err != nil {
		return nil, s.toStatus(log, err, slog.Int64("service_id", req.ServiceID))
	}

	out := make([]*AvailableTrainer, 0, len(found))
	for _, t := range found {
		out = append(out, &AvailableTrainer{
			TrainerID:              t.TrainerID,
			Name:                   t.Name,
			QualifiedServicesText:  t.QualifiedServicesText,
			AvailabilityWindowText: t.AvailabilityWindowText,
		})
	}
	log.Debug("available trainers found", slog.Int64("service_id", req.ServiceID), slog.Int("count", len(out)))
	return &FindAvailableTrainersResponse{Trainers: out}, nil
}

// toStatus maps service errors onto gRPC codes, logging at the level the
// outcome deserves.
func (s *AppointmentsServer) toStatus(log *slog.Logger, err error, attrs ...any) error {
	var (
		vErr *appointments.ValidationError
		aErr *appointments.AuthorizationError
	)
	switch {
	case errors.As(err, &vErr):
		log.Warn("invalid request", append([]any{slog.Any("err", err)}, attrs...)...)
		return invalidArgument(vErr.Field, vErr.Error())
	case errors.Is(err, appointments.ErrSlotConflict):
		log.Info("appointment slot conflict", attrs...)
		return status.Error(codes.FailedPrecondition, "The trainer already has an appointment during that time. Pick a different slot.")
	case errors.Is(err, appointments.ErrAppointmentChanged):
		log.Info("appointment changed concurrently", attrs...)
		return status.Error(codes.Aborted, "The appointment was changed by someone else. Reload it and try again.")
	case errors.Is(err, availability.ErrNoAvailability):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, appointments.ErrServiceNotFound):
		return status.Error(codes.NotFound, "service not found")
	case errors.Is(err, appointments.ErrTrainerNotFound):
		return status.Error(codes.NotFound, "trainer not found")
	case errors.Is(err, appointments.ErrAppointmentNotFound):
		log.Info("appointment not found", attrs...)
		return status.Error(codes.NotFound, "appointment not found")
	case errors.As(err, &aErr) && errors.Is(err, appointments.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, "authentication required")
	case errors.As(err, &aErr):
		log.Info("permission denied", append([]any{slog.String("reason", aErr.Reason)}, attrs...)...)
		return status.Error(codes.PermissionDenied, aErr.Error())
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("deadline exceeded", attrs...)
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		log.Error("request failed", append([]any{slog.Any("err", err)}, attrs...)...)
		return status.Error(codes.Internal, "internal error")
	}
}

// invalidArgument attaches a BadRequest field violation so clients can point
// at the offending field.
func invalidArgument(field, msg string) error {
	st := status.New(codes.InvalidArgument, msg)
	if field == "" {
		return st.Err()
	}
	detailed, err := st.WithDetails(&errdetails.BadRequest{
		FieldViolations: []*errdetails.BadRequest_FieldViolation{{Field: field, Description: msg}},
	})
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}

func parseAppointmentID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, invalidArgument("appointment_id", "appointment_id must be a UUID")
	}
	return id, nil
}

func toAppointmentResponse(res appointments.Result) *AppointmentResponse {
	return &AppointmentResponse{
		Appointment: toWireAppointment(res.Appointment),
		Notice:      string(res.Notice),
	}
}

func toWireAppointment(a domain.Appointment) *Appointment {
	return &Appointment{
		ID:        a.ID.String(),
		TrainerID: a.TrainerID,
		ServiceID: a.ServiceID,
		OwnerID:   a.OwnerID,
		StartTime: timestamppb.New(a.StartTime),
		EndTime:   timestamppb.New(a.EndTime),
		Status:    string(a.Status),
		Notes:     a.Notes,
		CreatedAt: timestamppb.New(a.CreatedAt),
		UpdatedAt: timestamppb.New(a.UpdatedAt),
	}
}
