package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fitbook/backend/internal/domain"
	"fitbook/backend/internal/service/appointments"
	"fitbook/backend/internal/store"
)

const (
	windowLayout       = "02.01.2006 15:04"
	windowEndLayout    = "15:04"
	maxConcurrentLoads = 8
)

// ErrNoAvailability means the service exists but no qualified trainer is
// free for the requested window.
var ErrNoAvailability = errors.New("no trainer available")

type Query struct {
	ServiceID int64
	Start     time.Time
	// Duration of zero uses the service's own duration.
	Duration time.Duration
}

type AvailableTrainer struct {
	TrainerID              int64
	Name                   string
	QualifiedServicesText  string
	AvailabilityWindowText string
}

type Service struct {
	appointments store.AppointmentRepository
	catalog      store.Catalog
	location     *time.Location
	logger       *slog.Logger
	now          func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithLocation sets the facility time zone used for the window text.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.location = loc }
}

func NewService(appts store.AppointmentRepository, catalog store.Catalog, opts ...Option) *Service {
	s := &Service{
		appointments: appts,
		catalog:      catalog,
		location:     time.UTC,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "service.availability")
	return s
}

// Find lists the trainers qualified for the service who have no active
// appointment overlapping [start, start+duration), ranked by name.
func (s *Service) Find(ctx context.Context, q Query) ([]AvailableTrainer, error) {
	if q.Duration < 0 {
		return nil, &appointments.ValidationError{Field: "duration", Message: "duration must be positive"}
	}
	if q.Start.IsZero() {
		return nil, &appointments.ValidationError{Field: "start", Message: "start time is required"}
	}
	start := q.Start.UTC()
	if !start.After(s.now()) {
		return nil, &appointments.ValidationError{Field: "start", Message: "start time must be in the future"}
	}

	svc, err := s.catalog.GetService(ctx, q.ServiceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, appointments.ErrServiceNotFound
		}
		return nil, &appointments.PersistenceError{Op: "get service", Err: err}
	}

	duration := q.Duration
	if duration == 0 {
		duration = svc.Duration()
	}
	if duration <= 0 {
		return nil, &appointments.ValidationError{Field: "duration", Message: "duration must be positive"}
	}
	window := domain.Interval{Start: start, End: start.Add(duration)}

	trainers, err := s.catalog.ListQualifiedTrainers(ctx, svc.ID)
	if err != nil {
		return nil, &appointments.PersistenceError{Op: "list qualified trainers", Err: err}
	}

	free, err := s.freeTrainers(ctx, trainers, window)
	if err != nil {
		return nil, &appointments.PersistenceError{Op: "load trainer schedules", Err: err}
	}
	if len(free) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoAvailability, svc.Name)
	}

	windowText := s.windowText(window)
	out := make([]AvailableTrainer, 0, len(free))
	for _, t := range free {
		out = append(out, AvailableTrainer{
			TrainerID:              t.ID,
			Name:                   t.Name,
			QualifiedServicesText:  t.QualifiedServicesText(),
			AvailabilityWindowText: windowText,
		})
	}

	s.logger.Debug("availability computed",
		"service_id", svc.ID,
		"qualified", len(trainers),
		"available", len(out),
	)
	return out, nil
}

// freeTrainers keeps the order of trainers, which the catalog returns ranked.
func (s *Service) freeTrainers(ctx context.Context, trainers []domain.Trainer, window domain.Interval) ([]domain.Trainer, error) {
	busy := make([]bool, len(trainers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLoads)
	for i, t := range trainers {
		i, t := i, t
		g.Go(func() error {
			appts, err := s.appointments.ListByTrainer(gctx, t.ID, window.Start, window.End)
			if err != nil {
				return fmt.Errorf("trainer %d: %w", t.ID, err)
			}
			busy[i] = domain.HasConflict(window, appts, uuid.Nil)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	free := make([]domain.Trainer, 0, len(trainers))
	for i, t := range trainers {
		if !busy[i] {
			free = append(free, t)
		}
	}
	return free, nil
}

func (s *Service) windowText(w domain.Interval) string {
	return w.Start.In(s.location).Format(windowLayout) + " - " + w.End.In(s.location).Format(windowEndLayout)
}
