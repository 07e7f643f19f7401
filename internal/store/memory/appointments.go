package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fitbook/backend/internal/domain"
	"fitbook/backend/internal/store"
)

// AppointmentStore keeps appointments in process. Writers on one trainer's
// schedule are serialized by a mutex per trainer; readers take a snapshot.
// Every committed write bumps the row's version, and a transaction whose
// rows moved underneath it fails at commit with store.ErrTransient.
type AppointmentStore struct {
	mu       sync.RWMutex
	appts    map[uuid.UUID]domain.Appointment
	versions map[uuid.UUID]uint64

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	now func() time.Time
}

func NewAppointmentStore() *AppointmentStore {
	return &AppointmentStore{
		appts:    make(map[uuid.UUID]domain.Appointment),
		versions: make(map[uuid.UUID]uint64),
		locks:    make(map[int64]*sync.Mutex),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *AppointmentStore) trainerLock(trainerID int64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[trainerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[trainerID] = l
	}
	return l
}

func (s *AppointmentStore) InTrainerTransaction(ctx context.Context, trainerID int64, fn func(ctx context.Context, tx store.TrainerTx) error) error {
	l := s.trainerLock(trainerID)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &trainerTx{
		store:  s,
		staged: make(map[uuid.UUID]domain.Appointment),
		base:   make(map[uuid.UUID]uint64),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

// commit applies staged writes. A staged row that was changed by another
// writer after the transaction read it is refused, and every staged row is
// re-checked against the committed schedule so an overlap can never be stored.
func (s *AppointmentStore) commit(tx *trainerTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range tx.staged {
		seen, read := tx.base[id]
		_, exists := s.appts[id]
		switch {
		case read && s.versions[id] != seen:
			return fmt.Errorf("%w: appointment %s changed during the transaction", store.ErrTransient, id)
		case !read && exists:
			return fmt.Errorf("%w: appointment %s was created concurrently", store.ErrTransient, id)
		}
	}

	for _, appt := range tx.staged {
		if !appt.Status.Active() {
			continue
		}
		for _, other := range s.appts {
			if other.ID == appt.ID || other.TrainerID != appt.TrainerID {
				continue
			}
			if _, restaged := tx.staged[other.ID]; restaged {
				continue
			}
			if other.Status.Active() && domain.Overlaps(appt.Interval(), other.Interval()) {
				return store.ErrConflict
			}
		}
	}
	for id, appt := range tx.staged {
		s.appts[id] = appt
		s.versions[id]++
	}
	return nil
}

func (s *AppointmentStore) Get(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	appt, ok := s.appts[appointmentID]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return appt, nil
}

func (s *AppointmentStore) ListByOwner(ctx context.Context, ownerID string) ([]domain.Appointment, error) {
	return s.filter(func(a domain.Appointment) bool { return a.OwnerID == ownerID }, sortNewestFirst, 0), nil
}

func (s *AppointmentStore) List(ctx context.Context, filter store.ListFilter) ([]domain.Appointment, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	return s.filter(func(a domain.Appointment) bool {
		if filter.TrainerID != 0 && a.TrainerID != filter.TrainerID {
			return false
		}
		if filter.Status != "" && a.Status != filter.Status {
			return false
		}
		return true
	}, sortNewestFirst, limit), nil
}

func (s *AppointmentStore) ListByTrainer(ctx context.Context, trainerID int64, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	window := domain.Interval{Start: windowStart, End: windowEnd}
	return s.filter(func(a domain.Appointment) bool {
		return a.TrainerID == trainerID && a.Status.Active() && domain.Overlaps(a.Interval(), window)
	}, sortOldestFirst, 0), nil
}

func (s *AppointmentStore) UpdateStatus(ctx context.Context, appointmentID uuid.UUID, to domain.Status, seen time.Time) (domain.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appts[appointmentID]
	if !ok || !appt.Status.Active() {
		return domain.Appointment{}, store.ErrNotFound
	}
	if !seen.IsZero() && !appt.UpdatedAt.Equal(seen) {
		return domain.Appointment{}, store.ErrStale
	}
	appt.Status = to
	appt.UpdatedAt = s.now()
	s.appts[appointmentID] = appt
	s.versions[appointmentID]++
	return appt, nil
}

func (s *AppointmentStore) filter(keep func(domain.Appointment) bool, less func(a, b domain.Appointment) bool, limit int) []domain.Appointment {
	s.mu.RLock()
	out := make([]domain.Appointment, 0)
	for _, a := range s.appts {
		if keep(a) {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortNewestFirst(a, b domain.Appointment) bool {
	if !a.StartTime.Equal(b.StartTime) {
		return a.StartTime.After(b.StartTime)
	}
	return a.ID.String() < b.ID.String()
}

func sortOldestFirst(a, b domain.Appointment) bool {
	if !a.StartTime.Equal(b.StartTime) {
		return a.StartTime.Before(b.StartTime)
	}
	return a.ID.String() < b.ID.String()
}

type trainerTx struct {
	store  *AppointmentStore
	staged map[uuid.UUID]domain.Appointment
	// base holds the version of each committed row when first read.
	base map[uuid.UUID]uint64
}

func (t *trainerTx) lookup(id uuid.UUID) (domain.Appointment, bool) {
	if appt, ok := t.staged[id]; ok {
		return appt, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	appt, ok := t.store.appts[id]
	if ok {
		if _, read := t.base[id]; !read {
			t.base[id] = t.store.versions[id]
		}
	}
	return appt, ok
}

func (t *trainerTx) ListAppointments(ctx context.Context, trainerID int64, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	window := domain.Interval{Start: windowStart, End: windowEnd}
	rows, _ := t.store.ListByTrainer(ctx, trainerID, windowStart, windowEnd)

	out := make([]domain.Appointment, 0, len(rows)+len(t.staged))
	for _, a := range rows {
		if _, ok := t.staged[a.ID]; !ok {
			out = append(out, a)
		}
	}
	for _, a := range t.staged {
		if a.TrainerID == trainerID && a.Status.Active() && domain.Overlaps(a.Interval(), window) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return sortOldestFirst(out[i], out[j]) })
	return out, nil
}

func (t *trainerTx) GetAppointment(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	appt, ok := t.lookup(appointmentID)
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return appt, nil
}

func (t *trainerTx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	now := t.store.now()
	if appt.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Appointment{}, err
		}
		appt.ID = id
	}

	if existing, ok := t.lookup(appt.ID); ok {
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

	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	if appt.UpdatedAt.IsZero() {
		appt.UpdatedAt = now
	}
	t.staged[appt.ID] = appt
	return appt, nil
}

func (t *trainerTx) UpdateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	existing, ok := t.lookup(appt.ID)
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	appt.OwnerID = existing.OwnerID
	appt.CreatedAt = existing.CreatedAt
	appt.UpdatedAt = t.store.now()
	t.staged[appt.ID] = appt
	return appt, nil
}
