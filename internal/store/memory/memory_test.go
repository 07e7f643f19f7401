package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitbook/backend/internal/domain"
	"fitbook/backend/internal/store"
)

func createIn(t *testing.T, s *AppointmentStore, appt domain.Appointment) (domain.Appointment, error) {
	t.Helper()
	var out domain.Appointment
	err := s.InTrainerTransaction(context.Background(), appt.TrainerID, func(ctx context.Context, tx store.TrainerTx) error {
		var err error
		out, err = tx.CreateAppointment(ctx, appt)
		return err
	})
	return out, err
}

func TestAppointmentStore_CommitRejectsOverlap(t *testing.T) {
	s := NewAppointmentStore()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	_, err := createIn(t, s, domain.Appointment{TrainerID: 1, OwnerID: "u1", StartTime: base, EndTime: base.Add(time.Hour), Status: domain.StatusPending})
	require.NoError(t, err)

	_, err = createIn(t, s, domain.Appointment{TrainerID: 1, OwnerID: "u2", StartTime: base.Add(30 * time.Minute), EndTime: base.Add(90 * time.Minute), Status: domain.StatusPending})
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = createIn(t, s, domain.Appointment{TrainerID: 1, OwnerID: "u2", StartTime: base.Add(time.Hour), EndTime: base.Add(2 * time.Hour), Status: domain.StatusPending})
	assert.NoError(t, err, "touching appointment must be accepted")

	_, err = createIn(t, s, domain.Appointment{TrainerID: 2, OwnerID: "u3", StartTime: base, EndTime: base.Add(time.Hour), Status: domain.StatusPending})
	assert.NoError(t, err, "other trainers are independent")
}

func TestAppointmentStore_FailedTransactionDiscardsWrites(t *testing.T) {
	s := NewAppointmentStore()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	boom := errors.New("boom")

	err := s.InTrainerTransaction(context.Background(), 1, func(ctx context.Context, tx store.TrainerTx) error {
		if _, err := tx.CreateAppointment(ctx, domain.Appointment{TrainerID: 1, OwnerID: "u1", StartTime: base, EndTime: base.Add(time.Hour), Status: domain.StatusPending}); err != nil {
			return err
		}
		rows, err := tx.ListAppointments(ctx, 1, base, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, rows, 1, "staged rows are visible inside the transaction")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rows, err := s.ListByTrainer(context.Background(), 1, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestAppointmentStore_IdempotentCreate(t *testing.T) {
	s := NewAppointmentStore()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	id := uuid.MustParse("00000000-0000-0000-0000-000000000101")
	appt := domain.Appointment{ID: id, TrainerID: 1, OwnerID: "u1", StartTime: base, EndTime: base.Add(time.Hour), Status: domain.StatusPending, Notes: "n"}

	first, err := createIn(t, s, appt)
	require.NoError(t, err)
	again, err := createIn(t, s, appt)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	changed := appt
	changed.Notes = "other"
	_, err = createIn(t, s, changed)
	assert.ErrorIs(t, err, store.ErrIdempotencyConflict)
}

func TestAppointmentStore_CancelledDoesNotBlock(t *testing.T) {
	s := NewAppointmentStore()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	first, err := createIn(t, s, domain.Appointment{TrainerID: 1, OwnerID: "u1", StartTime: base, EndTime: base.Add(time.Hour), Status: domain.StatusPending})
	require.NoError(t, err)

	cancelled, err := s.UpdateStatus(context.Background(), first.ID, domain.StatusCancelled, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)

	_, err = s.UpdateStatus(context.Background(), first.ID, domain.StatusConfirmed, time.Time{})
	assert.ErrorIs(t, err, store.ErrNotFound, "cancelled appointments cannot change status")

	_, err = createIn(t, s, domain.Appointment{TrainerID: 1, OwnerID: "u2", StartTime: base, EndTime: base.Add(time.Hour), Status: domain.StatusPending})
	assert.NoError(t, err)
}

func TestAppointmentStore_StatusChangeDuringTransactionIsNotOverwritten(t *testing.T) {
	s := NewAppointmentStore()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	appt, err := createIn(t, s, domain.Appointment{TrainerID: 1, OwnerID: "u1", StartTime: base, EndTime: base.Add(time.Hour), Status: domain.StatusPending})
	require.NoError(t, err)

	err = s.InTrainerTransaction(context.Background(), 1, func(ctx context.Context, tx store.TrainerTx) error {
		row, err := tx.GetAppointment(ctx, appt.ID)
		if err != nil {
			return err
		}
		_, err = s.UpdateStatus(ctx, appt.ID, domain.StatusCancelled, time.Time{})
		require.NoError(t, err)

		row.Notes = "bring mat"
		_, err = tx.UpdateAppointment(ctx, row)
		return err
	})
	assert.ErrorIs(t, err, store.ErrTransient)

	stored, err := s.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, stored.Status)
	assert.Empty(t, stored.Notes)
}

func TestAppointmentStore_UpdateStatusGuard(t *testing.T) {
	s := NewAppointmentStore()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	appt, err := createIn(t, s, domain.Appointment{TrainerID: 1, OwnerID: "u1", StartTime: base, EndTime: base.Add(time.Hour), Status: domain.StatusPending})
	require.NoError(t, err)

	_, err = s.UpdateStatus(context.Background(), appt.ID, domain.StatusConfirmed, appt.UpdatedAt.Add(-time.Second))
	assert.ErrorIs(t, err, store.ErrStale)

	stored, err := s.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)

	confirmed, err := s.UpdateStatus(context.Background(), appt.ID, domain.StatusConfirmed, stored.UpdatedAt)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, confirmed.Status)
}

func TestAppointmentStore_ConcurrentCreatesSingleWinner(t *testing.T) {
	s := NewAppointmentStore()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTrainerTransaction(context.Background(), 1, func(ctx context.Context, tx store.TrainerTx) error {
				existing, err := tx.ListAppointments(ctx, 1, base, base.Add(time.Hour))
				if err != nil {
					return err
				}
				candidate := domain.Interval{Start: base, End: base.Add(time.Hour)}
				if domain.HasConflict(candidate, existing, uuid.Nil) {
					return store.ErrConflict
				}
				_, err = tx.CreateAppointment(ctx, domain.Appointment{TrainerID: 1, OwnerID: "u1", StartTime: base, EndTime: base.Add(time.Hour), Status: domain.StatusPending})
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, store.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)
}

func TestAppointmentStore_ListFilters(t *testing.T) {
	s := NewAppointmentStore()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	a, err := createIn(t, s, domain.Appointment{TrainerID: 1, OwnerID: "u1", StartTime: base, EndTime: base.Add(time.Hour), Status: domain.StatusPending})
	require.NoError(t, err)
	_, err = createIn(t, s, domain.Appointment{TrainerID: 2, OwnerID: "u1", StartTime: base.Add(24 * time.Hour), EndTime: base.Add(25 * time.Hour), Status: domain.StatusPending})
	require.NoError(t, err)
	_, err = s.UpdateStatus(context.Background(), a.ID, domain.StatusConfirmed, time.Time{})
	require.NoError(t, err)

	mine, err := s.ListByOwner(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.True(t, mine[0].StartTime.After(mine[1].StartTime), "newest first")

	confirmed, err := s.List(context.Background(), store.ListFilter{Status: domain.StatusConfirmed})
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	assert.Equal(t, a.ID, confirmed[0].ID)

	byTrainer, err := s.List(context.Background(), store.ListFilter{TrainerID: 2})
	require.NoError(t, err)
	assert.Len(t, byTrainer, 1)
}

const catalogYAML = `
services:
  - id: 1
    name: Pilates
    duration_minutes: 60
    price: 300
  - id: 2
    name: Boxing
    duration_minutes: 45
    price: 250
trainers:
  - id: 10
    name: Zeynep
    services: [1]
  - id: 11
    name: Ali
    services: [1, 2]
`

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)

	svc, err := c.GetService(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, svc.Duration())

	qualified, err := c.ListQualifiedTrainers(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, qualified, 2)
	assert.Equal(t, "Ali", qualified[0].Name)
	assert.Equal(t, "Boxing, Pilates", qualified[0].QualifiedServicesText())

	boxing, err := c.ListQualifiedTrainers(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, boxing, 1)
	assert.Equal(t, int64(11), boxing[0].ID)

	_, err = c.GetTrainer(context.Background(), 99)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestParseCatalog_RejectsUnknownService(t *testing.T) {
	_, err := ParseCatalog([]byte("trainers:\n  - id: 1\n    name: X\n    services: [7]\n"))
	assert.Error(t, err)
}

func TestLoadCatalogFile_Example(t *testing.T) {
	c, err := LoadCatalogFile("../../../configs/catalog.example.yaml")
	require.NoError(t, err)

	trainers, err := c.ListTrainers(context.Background())
	require.NoError(t, err)
	require.Len(t, trainers, 3)

	pt, err := c.ListQualifiedTrainers(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, pt, 2)

	_, err = LoadCatalogFile("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestAuditLog(t *testing.T) {
	l := NewAuditLog()
	require.NoError(t, l.InsertAuditEvent(context.Background(), store.AuditEvent{Action: "appointment_created"}))
	require.NoError(t, l.InsertAuditEvent(context.Background(), store.AuditEvent{Action: "appointment_cancelled"}))

	events := l.Events()
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].ID)
	assert.Equal(t, "appointment_cancelled", events[1].Action)
}
