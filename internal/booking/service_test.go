package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/careslot/booking-service/internal/config"
	"github.com/careslot/booking-service/internal/directory"
	"github.com/careslot/booking-service/internal/otp"
)

// fakeRepo mirrors the conditional-update semantics of PgRepository in memory.
// Every transition checks its precondition and applies under one mutex, which
// is what the single-statement UPDATEs give us against Postgres.
type fakeRepo struct {
	mu           sync.Mutex
	slots        map[uuid.UUID]*TimeSlot
	appointments map[uuid.UUID]*Appointment
	events       []EventLog

	confirmErr error // injected ConfirmAppointment failure
	cancelErr  error // injected CancelConfirmedAppointment failure
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		slots:        make(map[uuid.UUID]*TimeSlot),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (f *fakeRepo) addSlot(s TimeSlot) *TimeSlot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = SlotFree
	}
	cp := s
	f.slots[cp.ID] = &cp
	return &cp
}

func (f *fakeRepo) slotState(id uuid.UUID) TimeSlot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.slots[id]
}

func (f *fakeRepo) apptState(id uuid.UUID) Appointment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.appointments[id]
}

func (f *fakeRepo) GetSlotByID(_ context.Context, id uuid.UUID) (*TimeSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeRepo) ListAvailableSlots(_ context.Context, doctorID uuid.UUID, day time.Time) ([]TimeSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []TimeSlot
	for _, s := range f.slots {
		if s.DoctorID == doctorID && s.Status == SlotFree &&
			s.StartTime.Year() == day.Year() && s.StartTime.YearDay() == day.YearDay() {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeRepo) TryLockSlot(_ context.Context, slotID, patientID uuid.UUID, now, staleBefore time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.slots[slotID]
	if !ok {
		return ErrSlotUnavailable
	}

	reclaimable := s.Status == SlotLocked && s.LockedAt != nil && s.LockedAt.Before(staleBefore)
	if s.Status != SlotFree && !reclaimable {
		return ErrSlotUnavailable
	}

	holder := patientID
	lockedAt := now
	s.Status = SlotLocked
	s.LockedBy = &holder
	s.LockedAt = &lockedAt
	s.AppointmentID = nil
	return nil
}

func (f *fakeRepo) CommitSlotBooking(_ context.Context, slotID, appointmentID, holder uuid.UUID, lockedAfter time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.slots[slotID]
	if !ok || s.Status != SlotLocked || s.LockedBy == nil || *s.LockedBy != holder ||
		s.LockedAt == nil || !s.LockedAt.After(lockedAfter) {
		return ErrLockMismatch
	}

	apptID := appointmentID
	s.Status = SlotBooked
	s.AppointmentID = &apptID
	s.LockedBy = nil
	s.LockedAt = nil
	return nil
}

func (f *fakeRepo) ReleaseSlotLock(_ context.Context, slotID, holder uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.slots[slotID]
	if !ok || s.Status != SlotLocked || s.LockedBy == nil || *s.LockedBy != holder {
		return nil
	}
	s.Status = SlotFree
	s.LockedBy = nil
	s.LockedAt = nil
	return nil
}

func (f *fakeRepo) ReleaseExpiredSlotLocks(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var freed int64
	for _, s := range f.slots {
		if s.Status == SlotLocked && s.LockedAt != nil && s.LockedAt.Before(cutoff) {
			s.Status = SlotFree
			s.LockedBy = nil
			s.LockedAt = nil
			freed++
		}
	}
	return freed, nil
}

func (f *fakeRepo) FreeSlot(_ context.Context, slotID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.slots[slotID]
	if !ok {
		return ErrSlotNotFound
	}
	s.Status = SlotFree
	s.LockedBy = nil
	s.LockedAt = nil
	s.AppointmentID = nil
	return nil
}

func (f *fakeRepo) CreateAppointment(_ context.Context, appt *Appointment) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := *appt
	cp.ID = uuid.New()
	cp.Status = StatusBooked
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	f.appointments[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, status *AppointmentStatus) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appointments {
		if a.PatientID != patientID {
			continue
		}
		if status != nil && a.Status != *status {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (f *fakeRepo) ConfirmAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.confirmErr != nil {
		return nil, f.confirmErr
	}

	a, ok := f.appointments[id]
	if !ok || a.Status != StatusBooked {
		return nil, ErrAppointmentNotFound
	}
	a.Status = StatusConfirmed
	a.OTPVerified = true
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) CancelAppointment(_ context.Context, id uuid.UUID, from AppointmentStatus, reason string, now time.Time) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	cancelledAt := now
	a.Status = StatusCancelled
	a.CancellationReason = &reason
	a.CancelledAt = &cancelledAt
	a.UpdatedAt = now
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) CancelConfirmedAppointment(_ context.Context, id, slotID uuid.UUID, reason string, now time.Time) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Transactional in the real repository: either both rows move or neither.
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}

	a, ok := f.appointments[id]
	if !ok || a.Status != StatusConfirmed {
		return nil, ErrAppointmentNotFound
	}

	cancelledAt := now
	a.Status = StatusCancelled
	a.CancellationReason = &reason
	a.CancelledAt = &cancelledAt
	a.UpdatedAt = now

	if s, ok := f.slots[slotID]; ok {
		s.Status = SlotFree
		s.LockedBy = nil
		s.LockedAt = nil
		s.AppointmentID = nil
	}

	cp := *a
	return &cp, nil
}

func (f *fakeRepo) FindStalePending(_ context.Context, cutoff time.Time) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appointments {
		if a.Status == StatusBooked && a.CreatedAt.Before(cutoff) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) InsertEvent(_ context.Context, ev EventLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeRepo) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.EventType)
	}
	return out
}

type fakeDirectory struct {
	doctors map[uuid.UUID]*directory.Doctor
}

func (f *fakeDirectory) GetDoctorByID(_ context.Context, id uuid.UUID) (*directory.Doctor, error) {
	d, ok := f.doctors[id]
	if !ok {
		return nil, directory.ErrDoctorNotFound
	}
	return d, nil
}

// fakeAuthority plays the OTP collaborator with a fixed code and injectable
// failures.
type fakeAuthority struct {
	code      string
	issueErr  error
	verifyErr error
}

func (f *fakeAuthority) Issue(_ context.Context, appointmentID uuid.UUID) (*otp.Challenge, error) {
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	return &otp.Challenge{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		Code:          f.code,
		ExpiresAt:     time.Now().Add(5 * time.Minute),
	}, nil
}

func (f *fakeAuthority) Verify(_ context.Context, _ uuid.UUID, submitted string, _ time.Time) error {
	if f.verifyErr != nil {
		return f.verifyErr
	}
	if submitted != f.code {
		return otp.ErrMismatch
	}
	return nil
}

// passMutex is the in-process stand-in for the Redis slot mutex; the fakeRepo
// CAS is the property under test, so the mutex just runs the section.
type passMutex struct{}

func (passMutex) WithSlot(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	svc      *Service
	repo     *fakeRepo
	auth     *fakeAuthority
	doctorID uuid.UUID
	slot     *TimeSlot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newFakeRepo()
	doctorID := uuid.New()
	dir := &fakeDirectory{doctors: map[uuid.UUID]*directory.Doctor{
		doctorID: {ID: doctorID, Name: "Dr. Test", ConsultationFee: 50000, Available: true},
	}}
	auth := &fakeAuthority{code: "123456"}

	cfg := config.Config{
		ReservationTTL: 5 * time.Minute,
		CancelWindow:   24 * time.Hour,
	}

	slot := repo.addSlot(TimeSlot{
		DoctorID:  doctorID,
		StartTime: time.Now().Add(48 * time.Hour),
		EndTime:   time.Now().Add(48*time.Hour + 30*time.Minute),
	})

	return &fixture{
		svc:      NewService(repo, dir, auth, passMutex{}, cfg, zap.NewNop()),
		repo:     repo,
		auth:     auth,
		doctorID: doctorID,
		slot:     slot,
	}
}

func (fx *fixture) bookRequest(patientID uuid.UUID) BookRequest {
	return BookRequest{
		PatientID: patientID,
		DoctorID:  fx.doctorID,
		SlotID:    fx.slot.ID,
		Mode:      ModeOnline,
	}
}

func TestBookReservesSlot(t *testing.T) {
	fx := newFixture(t)
	patientID := uuid.New()

	appt, ch, err := fx.svc.Book(context.Background(), fx.bookRequest(patientID))
	require.NoError(t, err)

	assert.Equal(t, StatusBooked, appt.Status)
	assert.Equal(t, patientID, appt.PatientID)
	assert.Equal(t, int64(50000), appt.ConsultationFee)
	assert.Equal(t, "123456", ch.Code)

	slot := fx.repo.slotState(fx.slot.ID)
	assert.Equal(t, SlotLocked, slot.Status)
	require.NotNil(t, slot.LockedBy)
	assert.Equal(t, patientID, *slot.LockedBy)

	assert.Contains(t, fx.repo.eventTypes(), EventReservationCreated)
}

func TestBookValidatesRequest(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, _, err := fx.svc.Book(ctx, BookRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req := fx.bookRequest(uuid.New())
	req.Mode = ConsultationMode("telepathy")
	_, _, err = fx.svc.Book(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req = fx.bookRequest(uuid.New())
	req.DoctorID = uuid.New()
	_, _, err = fx.svc.Book(ctx, req)
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}

func TestBookRejectsPastSlot(t *testing.T) {
	fx := newFixture(t)

	past := fx.repo.addSlot(TimeSlot{
		DoctorID:  fx.doctorID,
		StartTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now().Add(-30 * time.Minute),
	})

	req := fx.bookRequest(uuid.New())
	req.SlotID = past.ID
	_, _, err := fx.svc.Book(context.Background(), req)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestBookConcurrentSingleWinner(t *testing.T) {
	fx := newFixture(t)

	const contenders = 32
	var wg sync.WaitGroup
	errs := make(chan error, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := fx.svc.Book(context.Background(), fx.bookRequest(uuid.New()))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrSlotUnavailable)
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent booking should take the slot")
	assert.Equal(t, SlotLocked, fx.repo.slotState(fx.slot.ID).Status)
}

func TestBookRollsBackLockWhenOTPIssueFails(t *testing.T) {
	fx := newFixture(t)
	fx.auth.issueErr = errors.New("smtp down")

	_, _, err := fx.svc.Book(context.Background(), fx.bookRequest(uuid.New()))
	require.Error(t, err)

	// The slot must come back so the next patient can take it.
	slot := fx.repo.slotState(fx.slot.ID)
	assert.Equal(t, SlotFree, slot.Status)
	assert.Nil(t, slot.LockedBy)

	fx.auth.issueErr = nil
	_, _, err = fx.svc.Book(context.Background(), fx.bookRequest(uuid.New()))
	assert.NoError(t, err)
}

func TestBookReclaimsStaleLock(t *testing.T) {
	fx := newFixture(t)

	abandoner := uuid.New()
	staleAt := time.Now().Add(-10 * time.Minute)
	fx.repo.mu.Lock()
	s := fx.repo.slots[fx.slot.ID]
	s.Status = SlotLocked
	s.LockedBy = &abandoner
	s.LockedAt = &staleAt
	fx.repo.mu.Unlock()

	patientID := uuid.New()
	_, _, err := fx.svc.Book(context.Background(), fx.bookRequest(patientID))
	require.NoError(t, err)

	slot := fx.repo.slotState(fx.slot.ID)
	require.NotNil(t, slot.LockedBy)
	assert.Equal(t, patientID, *slot.LockedBy)
}

func TestConfirmFinalizesReservation(t *testing.T) {
	fx := newFixture(t)
	patientID := uuid.New()
	ctx := context.Background()

	appt, ch, err := fx.svc.Book(ctx, fx.bookRequest(patientID))
	require.NoError(t, err)

	confirmed, err := fx.svc.Confirm(ctx, appt.ID, patientID, ch.Code, time.Now())
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, confirmed.Status)
	assert.True(t, confirmed.OTPVerified)

	slot := fx.repo.slotState(fx.slot.ID)
	assert.Equal(t, SlotBooked, slot.Status)
	require.NotNil(t, slot.AppointmentID)
	assert.Equal(t, appt.ID, *slot.AppointmentID)
	assert.Nil(t, slot.LockedBy)

	assert.Contains(t, fx.repo.eventTypes(), EventAppointmentConfirmed)
}

func TestConfirmByNonOwnerReadsAsNotFound(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	appt, ch, err := fx.svc.Book(ctx, fx.bookRequest(uuid.New()))
	require.NoError(t, err)

	_, err = fx.svc.Confirm(ctx, appt.ID, uuid.New(), ch.Code, time.Now())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestConfirmPropagatesOTPErrors(t *testing.T) {
	fx := newFixture(t)
	patientID := uuid.New()
	ctx := context.Background()

	appt, _, err := fx.svc.Book(ctx, fx.bookRequest(patientID))
	require.NoError(t, err)

	_, err = fx.svc.Confirm(ctx, appt.ID, patientID, "999999", time.Now())
	assert.ErrorIs(t, err, otp.ErrMismatch)

	// A failed code leaves the reservation intact.
	assert.Equal(t, StatusBooked, fx.repo.apptState(appt.ID).Status)
	assert.Equal(t, SlotLocked, fx.repo.slotState(fx.slot.ID).Status)
}

func TestConfirmAfterLockLost(t *testing.T) {
	fx := newFixture(t)
	patientID := uuid.New()
	ctx := context.Background()

	appt, ch, err := fx.svc.Book(ctx, fx.bookRequest(patientID))
	require.NoError(t, err)

	// The hold expired and the sweep already returned the slot.
	require.NoError(t, fx.repo.FreeSlot(ctx, fx.slot.ID))

	_, err = fx.svc.Confirm(ctx, appt.ID, patientID, ch.Code, time.Now())
	assert.ErrorIs(t, err, ErrReservationExpired)

	assert.Equal(t, StatusCancelled, fx.repo.apptState(appt.ID).Status)
	assert.Equal(t, SlotFree, fx.repo.slotState(fx.slot.ID).Status)
}

func TestConfirmRollsBackSlotWhenUpdateFails(t *testing.T) {
	fx := newFixture(t)
	patientID := uuid.New()
	ctx := context.Background()

	appt, ch, err := fx.svc.Book(ctx, fx.bookRequest(patientID))
	require.NoError(t, err)

	// The slot commit succeeds, the appointment update dies mid-flight.
	fx.repo.confirmErr = errors.New("connection reset by peer")
	_, err = fx.svc.Confirm(ctx, appt.ID, patientID, ch.Code, time.Now())
	require.Error(t, err)

	// The slot must not stay booked against a never-confirmed appointment.
	slot := fx.repo.slotState(fx.slot.ID)
	assert.Equal(t, SlotFree, slot.Status)
	assert.Nil(t, slot.AppointmentID)
	assert.Equal(t, StatusBooked, fx.repo.apptState(appt.ID).Status)

	// A later sweep cancels the pending appointment and leaves the slot free.
	fx.repo.confirmErr = nil
	require.NoError(t, fx.svc.ExpireStaleReservations(ctx, time.Now().Add(time.Hour)))
	assert.Equal(t, StatusCancelled, fx.repo.apptState(appt.ID).Status)
	assert.Equal(t, SlotFree, fx.repo.slotState(fx.slot.ID).Status)
}

func TestBookRejectsBookedAndHeldSlots(t *testing.T) {
	fx := newFixture(t)
	patientID := uuid.New()
	ctx := context.Background()

	appt, ch, err := fx.svc.Book(ctx, fx.bookRequest(patientID))
	require.NoError(t, err)

	// Another patient against the live hold.
	_, _, err = fx.svc.Book(ctx, fx.bookRequest(uuid.New()))
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	_, err = fx.svc.Confirm(ctx, appt.ID, patientID, ch.Code, time.Now())
	require.NoError(t, err)

	// And against the booked slot.
	_, _, err = fx.svc.Book(ctx, fx.bookRequest(uuid.New()))
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestCancelConfirmedAppointment(t *testing.T) {
	fx := newFixture(t)
	patientID := uuid.New()
	ctx := context.Background()

	appt, ch, err := fx.svc.Book(ctx, fx.bookRequest(patientID))
	require.NoError(t, err)
	_, err = fx.svc.Confirm(ctx, appt.ID, patientID, ch.Code, time.Now())
	require.NoError(t, err)

	cancelled, err := fx.svc.Cancel(ctx, appt.ID, patientID, "found another doctor", time.Now())
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancellationReason)
	assert.Equal(t, "found another doctor", *cancelled.CancellationReason)

	// The slot goes back on the market.
	assert.Equal(t, SlotFree, fx.repo.slotState(fx.slot.ID).Status)
	assert.Contains(t, fx.repo.eventTypes(), EventAppointmentCancelled)
}

func TestCancelLeavesStateIntactOnFailure(t *testing.T) {
	fx := newFixture(t)
	patientID := uuid.New()
	ctx := context.Background()

	appt, ch, err := fx.svc.Book(ctx, fx.bookRequest(patientID))
	require.NoError(t, err)
	_, err = fx.svc.Confirm(ctx, appt.ID, patientID, ch.Code, time.Now())
	require.NoError(t, err)

	// Cancellation and slot release are one transaction: a failure changes
	// nothing and the cancel can simply be retried.
	fx.repo.cancelErr = errors.New("connection reset by peer")
	_, err = fx.svc.Cancel(ctx, appt.ID, patientID, "flaky network", time.Now())
	require.Error(t, err)

	assert.Equal(t, StatusConfirmed, fx.repo.apptState(appt.ID).Status)
	assert.Equal(t, SlotBooked, fx.repo.slotState(fx.slot.ID).Status)

	fx.repo.cancelErr = nil
	cancelled, err := fx.svc.Cancel(ctx, appt.ID, patientID, "retry", time.Now())
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, SlotFree, fx.repo.slotState(fx.slot.ID).Status)
}

func TestCancelEnforcesWindow(t *testing.T) {
	fx := newFixture(t)
	patientID := uuid.New()
	ctx := context.Background()

	appt, ch, err := fx.svc.Book(ctx, fx.bookRequest(patientID))
	require.NoError(t, err)
	_, err = fx.svc.Confirm(ctx, appt.ID, patientID, ch.Code, time.Now())
	require.NoError(t, err)

	// Slot starts 48h out; at start-23h the window has closed.
	tooLate := appt.StartTime.Add(-23 * time.Hour)
	_, err = fx.svc.Cancel(ctx, appt.ID, patientID, "late", tooLate)
	assert.ErrorIs(t, err, ErrCancellationWindowClosed)

	// At exactly start-25h it is still open.
	inTime := appt.StartTime.Add(-25 * time.Hour)
	_, err = fx.svc.Cancel(ctx, appt.ID, patientID, "in time", inTime)
	assert.NoError(t, err)
}

func TestCancelPendingReservationRefused(t *testing.T) {
	fx := newFixture(t)
	patientID := uuid.New()
	ctx := context.Background()

	appt, _, err := fx.svc.Book(ctx, fx.bookRequest(patientID))
	require.NoError(t, err)

	// Still awaiting OTP; the cancel endpoint does not apply.
	_, err = fx.svc.Cancel(ctx, appt.ID, patientID, "changed my mind", time.Now())
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestCancelByNonOwnerReadsAsNotFound(t *testing.T) {
	fx := newFixture(t)
	patientID := uuid.New()
	ctx := context.Background()

	appt, ch, err := fx.svc.Book(ctx, fx.bookRequest(patientID))
	require.NoError(t, err)
	_, err = fx.svc.Confirm(ctx, appt.ID, patientID, ch.Code, time.Now())
	require.NoError(t, err)

	_, err = fx.svc.Cancel(ctx, appt.ID, uuid.New(), "not mine", time.Now())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestExpireStaleReservations(t *testing.T) {
	fx := newFixture(t)
	patientID := uuid.New()
	ctx := context.Background()

	appt, _, err := fx.svc.Book(ctx, fx.bookRequest(patientID))
	require.NoError(t, err)

	// Age the reservation past the confirmation window.
	staleAt := time.Now().Add(-10 * time.Minute)
	fx.repo.mu.Lock()
	fx.repo.appointments[appt.ID].CreatedAt = staleAt
	fx.repo.slots[fx.slot.ID].LockedAt = &staleAt
	fx.repo.mu.Unlock()

	require.NoError(t, fx.svc.ExpireStaleReservations(ctx, time.Now()))

	assert.Equal(t, StatusCancelled, fx.repo.apptState(appt.ID).Status)
	assert.Equal(t, SlotFree, fx.repo.slotState(fx.slot.ID).Status)
	assert.Contains(t, fx.repo.eventTypes(), EventReservationExpired)
}

func TestExpireLeavesFreshReservationsAlone(t *testing.T) {
	fx := newFixture(t)
	patientID := uuid.New()
	ctx := context.Background()

	appt, _, err := fx.svc.Book(ctx, fx.bookRequest(patientID))
	require.NoError(t, err)

	require.NoError(t, fx.svc.ExpireStaleReservations(ctx, time.Now()))

	assert.Equal(t, StatusBooked, fx.repo.apptState(appt.ID).Status)
	assert.Equal(t, SlotLocked, fx.repo.slotState(fx.slot.ID).Status)
}

func TestExpireSkipsConfirmedAppointments(t *testing.T) {
	fx := newFixture(t)
	patientID := uuid.New()
	ctx := context.Background()

	appt, ch, err := fx.svc.Book(ctx, fx.bookRequest(patientID))
	require.NoError(t, err)
	_, err = fx.svc.Confirm(ctx, appt.ID, patientID, ch.Code, time.Now())
	require.NoError(t, err)

	// A sweep after confirmation must not touch the booked slot: release of a
	// booked slot is a no-op and the appointment is no longer pending.
	require.NoError(t, fx.svc.ExpireStaleReservations(ctx, time.Now().Add(time.Hour)))

	assert.Equal(t, StatusConfirmed, fx.repo.apptState(appt.ID).Status)
	assert.Equal(t, SlotBooked, fx.repo.slotState(fx.slot.ID).Status)
}

func TestGetAppointmentScopedToOwner(t *testing.T) {
	fx := newFixture(t)
	patientID := uuid.New()
	ctx := context.Background()

	appt, _, err := fx.svc.Book(ctx, fx.bookRequest(patientID))
	require.NoError(t, err)

	got, err := fx.svc.GetAppointment(ctx, appt.ID, patientID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, got.ID)

	_, err = fx.svc.GetAppointment(ctx, appt.ID, uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}
