package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
)

const defaultWindowDays = 7

type Service struct {
	availability AvailabilityRepository
	appointments AppointmentRepository
	treatments   TreatmentRepository
	doctors      DoctorDirectory
	patients     PatientDirectory
	tx           TxManager

	windowDays int
	strict     bool
	now        func() time.Time
	logger     zerolog.Logger
	outcomes   OutcomeRecorder
}

// OutcomeRecorder counts booking attempts by result.
type OutcomeRecorder interface {
	BookingOutcome(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) BookingOutcome(string) {}

type Option func(*Service)

// WithWindowDays sets how many days, starting today, a doctor may declare
// availability for.
func WithWindowDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.windowDays = days
		}
	}
}

// WithStrictTransitions makes Completed and Cancelled terminal.
func WithStrictTransitions(strict bool) Option {
	return func(s *Service) { s.strict = strict }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger.With().Str("component", "scheduling").Logger() }
}

func WithOutcomeRecorder(r OutcomeRecorder) Option {
	return func(s *Service) { s.outcomes = r }
}

func NewService(
	availability AvailabilityRepository,
	appointments AppointmentRepository,
	treatments TreatmentRepository,
	doctors DoctorDirectory,
	patients PatientDirectory,
	tx TxManager,
	opts ...Option,
) *Service {
	s := &Service{
		availability: availability,
		appointments: appointments,
		treatments:   treatments,
		doctors:      doctors,
		patients:     patients,
		tx:           tx,
		windowDays:   defaultWindowDays,
		now:          time.Now,
		logger:       zerolog.Nop(),
		outcomes:     nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today returns the current calendar date in DateLayout.
func (s *Service) Today() string {
	from, _ := window(s.now(), 0)
	return from
}

// -- Availability --

// ReplaceAvailability swaps the doctor's whole mapping for raw. Every date
// must fall inside the editing window; otherwise nothing is stored and the
// ValidationError lists the offending dates. It returns what was stored.
func (s *Service) ReplaceAvailability(ctx context.Context, caller auth.Caller, doctorID uuid.UUID, raw map[string][]string) (Availability, error) {
	if !caller.IsAdmin() && !(caller.IsDoctor() && caller.ID == doctorID) {
		return nil, ErrUnauthorized
	}
	if _, err := s.doctors.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	a, err := NormalizeAvailability(raw)
	if err != nil {
		return nil, err
	}
	from, to := window(s.now(), s.windowDays)
	if outside := a.Outside(from, to); len(outside) > 0 {
		return nil, &ValidationError{
			Field:  "availability",
			Reason: fmt.Sprintf("dates must be on or after %s and before %s: %s", from, to, strings.Join(outside, ", ")),
		}
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		return s.availability.Replace(ctx, doctorID, a)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("doctor_id", doctorID.String()).
		Int("dates", len(a)).
		Msg("availability replaced")
	return a, nil
}

// GetAvailability returns the doctor's declared slots for the current window.
func (s *Service) GetAvailability(ctx context.Context, doctorID uuid.UUID) (Availability, error) {
	if _, err := s.doctors.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	from, to := window(s.now(), s.windowDays)
	return s.availability.GetRange(ctx, doctorID, from, to)
}

// PruneAvailability drops declared slots for dates before the given day.
func (s *Service) PruneAvailability(ctx context.Context, before time.Time) (int64, error) {
	day, _ := window(before, 0)
	return s.availability.PruneBefore(ctx, day)
}

// -- Booking --

// Book reserves (doctor, date, time) for the patient. The availability check
// only gives early feedback; the ledger's uniqueness decides between
// concurrent bookings, and the loser gets ErrSlotTaken.
func (s *Service) Book(ctx context.Context, caller auth.Caller, req BookingRequest) (_ *Appointment, err error) {
	defer func() { s.outcomes.BookingOutcome(bookingOutcome(err)) }()

	if !caller.IsAdmin() && !(caller.IsPatient() && caller.ID == req.PatientID) {
		return nil, ErrUnauthorized
	}

	label := strings.TrimSpace(req.Time)
	if label == "" {
		return nil, requiredField("time")
	}
	d, err := ParseDate(req.Date)
	if err != nil {
		return nil, err
	}
	date := d.Format(DateLayout)

	log := s.logger.With().
		Str("doctor_id", req.DoctorID.String()).
		Str("patient_id", req.PatientID.String()).
		Str("date", date).
		Str("time", label).
		Logger()

	doctor, err := s.doctors.GetDoctor(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.Active {
		log.Warn().Msg("booking rejected: doctor unavailable")
		return nil, ErrDoctorUnavailable
	}

	offered, err := s.availability.Get(ctx, req.DoctorID, date)
	if err != nil {
		return nil, err
	}
	if !labelAllowed(offered, label) {
		log.Warn().Msg("booking rejected: slot not offered")
		return nil, ErrSlotNotOffered
	}

	if _, err := s.patients.GetPatient(ctx, req.PatientID); err != nil {
		return nil, err
	}

	a := &Appointment{
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		Date:      date,
		Time:      label,
		Status:    StatusBooked,
		VisitType: strings.TrimSpace(req.VisitType),
	}
	if a.VisitType == "" {
		a.VisitType = DefaultVisitType
	}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		a.Notes = &notes
	}

	if err = s.appointments.Create(ctx, a); err != nil {
		if errors.Is(err, ErrSlotTaken) {
			log.Warn().Msg("booking rejected: slot taken")
		}
		return nil, err
	}

	log.Info().Str("appointment_id", a.ID.String()).Msg("appointment booked")
	return a, nil
}

func bookingOutcome(err error) string {
	if err == nil {
		return "booked"
	}
	switch Kind(err) {
	case "SlotTaken":
		return "slot_taken"
	case "SlotNotOffered":
		return "slot_not_offered"
	case "DoctorUnavailable":
		return "doctor_unavailable"
	case "Internal":
		return "error"
	}
	return "rejected"
}

// -- Status --

// statusAttempts bounds how often a status write is retried after losing a
// race with another request.
const statusAttempts = 3

// SetStatus moves an appointment to status. The assigned doctor and admins
// may set any status; the owning patient may only cancel. The write only
// lands if the status read is still current, so a concurrent change is seen
// and the rules are checked again against it.
func (s *Service) SetStatus(ctx context.Context, caller auth.Caller, id uuid.UUID, status Status) (*Appointment, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	for attempt := 1; ; attempt++ {
		a, err := s.appointments.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		switch {
		case caller.IsAdmin(), caller.IsDoctor() && caller.ID == a.DoctorID:
		case caller.IsPatient() && caller.ID == a.PatientID && status == StatusCancelled:
		default:
			return nil, ErrUnauthorized
		}

		if a.Status == status {
			return a, nil
		}
		if s.strict && a.Status.Terminal() {
			return nil, ErrInvalidStatus
		}

		err = s.appointments.UpdateStatus(ctx, id, a.Status, status)
		if errors.Is(err, ErrStatusConflict) && attempt < statusAttempts {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.logger.Info().
			Str("appointment_id", id.String()).
			Str("from", string(a.Status)).
			Str("to", string(status)).
			Msg("appointment status changed")
		a.Status = status
		return a, nil
	}
}

func (s *Service) Cancel(ctx context.Context, caller auth.Caller, id uuid.UUID) (*Appointment, error) {
	return s.SetStatus(ctx, caller, id, StatusCancelled)
}

// -- Treatments --

// AddTreatment appends a visit record. With in.Complete the appointment is
// marked Completed in the same transaction; that status write is guarded like
// SetStatus and the whole operation is retried when it loses a race.
func (s *Service) AddTreatment(ctx context.Context, caller auth.Caller, id uuid.UUID, in TreatmentInput) (*Treatment, error) {
	for attempt := 1; ; attempt++ {
		t, err := s.addTreatment(ctx, caller, id, in)
		if errors.Is(err, ErrStatusConflict) && attempt < statusAttempts {
			continue
		}
		return t, err
	}
}

func (s *Service) addTreatment(ctx context.Context, caller auth.Caller, id uuid.UUID, in TreatmentInput) (*Treatment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsDoctor() || caller.ID != a.DoctorID {
		return nil, ErrUnauthorized
	}

	t := &Treatment{
		AppointmentID: id,
		Diagnosis:     strings.TrimSpace(in.Diagnosis),
		Prescription:  strings.TrimSpace(in.Prescription),
		TestsDone:     cleanList(in.TestsDone),
		Medicines:     cleanList(in.Medicines),
	}
	if t.Diagnosis == "" {
		return nil, requiredField("diagnosis")
	}
	if t.Prescription == "" {
		return nil, requiredField("prescription")
	}
	if vt := strings.TrimSpace(in.VisitType); vt != "" {
		t.VisitType = &vt
	}

	complete := in.Complete && a.Status != StatusCompleted
	if complete && s.strict && a.Status == StatusCancelled {
		return nil, ErrInvalidStatus
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if t.VisitType != nil {
			if err := s.appointments.UpdateVisitType(ctx, id, *t.VisitType); err != nil {
				return err
			}
		}
		if complete {
			if err := s.appointments.UpdateStatus(ctx, id, a.Status, StatusCompleted); err != nil {
				return err
			}
		}
		return s.treatments.Create(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", id.String()).
		Bool("completed", complete).
		Msg("treatment recorded")
	return t, nil
}

// ListTreatments returns the appointment's records in creation order.
func (s *Service) ListTreatments(ctx context.Context, caller auth.Caller, id uuid.UUID) ([]*Treatment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(caller, a) {
		return nil, ErrUnauthorized
	}
	return s.treatments.ListByAppointment(ctx, id)
}

// -- Queries --

func canView(caller auth.Caller, a *Appointment) bool {
	switch {
	case caller.IsAdmin():
		return true
	case caller.IsDoctor():
		return caller.ID == a.DoctorID
	case caller.IsPatient():
		return caller.ID == a.PatientID
	}
	return false
}

// ListAppointments scopes f to the caller: doctors see their own schedule and
// patients their own history. Admins may filter freely.
func (s *Service) ListAppointments(ctx context.Context, caller auth.Caller, f AppointmentFilter, limit, offset int) ([]*AppointmentView, int, error) {
	if f.From != "" {
		d, err := ParseDate(f.From)
		if err != nil {
			return nil, 0, err
		}
		f.From = d.Format(DateLayout)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, ErrInvalidStatus
	}

	id := caller.ID
	switch {
	case caller.IsAdmin():
	case caller.IsDoctor():
		f.DoctorID = &id
	case caller.IsPatient():
		f.PatientID = &id
	default:
		return nil, 0, ErrUnauthorized
	}
	return s.appointments.List(ctx, f, limit, offset)
}

// HasAppointmentWith reports whether the doctor has ever had an appointment
// with the patient, in any status.
func (s *Service) HasAppointmentWith(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error) {
	_, total, err := s.appointments.List(ctx, AppointmentFilter{DoctorID: &doctorID, PatientID: &patientID}, 1, 0)
	if err != nil {
		return false, err
	}
	return total > 0, nil
}

func (s *Service) GetAppointment(ctx context.Context, caller auth.Caller, id uuid.UUID) (*AppointmentView, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(caller, a) {
		return nil, ErrUnauthorized
	}
	return s.appointments.GetView(ctx, id)
}
