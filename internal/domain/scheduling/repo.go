package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// AvailabilityRepository stores each doctor's declared slots. Dates are
// DateLayout strings.
type AvailabilityRepository interface {
	Get(ctx context.Context, doctorID uuid.UUID, date string) ([]string, error)
	// GetRange returns entries with from <= date < to.
	GetRange(ctx context.Context, doctorID uuid.UUID, from, to string) (Availability, error)
	// Replace discards the doctor's whole mapping and stores a in its place.
	Replace(ctx context.Context, doctorID uuid.UUID, a Availability) error
	PruneBefore(ctx context.Context, date string) (int64, error)
}

// AppointmentRepository is the ledger. Create and UpdateStatus must fail with
// ErrSlotTaken when another non-cancelled appointment holds the same
// (doctor, date, time). UpdateStatus only writes when the stored status is
// still from and returns ErrStatusConflict otherwise.
type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetView(ctx context.Context, id uuid.UUID) (*AppointmentView, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error
	UpdateVisitType(ctx context.Context, id uuid.UUID, visitType string) error
	List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*AppointmentView, int, error)
}

type TreatmentRepository interface {
	Create(ctx context.Context, t *Treatment) error
	// ListByAppointment returns records in creation order.
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Treatment, error)
}

// DoctorDirectory and PatientDirectory resolve participants. Both return
// ErrNotFound for unknown ids.
type DoctorDirectory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*DoctorRef, error)
}

type PatientDirectory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*PatientRef, error)
}

// TxManager runs fn in one transaction; an error from fn rolls back every
// write made through ctx.
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
