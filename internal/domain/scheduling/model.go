package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout is the only accepted calendar date format.
const DateLayout = "2006-01-02"

const DefaultVisitType = "Regular Checkup"

type Status string

const (
	StatusBooked    Status = "Booked"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

var validStatuses = map[Status]bool{
	StatusBooked: true, StatusCompleted: true, StatusCancelled: true,
}

func (s Status) Valid() bool { return validStatuses[s] }

// Terminal reports whether s ends the appointment lifecycle when strict
// transitions are enabled.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Appointment maps to the appointment table. Date is always DateLayout.
type Appointment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID  uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Date      string    `db:"appt_date" json:"date"`
	Time      string    `db:"time_label" json:"time"`
	Status    Status    `db:"status" json:"status"`
	VisitType string    `db:"visit_type" json:"visit_type"`
	Notes     *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// AppointmentView is the external representation of an appointment, with
// participant names resolved.
type AppointmentView struct {
	ID          uuid.UUID `json:"id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	DoctorName  string    `json:"doctor_name"`
	PatientName string    `json:"patient_name"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	Status      Status    `json:"status"`
	VisitType   string    `json:"visit_type"`
}

// Treatment maps to the treatment table. Records are append-only.
type Treatment struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointment_id"`
	Diagnosis     string    `db:"diagnosis" json:"diagnosis"`
	Prescription  string    `db:"prescription" json:"prescription"`
	VisitType     *string   `db:"visit_type" json:"visit_type,omitempty"`
	TestsDone     []string  `db:"tests_done" json:"tests_done"`
	Medicines     []string  `db:"medicines" json:"medicines"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// TreatmentInput is what a doctor submits after a visit. Complete moves the
// appointment to Completed in the same transaction.
type TreatmentInput struct {
	Diagnosis    string   `json:"diagnosis"`
	Prescription string   `json:"prescription"`
	VisitType    string   `json:"visit_type"`
	TestsDone    []string `json:"tests_done"`
	Medicines    []string `json:"medicines"`
	Complete     bool     `json:"complete"`
}

type BookingRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	VisitType string    `json:"visit_type"`
	Notes     string    `json:"notes"`
}

// AppointmentFilter narrows ListAppointments. Zero values mean no filter.
type AppointmentFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	From      string // inclusive, DateLayout
	Status    Status
	Ascending bool
}

// DoctorRef is the slice of a doctor profile the workflow needs.
type DoctorRef struct {
	ID     uuid.UUID
	Name   string
	Active bool
}

type PatientRef struct {
	ID   uuid.UUID
	Name string
}
