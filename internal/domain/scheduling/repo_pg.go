package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

// slotIndex is the partial unique index that arbitrates concurrent bookings.
const slotIndex = "uix_appointment_slot"

func pgDate(s string) (time.Time, error) {
	t, err := ParseDate(s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// -- Availability Repository --

type availabilityRepoPG struct {
	pool *pgxpool.Pool
}

func NewAvailabilityRepo(pool *pgxpool.Pool) AvailabilityRepository {
	return &availabilityRepoPG{pool: pool}
}

func (r *availabilityRepoPG) Get(ctx context.Context, doctorID uuid.UUID, date string) ([]string, error) {
	d, err := pgDate(date)
	if err != nil {
		return nil, err
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT time_label FROM doctor_availability
		WHERE doctor_id = $1 AND slot_date = $2
		ORDER BY position`, doctorID, d)
	if err != nil {
		return nil, fmt.Errorf("availability get: %w", err)
	}
	labels, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("availability get: %w", err)
	}
	return labels, nil
}

func (r *availabilityRepoPG) GetRange(ctx context.Context, doctorID uuid.UUID, from, to string) (Availability, error) {
	fromDate, err := pgDate(from)
	if err != nil {
		return nil, err
	}
	toDate, err := pgDate(to)
	if err != nil {
		return nil, err
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT to_char(slot_date, 'YYYY-MM-DD'), time_label FROM doctor_availability
		WHERE doctor_id = $1 AND slot_date >= $2 AND slot_date < $3
		ORDER BY slot_date, position`, doctorID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("availability range: %w", err)
	}
	defer rows.Close()

	out := make(Availability)
	for rows.Next() {
		var date, label string
		if err := rows.Scan(&date, &label); err != nil {
			return nil, fmt.Errorf("availability range: %w", err)
		}
		out[date] = append(out[date], label)
	}
	return out, rows.Err()
}

// Replace must run inside a transaction so that readers never observe the
// doctor's mapping half-deleted.
func (r *availabilityRepoPG) Replace(ctx context.Context, doctorID uuid.UUID, a Availability) error {
	conn := db.Conn(ctx, r.pool)
	if _, err := conn.Exec(ctx, `DELETE FROM doctor_availability WHERE doctor_id = $1`, doctorID); err != nil {
		return fmt.Errorf("availability clear: %w", err)
	}

	var dates, labels []string
	var positions []int32
	for _, d := range a.Dates() {
		for i, l := range a[d] {
			dates = append(dates, d)
			positions = append(positions, int32(i))
			labels = append(labels, l)
		}
	}
	if len(dates) == 0 {
		return nil
	}

	_, err := conn.Exec(ctx, `
		INSERT INTO doctor_availability (doctor_id, slot_date, position, time_label)
		SELECT $1, t.d::date, t.p, t.l
		FROM unnest($2::text[], $3::int[], $4::text[]) AS t(d, p, l)`,
		doctorID, dates, positions, labels)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("availability insert: %w", err)
	}
	return nil
}

func (r *availabilityRepoPG) PruneBefore(ctx context.Context, date string) (int64, error) {
	d, err := pgDate(date)
	if err != nil {
		return 0, err
	}
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM doctor_availability WHERE slot_date < $1`, d)
	if err != nil {
		return 0, fmt.Errorf("availability prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

// -- Appointment Repository --

type appointmentRepoPG struct {
	pool *pgxpool.Pool
}

func NewAppointmentRepo(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const apptCols = `id, patient_id, doctor_id, to_char(appt_date, 'YYYY-MM-DD'), time_label,
	status, visit_type, notes, created_at, updated_at`

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	d, err := pgDate(a.Date)
	if err != nil {
		return err
	}
	a.ID = uuid.New()

	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, appt_date, time_label, status, visit_type, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, d, a.Time, string(a.Status), a.VisitType, a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, slotIndex):
		return ErrSlotTaken
	case db.IsForeignKeyViolation(err):
		return ErrNotFound
	}
	return fmt.Errorf("appointment create: %w", err)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("appointment get: %w", err)
	}
	return a, nil
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	conn := db.Conn(ctx, r.pool)
	tag, err := conn.Exec(ctx,
		`UPDATE appointment SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		if db.IsUniqueViolation(err, slotIndex) {
			return ErrSlotTaken
		}
		return fmt.Errorf("appointment status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM appointment WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("appointment status: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStatusConflict
}

func (r *appointmentRepoPG) UpdateVisitType(ctx context.Context, id uuid.UUID, visitType string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE appointment SET visit_type = $2, updated_at = NOW() WHERE id = $1`, id, visitType)
	if err != nil {
		return fmt.Errorf("appointment visit type: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const viewSelect = `SELECT a.id, a.doctor_id, a.patient_id, d.full_name, p.full_name,
	to_char(a.appt_date, 'YYYY-MM-DD'), a.time_label, a.status, a.visit_type
	FROM appointment a
	JOIN doctor d ON d.id = a.doctor_id
	JOIN patient p ON p.id = a.patient_id`

const viewFilter = ` WHERE ($1::uuid IS NULL OR a.doctor_id = $1)
	AND ($2::uuid IS NULL OR a.patient_id = $2)
	AND ($3::date IS NULL OR a.appt_date >= $3)
	AND ($4 = '' OR a.status = $4)`

func (r *appointmentRepoPG) GetView(ctx context.Context, id uuid.UUID) (*AppointmentView, error) {
	v, err := scanView(db.Conn(ctx, r.pool).QueryRow(ctx, viewSelect+` WHERE a.id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("appointment view: %w", err)
	}
	return v, nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*AppointmentView, int, error) {
	var from *time.Time
	if f.From != "" {
		d, err := pgDate(f.From)
		if err != nil {
			return nil, 0, err
		}
		from = &d
	}
	args := []any{f.DoctorID, f.PatientID, from, string(f.Status)}
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM appointment a`+viewFilter, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("appointment count: %w", err)
	}

	order := " ORDER BY a.appt_date DESC, a.time_label DESC"
	if f.Ascending {
		order = " ORDER BY a.appt_date, a.time_label"
	}
	rows, err := conn.Query(ctx, viewSelect+viewFilter+order+` LIMIT $5 OFFSET $6`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("appointment list: %w", err)
	}
	defer rows.Close()

	var views []*AppointmentView
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("appointment list: %w", err)
		}
		views = append(views, v)
	}
	return views, total, rows.Err()
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	if err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.Date, &a.Time,
		&status, &a.VisitType, &a.Notes, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = Status(status)
	return &a, nil
}

func scanView(row pgx.Row) (*AppointmentView, error) {
	var v AppointmentView
	var status string
	if err := row.Scan(&v.ID, &v.DoctorID, &v.PatientID, &v.DoctorName, &v.PatientName,
		&v.Date, &v.Time, &status, &v.VisitType); err != nil {
		return nil, err
	}
	v.Status = Status(status)
	return &v, nil
}

// -- Treatment Repository --

type treatmentRepoPG struct {
	pool *pgxpool.Pool
}

func NewTreatmentRepo(pool *pgxpool.Pool) TreatmentRepository {
	return &treatmentRepoPG{pool: pool}
}

func (r *treatmentRepoPG) Create(ctx context.Context, t *Treatment) error {
	t.ID = uuid.New()
	if t.TestsDone == nil {
		t.TestsDone = []string{}
	}
	if t.Medicines == nil {
		t.Medicines = []string{}
	}

	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO treatment (id, appointment_id, diagnosis, prescription, visit_type, tests_done, medicines)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		t.ID, t.AppointmentID, t.Diagnosis, t.Prescription, t.VisitType, t.TestsDone, t.Medicines,
	).Scan(&t.CreatedAt)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("treatment create: %w", err)
	}
	return nil
}

func (r *treatmentRepoPG) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Treatment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, appointment_id, diagnosis, prescription, visit_type, tests_done, medicines, created_at
		FROM treatment WHERE appointment_id = $1
		ORDER BY created_at, id`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("treatment list: %w", err)
	}
	defer rows.Close()

	var out []*Treatment
	for rows.Next() {
		var t Treatment
		if err := rows.Scan(&t.ID, &t.AppointmentID, &t.Diagnosis, &t.Prescription,
			&t.VisitType, &t.TestsDone, &t.Medicines, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("treatment list: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
