package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of every repository the Service
// needs. The ledger keeps a slot index so that at most one non-cancelled
// appointment holds a (doctor, date, time) triple, matching the database's
// partial unique index. It backs the tests and `hms-server serve --memory`.
type MemoryStore struct {
	mu           sync.RWMutex
	txMu         sync.Mutex
	doctors      map[uuid.UUID]*DoctorRef
	patients     map[uuid.UUID]*PatientRef
	availability map[uuid.UUID]Availability
	appointments map[uuid.UUID]*Appointment
	slotBookings map[string]uuid.UUID // slot key -> appointment ID
	treatments   map[uuid.UUID][]*Treatment
	now          func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		doctors:      make(map[uuid.UUID]*DoctorRef),
		patients:     make(map[uuid.UUID]*PatientRef),
		availability: make(map[uuid.UUID]Availability),
		appointments: make(map[uuid.UUID]*Appointment),
		slotBookings: make(map[string]uuid.UUID),
		treatments:   make(map[uuid.UUID][]*Treatment),
		now:          time.Now,
	}
}

// AddDoctor registers a doctor. The store has no directory of its own, so
// callers seed participants up front.
func (m *MemoryStore) AddDoctor(d DoctorRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[d.ID] = &d
}

// AddPatient registers a patient.
func (m *MemoryStore) AddPatient(p PatientRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = &p
}

func (m *MemoryStore) SetDoctorActive(id uuid.UUID, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.doctors[id]; ok {
		d.Active = active
	}
}

func slotKey(doctorID uuid.UUID, date, label string) string {
	return doctorID.String() + "|" + date + "|" + label
}

// -- directories --

func (m *MemoryStore) GetDoctor(_ context.Context, id uuid.UUID) (*DoctorRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) GetPatient(_ context.Context, id uuid.UUID) (*PatientRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// -- transactions --

type memorySnapshot struct {
	availability map[uuid.UUID]Availability
	appointments map[uuid.UUID]*Appointment
	slotBookings map[string]uuid.UUID
	treatments   map[uuid.UUID][]*Treatment
}

type memoryTxKey struct{}

// WithTx serialises transactions and restores the pre-transaction state when
// fn fails. Writes outside a transaction wait for it to finish, so a rollback
// never discards them. Nested calls join the outer transaction.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memoryTxKey{}) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(context.WithValue(ctx, memoryTxKey{}, m)); err != nil {
		m.mu.Lock()
		m.availability = snap.availability
		m.appointments = snap.appointments
		m.slotBookings = snap.slotBookings
		m.treatments = snap.treatments
		m.mu.Unlock()
		return err
	}
	return nil
}

// writeLock is taken by every write. Inside WithTx the transaction already
// holds txMu.
func (m *MemoryStore) writeLock(ctx context.Context) func() {
	if ctx.Value(memoryTxKey{}) != nil {
		return func() {}
	}
	m.txMu.Lock()
	return m.txMu.Unlock
}

func (m *MemoryStore) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := memorySnapshot{
		availability: make(map[uuid.UUID]Availability, len(m.availability)),
		appointments: make(map[uuid.UUID]*Appointment, len(m.appointments)),
		slotBookings: make(map[string]uuid.UUID, len(m.slotBookings)),
		treatments:   make(map[uuid.UUID][]*Treatment, len(m.treatments)),
	}
	for id, a := range m.availability {
		s.availability[id] = copyAvailability(a)
	}
	for id, a := range m.appointments {
		cp := *a
		s.appointments[id] = &cp
	}
	for k, v := range m.slotBookings {
		s.slotBookings[k] = v
	}
	for id, ts := range m.treatments {
		s.treatments[id] = append([]*Treatment(nil), ts...)
	}
	return s
}

func copyAvailability(a Availability) Availability {
	out := make(Availability, len(a))
	for d, labels := range a {
		out[d] = append([]string(nil), labels...)
	}
	return out
}

// -- availability --

func (m *MemoryStore) Get(_ context.Context, doctorID uuid.UUID, date string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.availability[doctorID][date]...), nil
}

func (m *MemoryStore) GetRange(_ context.Context, doctorID uuid.UUID, from, to string) (Availability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyAvailability(m.availability[doctorID].Within(from, to)), nil
}

func (m *MemoryStore) Replace(ctx context.Context, doctorID uuid.UUID, a Availability) error {
	defer m.writeLock(ctx)()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.doctors[doctorID]; !ok {
		return ErrNotFound
	}
	m.availability[doctorID] = copyAvailability(a)
	return nil
}

func (m *MemoryStore) PruneBefore(ctx context.Context, date string) (int64, error) {
	defer m.writeLock(ctx)()
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for _, a := range m.availability {
		for d, labels := range a {
			if d < date {
				removed += int64(len(labels))
				delete(a, d)
			}
		}
	}
	return removed, nil
}

// -- appointments --

// Create is the in-memory counterpart of the conditional insert: the slot
// check and the write happen under one lock.
func (m *MemoryStore) Create(ctx context.Context, a *Appointment) error {
	defer m.writeLock(ctx)()
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.doctors[a.DoctorID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.patients[a.PatientID]; !ok {
		return ErrNotFound
	}

	key := slotKey(a.DoctorID, a.Date, a.Time)
	if a.Status != StatusCancelled {
		if _, taken := m.slotBookings[key]; taken {
			return ErrSlotTaken
		}
	}

	a.ID = uuid.New()
	a.CreatedAt = m.now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.appointments[a.ID] = &cp
	if a.Status != StatusCancelled {
		m.slotBookings[key] = a.ID
	}
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, status Status) error {
	defer m.writeLock(ctx)()
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != from {
		return ErrStatusConflict
	}
	key := slotKey(a.DoctorID, a.Date, a.Time)
	switch {
	case status == StatusCancelled:
		if m.slotBookings[key] == id {
			delete(m.slotBookings, key)
		}
	case a.Status == StatusCancelled:
		if _, taken := m.slotBookings[key]; taken {
			return ErrSlotTaken
		}
		m.slotBookings[key] = id
	}
	a.Status = status
	a.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) UpdateVisitType(ctx context.Context, id uuid.UUID, visitType string) error {
	defer m.writeLock(ctx)()
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return ErrNotFound
	}
	a.VisitType = visitType
	a.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) GetView(_ context.Context, id uuid.UUID) (*AppointmentView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.view(a), nil
}

func (m *MemoryStore) view(a *Appointment) *AppointmentView {
	v := &AppointmentView{
		ID:        a.ID,
		DoctorID:  a.DoctorID,
		PatientID: a.PatientID,
		Date:      a.Date,
		Time:      a.Time,
		Status:    a.Status,
		VisitType: a.VisitType,
	}
	if d, ok := m.doctors[a.DoctorID]; ok {
		v.DoctorName = d.Name
	}
	if p, ok := m.patients[a.PatientID]; ok {
		v.PatientName = p.Name
	}
	return v
}

func (m *MemoryStore) List(_ context.Context, f AppointmentFilter, limit, offset int) ([]*AppointmentView, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Appointment
	for _, a := range m.appointments {
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.From != "" && a.Date < f.From {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		matched = append(matched, a)
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.Date != b.Date {
			return (a.Date < b.Date) == f.Ascending
		}
		if a.Time != b.Time {
			return (a.Time < b.Time) == f.Ascending
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	total := len(matched)
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	views := make([]*AppointmentView, 0, end-offset)
	for _, a := range matched[offset:end] {
		views = append(views, m.view(a))
	}
	return views, total, nil
}

// -- treatments --

type memoryTreatments struct{ *MemoryStore }

// Treatments exposes the store as a TreatmentRepository.
func (m *MemoryStore) Treatments() TreatmentRepository { return memoryTreatments{m} }

func (t memoryTreatments) Create(ctx context.Context, tr *Treatment) error {
	defer t.writeLock(ctx)()
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.appointments[tr.AppointmentID]; !ok {
		return ErrNotFound
	}
	tr.ID = uuid.New()
	tr.CreatedAt = t.now()
	if tr.TestsDone == nil {
		tr.TestsDone = []string{}
	}
	if tr.Medicines == nil {
		tr.Medicines = []string{}
	}
	cp := *tr
	t.treatments[tr.AppointmentID] = append(t.treatments[tr.AppointmentID], &cp)
	return nil
}

func (t memoryTreatments) ListByAppointment(_ context.Context, appointmentID uuid.UUID) ([]*Treatment, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Treatment, 0, len(t.treatments[appointmentID]))
	for _, tr := range t.treatments[appointmentID] {
		cp := *tr
		out = append(out, &cp)
	}
	return out, nil
}
