package identity

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// -- Mock Repositories --

type mockDoctorRepo struct {
	mu      sync.Mutex
	doctors map[uuid.UUID]*Doctor
}

func newMockDoctorRepo() *mockDoctorRepo {
	return &mockDoctorRepo{doctors: make(map[uuid.UUID]*Doctor)}
}

func (m *mockDoctorRepo) Create(_ context.Context, d *Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.doctors {
		if existing.Username == d.Username {
			return ErrDuplicate
		}
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	cp := *d
	m.doctors[d.ID] = &cp
	return nil
}

func (m *mockDoctorRepo) GetByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *mockDoctorRepo) List(_ context.Context, activeOnly bool, limit, offset int) ([]*Doctor, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Doctor
	for _, d := range m.doctors {
		if activeOnly && !d.Active {
			continue
		}
		cp := *d
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].FullName < result[j].FullName })
	return page(result, limit, offset), len(result), nil
}

func (m *mockDoctorRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return ErrNotFound
	}
	d.Active = active
	return nil
}

type mockPatientRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*Patient
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.patients {
		if existing.Username == p.Username {
			return ErrDuplicate
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPatientRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Patient
	for _, p := range m.patients {
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].FullName < result[j].FullName })
	return page(result, limit, offset), len(result), nil
}

type mockDepartmentRepo struct {
	departments []*Department
}

func newMockDepartmentRepo(names ...string) *mockDepartmentRepo {
	m := &mockDepartmentRepo{}
	for _, n := range names {
		m.departments = append(m.departments, &Department{ID: uuid.New(), Name: n})
	}
	return m
}

func (m *mockDepartmentRepo) List(_ context.Context) ([]*Department, error) {
	return m.departments, nil
}

func (m *mockDepartmentRepo) GetByName(_ context.Context, name string) (*Department, error) {
	for _, d := range m.departments {
		if strings.EqualFold(d.Name, name) {
			return d, nil
		}
	}
	return nil, ErrNotFound
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func newTestService() *Service {
	return NewService(newMockDoctorRepo(), newMockPatientRepo(), newMockDepartmentRepo("Cardiology", "ENT"))
}

// -- Doctor Tests --

func TestService_CreateDoctor(t *testing.T) {
	svc := newTestService()
	d := &Doctor{FullName: "  Dr. Asha Rao ", Username: "arao", Specialization: " Cardiology "}
	if err := svc.CreateDoctor(context.Background(), d); err != nil {
		t.Fatalf("CreateDoctor: %v", err)
	}
	if d.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if !d.Active {
		t.Error("expected new doctor to be active")
	}
	if d.FullName != "Dr. Asha Rao" || d.Specialization != "Cardiology" {
		t.Errorf("expected trimmed fields, got %q / %q", d.FullName, d.Specialization)
	}
}

func TestService_CreateDoctor_Validation(t *testing.T) {
	svc := newTestService()
	for _, d := range []*Doctor{
		{Username: "nobody"},
		{FullName: "Dr. Who", Username: "  "},
	} {
		if err := svc.CreateDoctor(context.Background(), d); !errors.Is(err, ErrInvalid) {
			t.Errorf("expected ErrInvalid for %+v, got %v", d, err)
		}
	}
}

func TestService_CreateDoctor_DuplicateUsername(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if err := svc.CreateDoctor(ctx, &Doctor{FullName: "A", Username: "dup"}); err != nil {
		t.Fatalf("CreateDoctor: %v", err)
	}
	if err := svc.CreateDoctor(ctx, &Doctor{FullName: "B", Username: "dup"}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestService_SetDoctorActive(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	d := &Doctor{FullName: "Dr. Lin", Username: "lin"}
	if err := svc.CreateDoctor(ctx, d); err != nil {
		t.Fatalf("CreateDoctor: %v", err)
	}

	got, err := svc.SetDoctorActive(ctx, d.ID, false)
	if err != nil {
		t.Fatalf("SetDoctorActive: %v", err)
	}
	if got.Active {
		t.Error("expected doctor to be inactive")
	}

	active, total, err := svc.ListDoctors(ctx, true, 10, 0)
	if err != nil {
		t.Fatalf("ListDoctors: %v", err)
	}
	if total != 0 || len(active) != 0 {
		t.Errorf("expected no active doctors, got %d", total)
	}

	if _, err := svc.SetDoctorActive(ctx, uuid.New(), true); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// -- Patient Tests --

func TestService_CreatePatient(t *testing.T) {
	svc := newTestService()
	age := 34
	p := &Patient{FullName: "Ravi Kumar", Username: "ravi", Age: &age}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}

	got, err := svc.GetPatient(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetPatient: %v", err)
	}
	if got.FullName != "Ravi Kumar" || *got.Age != 34 {
		t.Errorf("unexpected patient %+v", got)
	}
}

func TestService_CreatePatient_Validation(t *testing.T) {
	svc := newTestService()
	bad := -1
	for _, p := range []*Patient{
		{Username: "x"},
		{FullName: "X"},
		{FullName: "X", Username: "x", Age: &bad},
	} {
		if err := svc.CreatePatient(context.Background(), p); !errors.Is(err, ErrInvalid) {
			t.Errorf("expected ErrInvalid for %+v, got %v", p, err)
		}
	}
}

func TestService_GetPatient_NotFound(t *testing.T) {
	svc := newTestService()
	if _, err := svc.GetPatient(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_Departments(t *testing.T) {
	svc := newTestService()
	depts, err := svc.ListDepartments(context.Background())
	if err != nil {
		t.Fatalf("ListDepartments: %v", err)
	}
	if len(depts) != 2 {
		t.Errorf("expected 2 departments, got %d", len(depts))
	}
	if _, err := svc.GetDepartmentByName(context.Background(), "ent"); err != nil {
		t.Errorf("expected case-insensitive lookup to succeed: %v", err)
	}
}
