package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	doctors     DoctorRepository
	patients    PatientRepository
	departments DepartmentRepository
}

func NewService(doctors DoctorRepository, patients PatientRepository, departments DepartmentRepository) *Service {
	return &Service{doctors: doctors, patients: patients, departments: departments}
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalid, field)
	}
	return nil
}

// -- Doctor --

// CreateDoctor registers a doctor. New doctors are active.
func (s *Service) CreateDoctor(ctx context.Context, d *Doctor) error {
	d.FullName = strings.TrimSpace(d.FullName)
	d.Username = strings.TrimSpace(d.Username)
	d.Specialization = strings.TrimSpace(d.Specialization)
	if err := required("full_name", d.FullName); err != nil {
		return err
	}
	if err := required("username", d.Username); err != nil {
		return err
	}
	d.Active = true
	return s.doctors.Create(ctx, d)
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) ListDoctors(ctx context.Context, activeOnly bool, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.List(ctx, activeOnly, limit, offset)
}

// SetDoctorActive toggles whether a doctor accepts bookings. Existing
// appointments are left alone.
func (s *Service) SetDoctorActive(ctx context.Context, id uuid.UUID, active bool) (*Doctor, error) {
	if err := s.doctors.SetActive(ctx, id, active); err != nil {
		return nil, err
	}
	return s.doctors.GetByID(ctx, id)
}

// -- Patient --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	p.FullName = strings.TrimSpace(p.FullName)
	p.Username = strings.TrimSpace(p.Username)
	if err := required("full_name", p.FullName); err != nil {
		return err
	}
	if err := required("username", p.Username); err != nil {
		return err
	}
	if p.Age != nil && (*p.Age < 0 || *p.Age > 150) {
		return fmt.Errorf("%w: age must be between 0 and 150", ErrInvalid)
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

// -- Department --

func (s *Service) ListDepartments(ctx context.Context) ([]*Department, error) {
	return s.departments.List(ctx)
}

func (s *Service) GetDepartmentByName(ctx context.Context, name string) (*Department, error) {
	return s.departments.GetByName(ctx, name)
}
