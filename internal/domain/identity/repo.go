package identity

import (
	"context"

	"github.com/google/uuid"
)

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Doctor, int, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}

type DepartmentRepository interface {
	List(ctx context.Context) ([]*Department, error)
	GetByName(ctx context.Context, name string) (*Department, error)
}
