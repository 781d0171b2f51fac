package main

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/domain/scheduling"
)

type doctorLookup interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*identity.Doctor, error)
}

type patientLookup interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
}

// doctorDirectory adapts the identity service to scheduling.DoctorDirectory,
// keeping the scheduling package free of identity types.
type doctorDirectory struct {
	svc doctorLookup
}

func (d doctorDirectory) GetDoctor(ctx context.Context, id uuid.UUID) (*scheduling.DoctorRef, error) {
	doc, err := d.svc.GetDoctor(ctx, id)
	if err != nil {
		return nil, translateIdentityErr(err)
	}
	return &scheduling.DoctorRef{ID: doc.ID, Name: doc.FullName, Active: doc.Active}, nil
}

type patientDirectory struct {
	svc patientLookup
}

func (p patientDirectory) GetPatient(ctx context.Context, id uuid.UUID) (*scheduling.PatientRef, error) {
	pat, err := p.svc.GetPatient(ctx, id)
	if err != nil {
		return nil, translateIdentityErr(err)
	}
	return &scheduling.PatientRef{ID: pat.ID, Name: pat.FullName}, nil
}

func translateIdentityErr(err error) error {
	if errors.Is(err, identity.ErrNotFound) {
		return scheduling.ErrNotFound
	}
	return err
}
