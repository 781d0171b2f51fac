//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/platform/db"
)

// globalPool is shared by every test and initialised once in TestMain.
var globalPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr, cleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, connStr, 20, 2)
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	if _, err := db.NewMigrator(pool, db.Migrations()).Up(ctx); err != nil {
		pool.Close()
		cleanup()
		fmt.Fprintf(os.Stderr, "failed to migrate: %v\n", err)
		os.Exit(1)
	}

	globalPool = pool
	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

type env struct {
	identity *identity.Service
	svc      *scheduling.Service
	doctor   *identity.Doctor
	patient  *identity.Patient
}

type doctorDir struct{ svc *identity.Service }

func (d doctorDir) GetDoctor(ctx context.Context, id uuid.UUID) (*scheduling.DoctorRef, error) {
	doc, err := d.svc.GetDoctor(ctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, scheduling.ErrNotFound
		}
		return nil, err
	}
	return &scheduling.DoctorRef{ID: doc.ID, Name: doc.FullName, Active: doc.Active}, nil
}

type patientDir struct{ svc *identity.Service }

func (p patientDir) GetPatient(ctx context.Context, id uuid.UUID) (*scheduling.PatientRef, error) {
	pat, err := p.svc.GetPatient(ctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, scheduling.ErrNotFound
		}
		return nil, err
	}
	return &scheduling.PatientRef{ID: pat.ID, Name: pat.FullName}, nil
}

// newEnv creates a fresh doctor and patient with unique usernames so tests do
// not interfere with each other.
func newEnv(t *testing.T, opts ...scheduling.Option) *env {
	t.Helper()
	ctx := context.Background()
	suffix := uuid.New().String()[:8]

	idSvc := identity.NewService(
		identity.NewDoctorRepo(globalPool),
		identity.NewPatientRepo(globalPool),
		identity.NewDepartmentRepo(globalPool),
	)
	doctor := &identity.Doctor{FullName: "Dr. Test " + suffix, Username: "doc_" + suffix}
	if err := idSvc.CreateDoctor(ctx, doctor); err != nil {
		t.Fatalf("create doctor: %v", err)
	}
	patient := &identity.Patient{FullName: "Patient " + suffix, Username: "pat_" + suffix}
	if err := idSvc.CreatePatient(ctx, patient); err != nil {
		t.Fatalf("create patient: %v", err)
	}

	svc := scheduling.NewService(
		scheduling.NewAvailabilityRepo(globalPool),
		scheduling.NewAppointmentRepo(globalPool),
		scheduling.NewTreatmentRepo(globalPool),
		doctorDir{idSvc},
		patientDir{idSvc},
		db.NewTxManager(globalPool),
		opts...,
	)
	return &env{identity: idSvc, svc: svc, doctor: doctor, patient: patient}
}
