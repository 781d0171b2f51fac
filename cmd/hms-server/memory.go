package main

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/telemetry"
)

// memoryPinger reports the in-memory store as always reachable. It has no
// pool, so /health/db carries no pool stats.
type memoryPinger struct{}

func (memoryPinger) Ping(context.Context) error { return nil }
func (memoryPinger) Stats() *db.PoolStats      { return nil }

// memoryDemo is the doctor and patient the in-memory store starts with.
type memoryDemo struct {
	doctor  uuid.UUID
	patient uuid.UUID
}

func newMemoryDemo() memoryDemo {
	return memoryDemo{doctor: uuid.New(), patient: uuid.New()}
}

// newMemoryBackend serves scheduling from a MemoryStore. Doctors and patients
// cannot be managed without the database, so only the scheduling routes are
// mounted and the store is seeded with demo.
func newMemoryBackend(cfg *config.Config, logger zerolog.Logger, metrics *telemetry.Metrics, demo memoryDemo) *backend {
	store := scheduling.NewMemoryStore()
	store.AddDoctor(scheduling.DoctorRef{ID: demo.doctor, Name: "Dr. Demo", Active: true})
	store.AddPatient(scheduling.PatientRef{ID: demo.patient, Name: "Demo Patient"})

	svc := scheduling.NewService(store, store, store.Treatments(), store, store, store,
		schedulingOptions(cfg, logger, metrics)...)

	return &backend{
		pinger:     memoryPinger{},
		scheduling: svc,
		handlers:   []routeRegistrar{scheduling.NewHandler(svc)},
		close:      func() {},
	}
}
