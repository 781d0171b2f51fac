package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// AvailabilityPruner deletes declared slots for dates before a day.
type AvailabilityPruner interface {
	PruneAvailability(ctx context.Context, before time.Time) (int64, error)
}

// PruneAvailability returns the job that removes availability for past dates.
func PruneAvailability(spec string, p AvailabilityPruner, now func() time.Time, logger zerolog.Logger) Job {
	return Job{
		Name: "availability-prune",
		Spec: spec,
		Run: func(ctx context.Context) error {
			removed, err := p.PruneAvailability(ctx, now())
			if err != nil {
				return err
			}
			logger.Info().Int64("removed", removed).Msg("past availability pruned")
			return nil
		},
	}
}
