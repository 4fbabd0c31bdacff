package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	defaultSchedule = "0 15 * * * *"
	defaultGrace    = 7 * 24 * time.Hour
	sweepTimeout    = time.Minute
)

// Sweeper deletes token rows that expired before the cutoff.
type Sweeper interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Scheduler periodically removes expired refresh and reset tokens. Rows are
// kept for a grace period after expiry so reuse of a rotated token can still
// be recognised.
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	grace    time.Duration
	sweepers map[string]Sweeper
	log      zerolog.Logger
	now      func() time.Time
}

func NewScheduler(schedule string, grace time.Duration, sweepers map[string]Sweeper, log zerolog.Logger) *Scheduler {
	if schedule == "" {
		schedule = defaultSchedule
	}
	if grace <= 0 {
		grace = defaultGrace
	}
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		schedule: schedule,
		grace:    grace,
		sweepers: sweepers,
		log:      log.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
	}
}

func (s *Scheduler) Start() error {
	if len(s.sweepers) == 0 {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stop timed out with a sweep in flight")
	}
}

// Sweep runs every sweeper once and returns the number of rows removed.
func (s *Scheduler) Sweep(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	cutoff := s.now().Add(-s.grace)
	var total int64
	for name, sweeper := range s.sweepers {
		n, err := sweeper.DeleteExpired(ctx, cutoff)
		if err != nil {
			s.log.Error().Err(err).Str("table", name).Msg("sweep expired tokens failed")
			continue
		}
		total += n
		if n > 0 {
			s.log.Info().Str("table", name).Int64("deleted", n).Msg("expired tokens swept")
		}
	}
	return total
}
