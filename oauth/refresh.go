package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron"
)

// DefaultRefreshSchedule runs once a day at midnight.
const DefaultRefreshSchedule = "0 0 * * *"

// RunRefresher calls m.Token on every tick of the standard five-field cron
// schedule until ctx is done. It returns nil on cancellation and the
// *FatalError if the credential is lost.
func RunRefresher(ctx context.Context, m *Manager, schedule string) error {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return fmt.Errorf("parse refresh schedule %q: %w", schedule, err)
	}
	log := m.log.With(slog.String("schedule", schedule))
	for {
		now := m.clock.Now()
		next := sched.Next(now)
		log.Debug("next credential check", slog.Time("at", next))
		select {
		case <-ctx.Done():
			return nil
		case <-m.clock.After(next.Sub(now)):
		}

		if _, err := m.Token(ctx); err != nil {
			var fe *FatalError
			if errors.As(err, &fe) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("scheduled credential check failed", slog.Any("err", err))
		}
	}
}
