package usecase

import (
	"context"
	"strconv"
	"strings"
	"time"

	"pebblescribe/internal/domain"
)

// DefaultSlackFactor stretches a timed recording so the tail of the
// requested duration still arrives over the link before STOP.
const DefaultSlackFactor = 1.25

// ParseRecordDuration reads a whole or fractional number of seconds. Blank,
// non-numeric or non-positive input yields def.
func ParseRecordDuration(input string, def time.Duration) time.Duration {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
	if err != nil || seconds <= 0 {
		return def
	}
	return time.Duration(seconds * float64(time.Second))
}

// RecordFor starts a session, waits duration×slack and stops it. If ctx is
// cancelled while waiting the session is still stopped and finalized.
func (c *SessionController) RecordFor(ctx context.Context, duration time.Duration, slack float64) (domain.StopResult, error) {
	if slack < 1 {
		slack = DefaultSlackFactor
	}
	if err := c.Start(ctx); err != nil {
		return domain.StopResult{}, err
	}

	wait := time.Duration(float64(duration) * slack)
	c.logger.Info().Dur("duration", duration).Dur("wait", wait).Msg("timed recording")

	timer := time.NewTimer(wait)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}
	return c.Stop(context.WithoutCancel(ctx))
}
