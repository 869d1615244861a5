package usecase

import (
	"context"
	"time"

	"pebblescribe/internal/audio"
	"pebblescribe/internal/domain"
)

// activeSession is the state owned by one recording. The windower is
// guarded by SessionController.mu; the log and worker synchronize
// themselves.
type activeSession struct {
	id        string
	startedAt time.Time
	names     domain.ArtifactNames
	cancel    context.CancelFunc

	windower *audio.Windower
	log      *transcriptLog
	worker   *transcriptionWorker
	progress progressThrottle
}

// progressThrottle decides when a progress event is due: after every
// `every` new bytes or after `interval`, whichever comes first.
type progressThrottle struct {
	every    int
	interval time.Duration

	lastBytes int
	lastAt    time.Time
}

func newProgressThrottle(every int, interval time.Duration, now time.Time) progressThrottle {
	return progressThrottle{every: every, interval: interval, lastAt: now}
}

func (p *progressThrottle) due(total int, now time.Time) bool {
	byBytes := p.every > 0 && total-p.lastBytes >= p.every
	byTime := p.interval > 0 && now.Sub(p.lastAt) >= p.interval
	if !byBytes && !byTime {
		return false
	}
	p.lastBytes = total
	p.lastAt = now
	return true
}
