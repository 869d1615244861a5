package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"pebblescribe/internal/audio"
	"pebblescribe/internal/domain"
	"pebblescribe/internal/metrics"
	"pebblescribe/internal/ports"
)

// transcriptionWorker runs at most one incremental transcription at a time.
// Windows offered while a job is in flight are dropped, never queued.
type transcriptionWorker struct {
	ctx         context.Context
	transcriber ports.Transcriber
	events      ports.EventSink
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	log         *transcriptLog
	gain        float32
	sampleRate  int
	timeout     time.Duration

	sem     chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64
}

func newTranscriptionWorker(
	ctx context.Context,
	transcriber ports.Transcriber,
	log *transcriptLog,
	events ports.EventSink,
	m *metrics.Metrics,
	logger zerolog.Logger,
	cfg Config,
) *transcriptionWorker {
	return &transcriptionWorker{
		ctx:         ctx,
		transcriber: transcriber,
		events:      events,
		metrics:     m,
		logger:      logger,
		log:         log,
		gain:        cfg.Gain,
		sampleRate:  cfg.SampleRate,
		timeout:     cfg.TranscribeTimeout,
		sem:         make(chan struct{}, 1),
	}
}

// TrySubmit starts a job for window if none is running. It never blocks.
func (w *transcriptionWorker) TrySubmit(window domain.Window) bool {
	select {
	case w.sem <- struct{}{}:
	default:
		n := w.dropped.Add(1)
		w.metrics.RecordWindowDropped()
		w.logger.Warn().
			Int("seq", window.Seq).
			Int("offset", window.Offset).
			Int64("dropped", n).
			Msg("transcription busy, window dropped")
		w.events.SessionError(domain.ErrorCodeWindowDropped, fmt.Sprintf("window %d dropped: transcription still running", window.Seq))
		return false
	}

	w.metrics.RecordWindowSubmitted()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.run(window)
	}()
	return true
}

// Wait blocks until the in-flight job, if any, has finished.
func (w *transcriptionWorker) Wait() {
	w.wg.Wait()
}

// Dropped returns how many windows were rejected while busy.
func (w *transcriptionWorker) Dropped() int64 {
	return w.dropped.Load()
}

func (w *transcriptionWorker) run(window domain.Window) {
	amplified := audio.Amplify(window.PCM, w.gain)

	ctx := w.ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	started := time.Now()
	text, err := w.transcriber.Transcribe(ctx, amplified, w.sampleRate)
	w.metrics.RecordTranscription(metrics.PassRealtime, time.Since(started), err)
	if err != nil {
		w.logger.Error().Err(err).Int("seq", window.Seq).Msg("realtime transcription failed")
		w.events.SessionError(domain.ErrorCodeTranscription, fmt.Sprintf("window %d: %v", window.Seq, err))
		return
	}

	segment, ok := w.log.Append(window.Seq, text)
	if !ok {
		w.logger.Debug().Int("seq", window.Seq).Msg("window produced no text")
		return
	}
	w.logger.Info().Int("seq", segment.Seq).Str("text", segment.Text).Msg("realtime segment")
	w.events.PartialTranscript(segment)
}
