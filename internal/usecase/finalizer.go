package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"pebblescribe/internal/audio"
	"pebblescribe/internal/domain"
	"pebblescribe/internal/metrics"
	"pebblescribe/internal/ports"
)

// artifactFinalizer turns a stopped recording into its output files.
type artifactFinalizer struct {
	store       ports.ArtifactStore
	transcriber ports.Transcriber
	events      ports.EventSink
	metrics     *metrics.Metrics
	gain        float32
	sampleRate  int
	timeout     time.Duration
}

func newArtifactFinalizer(
	store ports.ArtifactStore,
	transcriber ports.Transcriber,
	events ports.EventSink,
	m *metrics.Metrics,
	cfg Config,
) artifactFinalizer {
	return artifactFinalizer{
		store:       store,
		transcriber: transcriber,
		events:      events,
		metrics:     m,
		gain:        cfg.Gain,
		sampleRate:  cfg.SampleRate,
		timeout:     cfg.FinalTimeout,
	}
}

// Finalize writes raw audio, amplified audio, the final transcript and the
// realtime transcript, in that order. Only an empty recording or a failed
// raw write stops the sequence; every other failure is recorded in the
// result and the remaining steps still run.
func (f artifactFinalizer) Finalize(
	ctx context.Context,
	session *activeSession,
	raw []byte,
	logger zerolog.Logger,
) (domain.StopResult, domain.SessionStateReason, error) {
	result := domain.StopResult{
		SessionID:          session.id,
		BytesRecorded:      len(raw),
		RealtimeTranscript: session.log.Text(),
		Segments:           session.log.Segments(),
		Artifacts:          make(map[domain.ArtifactKind]string),
		Failures:           make(map[domain.ArtifactKind]string),
	}

	if len(raw) < audio.BytesPerSample {
		logger.Warn().Int("bytes", len(raw)).Msg("no audio data to save")
		return result, domain.SessionReasonNoAudio, domain.Wrap(domain.KindIO, "finalize session", domain.ErrNoAudio)
	}

	path, err := f.store.WriteWAV(session.names.RawAudio, raw, f.sampleRate)
	if err != nil {
		f.fail(&result, domain.ArtifactRawAudio, err, logger)
		return result, domain.SessionReasonRawSaveFailed, domain.Wrap(domain.KindIO, "save raw recording", err)
	}
	result.Artifacts[domain.ArtifactRawAudio] = path
	logger.Info().Str("path", path).Int("bytes", len(raw)).Msg("raw audio saved")

	amplified := audio.Amplify(raw, f.gain)
	if path, err := f.store.WriteWAV(session.names.AmplifiedAudio, amplified, f.sampleRate); err != nil {
		f.fail(&result, domain.ArtifactAmplifiedAudio, err, logger)
	} else {
		result.Artifacts[domain.ArtifactAmplifiedAudio] = path
		logger.Info().Str("path", path).Msg("amplified audio saved")
	}

	result.FinalTranscript = f.transcribe(ctx, amplified, logger)

	if path, err := f.store.WriteText(session.names.FinalTranscript, result.FinalTranscript); err != nil {
		f.fail(&result, domain.ArtifactFinalTranscript, err, logger)
	} else {
		result.Artifacts[domain.ArtifactFinalTranscript] = path
	}
	if path, err := f.store.WriteText(session.names.RealtimeTranscript, result.RealtimeTranscript); err != nil {
		f.fail(&result, domain.ArtifactRealtimeTranscript, err, logger)
	} else {
		result.Artifacts[domain.ArtifactRealtimeTranscript] = path
	}

	if len(result.Failures) > 0 {
		return result, domain.SessionReasonArtifactsPartial, nil
	}
	return result, domain.SessionReasonArtifactsSaved, nil
}

func (f artifactFinalizer) transcribe(ctx context.Context, amplified []byte, logger zerolog.Logger) string {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	started := time.Now()
	text, err := f.transcriber.Transcribe(ctx, amplified, f.sampleRate)
	f.metrics.RecordTranscription(metrics.PassFinal, time.Since(started), err)
	if err != nil {
		logger.Error().Err(err).Msg("final transcription failed")
		f.events.SessionError(domain.ErrorCodeTranscription, "final transcription failed: "+err.Error())
		return ""
	}
	return trimTranscript(text)
}

func (f artifactFinalizer) fail(result *domain.StopResult, kind domain.ArtifactKind, err error, logger zerolog.Logger) {
	result.Failures[kind] = err.Error()
	f.metrics.RecordArtifactFailure(string(kind))
	logger.Error().Err(err).Str("artifact", string(kind)).Msg("failed to save artifact")
	f.events.SessionError(domain.ErrorCodeArtifact, string(kind)+": "+err.Error())
}
