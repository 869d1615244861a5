package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pebblescribe/internal/audio"
	"pebblescribe/internal/domain"
	"pebblescribe/internal/metrics"
	"pebblescribe/internal/ports"
)

// Config controls recording and transcription behavior.
type Config struct {
	NotificationID    string
	WindowBytes       int
	SampleRate        int
	Gain              float32
	ProgressBytes     int
	ProgressInterval  time.Duration
	TranscribeTimeout time.Duration
	FinalTimeout      time.Duration
}

// DefaultConfig returns the sensor's fixed stream parameters.
func DefaultConfig() Config {
	return Config{
		WindowBytes:       audio.WindowBytes,
		SampleRate:        audio.SampleRate,
		Gain:              audio.Gain,
		ProgressBytes:     4096,
		ProgressInterval:  time.Second,
		TranscribeTimeout: 30 * time.Second,
		FinalTimeout:      2 * time.Minute,
	}
}

var sessionStates = []string{
	string(domain.SessionStateIdle),
	string(domain.SessionStateRecording),
	string(domain.SessionStateFinalizing),
}

// SessionController owns the single live recording session and drives it
// through Idle, Recording and Finalizing.
type SessionController struct {
	link        ports.LinkConnection
	transcriber ports.Transcriber
	events      ports.EventSink
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	finalizer   artifactFinalizer
	cfg         Config

	now   func() time.Time
	newID func() string

	// opMu serializes Start and Stop so a state check and its transition
	// cannot interleave with another command.
	opMu sync.Mutex

	mu    sync.Mutex
	state domain.SessionState
	// starting is set while a new session subscribes and writes START. The
	// session already accepts audio but is not yet reported as Recording.
	starting bool
	current  *activeSession
	last     *domain.StopResult
}

func NewSessionController(
	link ports.LinkConnection,
	transcriber ports.Transcriber,
	store ports.ArtifactStore,
	events ports.EventSink,
	m *metrics.Metrics,
	logger zerolog.Logger,
	cfg Config,
) *SessionController {
	defaults := DefaultConfig()
	if cfg.WindowBytes <= 0 {
		cfg.WindowBytes = defaults.WindowBytes
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaults.SampleRate
	}
	if cfg.Gain <= 0 {
		cfg.Gain = defaults.Gain
	}
	if cfg.ProgressBytes <= 0 {
		cfg.ProgressBytes = defaults.ProgressBytes
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = defaults.ProgressInterval
	}

	logger = logger.With().Str("component", "session").Logger()
	m.SetSessionState(string(domain.SessionStateIdle), sessionStates...)
	return &SessionController{
		link:        link,
		transcriber: transcriber,
		events:      events,
		metrics:     m,
		logger:      logger,
		finalizer:   newArtifactFinalizer(store, transcriber, events, m, cfg),
		cfg:         cfg,
		now:         time.Now,
		newID:       uuid.NewString,
		state:       domain.SessionStateIdle,
	}
}

// Start begins a new recording session. It fails with a state error unless
// the controller is Idle and with a connection error unless the link is up.
func (c *SessionController) Start(ctx context.Context) error {
	// Fail fast while a Stop is finalizing.
	if !c.idle() {
		return domain.Wrap(domain.KindState, "start recording", domain.ErrAlreadyActive)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.idle() {
		return domain.Wrap(domain.KindState, "start recording", domain.ErrAlreadyActive)
	}
	if c.link == nil || !c.link.IsConnected() {
		c.events.SessionError(domain.ErrorCodeConnection, "sensor is not connected")
		return domain.Wrap(domain.KindConnection, "start recording", domain.ErrNotConnected)
	}

	startedAt := c.now()
	// Realtime jobs ignore caller cancellation; Stop waits for them.
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	session := &activeSession{
		id:        c.newID(),
		startedAt: startedAt,
		names:     domain.NewArtifactNames(startedAt),
		cancel:    cancel,
		windower:  audio.NewWindower(c.cfg.WindowBytes),
		log:       newTranscriptLog(),
		progress:  newProgressThrottle(c.cfg.ProgressBytes, c.cfg.ProgressInterval, startedAt),
	}
	logger := c.logger.With().Str("session", session.id).Logger()
	session.worker = newTranscriptionWorker(sessionCtx, c.transcriber, session.log, c.events, c.metrics, logger, c.cfg)

	c.mu.Lock()
	c.current = session
	c.starting = true
	c.mu.Unlock()

	if err := c.link.Subscribe(ctx, c.cfg.NotificationID, c.handleNotification); err != nil {
		c.abortStart(session)
		c.events.SessionError(domain.ErrorCodeConnection, fmt.Sprintf("failed to subscribe to audio notifications: %v", err))
		return domain.Wrap(domain.KindConnection, "subscribe audio notifications", err)
	}
	if err := c.link.WriteControl(ctx, ports.ControlStart); err != nil {
		if unsubErr := c.link.Unsubscribe(ctx, c.cfg.NotificationID); unsubErr != nil {
			logger.Warn().Err(unsubErr).Msg("unsubscribe after failed start")
		}
		c.abortStart(session)
		c.events.SessionError(domain.ErrorCodeLinkControl, fmt.Sprintf("failed to send START: %v", err))
		return domain.Wrap(domain.KindConnection, "write start control", err)
	}

	c.mu.Lock()
	c.state = domain.SessionStateRecording
	c.starting = false
	c.mu.Unlock()

	c.metrics.RecordSessionStarted()
	c.metrics.SetSessionState(string(domain.SessionStateRecording), sessionStates...)
	logger.Info().Str("raw", session.names.RawAudio).Msg("recording started")
	c.events.SessionStateChanged(domain.SessionStateRecording, domain.SessionReasonRecordingStarted)
	return nil
}

func (c *SessionController) idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == domain.SessionStateIdle && !c.starting
}

func (c *SessionController) abortStart(session *activeSession) {
	c.mu.Lock()
	c.state = domain.SessionStateIdle
	c.starting = false
	c.current = nil
	c.mu.Unlock()

	session.worker.Wait()
	session.cancel()
	c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonStartFailed)
}

// Stop ends the recording, waits for any in-flight transcription and writes
// the session artifacts. It is a state error unless the controller is
// Recording; in that case nothing is written to the link.
func (c *SessionController) Stop(ctx context.Context) (domain.StopResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	session := c.current
	if c.state != domain.SessionStateRecording || session == nil {
		c.mu.Unlock()
		return domain.StopResult{}, domain.Wrap(domain.KindState, "stop recording", domain.ErrNotRecording)
	}
	c.state = domain.SessionStateFinalizing
	c.mu.Unlock()

	logger := c.logger.With().Str("session", session.id).Logger()
	c.metrics.SetSessionState(string(domain.SessionStateFinalizing), sessionStates...)
	c.events.SessionStateChanged(domain.SessionStateFinalizing, domain.SessionReasonFinalizing)

	if err := c.link.WriteControl(ctx, ports.ControlStop); err != nil {
		logger.Warn().Err(err).Msg("failed to send STOP")
		c.events.SessionError(domain.ErrorCodeLinkControl, fmt.Sprintf("failed to send STOP: %v", err))
	}
	if err := c.link.Unsubscribe(ctx, c.cfg.NotificationID); err != nil {
		logger.Warn().Err(err).Msg("failed to unsubscribe audio notifications")
	}

	session.worker.Wait()

	c.mu.Lock()
	raw := session.windower.Bytes()
	c.mu.Unlock()

	logger.Info().
		Int("bytes", len(raw)).
		Float64("audio_s", audio.BytesToDuration(len(raw))).
		Int("segments", session.log.Len()).
		Int64("dropped", session.worker.Dropped()).
		Msg("recording stopped")

	result, reason, err := c.finalizer.Finalize(ctx, session, raw, logger)
	session.cancel()

	c.mu.Lock()
	c.state = domain.SessionStateIdle
	c.current = nil
	c.last = &result
	c.mu.Unlock()

	c.metrics.RecordSessionFinalized(string(reason), audio.BytesToDuration(len(raw)))
	c.metrics.SetSessionState(string(domain.SessionStateIdle), sessionStates...)
	if err == nil {
		c.events.FinalTranscript(result)
	}
	c.events.SessionStateChanged(domain.SessionStateIdle, reason)
	return result, err
}

// Status returns the current runtime status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := domain.Status{
		State:  c.state,
		Active: c.state != domain.SessionStateIdle,
	}
	if c.current != nil && c.state != domain.SessionStateIdle {
		status.SessionID = c.current.id
		status.BytesReceived = c.current.windower.Len()
		status.Segments = c.current.log.Len()
	}
	return status
}

// LastResult returns the result of the most recently finalized session.
func (c *SessionController) LastResult() (domain.StopResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return domain.StopResult{}, false
	}
	return *c.last, true
}

// handleNotification runs on the link's delivery context. It only appends,
// cuts windows and offers them to the worker.
func (c *SessionController) handleNotification(data []byte) {
	if len(data) == 0 {
		return
	}

	c.mu.Lock()
	session := c.current
	if session == nil || (c.state != domain.SessionStateRecording && !c.starting) {
		c.mu.Unlock()
		return
	}
	session.windower.Ingest(data)
	total := session.windower.Len()
	for {
		window, ok := session.windower.PollReady()
		if !ok {
			break
		}
		c.metrics.RecordWindowReady()
		// Submitting under mu keeps Stop's worker.Wait ordered after the
		// last possible submit.
		session.worker.TrySubmit(window)
	}
	emit := session.progress.due(total, c.now())
	c.mu.Unlock()

	c.metrics.RecordNotification(len(data))
	if emit {
		c.events.Progress(total)
	}
}
