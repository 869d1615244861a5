package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pebblescribe/internal/domain"
	"pebblescribe/internal/ports"
)

var testStart = time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

type fakeLink struct {
	mu sync.Mutex

	connected    bool
	handler      ports.NotificationHandler
	subscribeErr error
	startErr     error
	stopErr      error
	onStart      func(emit func([]byte))

	writes       []byte
	subscribes   int
	unsubscribes int
}

func newFakeLink() *fakeLink {
	return &fakeLink{connected: true}
}

func (f *fakeLink) Subscribe(_ context.Context, _ string, handler ports.NotificationHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.handler = handler
	return nil
}

func (f *fakeLink) Unsubscribe(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribes++
	f.handler = nil
	return nil
}

func (f *fakeLink) WriteControl(_ context.Context, value byte) error {
	f.mu.Lock()
	f.writes = append(f.writes, value)
	var err error
	switch value {
	case ports.ControlStart:
		err = f.startErr
	case ports.ControlStop:
		err = f.stopErr
	}
	onStart := f.onStart
	f.mu.Unlock()

	if value == ports.ControlStart && err == nil && onStart != nil {
		onStart(f.emit)
	}
	return err
}

func (f *fakeLink) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeLink) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

// emit delivers one notification the way a link callback would.
func (f *fakeLink) emit(data []byte) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(data)
	}
}

func (f *fakeLink) feed(total, chunk int) {
	buf := make([]byte, chunk)
	for sent := 0; sent < total; sent += chunk {
		n := min(chunk, total-sent)
		f.emit(buf[:n])
	}
}

func (f *fakeLink) snapshotWrites() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.writes...)
}

type fakeTranscriber struct {
	mu sync.Mutex

	fn    func(pcm []byte) (string, error)
	calls []int

	gate     chan struct{}
	inFlight int
	maxSeen  int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []byte, _ int) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, len(pcm))
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	gate := f.gate
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.fn == nil {
		return "", nil
	}
	return f.fn(pcm)
}

func (f *fakeTranscriber) snapshotCalls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

type fakeStore struct {
	mu sync.Mutex

	wavs    map[string][]byte
	texts   map[string]string
	failing map[string]error
	order   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		wavs:    make(map[string][]byte),
		texts:   make(map[string]string),
		failing: make(map[string]error),
	}
}

func (f *fakeStore) WriteWAV(name string, pcm []byte, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, name)
	if err := f.failing[name]; err != nil {
		return "", err
	}
	f.wavs[name] = append([]byte(nil), pcm...)
	return "/out/" + name, nil
}

func (f *fakeStore) WriteText(name string, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, name)
	if err := f.failing[name]; err != nil {
		return "", err
	}
	f.texts[name] = text
	return "/out/" + name, nil
}

type fakeEventSink struct {
	mu sync.Mutex

	states   []stateEvent
	progress []int
	partials []domain.TranscriptSegment
	finals   []domain.StopResult
	errors   []errEvent
}

type stateEvent struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) Progress(bytesReceived int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, bytesReceived)
}

func (f *fakeEventSink) PartialTranscript(segment domain.TranscriptSegment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partials = append(f.partials, segment)
}

func (f *fakeEventSink) FinalTranscript(result domain.StopResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finals = append(f.finals, result)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) hasError(code domain.ErrorCode) bool {
	for _, e := range f.snapshotErrors() {
		if e.code == code {
			return true
		}
	}
	return false
}

type testHarness struct {
	link        *fakeLink
	transcriber *fakeTranscriber
	store       *fakeStore
	events      *fakeEventSink
	controller  *SessionController
}

func newTestHarness(cfg Config) *testHarness {
	h := &testHarness{
		link:        newFakeLink(),
		transcriber: &fakeTranscriber{},
		store:       newFakeStore(),
		events:      &fakeEventSink{},
	}
	h.controller = NewSessionController(h.link, h.transcriber, h.store, h.events, nil, zerolog.Nop(), cfg)
	h.controller.now = func() time.Time { return testStart }
	h.controller.newID = func() string { return "session-1" }
	return h
}

// waitUntil polls cond until it holds or a deadline passes.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

var errBoom = errors.New("boom")
