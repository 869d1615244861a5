package ports

import (
	"context"
	"time"

	"pebblescribe/internal/domain"
)

// Control values written to the sensor's control characteristic.
const (
	ControlStart byte = 0x01
	ControlStop  byte = 0x02
)

// NotificationHandler receives one notification payload from the link.
// Implementations must return quickly and must not block.
type NotificationHandler func(data []byte)

// LinkConnection is an established connection to the audio sensor.
type LinkConnection interface {
	Subscribe(ctx context.Context, notificationID string, handler NotificationHandler) error
	Unsubscribe(ctx context.Context, notificationID string) error
	WriteControl(ctx context.Context, value byte) error
	IsConnected() bool
	Disconnect() error
}

// LinkDialer establishes link connections.
type LinkDialer interface {
	Connect(ctx context.Context, address string) (LinkConnection, error)
}

// Discovery finds a sensor whose advertised name satisfies match.
type Discovery interface {
	Scan(ctx context.Context, match func(name string) bool, timeout time.Duration) (string, error)
}

// Transcriber converts mono 16-bit PCM at sampleRate into text. It blocks
// and must only be called off the notification path.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}

// ArtifactStore persists session outputs and returns their locations.
type ArtifactStore interface {
	WriteWAV(name string, pcm []byte, sampleRate int) (string, error)
	WriteText(name string, text string) (string, error)
}

// EventSink emits backend state/events to the driver.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	Progress(bytesReceived int)
	PartialTranscript(segment domain.TranscriptSegment)
	FinalTranscript(result domain.StopResult)
	SessionError(code domain.ErrorCode, detail string)
}
