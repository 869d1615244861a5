package main

import (
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"pebblescribe/internal/domain"
	"pebblescribe/internal/tui"
)

const eventBuffer = 256

// App is the event sink handed to the session controller. It forwards
// events to the driver without ever blocking the notification path.
type App struct {
	events  chan tea.Msg
	dropped atomic.Int64
}

func NewApp() *App {
	return &App{events: make(chan tea.Msg, eventBuffer)}
}

// Events is the stream consumed by the terminal UI or the headless printer.
func (a *App) Events() <-chan tea.Msg {
	return a.events
}

// Dropped counts events discarded because the driver fell behind.
func (a *App) Dropped() int64 {
	return a.dropped.Load()
}

// SessionStateChanged forwards session lifecycle updates.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	a.emit(tui.StateMsg{State: state, Reason: reason, Message: sessionReasonMessage(reason)})
}

// Progress forwards the running byte count.
func (a *App) Progress(bytesReceived int) {
	a.emit(tui.ProgressMsg{Bytes: bytesReceived})
}

// PartialTranscript forwards one realtime segment.
func (a *App) PartialTranscript(segment domain.TranscriptSegment) {
	a.emit(tui.PartialMsg{Segment: segment})
}

// FinalTranscript forwards a finalized session result.
func (a *App) FinalTranscript(result domain.StopResult) {
	a.emit(tui.FinalMsg{Result: result})
}

// SessionError forwards backend errors.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.emit(tui.ErrorMsg{Code: code, Message: errorMessage(code, detail), Detail: detail})
}

func (a *App) emit(msg tea.Msg) {
	select {
	case a.events <- msg:
	default:
		a.dropped.Add(1)
	}
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "Ready"
	case domain.SessionReasonRecordingStarted:
		return "Recording started..."
	case domain.SessionReasonStartFailed:
		return "Recording could not be started"
	case domain.SessionReasonFinalizing:
		return "Recording stopped. Processing audio..."
	case domain.SessionReasonArtifactsSaved:
		return "Recording saved"
	case domain.SessionReasonArtifactsPartial:
		return "Recording saved with errors"
	case domain.SessionReasonNoAudio:
		return "No audio data to save"
	case domain.SessionReasonRawSaveFailed:
		return "Saving the recording failed"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeConnection:
		return "Connection issue"
	case domain.ErrorCodeLinkControl:
		return "Device control write failed"
	case domain.ErrorCodeTranscription:
		return "Transcription error"
	case domain.ErrorCodeWindowDropped:
		return "Transcriber busy, window skipped"
	case domain.ErrorCodeArtifact:
		return "Saving output failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
