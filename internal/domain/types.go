package domain

import "time"

// SessionState models the recording lifecycle.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateRecording  SessionState = "recording"
	SessionStateFinalizing SessionState = "finalizing"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady            SessionStateReason = "ready"
	SessionReasonRecordingStarted SessionStateReason = "recording_started"
	SessionReasonStartFailed      SessionStateReason = "start_failed"
	SessionReasonFinalizing       SessionStateReason = "finalizing"
	SessionReasonArtifactsSaved   SessionStateReason = "artifacts_saved"
	SessionReasonArtifactsPartial SessionStateReason = "artifacts_partial"
	SessionReasonNoAudio          SessionStateReason = "no_audio"
	SessionReasonRawSaveFailed    SessionStateReason = "raw_save_failed"
)

// ErrorCode identifies non-fatal and fatal backend errors surfaced to the driver.
type ErrorCode string

const (
	ErrorCodeStartup       ErrorCode = "startup"
	ErrorCodeConnection    ErrorCode = "connection"
	ErrorCodeLinkControl   ErrorCode = "link_control"
	ErrorCodeTranscription ErrorCode = "transcription"
	ErrorCodeWindowDropped ErrorCode = "window_dropped"
	ErrorCodeArtifact      ErrorCode = "artifact"
)

// ArtifactKind names one of the files produced when a session is finalized.
type ArtifactKind string

const (
	ArtifactRawAudio           ArtifactKind = "raw_audio"
	ArtifactAmplifiedAudio     ArtifactKind = "amplified_audio"
	ArtifactFinalTranscript    ArtifactKind = "final_transcript"
	ArtifactRealtimeTranscript ArtifactKind = "realtime_transcript"
)

// TranscriptSegment is one incremental transcription result.
type TranscriptSegment struct {
	Seq  int    `json:"seq"`
	Text string `json:"text"`
}

// Window is an immutable copy of raw audio bytes handed to the transcription worker.
type Window struct {
	Seq    int
	Offset int
	PCM    []byte
}

// Len returns the window length in bytes.
func (w Window) Len() int { return len(w.PCM) }

// ArtifactNames are the per-session output file names.
type ArtifactNames struct {
	RawAudio           string
	AmplifiedAudio     string
	FinalTranscript    string
	RealtimeTranscript string
}

// TimestampLayout formats a session start time for artifact names.
const TimestampLayout = "20060102_150405"

// NewArtifactNames derives output file names from the session start time.
func NewArtifactNames(startedAt time.Time) ArtifactNames {
	base := "audio_recording_" + startedAt.Format(TimestampLayout)
	return ArtifactNames{
		RawAudio:           base + ".wav",
		AmplifiedAudio:     base + "_amplified.wav",
		FinalTranscript:    base + "_amplified.txt",
		RealtimeTranscript: base + "_realtime.txt",
	}
}

// StopResult is returned once recording is stopped and finalization has run.
type StopResult struct {
	SessionID          string                  `json:"sessionId"`
	BytesRecorded      int                     `json:"bytesRecorded"`
	RealtimeTranscript string                  `json:"realtimeTranscript"`
	Segments           []TranscriptSegment     `json:"segments,omitempty"`
	FinalTranscript    string                  `json:"finalTranscript"`
	Artifacts          map[ArtifactKind]string `json:"artifacts"`
	Failures           map[ArtifactKind]string `json:"failures,omitempty"`
}

// Status summarizes the current runtime status.
type Status struct {
	State         SessionState `json:"state"`
	Active        bool         `json:"active"`
	SessionID     string       `json:"sessionId,omitempty"`
	BytesReceived int          `json:"bytesReceived"`
	Segments      int          `json:"segments"`
	Message       string       `json:"message,omitempty"`
}
