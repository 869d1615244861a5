package tui

import "pebblescribe/internal/domain"

// StateMsg reports a session lifecycle transition.
type StateMsg struct {
	State   domain.SessionState
	Reason  domain.SessionStateReason
	Message string
}

// ProgressMsg carries the running byte count of the active session.
type ProgressMsg struct {
	Bytes int
}

// PartialMsg carries one realtime transcript segment.
type PartialMsg struct {
	Segment domain.TranscriptSegment
}

// FinalMsg carries the outcome of a finalized session.
type FinalMsg struct {
	Result domain.StopResult
}

// ErrorMsg is a backend error rendered on the status line.
type ErrorMsg struct {
	Code    domain.ErrorCode
	Message string
	Detail  string
}

type commandDoneMsg struct {
	op     string
	result *domain.StopResult
	err    error
}

type tickMsg struct{}

// eventsClosedMsg ends event forwarding once the source channel is closed.
type eventsClosedMsg struct{}
