package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures for the driver and for retry decisions.
type ErrorKind string

const (
	KindConnection ErrorKind = "connection"
	KindState      ErrorKind = "state"
	KindTranscribe ErrorKind = "transcribe"
	KindIO         ErrorKind = "io"
)

var (
	ErrNotConnected   = errors.New("link is not connected")
	ErrAlreadyActive  = errors.New("a recording session is already active")
	ErrNotRecording   = errors.New("not currently recording")
	ErrNoAudio        = errors.New("no audio data captured")
	ErrDeviceNotFound = errors.New("no matching device found")
)

// Error attaches a kind and operation to an underlying error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns nil for a nil err.
func Wrap(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether any error in err's chain carries kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
