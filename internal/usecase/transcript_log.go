package usecase

import (
	"strings"
	"sync"

	"pebblescribe/internal/domain"
)

// transcriptLog accumulates incremental transcription segments for one
// session. Appends come from the worker goroutine; reads from the
// controller and Status.
type transcriptLog struct {
	mu       sync.Mutex
	segments []domain.TranscriptSegment
}

func newTranscriptLog() *transcriptLog {
	return &transcriptLog{}
}

// Append records text for window seq. Blank text is ignored.
func (l *transcriptLog) Append(seq int, text string) (domain.TranscriptSegment, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.TranscriptSegment{}, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	segment := domain.TranscriptSegment{Seq: seq, Text: text}
	l.segments = append(l.segments, segment)
	return segment, true
}

// Text joins all segments with single spaces.
func (l *transcriptLog) Text() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	parts := make([]string, len(l.segments))
	for i, s := range l.segments {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}

func (l *transcriptLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.segments)
}

func (l *transcriptLog) Segments() []domain.TranscriptSegment {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.TranscriptSegment, len(l.segments))
	copy(out, l.segments)
	return out
}

func trimTranscript(text string) string {
	return strings.TrimSpace(text)
}
