package audio

import "pebblescribe/internal/domain"

// Windower owns the raw recording buffer and cuts it into fixed-size,
// non-overlapping windows. It is not safe for concurrent use; the session
// serializes access from the notification path.
type Windower struct {
	buf         []byte
	cursor      int
	windowBytes int
	seq         int
}

// NewWindower returns a windower producing windows of windowBytes. The size
// is rounded down to a whole number of samples; non-positive sizes fall
// back to WindowBytes.
func NewWindower(windowBytes int) *Windower {
	windowBytes -= windowBytes % BytesPerSample
	if windowBytes <= 0 {
		windowBytes = WindowBytes
	}
	return &Windower{
		buf:         make([]byte, 0, windowBytes*2),
		windowBytes: windowBytes,
	}
}

// Ingest appends raw link bytes to the recording.
func (w *Windower) Ingest(data []byte) {
	w.buf = append(w.buf, data...)
}

// PollReady returns the next window when at least one full window of
// unconsumed bytes is buffered and advances the cursor by exactly one window.
func (w *Windower) PollReady() (domain.Window, bool) {
	pcm, next, ok := PollReady(w.buf, w.cursor, w.windowBytes)
	if !ok {
		return domain.Window{}, false
	}
	window := domain.Window{Seq: w.seq, Offset: w.cursor, PCM: pcm}
	w.cursor = next
	w.seq++
	return window, true
}

// Bytes returns the raw recording. Callers must not modify it.
func (w *Windower) Bytes() []byte { return w.buf }

// Len returns the number of recorded bytes.
func (w *Windower) Len() int { return len(w.buf) }

// Cursor returns the offset of the first byte not yet windowed.
func (w *Windower) Cursor() int { return w.cursor }

// WindowBytes returns the configured window length.
func (w *Windower) WindowBytes() int { return w.windowBytes }

// PollReady cuts buf[cursor:cursor+windowBytes] when enough bytes are
// available. The returned slice is a copy; next is the advanced cursor.
func PollReady(buf []byte, cursor int, windowBytes int) (window []byte, next int, ok bool) {
	if windowBytes <= 0 || cursor < 0 || cursor > len(buf) {
		return nil, cursor, false
	}
	if len(buf)-cursor < windowBytes {
		return nil, cursor, false
	}
	window = make([]byte, windowBytes)
	copy(window, buf[cursor:cursor+windowBytes])
	return window, cursor + windowBytes, true
}
