package audio

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestWindowerProducesWindowOnlyAtThreshold(t *testing.T) {
	t.Parallel()

	w := NewWindower(0)
	if w.WindowBytes() != 96000 {
		t.Fatalf("unexpected default window size %d", w.WindowBytes())
	}

	chunk := make([]byte, 20)
	windows := 0
	for fed := 0; fed < 96000; fed += len(chunk) {
		w.Ingest(chunk)
		window, ok := w.PollReady()
		if ok {
			windows++
			if fed+len(chunk) != 96000 {
				t.Fatalf("window produced early at %d bytes", fed+len(chunk))
			}
			if window.Len() != 96000 || window.Offset != 0 || window.Seq != 0 {
				t.Fatalf("unexpected window: len=%d offset=%d seq=%d", window.Len(), window.Offset, window.Seq)
			}
		}
	}
	if windows != 1 {
		t.Fatalf("expected exactly one window, got %d", windows)
	}
	if w.Cursor() != 96000 || w.Len() != 96000 {
		t.Fatalf("unexpected bookkeeping: cursor=%d len=%d", w.Cursor(), w.Len())
	}
}

func TestWindowerWindowsNeverOverlap(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	w := NewWindower(1000)

	var got [][]byte
	next := 0
	for i := 0; i < 500; i++ {
		chunk := make([]byte, rng.Intn(300))
		rng.Read(chunk)
		w.Ingest(chunk)
		for {
			window, ok := w.PollReady()
			if !ok {
				break
			}
			if window.Offset != next {
				t.Fatalf("window %d starts at %d, want %d", window.Seq, window.Offset, next)
			}
			if window.Len() != 1000 {
				t.Fatalf("window %d has length %d", window.Seq, window.Len())
			}
			next += window.Len()
			got = append(got, window.PCM)
		}
		if w.Cursor() > w.Len() {
			t.Fatalf("cursor %d exceeds buffer length %d", w.Cursor(), w.Len())
		}
		if w.Len()-w.Cursor() >= 1000 {
			t.Fatalf("a full window was left unconsumed")
		}
	}

	joined := bytes.Join(got, nil)
	if !bytes.Equal(joined, w.Bytes()[:len(joined)]) {
		t.Fatalf("windows do not tile the recording")
	}
}

func TestWindowerWindowIsACopy(t *testing.T) {
	t.Parallel()

	w := NewWindower(4)
	w.Ingest([]byte{1, 2, 3, 4})
	window, ok := w.PollReady()
	if !ok {
		t.Fatalf("expected a window")
	}
	window.PCM[0] = 9
	if w.Bytes()[0] != 1 {
		t.Fatalf("window aliases the recording buffer")
	}
}

func TestNewWindowerRoundsToWholeSamples(t *testing.T) {
	t.Parallel()

	if got := NewWindower(7).WindowBytes(); got != 6 {
		t.Fatalf("expected 6, got %d", got)
	}
	if got := NewWindower(1).WindowBytes(); got != WindowBytes {
		t.Fatalf("expected default, got %d", got)
	}
}

func TestPollReadyRejectsBadCursor(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 10)
	if _, next, ok := PollReady(buf, 11, 2); ok || next != 11 {
		t.Fatalf("expected rejection for cursor past end")
	}
	if _, _, ok := PollReady(buf, 0, 0); ok {
		t.Fatalf("expected rejection for zero window")
	}
	window, next, ok := PollReady(buf, 8, 2)
	if !ok || next != 10 || len(window) != 2 {
		t.Fatalf("unexpected poll result: ok=%v next=%d len=%d", ok, next, len(window))
	}
}
