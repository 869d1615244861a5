package ffmpeg

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pebblescribe/internal/domain"
	"pebblescribe/internal/ports"
)

func TestConnectionDeliversCaptureAsNotifications(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf 'hello!!!'\nexec sleep 5\n")
	dialer := NewDialer(CaptureConfig{Command: script}, 4, zerolog.Nop())

	link, err := dialer.Connect(context.Background(), "")
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	var (
		mu       sync.Mutex
		received []string
	)
	if err := link.Subscribe(context.Background(), "data", func(data []byte) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, string(data))
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := link.WriteControl(context.Background(), ports.ControlStart); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected two notifications, got %d", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := link.WriteControl(context.Background(), ports.ControlStop); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if received[0] != "hell" {
		t.Fatalf("expected chunked delivery, got %q", received)
	}
	if strings.Join(received, "") != "hello!!!" {
		t.Fatalf("unexpected bytes %q", received)
	}
}

func TestConnectionStartEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'boom' 1>&2\nexit 1\n")
	link, _ := NewDialer(CaptureConfig{Command: script}, 0, zerolog.Nop()).Connect(context.Background(), "")

	err := link.WriteControl(context.Background(), ports.ControlStart)
	if err == nil || !strings.Contains(err.Error(), "exited before capture started") {
		t.Fatalf("expected early exit error, got %v", err)
	}
	// A failed START leaves nothing to stop.
	if err := link.WriteControl(context.Background(), ports.ControlStop); err != nil {
		t.Fatalf("stop after failed start: %v", err)
	}
}

func TestConnectionDisconnect(t *testing.T) {
	t.Parallel()

	link, _ := NewDialer(CaptureConfig{}, 0, zerolog.Nop()).Connect(context.Background(), "mic1")
	if !link.IsConnected() {
		t.Fatalf("expected connected link")
	}
	if err := link.Disconnect(); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if link.IsConnected() {
		t.Fatalf("expected disconnected link")
	}
	if err := link.Subscribe(context.Background(), "data", func([]byte) {}); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := link.WriteControl(context.Background(), 0x7f); err == nil {
		t.Fatalf("expected unsupported control error")
	}
}

func TestDialerAddressOverridesDevice(t *testing.T) {
	t.Parallel()

	link, _ := NewDialer(CaptureConfig{InputDevice: "default"}, 0, zerolog.Nop()).Connect(context.Background(), "hw:1")
	conn := link.(*Connection)
	if conn.cfg.InputDevice != "hw:1" || conn.chunkSize != 240 {
		t.Fatalf("unexpected connection config: %+v chunk=%d", conn.cfg, conn.chunkSize)
	}

	args := strings.Join(captureArgs(conn.cfg), " ")
	if !strings.Contains(args, "-i hw:1") || !strings.Contains(args, "-ar 16000") || !strings.Contains(args, "-f s16le") {
		t.Fatalf("unexpected ffmpeg args: %s", args)
	}
}

func TestNormalizeStopErrExitErrorIsIgnored(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-c", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeStopErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
