package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"pebblescribe/internal/domain"
	"pebblescribe/internal/ports"
)

// Dialer implements ports.LinkDialer. The address, when set, overrides
// the configured input device.
type Dialer struct {
	cfg       CaptureConfig
	chunkSize int
	logger    zerolog.Logger
}

func NewDialer(cfg CaptureConfig, chunkSize int, logger zerolog.Logger) *Dialer {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if chunkSize < 2 {
		chunkSize = 240
	}
	return &Dialer{cfg: cfg, chunkSize: chunkSize, logger: logger.With().Str("component", "ffmpeg").Logger()}
}

func (d *Dialer) Connect(_ context.Context, address string) (ports.LinkConnection, error) {
	cfg := d.cfg
	if address != "" {
		cfg.InputDevice = address
	}
	return &Connection{cfg: cfg, chunkSize: d.chunkSize, logger: d.logger, connected: true}, nil
}

// Connection behaves like the sensor: START launches capture and PCM is
// delivered to the subscribed handler in chunkSize notifications; STOP
// ends capture after every captured byte has been delivered.
type Connection struct {
	cfg       CaptureConfig
	chunkSize int
	logger    zerolog.Logger

	mu        sync.Mutex
	connected bool
	handler   ports.NotificationHandler
	capture   *captureProcess
	pumpDone  chan struct{}
}

func (c *Connection) Subscribe(_ context.Context, _ string, handler ports.NotificationHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return domain.ErrNotConnected
	}
	c.handler = handler
	return nil
}

func (c *Connection) Unsubscribe(_ context.Context, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = nil
	return nil
}

func (c *Connection) WriteControl(ctx context.Context, value byte) error {
	switch value {
	case ports.ControlStart:
		return c.start(ctx)
	case ports.ControlStop:
		return c.stop()
	default:
		return fmt.Errorf("unsupported control value 0x%02x", value)
	}
}

func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Connection) Disconnect() error {
	err := c.stop()
	c.mu.Lock()
	c.connected = false
	c.handler = nil
	c.mu.Unlock()
	return err
}

func (c *Connection) start(ctx context.Context) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return domain.ErrNotConnected
	}
	if c.capture != nil {
		c.mu.Unlock()
		return errors.New("capture already running")
	}
	c.mu.Unlock()

	// The capture outlives the START request.
	capture, err := startCapture(context.WithoutCancel(ctx), c.cfg)
	if err != nil {
		return err
	}
	done := make(chan struct{})

	c.mu.Lock()
	c.capture = capture
	c.pumpDone = done
	c.mu.Unlock()

	go c.pump(capture, done)
	c.logger.Info().Str("device", c.cfg.InputDevice).Msg("capture started")
	return nil
}

func (c *Connection) stop() error {
	c.mu.Lock()
	capture, done := c.capture, c.pumpDone
	c.capture, c.pumpDone = nil, nil
	c.mu.Unlock()

	if capture == nil {
		return nil
	}
	err := capture.Stop()
	<-done
	c.logger.Info().Msg("capture stopped")
	return err
}

// pump reads capture output and forwards it as notifications.
func (c *Connection) pump(capture *captureProcess, done chan struct{}) {
	defer close(done)

	buf := make([]byte, c.chunkSize)
	for {
		n, err := io.ReadFull(capture, buf)
		if n > 0 {
			c.deliver(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				c.logger.Warn().Err(err).Msg("capture read failed")
			}
			return
		}
	}
}

func (c *Connection) deliver(chunk []byte) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler(append([]byte(nil), chunk...))
	}
}
