// Package wsbridge talks to the sensor through a BLE-to-websocket gateway.
//
// The gateway relays GATT notifications as binary frames and accepts JSON
// text frames to subscribe, unsubscribe and write characteristic values.
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"pebblescribe/internal/domain"
	"pebblescribe/internal/ports"
)

const writeTimeout = 5 * time.Second

// Config controls the gateway connection.
type Config struct {
	URL       string
	ControlID string
	Token     string
}

// Dialer implements ports.LinkDialer over a websocket gateway.
type Dialer struct {
	cfg    Config
	logger zerolog.Logger
}

func NewDialer(cfg Config, logger zerolog.Logger) *Dialer {
	return &Dialer{cfg: cfg, logger: logger.With().Str("component", "wsbridge").Logger()}
}

// Connect opens a gateway session for the device at address.
func (d *Dialer) Connect(ctx context.Context, address string) (ports.LinkConnection, error) {
	wsURL, err := buildBridgeURL(d.cfg.URL, address)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	if d.cfg.Token != "" {
		headers.Set("Authorization", "Bearer "+d.cfg.Token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, domain.Wrap(domain.KindConnection, "dial bridge", err)
	}

	c := &Connection{
		conn:      conn,
		controlID: d.cfg.ControlID,
		logger:    d.logger.With().Str("device", address).Logger(),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Connection is one gateway session. It implements ports.LinkConnection.
type Connection struct {
	conn      *websocket.Conn
	controlID string
	logger    zerolog.Logger

	writeMu sync.Mutex

	mu           sync.Mutex
	handler      ports.NotificationHandler
	subscribedID string

	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

type bridgeCommand struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Value []byte `json:"value,omitempty"`
}

type bridgeEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (c *Connection) Subscribe(ctx context.Context, notificationID string, handler ports.NotificationHandler) error {
	if handler == nil {
		return errors.New("notification handler is required")
	}
	c.mu.Lock()
	c.handler = handler
	c.subscribedID = notificationID
	c.mu.Unlock()

	if err := c.send(ctx, bridgeCommand{Type: "subscribe", ID: notificationID}); err != nil {
		c.clearHandler()
		return fmt.Errorf("subscribe %s: %w", notificationID, err)
	}
	return nil
}

func (c *Connection) Unsubscribe(ctx context.Context, notificationID string) error {
	c.clearHandler()
	if err := c.send(ctx, bridgeCommand{Type: "unsubscribe", ID: notificationID}); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", notificationID, err)
	}
	return nil
}

func (c *Connection) WriteControl(ctx context.Context, value byte) error {
	if err := c.send(ctx, bridgeCommand{Type: "write", ID: c.controlID, Value: []byte{value}}); err != nil {
		return fmt.Errorf("write control 0x%02x: %w", value, err)
	}
	return nil
}

func (c *Connection) IsConnected() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Disconnect closes the gateway session and waits for the read loop.
func (c *Connection) Disconnect() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
	return c.waitErr()
}

// Err returns the first error that ended the session, if any.
func (c *Connection) Err() error {
	return c.waitErr()
}

func (c *Connection) send(ctx context.Context, cmd bridgeCommand) error {
	if !c.IsConnected() {
		if err := c.waitErr(); err != nil {
			return domain.Wrap(domain.KindConnection, "bridge closed", err)
		}
		return domain.ErrNotConnected
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Connection) clearHandler() {
	c.mu.Lock()
	c.handler = nil
	c.subscribedID = ""
	c.mu.Unlock()
}

func (c *Connection) readLoop() {
	defer close(c.done)
	defer c.clearHandler()

	for {
		kind, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.setErr(fmt.Errorf("failed to read bridge frame: %w", err))
			return
		}

		if kind == websocket.BinaryMessage {
			c.mu.Lock()
			handler := c.handler
			c.mu.Unlock()
			if handler != nil && len(payload) > 0 {
				handler(payload)
			}
			continue
		}

		var event bridgeEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			continue
		}
		switch strings.ToLower(event.Type) {
		case "error":
			message := strings.TrimSpace(event.Message)
			if message == "" {
				message = "bridge returned an unknown error"
			}
			c.logger.Error().Str("message", message).Msg("bridge error")
		case "disconnected":
			c.logger.Warn().Msg("sensor disconnected from bridge")
			c.setErr(errors.New("sensor disconnected"))
			_ = c.conn.Close()
			return
		}
	}
}

func (c *Connection) waitErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Connection) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}
	if errors.Is(err, net.ErrClosed) {
		return
	}

	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func buildBridgeURL(base string, address string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", errors.New("bridge URL is not configured")
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	bridgeURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid bridge URL: %w", err)
	}
	if bridgeURL.Scheme != "ws" && bridgeURL.Scheme != "wss" {
		return "", fmt.Errorf("invalid bridge URL scheme %q", bridgeURL.Scheme)
	}
	if address != "" {
		query := bridgeURL.Query()
		query.Set("device", address)
		bridgeURL.RawQuery = query.Encode()
	}
	return bridgeURL.String(), nil
}

// StaticDiscovery resolves the device address from configuration; the
// gateway owns scanning.
type StaticDiscovery struct {
	Address string
	Name    string
}

func (s StaticDiscovery) Scan(_ context.Context, match func(name string) bool, _ time.Duration) (string, error) {
	if s.Address == "" {
		return "", domain.ErrDeviceNotFound
	}
	if match != nil && s.Name != "" && !match(s.Name) {
		return "", domain.ErrDeviceNotFound
	}
	return s.Address, nil
}
