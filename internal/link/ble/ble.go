// Package ble connects to the sensor over Bluetooth LE GATT.
package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"tinygo.org/x/bluetooth"

	"pebblescribe/internal/domain"
	"pebblescribe/internal/ports"
)

// Config names the GATT profile exposed by the sensor.
type Config struct {
	ServiceUUID string
	DataUUID    string
	ControlUUID string
	ScanTimeout time.Duration
}

type profile struct {
	service bluetooth.UUID
	data    bluetooth.UUID
	control bluetooth.UUID
}

func parseProfile(cfg Config) (profile, error) {
	var (
		p   profile
		err error
	)
	if p.service, err = bluetooth.ParseUUID(cfg.ServiceUUID); err != nil {
		return profile{}, fmt.Errorf("invalid service uuid %q: %w", cfg.ServiceUUID, err)
	}
	if p.data, err = bluetooth.ParseUUID(cfg.DataUUID); err != nil {
		return profile{}, fmt.Errorf("invalid data uuid %q: %w", cfg.DataUUID, err)
	}
	if p.control, err = bluetooth.ParseUUID(cfg.ControlUUID); err != nil {
		return profile{}, fmt.Errorf("invalid control uuid %q: %w", cfg.ControlUUID, err)
	}
	return p, nil
}

// NameContains matches advertised names containing fragment, ignoring case.
func NameContains(fragment string) func(name string) bool {
	fragment = strings.ToLower(strings.TrimSpace(fragment))
	return func(name string) bool {
		return fragment != "" && strings.Contains(strings.ToLower(name), fragment)
	}
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Adapter wraps the host Bluetooth adapter. It implements both
// ports.Discovery and ports.LinkDialer.
type Adapter struct {
	adapter     *bluetooth.Adapter
	profile     profile
	scanTimeout time.Duration
	logger      zerolog.Logger

	enableOnce sync.Once
	enableErr  error

	// scanMu serializes scans; the host stack runs one at a time.
	scanMu sync.Mutex
}

func NewAdapter(cfg Config, logger zerolog.Logger) (*Adapter, error) {
	p, err := parseProfile(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 10 * time.Second
	}
	return &Adapter{
		adapter:     bluetooth.DefaultAdapter,
		profile:     p,
		scanTimeout: cfg.ScanTimeout,
		logger:      logger.With().Str("component", "ble").Logger(),
	}, nil
}

func (a *Adapter) enable() error {
	a.enableOnce.Do(func() {
		if err := a.adapter.Enable(); err != nil {
			a.enableErr = domain.Wrap(domain.KindConnection, "enable bluetooth adapter", err)
		}
	})
	return a.enableErr
}

// Scan returns the address of the first advertiser whose name matches.
func (a *Adapter) Scan(ctx context.Context, match func(name string) bool, timeout time.Duration) (string, error) {
	result, err := a.scanFor(ctx, timeout, func(r bluetooth.ScanResult) bool {
		return match(r.LocalName())
	})
	if err != nil {
		return "", err
	}
	a.logger.Info().
		Str("name", result.LocalName()).
		Str("address", result.Address.String()).
		Int16("rssi", result.RSSI).
		Msg("sensor found")
	return result.Address.String(), nil
}

// Connect finds the advertiser at address, connects and resolves the
// audio profile characteristics.
func (a *Adapter) Connect(ctx context.Context, address string) (ports.LinkConnection, error) {
	result, err := a.scanFor(ctx, a.scanTimeout, func(r bluetooth.ScanResult) bool {
		return sameAddress(r.Address.String(), address)
	})
	if err != nil {
		return nil, err
	}

	device, err := a.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, domain.Wrap(domain.KindConnection, "connect "+address, err)
	}
	disconnect := device.Disconnect

	services, err := device.DiscoverServices([]bluetooth.UUID{a.profile.service})
	if err != nil || len(services) == 0 {
		_ = disconnect()
		return nil, domain.Wrap(domain.KindConnection, "discover audio service", errOrMissing(err, "audio service"))
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{a.profile.data, a.profile.control})
	if err != nil {
		_ = disconnect()
		return nil, domain.Wrap(domain.KindConnection, "discover characteristics", err)
	}

	conn := &Connection{disconnect: disconnect, dataID: a.profile.data.String(), connected: true}
	var haveData, haveControl bool
	for _, c := range chars {
		switch c.UUID() {
		case a.profile.data:
			conn.data, haveData = c, true
		case a.profile.control:
			conn.control, haveControl = c, true
		}
	}
	if !haveData || !haveControl {
		_ = disconnect()
		return nil, domain.Wrap(domain.KindConnection, "discover characteristics", errors.New("audio data or control characteristic missing"))
	}

	a.logger.Info().Str("address", address).Msg("sensor connected")
	return conn, nil
}

func (a *Adapter) scanFor(ctx context.Context, timeout time.Duration, accept func(bluetooth.ScanResult) bool) (bluetooth.ScanResult, error) {
	if err := a.enable(); err != nil {
		return bluetooth.ScanResult{}, err
	}
	if timeout <= 0 {
		timeout = a.scanTimeout
	}

	a.scanMu.Lock()
	defer a.scanMu.Unlock()

	found := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !accept(result) {
				return
			}
			select {
			case found <- result:
				_ = adapter.StopScan()
			default:
			}
		})
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-found:
		<-scanErr
		return result, nil
	case err := <-scanErr:
		if err == nil {
			err = domain.ErrDeviceNotFound
		}
		return bluetooth.ScanResult{}, domain.Wrap(domain.KindConnection, "scan", err)
	case <-timer.C:
		_ = a.adapter.StopScan()
		<-scanErr
		return bluetooth.ScanResult{}, domain.Wrap(domain.KindConnection, "scan", domain.ErrDeviceNotFound)
	case <-ctx.Done():
		_ = a.adapter.StopScan()
		<-scanErr
		return bluetooth.ScanResult{}, ctx.Err()
	}
}

func errOrMissing(err error, what string) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("%s not found", what)
}

// Connection is an established GATT connection. It implements
// ports.LinkConnection.
type Connection struct {
	disconnect func() error
	data       bluetooth.DeviceCharacteristic
	control    bluetooth.DeviceCharacteristic
	dataID     string

	mu        sync.Mutex
	connected bool
}

// Subscribe enables notifications on the audio data characteristic. An
// empty notificationID selects it implicitly.
func (c *Connection) Subscribe(_ context.Context, notificationID string, handler ports.NotificationHandler) error {
	if notificationID != "" && !strings.EqualFold(notificationID, c.dataID) {
		return fmt.Errorf("unknown notification characteristic %q", notificationID)
	}
	if !c.IsConnected() {
		return domain.ErrNotConnected
	}
	if err := c.data.EnableNotifications(func(buf []byte) { handler(buf) }); err != nil {
		return c.fail("enable notifications", err)
	}
	return nil
}

func (c *Connection) Unsubscribe(_ context.Context, _ string) error {
	if !c.IsConnected() {
		return nil
	}
	if err := c.data.EnableNotifications(nil); err != nil {
		return c.fail("disable notifications", err)
	}
	return nil
}

func (c *Connection) WriteControl(_ context.Context, value byte) error {
	if !c.IsConnected() {
		return domain.ErrNotConnected
	}
	if _, err := c.control.WriteWithoutResponse([]byte{value}); err != nil {
		return c.fail(fmt.Sprintf("write control 0x%02x", value), err)
	}
	return nil
}

func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Connection) Disconnect() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	c.mu.Unlock()
	return c.disconnect()
}

func (c *Connection) fail(op string, err error) error {
	return domain.Wrap(domain.KindConnection, op, err)
}
