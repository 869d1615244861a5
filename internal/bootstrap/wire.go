package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"pebblescribe/internal/audio"
	"pebblescribe/internal/config"
	"pebblescribe/internal/domain"
	"pebblescribe/internal/link/ble"
	"pebblescribe/internal/link/ffmpeg"
	"pebblescribe/internal/link/wsbridge"
	"pebblescribe/internal/metrics"
	"pebblescribe/internal/ports"
	"pebblescribe/internal/providers/whisperapi"
	"pebblescribe/internal/store"
	"pebblescribe/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Link       ports.LinkConnection
	Address    string
	Config     config.Config
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
}

// Close drops the sensor connection.
func (s Services) Close() error {
	if s.Link == nil {
		return nil
	}
	return s.Link.Disconnect()
}

// linkSet is the transport selected by configuration. discovery is nil when
// the transport has nothing to scan for.
type linkSet struct {
	dialer         ports.LinkDialer
	discovery      ports.Discovery
	notificationID string
}

// Build wires all backend dependencies for the configured transport and
// connects to the sensor.
func Build(ctx context.Context, cfg config.Config, eventSink ports.EventSink, logger zerolog.Logger) (Services, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	transcriber, err := whisperapi.New(whisperapi.Config{
		APIKey:     cfg.Transcriber.APIKey,
		BaseURL:    cfg.Transcriber.BaseURL,
		Model:      cfg.Transcriber.Model,
		Language:   cfg.Transcriber.Language,
		Format:     cfg.Transcriber.UploadFormat,
		MaxRetries: 2,
	}, logger)
	if err != nil {
		eventSink.SessionError(domain.ErrorCodeStartup, err.Error())
		return Services{}, err
	}

	links, err := newLinkSet(cfg.Link, logger)
	if err != nil {
		eventSink.SessionError(domain.ErrorCodeStartup, err.Error())
		return Services{}, err
	}

	address, err := resolveAddress(ctx, cfg.Link, links.discovery)
	if err != nil {
		eventSink.SessionError(domain.ErrorCodeConnection, err.Error())
		return Services{}, err
	}

	link, err := links.dialer.Connect(ctx, address)
	if err != nil {
		eventSink.SessionError(domain.ErrorCodeConnection, err.Error())
		return Services{}, err
	}
	logger.Info().Str("transport", cfg.Link.Transport).Str("address", address).Msg("link connected")

	controllerCfg := usecase.DefaultConfig()
	controllerCfg.NotificationID = links.notificationID
	controllerCfg.TranscribeTimeout = cfg.Transcriber.Timeout()
	controllerCfg.FinalTimeout = cfg.Transcriber.FinalTimeout()

	controller := usecase.NewSessionController(
		link,
		transcriber,
		store.NewFileStore(cfg.Output.Dir),
		eventSink,
		m,
		logger,
		controllerCfg,
	)

	eventSink.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)

	return Services{
		Controller: controller,
		Link:       link,
		Address:    address,
		Config:     cfg,
		Registry:   registry,
		Metrics:    m,
	}, nil
}

func newLinkSet(cfg config.LinkConfig, logger zerolog.Logger) (linkSet, error) {
	switch cfg.Transport {
	case config.TransportBLE:
		adapter, err := ble.NewAdapter(ble.Config{
			ServiceUUID: cfg.ServiceUUID,
			DataUUID:    cfg.DataUUID,
			ControlUUID: cfg.ControlUUID,
			ScanTimeout: cfg.ScanTimeout(),
		}, logger)
		if err != nil {
			return linkSet{}, err
		}
		return linkSet{dialer: adapter, discovery: adapter, notificationID: cfg.DataUUID}, nil

	case config.TransportBridge:
		return linkSet{
			dialer: wsbridge.NewDialer(wsbridge.Config{
				URL:       cfg.BridgeURL,
				ControlID: cfg.ControlUUID,
				Token:     cfg.BridgeToken,
			}, logger),
			discovery:      wsbridge.StaticDiscovery{Address: cfg.Address, Name: cfg.DeviceName},
			notificationID: cfg.DataUUID,
		}, nil

	case config.TransportFFmpeg:
		return linkSet{
			dialer: ffmpeg.NewDialer(ffmpeg.CaptureConfig{
				Command:     cfg.FFmpegCommand,
				InputFormat: cfg.InputFormat,
				InputDevice: cfg.InputDevice,
				SampleRate:  audio.SampleRate,
			}, cfg.ChunkSize, logger),
		}, nil
	}
	return linkSet{}, fmt.Errorf("unknown link transport %q", cfg.Transport)
}

// resolveAddress prefers a configured address and otherwise scans for the
// configured device name.
func resolveAddress(ctx context.Context, cfg config.LinkConfig, discovery ports.Discovery) (string, error) {
	if discovery == nil {
		return cfg.Address, nil
	}
	if cfg.Address != "" && cfg.Transport == config.TransportBLE {
		return cfg.Address, nil
	}
	address, err := discovery.Scan(ctx, ble.NameContains(cfg.DeviceName), cfg.ScanTimeout())
	if err != nil {
		if errors.Is(err, domain.ErrDeviceNotFound) && !domain.IsKind(err, domain.KindConnection) {
			return "", domain.Wrap(domain.KindConnection, "discover "+cfg.DeviceName, err)
		}
		return "", err
	}
	return address, nil
}
