package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Link transports.
const (
	TransportBLE    = "ble"
	TransportBridge = "bridge"
	TransportFFmpeg = "ffmpeg"
)

// Upload formats accepted by the transcription provider.
const (
	UploadWAV  = "wav"
	UploadFLAC = "flac"
)

// Config stores runtime configuration for the receiver.
type Config struct {
	Link        LinkConfig        `yaml:"link"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Output      OutputConfig      `yaml:"output"`
	Session     SessionConfig     `yaml:"session"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// LinkConfig selects and parameterizes the sensor transport.
type LinkConfig struct {
	Transport          string `yaml:"transport"`
	Address            string `yaml:"address"`
	DeviceName         string `yaml:"device_name"`
	ScanTimeoutSeconds int    `yaml:"scan_timeout_seconds"`
	ServiceUUID        string `yaml:"service_uuid"`
	DataUUID           string `yaml:"data_uuid"`
	ControlUUID        string `yaml:"control_uuid"`
	BridgeURL          string `yaml:"bridge_url"`
	BridgeToken        string `yaml:"bridge_token"`
	FFmpegCommand      string `yaml:"ffmpeg_command"`
	InputFormat        string `yaml:"input_format"`
	InputDevice        string `yaml:"input_device"`
	ChunkSize          int    `yaml:"chunk_size"`
}

type TranscriberConfig struct {
	APIKey              string `yaml:"api_key"`
	BaseURL             string `yaml:"base_url"`
	Model               string `yaml:"model"`
	Language            string `yaml:"language"`
	UploadFormat        string `yaml:"upload_format"`
	TimeoutSeconds      int    `yaml:"timeout_seconds"`
	FinalTimeoutSeconds int    `yaml:"final_timeout_seconds"`
}

type OutputConfig struct {
	Dir string `yaml:"dir"`
}

type SessionConfig struct {
	DefaultDurationSeconds float64 `yaml:"default_duration_seconds"`
	SlackFactor            float64 `yaml:"slack_factor"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

type MetricsConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Link: LinkConfig{
			Transport:          TransportBLE,
			DeviceName:         "PebbleAudio",
			ScanTimeoutSeconds: 10,
			ServiceUUID:        "5f8a9156-41d8-4211-9988-cff98fe5d4a1",
			DataUUID:           "5f8a9157-41d8-4211-9988-cff98fe5d4a1",
			ControlUUID:        "5f8a9158-41d8-4211-9988-cff98fe5d4a1",
			FFmpegCommand:      "ffmpeg",
			InputFormat:        "pulse",
			InputDevice:        "default",
			ChunkSize:          240,
		},
		Transcriber: TranscriberConfig{
			BaseURL:             "https://api.openai.com/v1",
			Model:               "whisper-1",
			Language:            "en",
			UploadFormat:        UploadWAV,
			TimeoutSeconds:      30,
			FinalTimeoutSeconds: 120,
		},
		Output: OutputConfig{
			Dir: ".",
		},
		Session: SessionConfig{
			DefaultDurationSeconds: 15,
			SlackFactor:            1.25,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load resolves configuration from defaults, an optional YAML file and
// environment variables, in increasing priority.
func Load() (Config, error) {
	cfg := Defaults()

	path, explicit, err := configPath()
	if err != nil {
		return Config{}, err
	}
	if err := loadFile(path, explicit, &cfg); err != nil {
		return Config{}, err
	}

	applyEnv(&cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func configPath() (string, bool, error) {
	if path := strings.TrimSpace(os.Getenv("PEBBLE_CONFIG")); path != "" {
		return path, true, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, errors.New("could not determine home directory")
	}
	return filepath.Join(home, ".config", "pebblescribe", "config.yaml"), false, nil
}

func loadFile(path string, required bool, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	l := &cfg.Link
	l.Transport = strings.ToLower(envOrDefault("PEBBLE_LINK", l.Transport))
	l.Address = envOrDefault("PEBBLE_ADDRESS", l.Address)
	l.DeviceName = envOrDefault("PEBBLE_DEVICE_NAME", l.DeviceName)
	l.ScanTimeoutSeconds = envOrDefaultInt("PEBBLE_SCAN_TIMEOUT", l.ScanTimeoutSeconds)
	l.ServiceUUID = envOrDefault("PEBBLE_SERVICE_UUID", l.ServiceUUID)
	l.DataUUID = envOrDefault("PEBBLE_DATA_UUID", l.DataUUID)
	l.ControlUUID = envOrDefault("PEBBLE_CONTROL_UUID", l.ControlUUID)
	l.BridgeURL = envOrDefault("PEBBLE_BRIDGE_URL", l.BridgeURL)
	l.BridgeToken = envOrDefault("PEBBLE_BRIDGE_TOKEN", l.BridgeToken)
	l.FFmpegCommand = envOrDefault("PEBBLE_FFMPEG_COMMAND", l.FFmpegCommand)
	l.InputFormat = envOrDefault("PEBBLE_AUDIO_INPUT_FORMAT", l.InputFormat)
	l.InputDevice = envOrDefault("PEBBLE_AUDIO_INPUT_DEVICE", l.InputDevice)
	l.ChunkSize = envOrDefaultInt("PEBBLE_CHUNK_SIZE", l.ChunkSize)

	tr := &cfg.Transcriber
	tr.APIKey = firstNonEmpty(os.Getenv("PEBBLE_API_KEY"), os.Getenv("OPENAI_API_KEY"), tr.APIKey)
	tr.BaseURL = firstNonEmpty(os.Getenv("PEBBLE_API_BASE"), os.Getenv("OPENAI_BASE_URL"), tr.BaseURL)
	tr.Model = envOrDefault("PEBBLE_MODEL", tr.Model)
	tr.Language = envOrDefault("PEBBLE_LANGUAGE", tr.Language)
	tr.UploadFormat = strings.ToLower(envOrDefault("PEBBLE_UPLOAD_FORMAT", tr.UploadFormat))
	tr.TimeoutSeconds = envOrDefaultInt("PEBBLE_TRANSCRIBE_TIMEOUT", tr.TimeoutSeconds)
	tr.FinalTimeoutSeconds = envOrDefaultInt("PEBBLE_FINAL_TIMEOUT", tr.FinalTimeoutSeconds)

	cfg.Output.Dir = envOrDefault("PEBBLE_OUTPUT_DIR", cfg.Output.Dir)
	cfg.Session.DefaultDurationSeconds = envOrDefaultFloat("PEBBLE_DEFAULT_DURATION", cfg.Session.DefaultDurationSeconds)
	cfg.Session.SlackFactor = envOrDefaultFloat("PEBBLE_SLACK_FACTOR", cfg.Session.SlackFactor)
	cfg.Logging.Level = envOrDefault("PEBBLE_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Dir = envOrDefault("PEBBLE_LOG_DIR", cfg.Logging.Dir)
	cfg.Metrics.ListenAddress = envOrDefault("PEBBLE_METRICS_ADDR", cfg.Metrics.ListenAddress)
}

// normalize replaces out-of-range numbers with defaults.
func (c *Config) normalize() {
	d := Defaults()
	if c.Link.ScanTimeoutSeconds <= 0 {
		c.Link.ScanTimeoutSeconds = d.Link.ScanTimeoutSeconds
	}
	if c.Link.ChunkSize < 2 {
		c.Link.ChunkSize = d.Link.ChunkSize
	}
	if c.Transcriber.TimeoutSeconds <= 0 {
		c.Transcriber.TimeoutSeconds = d.Transcriber.TimeoutSeconds
	}
	if c.Transcriber.FinalTimeoutSeconds <= 0 {
		c.Transcriber.FinalTimeoutSeconds = d.Transcriber.FinalTimeoutSeconds
	}
	if c.Session.DefaultDurationSeconds <= 0 {
		c.Session.DefaultDurationSeconds = d.Session.DefaultDurationSeconds
	}
	if c.Session.SlackFactor < 1 {
		c.Session.SlackFactor = d.Session.SlackFactor
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		c.Output.Dir = d.Output.Dir
	}
}

// Validate checks enumerations and transport-specific requirements.
func (c *Config) Validate() error {
	switch c.Link.Transport {
	case TransportBLE:
		if c.Link.DeviceName == "" && c.Link.Address == "" {
			return errors.New("ble link needs a device name or an address")
		}
	case TransportBridge:
		if c.Link.BridgeURL == "" {
			return errors.New("bridge link needs PEBBLE_BRIDGE_URL")
		}
	case TransportFFmpeg:
		if c.Link.FFmpegCommand == "" {
			return errors.New("ffmpeg link needs a command")
		}
	default:
		return fmt.Errorf("unknown link transport %q", c.Link.Transport)
	}

	switch c.Transcriber.UploadFormat {
	case UploadWAV, UploadFLAC:
	default:
		return fmt.Errorf("unknown upload format %q", c.Transcriber.UploadFormat)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

func (l LinkConfig) ScanTimeout() time.Duration {
	return time.Duration(l.ScanTimeoutSeconds) * time.Second
}

func (t TranscriberConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

func (t TranscriberConfig) FinalTimeout() time.Duration {
	return time.Duration(t.FinalTimeoutSeconds) * time.Second
}

func (s SessionConfig) DefaultDuration() time.Duration {
	return time.Duration(s.DefaultDurationSeconds * float64(time.Second))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
