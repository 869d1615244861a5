// Package whisperapi transcribes PCM windows through an OpenAI-compatible
// /audio/transcriptions endpoint.
package whisperapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"

	"pebblescribe/internal/audio"
	"pebblescribe/internal/domain"
)

// Config configures the transcription endpoint.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Language   string
	Format     string // "wav" or "flac"
	MaxRetries int
	HTTPClient *http.Client
}

// Transcriber uploads audio as a file and returns the recognized text.
type Transcriber struct {
	client   openai.Client
	model    string
	language string
	format   string
	logger   zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) (*Transcriber, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = string(openai.AudioModelWhisper1)
	}
	switch cfg.Format {
	case "":
		cfg.Format = "wav"
	case "wav", "flac":
	default:
		return nil, fmt.Errorf("unsupported upload format %q", cfg.Format)
	}

	opts := []option.RequestOption{option.WithMaxRetries(cfg.MaxRetries)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Transcriber{
		client:   openai.NewClient(opts...),
		model:    cfg.Model,
		language: strings.TrimSpace(cfg.Language),
		format:   cfg.Format,
		logger:   logger.With().Str("component", "whisperapi").Logger(),
	}, nil
}

// Transcribe encodes pcm in the configured container and uploads it.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if len(pcm) < audio.BytesPerSample {
		return "", nil
	}

	encodeStart := time.Now()
	data, err := t.encode(pcm, sampleRate)
	if err != nil {
		return "", err
	}
	encodeTime := time.Since(encodeStart)

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(data), "audio."+t.format, "audio/"+t.format),
		Model: openai.AudioModel(t.model),
	}
	if t.language != "" {
		params.Language = openai.String(t.language)
	}

	reqStart := time.Now()
	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", domain.Wrap(domain.KindTranscribe, "transcribe",
				fmt.Errorf("transcription API error (status %d): %w", apiErr.StatusCode, err))
		}
		return "", domain.Wrap(domain.KindTranscribe, "transcribe", err)
	}

	t.logger.Debug().
		Str("format", t.format).
		Float64("audio_s", audio.BytesToDuration(len(pcm))).
		Float64("raw_kb", float64(len(pcm))/1024).
		Float64("upload_kb", float64(len(data))/1024).
		Float64("encode_ms", float64(encodeTime.Microseconds())/1000).
		Float64("total_ms", float64(time.Since(reqStart).Microseconds())/1000).
		Msg("transcription")

	return strings.TrimSpace(resp.Text), nil
}

func (t *Transcriber) encode(pcm []byte, sampleRate int) ([]byte, error) {
	if t.format == "flac" {
		data, err := audio.EncodeFLAC(pcm, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("encode flac upload: %w", err)
		}
		return data, nil
	}
	data, err := audio.WAVBytes(pcm, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("encode wav upload: %w", err)
	}
	return data, nil
}
