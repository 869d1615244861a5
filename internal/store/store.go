// Package store writes session artifacts to a local directory.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"pebblescribe/internal/audio"
)

// FileStore writes WAV and text artifacts under Dir.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

// WriteWAV encodes pcm as a mono 16-bit WAV file and returns its path.
func (s *FileStore) WriteWAV(name string, pcm []byte, sampleRate int) (string, error) {
	path, err := s.prepare(name)
	if err != nil {
		return "", err
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	if err := audio.EncodeWAV(f, pcm, sampleRate); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	return path, nil
}

// WriteText writes text as UTF-8, creating an empty file for empty text.
func (s *FileStore) WriteText(name string, text string) (string, error) {
	path, err := s.prepare(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

func (s *FileStore) prepare(name string) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	return filepath.Join(dir, name), nil
}
