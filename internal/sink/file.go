package sink

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BadgerOps/shadowsync/internal/config"
)

// fileSink appends one JSON record per line to an event log consumed by a
// structured-log formatter.
type fileSink struct {
	f *os.File
}

func newFileSink(cfg config.SinkConfig) (Sink, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return &fileSink{f: f}, nil
}

func (s *fileSink) Notify(message string) error {
	_, err := s.f.WriteString(message + "\n")
	return err
}

func (s *fileSink) Close() error {
	return s.f.Close()
}
