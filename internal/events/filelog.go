package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileLog appends events to a newline-delimited JSON file. It is the
// cheapest durable sink: useful for local runs and as a replay source
// when no database is configured.
type FileLog struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileLog opens (or creates) the log file for appending.
func NewFileLog(path string) (*FileLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileLog{f: f}, nil
}

func (l *FileLog) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.f.Write(append(data, '\n'))
	if err != nil {
		return err
	}
	if n != len(data)+1 {
		return fmt.Errorf("partial write: wrote %d of %d bytes", n, len(data)+1)
	}
	return l.f.Sync()
}

// Close releases the underlying file handle.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
