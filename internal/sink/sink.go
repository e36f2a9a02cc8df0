// Package sink appends records to the durable NDJSON output stream.
package sink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-logr/logr"

	"github.com/flarebyte/scribe/internal/record"
	"github.com/flarebyte/scribe/internal/resume"
)

var (
	// ErrUnopenable wraps failures to create or open the output file.
	ErrUnopenable = errors.New("output unopenable")
	// ErrWrite wraps failures to append or flush a record.
	ErrWrite = errors.New("output write failed")
)

type Options struct {
	// Sync flushes the file to stable storage after each record.
	Sync bool
	Log  logr.Logger
}

// DefaultOptions syncs every append.
func DefaultOptions() Options {
	return Options{Sync: true, Log: logr.Discard()}
}

// Sink is an append-only NDJSON writer. Appends are serialized.
type Sink struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	sync    bool
	written int
}

// Open prepares path for appending. Parent directories are created and an
// existing file is never truncated, except for a trailing fragment without a
// newline, which is cut so the next record starts on a line boundary.
func Open(path string, opts Options) (*Sink, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrUnopenable)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnopenable, err)
		}
	}
	p, err := resume.Inspect(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnopenable, err)
	}
	if p.TornBytes > 0 {
		if err := os.Truncate(path, p.Bytes-p.TornBytes); err != nil {
			return nil, fmt.Errorf("%w: repair torn tail: %v", ErrUnopenable, err)
		}
		opts.Log.Info("cut incomplete trailing line", "path", path, "bytes", p.TornBytes)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnopenable, err)
	}
	return &Sink{f: f, path: path, sync: opts.Sync}, nil
}

// Append writes rec followed by a newline in a single write and, when
// syncing, returns only once the data is on stable storage.
func (s *Sink) Append(rec record.Record) error {
	line := make([]byte, 0, len(rec.Bytes())+1)
	line = append(line, rec.Bytes()...)
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("%w: sink closed", ErrWrite)
	}
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if s.sync {
		if err := s.f.Sync(); err != nil {
			return fmt.Errorf("%w: sync: %v", ErrWrite, err)
		}
	}
	s.written++
	return nil
}

// Written is the number of records appended by this Sink.
func (s *Sink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func (s *Sink) Path() string { return s.path }

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
