// Package resume derives job progress from the output stream itself. The
// output file is the checkpoint: there is no manifest to drift from it.
package resume

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// ErrUnreadable wraps failures to inspect an existing output file.
var ErrUnreadable = errors.New("output unreadable")

// Progress describes what a previous run left in the output file.
type Progress struct {
	Exists bool `json:"exists"`
	// Records counts complete, newline-terminated, non-blank lines.
	Records int `json:"records"`
	// Bytes is the file size.
	Bytes int64 `json:"bytes"`
	// TornBytes is the length of a trailing fragment with no newline, left by
	// a write that never completed.
	TornBytes int64 `json:"tornBytes,omitempty"`
}

// Offset is the number of input records already written.
func (p Progress) Offset() int { return p.Records }

// Inspect counts the records already in the file at path. A missing file is
// zero progress.
func Inspect(path string) (Progress, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Progress{}, nil
		}
		return Progress{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return Progress{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if st.IsDir() {
		return Progress{}, fmt.Errorf("%w: %s is a directory", ErrUnreadable, path)
	}
	p, err := Count(f)
	if err != nil {
		return Progress{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	p.Exists = true
	return p, nil
}

// Count scans r line by line. Lines may be arbitrarily long.
func Count(r io.Reader) (Progress, error) {
	var p Progress
	br := bufio.NewReaderSize(r, 64<<10)
	var pending int64
	blank := true
	for {
		chunk, err := br.ReadSlice('\n')
		p.Bytes += int64(len(chunk))
		pending += int64(len(chunk))
		if blank && len(bytes.TrimSpace(chunk)) > 0 {
			blank = false
		}
		switch {
		case err == nil:
			if !blank {
				p.Records++
			}
			pending = 0
			blank = true
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if pending > 0 {
				p.TornBytes = pending
			}
			return p, nil
		default:
			return Progress{}, err
		}
	}
}
