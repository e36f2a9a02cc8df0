package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/flarebyte/scribe/internal/record"
)

// JSONL reads one JSON object per line. Blank lines are ignored.
type JSONL struct {
	Path string
}

func (s JSONL) Describe() string { return "jsonl:" + s.Path }

func (s JSONL) Open(ctx context.Context) (Iterator, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, unavailable(s.Path, err)
	}
	return newLineIterator(f, s.Path), nil
}

type lineIterator struct {
	r    *bufio.Reader
	c    io.Closer
	name string
	line int
}

func newLineIterator(rc io.ReadCloser, name string) *lineIterator {
	return &lineIterator{r: bufio.NewReaderSize(rc, 64<<10), c: rc, name: name}
}

func (it *lineIterator) Next() (Entry, error) {
	for {
		b, err := it.r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Entry{}, fmt.Errorf("%s:%d: %w", it.name, it.line+1, err)
		}
		if len(b) == 0 && err != nil {
			return Entry{}, io.EOF
		}
		it.line++
		trimmed := bytes.TrimSpace(b)
		if len(trimmed) == 0 {
			if err != nil {
				return Entry{}, io.EOF
			}
			continue
		}
		loc := fmt.Sprintf("%s:%d", it.name, it.line)
		rec, perr := record.Parse(trimmed)
		if perr != nil {
			return Entry{Locator: loc, Malformed: perr, Raw: string(trimmed)}, nil
		}
		return Entry{Record: rec, Locator: loc}, nil
	}
}

func (it *lineIterator) Close() error { return it.c.Close() }
