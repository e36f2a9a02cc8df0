package source

import (
	"context"
	"fmt"
	"io"
)

// Limit yields at most n well-formed records from src. Malformed entries pass
// through and do not count.
func Limit(src Source, n int) Source {
	return limited{src: src, n: n}
}

type limited struct {
	src Source
	n   int
}

func (l limited) Describe() string { return fmt.Sprintf("%s (limit %d)", l.src.Describe(), l.n) }

func (l limited) Open(ctx context.Context) (Iterator, error) {
	it, err := l.src.Open(ctx)
	if err != nil {
		return nil, err
	}
	return &limitedIterator{Iterator: it, left: l.n}, nil
}

type limitedIterator struct {
	Iterator
	left int
}

func (it *limitedIterator) Next() (Entry, error) {
	if it.left <= 0 {
		return Entry{}, io.EOF
	}
	e, err := it.Iterator.Next()
	if err != nil {
		return e, err
	}
	if e.OK() {
		it.left--
	}
	return e, nil
}
