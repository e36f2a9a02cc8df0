// Package source enumerates input records in a stable order. Every Source can
// be re-opened from the start, which is what makes resume-by-count work.
package source

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/flarebyte/scribe/internal/record"
)

// ErrUnavailable wraps failures to open or enumerate the input.
var ErrUnavailable = errors.New("source unavailable")

// Entry is one item read from a source. Exactly one of Record or Malformed is
// set.
type Entry struct {
	Record  record.Record
	Locator string
	// Malformed holds the parse failure of an unreadable item.
	Malformed error
	// Raw is the original text of a malformed item, when it has one.
	Raw string
}

func (e Entry) OK() bool { return e.Malformed == nil }

// Iterator yields entries until io.EOF.
type Iterator interface {
	Next() (Entry, error)
	Close() error
}

type Source interface {
	Open(ctx context.Context) (Iterator, error)
	Describe() string
}

const (
	FormatJSONL  = "jsonl"
	FormatYAML   = "yaml"
	FormatSQLite = "sqlite"
	FormatDir    = "dir"
)

// Options selects and configures a source.
type Options struct {
	Path        string
	Format      string
	Table       string
	NoGitignore bool
	Limit       int
}

// New builds the source described by opts. An empty Format is inferred from
// the path.
func New(opts Options) (Source, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("%w: input path is empty", ErrUnavailable)
	}
	format := opts.Format
	if format == "" {
		format = InferFormat(opts.Path)
	}
	var src Source
	switch format {
	case FormatJSONL:
		src = JSONL{Path: opts.Path}
	case FormatYAML:
		src = YAML{Path: opts.Path}
	case FormatSQLite:
		src = SQLite{Path: opts.Path, Table: opts.Table}
	case FormatDir:
		src = Dir{Root: opts.Path, NoGitignore: opts.NoGitignore}
	default:
		return nil, fmt.Errorf("unknown input format %q", format)
	}
	if opts.Limit > 0 {
		src = Limit(src, opts.Limit)
	}
	return src, nil
}

// InferFormat guesses the format from the file extension. Paths without a
// known extension are read as a directory of shards.
func InferFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL
	case ".yaml", ".yml":
		return FormatYAML
	case ".db", ".sqlite", ".sqlite3":
		return FormatSQLite
	}
	return FormatDir
}

func unavailable(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, what, err)
}
