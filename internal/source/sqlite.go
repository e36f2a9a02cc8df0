package source

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/flarebyte/scribe/internal/record"
)

// SQLite reads every row of a table in rowid order. Column order becomes
// field order; BLOB columns become data: URLs.
type SQLite struct {
	Path string
	// Table defaults to the only table in the database.
	Table string
}

func (s SQLite) Describe() string {
	if s.Table == "" {
		return "sqlite:" + s.Path
	}
	return "sqlite:" + s.Path + "#" + s.Table
}

func (s SQLite) Open(ctx context.Context) (Iterator, error) {
	cleanPath := filepath.Clean(s.Path)
	// sql.Open would create a missing file.
	if _, err := os.Stat(cleanPath); err != nil {
		return nil, unavailable(s.Path, err)
	}
	db, err := sql.Open("sqlite", cleanPath+"?_pragma=query_only(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, unavailable(s.Path, fmt.Errorf("open sqlite db: %w", err))
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable(s.Path, fmt.Errorf("ping sqlite db: %w", err))
	}
	table := s.Table
	if table == "" {
		table, err = onlyTable(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, unavailable(s.Path, err)
		}
	}
	rows, err := db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(table)+" ORDER BY rowid")
	if err != nil {
		_ = db.Close()
		return nil, unavailable(s.Path, fmt.Errorf("query %s: %w", table, err))
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		_ = db.Close()
		return nil, unavailable(s.Path, err)
	}
	return &sqliteIterator{db: db, rows: rows, cols: cols, name: s.Path + "#" + table}, nil
}

func onlyTable(ctx context.Context, db *sql.DB) (string, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return "", fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return "", err
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(names) {
	case 0:
		return "", errors.New("database has no tables")
	case 1:
		return names[0], nil
	}
	return "", fmt.Errorf("input.table is required: database has %d tables (%s)", len(names), strings.Join(names, ", "))
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

type sqliteIterator struct {
	db   *sql.DB
	rows *sql.Rows
	cols []string
	name string
	row  int
}

func (it *sqliteIterator) Next() (Entry, error) {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return Entry{}, fmt.Errorf("%s: %w", it.name, err)
		}
		return Entry{}, io.EOF
	}
	it.row++
	vals := make([]any, len(it.cols))
	ptrs := make([]any, len(it.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := it.rows.Scan(ptrs...); err != nil {
		return Entry{}, fmt.Errorf("%s row %d: %w", it.name, it.row, err)
	}
	loc := fmt.Sprintf("%s:%d", it.name, it.row)
	var b record.Builder
	for i, col := range it.cols {
		v := vals[i]
		if blob, ok := v.([]byte); ok {
			v = DataURL(blob)
		}
		if err := b.Set(col, v); err != nil {
			return Entry{Locator: loc, Malformed: err}, nil
		}
	}
	rec, err := b.Record()
	if err != nil {
		return Entry{Locator: loc, Malformed: err}, nil
	}
	return Entry{Record: rec, Locator: loc}, nil
}

func (it *sqliteIterator) Close() error {
	rerr := it.rows.Close()
	if err := it.db.Close(); err != nil {
		return err
	}
	return rerr
}

// DataURL encodes data as a base64 data: URL with a sniffed media type.
func DataURL(data []byte) string {
	mt := http.DetectContentType(data)
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(data)
}
