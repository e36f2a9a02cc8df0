// Package record holds the order-preserving JSON object that flows through a
// scribe job: read from a source, augmented by the processor, appended to the
// output stream.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	// ErrNotJSON is returned by Parse for text that is not valid JSON.
	ErrNotJSON = errors.New("invalid JSON")
	// ErrNotObject is returned by Parse for valid JSON that is not an object.
	ErrNotObject = errors.New("not a JSON object")
)

// Record is an immutable JSON object. Field order is kept exactly as read and
// new fields are appended after existing ones.
type Record struct {
	raw []byte
}

// Parse validates b as a UTF-8 JSON object and returns its compact form.
func Parse(b []byte) (Record, error) {
	b = bytes.TrimSpace(b)
	if !utf8.Valid(b) || !gjson.ValidBytes(b) {
		return Record{}, ErrNotJSON
	}
	if !gjson.ParseBytes(b).IsObject() {
		return Record{}, ErrNotObject
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	return Record{raw: buf.Bytes()}, nil
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(s string) Record {
	r, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return r
}

// Bytes returns the compact JSON encoding. Callers must not modify it.
func (r Record) Bytes() []byte {
	if r.raw == nil {
		return []byte("{}")
	}
	return r.raw
}

func (r Record) String() string { return string(r.Bytes()) }

// MarshalJSON emits the record as-is.
func (r Record) MarshalJSON() ([]byte, error) { return r.Bytes(), nil }

// IsZero reports whether r was never initialised.
func (r Record) IsZero() bool { return r.raw == nil }

// Get looks up a gjson path.
func (r Record) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Bytes(), path)
}

// Text returns the field at path as text. Strings are returned verbatim,
// other values as their JSON encoding. Absent and null fields report false.
func (r Record) Text(path string) (string, bool) {
	v := r.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return "", false
	}
	if v.Type == gjson.String {
		return v.Str, true
	}
	return v.Raw, true
}

// Empty reports whether the field at path is absent, null or "".
func (r Record) Empty(path string) bool {
	s, ok := r.Text(path)
	return !ok || s == ""
}

// With returns a copy of r with the string value set at path.
func (r Record) With(path, value string) (Record, error) {
	enc, err := EncodeString(value)
	if err != nil {
		return Record{}, err
	}
	return r.WithRaw(path, enc)
}

// WithRaw returns a copy of r with raw JSON set at path.
func (r Record) WithRaw(path string, raw []byte) (Record, error) {
	src := append([]byte(nil), r.Bytes()...)
	out, err := sjson.SetRawBytes(src, path, raw)
	if err != nil {
		return Record{}, fmt.Errorf("set %s: %w", path, err)
	}
	return Record{raw: out}, nil
}

// Without returns a copy of r with the given paths removed. Missing paths
// are ignored.
func (r Record) Without(paths ...string) (Record, error) {
	out := append([]byte(nil), r.Bytes()...)
	for _, p := range paths {
		if !gjson.GetBytes(out, p).Exists() {
			continue
		}
		var err error
		out, err = sjson.DeleteBytes(out, p)
		if err != nil {
			return Record{}, fmt.Errorf("delete %s: %w", p, err)
		}
	}
	return Record{raw: out}, nil
}

// Fields decodes the record into a generic map.
func (r Record) Fields() map[string]any {
	m := map[string]any{}
	_ = json.Unmarshal(r.Bytes(), &m)
	return m
}

// EncodeString returns the JSON encoding of s without HTML escaping, so model
// output such as "<think>" survives unchanged.
func EncodeString(s string) ([]byte, error) {
	return Encode(s)
}

// Encode returns the compact JSON encoding of v without HTML escaping.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// FieldPath escapes a literal field name so it can be used as a gjson/sjson
// path addressing a single top-level key.
func FieldPath(name string) string {
	var b strings.Builder
	for _, c := range name {
		switch c {
		case '.', '*', '?':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

// ValidPath reports whether path can address a field for writing.
func ValidPath(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	_, err := sjson.SetBytes([]byte("{}"), path, "x")
	return err == nil
}
