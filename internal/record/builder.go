package record

import (
	"bytes"
	"fmt"
)

// Builder assembles a Record field by field, keeping insertion order. Sources
// that do not read JSON (YAML, SQLite) use it to produce records.
type Builder struct {
	buf  bytes.Buffer
	keys map[string]struct{}
}

// Set appends name with the JSON encoding of v.
func (b *Builder) Set(name string, v any) error {
	enc, err := Encode(v)
	if err != nil {
		return fmt.Errorf("field %s: %w", name, err)
	}
	return b.SetRaw(name, enc)
}

// SetRaw appends name with an already encoded JSON value.
func (b *Builder) SetRaw(name string, raw []byte) error {
	if b.keys == nil {
		b.keys = map[string]struct{}{}
	}
	if _, dup := b.keys[name]; dup {
		return fmt.Errorf("duplicate field: %s", name)
	}
	b.keys[name] = struct{}{}
	key, err := EncodeString(name)
	if err != nil {
		return err
	}
	if b.buf.Len() == 0 {
		b.buf.WriteByte('{')
	} else {
		b.buf.WriteByte(',')
	}
	b.buf.Write(key)
	b.buf.WriteByte(':')
	b.buf.Write(raw)
	return nil
}

// Record finishes the object. The builder can be reused after Reset.
func (b *Builder) Record() (Record, error) {
	if b.buf.Len() == 0 {
		return Parse([]byte("{}"))
	}
	out := append([]byte(nil), b.buf.Bytes()...)
	out = append(out, '}')
	return Parse(out)
}

// Reset clears the builder.
func (b *Builder) Reset() {
	b.buf.Reset()
	b.keys = nil
}
