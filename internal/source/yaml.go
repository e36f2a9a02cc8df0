package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/flarebyte/scribe/internal/record"
)

// YAML reads a multi-document stream where each mapping document is a record.
// Key order is kept as written.
type YAML struct {
	Path string
}

func (s YAML) Describe() string { return "yaml:" + s.Path }

func (s YAML) Open(ctx context.Context) (Iterator, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, unavailable(s.Path, err)
	}
	return &yamlIterator{dec: yaml.NewDecoder(f), c: f, name: s.Path}, nil
}

type yamlIterator struct {
	dec  *yaml.Decoder
	c    io.Closer
	name string
	doc  int
}

// Next returns io.EOF at the end of the stream. A syntax error ends the
// stream with an error since the decoder cannot resynchronise.
func (it *yamlIterator) Next() (Entry, error) {
	for {
		var n yaml.Node
		if err := it.dec.Decode(&n); err != nil {
			if errors.Is(err, io.EOF) {
				return Entry{}, io.EOF
			}
			return Entry{}, fmt.Errorf("%s#%d: %w", it.name, it.doc+1, err)
		}
		it.doc++
		body := &n
		if n.Kind == yaml.DocumentNode {
			if len(n.Content) == 0 {
				continue
			}
			body = n.Content[0]
		}
		loc := fmt.Sprintf("%s#%d", it.name, it.doc)
		if body.Kind == yaml.ScalarNode && body.Tag == "!!null" {
			continue
		}
		if body.Kind != yaml.MappingNode {
			return Entry{Locator: loc, Malformed: record.ErrNotObject, Raw: nodeText(body)}, nil
		}
		raw, err := nodeJSON(body)
		if err != nil {
			return Entry{Locator: loc, Malformed: err, Raw: nodeText(body)}, nil
		}
		rec, err := record.Parse(raw)
		if err != nil {
			return Entry{Locator: loc, Malformed: err, Raw: nodeText(body)}, nil
		}
		return Entry{Record: rec, Locator: loc}, nil
	}
}

func (it *yamlIterator) Close() error { return it.c.Close() }

// nodeJSON converts a YAML node to compact JSON, preserving mapping order.
func nodeJSON(n *yaml.Node) ([]byte, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return []byte("null"), nil
		}
		return nodeJSON(n.Content[0])
	case yaml.AliasNode:
		return nodeJSON(n.Alias)
	case yaml.MappingNode:
		var b record.Builder
		for i := 0; i+1 < len(n.Content); i += 2 {
			k := n.Content[i]
			if k.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: non-scalar key", k.Line)
			}
			v, err := nodeJSON(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			if err := b.SetRaw(k.Value, v); err != nil {
				return nil, fmt.Errorf("line %d: %w", k.Line, err)
			}
		}
		rec, err := b.Record()
		if err != nil {
			return nil, err
		}
		return rec.Bytes(), nil
	case yaml.SequenceNode:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, c := range n.Content {
			v, err := nodeJSON(c)
			if err != nil {
				return nil, err
			}
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(v)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case yaml.ScalarNode:
		if n.Tag == "!!str" || n.Tag == "!!binary" {
			return record.EncodeString(n.Value)
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		out, err := record.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("line %d: unsupported node", n.Line)
}

func nodeText(n *yaml.Node) string {
	b, err := yaml.Marshal(n)
	if err != nil {
		return n.Value
	}
	return string(bytes.TrimSpace(b))
}
