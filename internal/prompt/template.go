// Package prompt turns a record into the instruction sent to the model.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flarebyte/scribe/internal/record"
)

// ErrMissingField reports a placeholder with no value in the record.
var ErrMissingField = errors.New("missing template field")

// InputName always refers to the designated input field.
const InputName = "input"

type segment struct {
	text string
	name string
}

// Template is a parsed instruction template. {name} is replaced by the value
// of name; {{ and }} are literal braces.
type Template struct {
	segs []segment
	src  string
}

// Parse compiles text. Unbalanced braces are an error.
func Parse(text string) (*Template, error) {
	t := &Template{src: text}
	var lit strings.Builder
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '{' && i+1 < len(text) && text[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(text) && text[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("template: unclosed '{' at offset %d", i)
			}
			name := strings.TrimSpace(text[i+1 : i+1+end])
			if name == "" || strings.ContainsAny(name, "{\n") {
				return nil, fmt.Errorf("template: bad placeholder at offset %d", i)
			}
			if lit.Len() > 0 {
				t.segs = append(t.segs, segment{text: lit.String()})
				lit.Reset()
			}
			t.segs = append(t.segs, segment{name: name})
			i += end + 1
		case c == '}':
			return nil, fmt.Errorf("template: unmatched '}' at offset %d", i)
		default:
			lit.WriteByte(c)
		}
	}
	if lit.Len() > 0 {
		t.segs = append(t.segs, segment{text: lit.String()})
	}
	return t, nil
}

// MustParse is Parse for literals.
func MustParse(text string) *Template {
	t, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Template) String() string { return t.src }

// Placeholders lists the distinct names used, in order of first use.
func (t *Template) Placeholders() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, s := range t.segs {
		if s.name == "" {
			continue
		}
		if _, ok := seen[s.name]; ok {
			continue
		}
		seen[s.name] = struct{}{}
		out = append(out, s.name)
	}
	return out
}

// Values resolves placeholder names. Vars win over {input}, which wins over
// record fields.
type Values struct {
	Record     record.Record
	InputField string
	Vars       map[string]string
}

func (v Values) lookup(name string) (string, bool) {
	if s, ok := v.Vars[name]; ok {
		return s, true
	}
	if name == InputName && v.InputField != "" {
		return v.Record.Text(v.InputField)
	}
	return v.Record.Text(name)
}

// Execute renders the template. Strings are inserted verbatim, other JSON
// values as compact JSON.
func (t *Template) Execute(v Values) (string, error) {
	var b strings.Builder
	for _, s := range t.segs {
		if s.name == "" {
			b.WriteString(s.text)
			continue
		}
		val, ok := v.lookup(s.name)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrMissingField, s.name)
		}
		b.WriteString(val)
	}
	return b.String(), nil
}
