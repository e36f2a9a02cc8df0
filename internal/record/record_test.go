package record

import (
	"errors"
	"testing"
)

func TestParse_CompactsAndKeepsOrder(t *testing.T) {
	r, err := Parse([]byte(`  {"question": "Q1", "answer" : 2, "a": {"z":1, "b":2}}` + "\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := `{"question":"Q1","answer":2,"a":{"z":1,"b":2}}`
	if r.String() != want {
		t.Fatalf("got %s want %s", r.String(), want)
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want error
	}{
		{"garbage", `{"question":`, ErrNotJSON},
		{"array", `[1,2]`, ErrNotObject},
		{"string", `"x"`, ErrNotObject},
		{"empty", ``, ErrNotJSON},
		{"invalid utf8 in string", "{\"q\":\"a\xffb\"}", ErrNotJSON},
		{"truncated utf8", "{\"q\":\"\xe2\x82\"}", ErrNotJSON},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.in))
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v got %v", tc.want, err)
			}
		})
	}
}

func TestWith_AppendsNewFieldLast(t *testing.T) {
	r := MustParse(`{"question":"Q1"}`)
	out, err := r.With("result", "A1")
	if err != nil {
		t.Fatalf("with: %v", err)
	}
	if out.String() != `{"question":"Q1","result":"A1"}` {
		t.Fatalf("unexpected: %s", out)
	}
	if r.String() != `{"question":"Q1"}` {
		t.Fatalf("original mutated: %s", r)
	}
}

func TestWith_ReplacesInPlace(t *testing.T) {
	r := MustParse(`{"result":"old","question":"Q"}`)
	out, err := r.With("result", "new")
	if err != nil {
		t.Fatalf("with: %v", err)
	}
	if out.String() != `{"result":"new","question":"Q"}` {
		t.Fatalf("unexpected: %s", out)
	}
}

func TestWith_NoHTMLEscaping(t *testing.T) {
	out, err := MustParse(`{}`).With("result", "<think>a & b</think>")
	if err != nil {
		t.Fatalf("with: %v", err)
	}
	if out.String() != `{"result":"<think>a & b</think>"}` {
		t.Fatalf("unexpected: %s", out)
	}
}

func TestWithout(t *testing.T) {
	r := MustParse(`{"image":"data:...","question":"Q","meta":{"x":1}}`)
	out, err := r.Without("image", "missing", "meta.x")
	if err != nil {
		t.Fatalf("without: %v", err)
	}
	if out.String() != `{"question":"Q","meta":{}}` {
		t.Fatalf("unexpected: %s", out)
	}
}

func TestTextAndEmpty(t *testing.T) {
	r := MustParse(`{"s":"x","e":"","n":null,"num":3,"obj":{"a":1},"nested":{"p":"deep"}}`)
	cases := []struct {
		path  string
		want  string
		ok    bool
		empty bool
	}{
		{"s", "x", true, false},
		{"e", "", true, true},
		{"n", "", false, true},
		{"missing", "", false, true},
		{"num", "3", true, false},
		{"obj", `{"a":1}`, true, false},
		{"nested.p", "deep", true, false},
	}
	for _, tc := range cases {
		got, ok := r.Text(tc.path)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("Text(%s) = %q,%v want %q,%v", tc.path, got, ok, tc.want, tc.ok)
		}
		if r.Empty(tc.path) != tc.empty {
			t.Fatalf("Empty(%s) = %v", tc.path, !tc.empty)
		}
	}
}

func TestFieldPath_EscapesSpecials(t *testing.T) {
	r := MustParse(`{"a.b":"dotted","a":{"b":"nested"}}`)
	if got, _ := r.Text(FieldPath("a.b")); got != "dotted" {
		t.Fatalf("escaped lookup: %q", got)
	}
	if got, _ := r.Text("a.b"); got != "nested" {
		t.Fatalf("path lookup: %q", got)
	}
}

func TestBuilder_KeepsInsertionOrder(t *testing.T) {
	var b Builder
	if err := b.Set("zeta", "z"); err != nil {
		t.Fatal(err)
	}
	if err := b.Set("alpha", 1); err != nil {
		t.Fatal(err)
	}
	if err := b.SetRaw("nested", []byte(`{"k":[1,2]}`)); err != nil {
		t.Fatal(err)
	}
	if err := b.Set("alpha", 2); err == nil {
		t.Fatalf("expected duplicate error")
	}
	r, err := b.Record()
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if r.String() != `{"zeta":"z","alpha":1,"nested":{"k":[1,2]}}` {
		t.Fatalf("unexpected: %s", r)
	}
}

func TestBuilder_Empty(t *testing.T) {
	var b Builder
	r, err := b.Record()
	if err != nil || r.String() != "{}" {
		t.Fatalf("got %s, %v", r, err)
	}
}

func TestValidPath(t *testing.T) {
	if !ValidPath("result") || !ValidPath("out.result") {
		t.Fatalf("expected valid")
	}
	if ValidPath("") || ValidPath("  ") {
		t.Fatalf("expected invalid")
	}
}
