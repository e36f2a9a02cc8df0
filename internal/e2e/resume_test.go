package e2e

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/flarebyte/scribe/internal/testutil"
)

const total = 12

func writeInput(t *testing.T, dir string) {
	t.Helper()
	lines := make([]string, 0, total+1)
	for i := 0; i < total; i++ {
		q := fmt.Sprintf("q%02d", i)
		if i == 5 {
			q = "boom"
		}
		lines = append(lines, fmt.Sprintf(`{"id":%d,"question":%q}`, i, q))
		if i == 8 {
			lines = append(lines, `not json`)
		}
	}
	testutil.WriteLines(t, filepath.Join(dir, "in.jsonl"), lines...)
}

func writeConfig(t *testing.T, dir, baseURL string, workers int) string {
	t.Helper()
	return testutil.WriteFile(t, filepath.Join(dir, "job.cue"), fmt.Sprintf(`configVersion: "1"
input: path: "in.jsonl"
output: path: "out/result.jsonl"
record: inputField: "question"
prompt: template: "Q: {input}"
service: {
	provider: "openai"
	model:    "test"
	baseURL:  %q
}
workers: %d
`, baseURL, workers))
}

func expected() []string {
	out := make([]string, 0, total)
	for i := 0; i < total; i++ {
		if i == 5 {
			// Error text depends on the SDK; assertOutput checks fields.
			out = append(out, "")
			continue
		}
		out = append(out, fmt.Sprintf(`{"id":%d,"question":"q%02d","result":"A:Q: q%02d"}`, i, i, i))
	}
	return out
}

func assertOutput(t *testing.T, path string) {
	t.Helper()
	got := testutil.ReadLines(t, path)
	want := expected()
	if len(got) != len(want) {
		t.Fatalf("want %d lines, got %d:\n%s", len(want), len(got), strings.Join(got, "\n"))
	}
	for i := range want {
		if i == 5 {
			if gjson.Get(got[i], "id").Int() != 5 || !gjson.Get(got[i], "error").Exists() || gjson.Get(got[i], "result").Exists() {
				t.Fatalf("line %d: %s", i, got[i])
			}
			continue
		}
		if got[i] != want[i] {
			t.Fatalf("line %d\nwant: %s\n got: %s", i, want[i], got[i])
		}
	}
}

func TestRun_CompletesWithPerRecordFailure(t *testing.T) {
	bin := buildScribe(t)
	srv := newChatServer(t)
	dir := t.TempDir()
	writeInput(t, dir)
	cfg := writeConfig(t, dir, srv.URL+"/v1", 1)

	r := runCmd(t, bin, "run", "--config", cfg)
	if r.code != 0 {
		t.Fatalf("exit %d\n%s", r.code, r.stderr)
	}
	sum := gjson.ParseBytes(r.stdout)
	if sum.Get("state").String() != "done" || sum.Get("written").Int() != total || sum.Get("failed").Int() != 1 || sum.Get("malformed").Int() != 1 {
		t.Fatalf("unexpected summary: %s", r.stdout)
	}
	assertOutput(t, filepath.Join(dir, "out", "result.jsonl"))

	calls := srv.calls.Load()
	r = runCmd(t, bin, "run", "--config", cfg)
	if r.code != 0 || srv.calls.Load() != calls {
		t.Fatalf("rerun of a complete job called the service (exit %d)", r.code)
	}
}

func TestRun_ResumesAfterInterrupt(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs SIGINT")
	}
	bin := buildScribe(t)
	srv := newChatServer(t)
	srv.delay.Store(int64(150 * time.Millisecond))
	dir := t.TempDir()
	writeInput(t, dir)
	cfg := writeConfig(t, dir, srv.URL+"/v1", 1)
	out := filepath.Join(dir, "out", "result.jsonl")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	cmd := command(ctx, bin, "run", "--config", cfg)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(30 * time.Second)
	for len(testutil.ReadLines(t, out)) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("no progress before deadline\n%s", stderr.String())
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		t.Fatalf("signal: %v", err)
	}
	r := finish(cmd.Wait(), &stdout, &stderr)
	if r.code != 130 {
		t.Fatalf("want exit 130, got %d\n%s", r.code, r.stderr)
	}
	partial := testutil.ReadLines(t, out)
	if len(partial) >= total {
		t.Fatalf("interrupt came too late: %d lines", len(partial))
	}
	if gjson.ParseBytes(r.stdout).Get("state").String() != "interrupted" {
		t.Fatalf("unexpected summary: %s", r.stdout)
	}

	srv.delay.Store(0)
	r = runCmd(t, bin, "run", "--config", cfg)
	if r.code != 0 {
		t.Fatalf("resume exit %d\n%s", r.code, r.stderr)
	}
	if got := gjson.ParseBytes(r.stdout).Get("offset").Int(); got != int64(len(partial)) {
		t.Fatalf("resumed at %d, want %d", got, len(partial))
	}
	assertOutput(t, out)
}

func TestRun_WorkersMatchSequentialOutput(t *testing.T) {
	bin := buildScribe(t)
	srv := newChatServer(t)
	var outputs [][]string
	for _, workers := range []int{1, 4} {
		dir := t.TempDir()
		writeInput(t, dir)
		cfg := writeConfig(t, dir, srv.URL+"/v1", workers)
		if r := runCmd(t, bin, "run", "--config", cfg); r.code != 0 {
			t.Fatalf("workers=%d exit %d\n%s", workers, r.code, r.stderr)
		}
		outputs = append(outputs, testutil.ReadLines(t, filepath.Join(dir, "out", "result.jsonl")))
	}
	if strings.Join(outputs[0], "\n") != strings.Join(outputs[1], "\n") {
		t.Fatalf("output differs between worker counts\n1: %v\n4: %v", outputs[0], outputs[1])
	}
}

func TestVersion(t *testing.T) {
	bin := buildScribe(t)
	r := runCmd(t, bin, "version")
	if r.code != 0 || !strings.HasPrefix(string(r.stdout), "scribe ") {
		t.Fatalf("unexpected version output: %d %q", r.code, r.stdout)
	}
}

func TestRun_MissingConfigFlag(t *testing.T) {
	bin := buildScribe(t)
	r := runCmd(t, bin, "run")
	if r.code != 1 || string(r.stderr) != "missing required flag: --config\n" {
		t.Fatalf("unexpected result: %d %q", r.code, r.stderr)
	}
}
