package run

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flarebyte/scribe/internal/testutil"
)

func writeJob(t *testing.T, dir, provider, extra string) string {
	t.Helper()
	testutil.WriteLines(t, filepath.Join(dir, "in.jsonl"),
		`{"id":1,"question":"hello"}`,
		`{"id":2,"question":""}`,
		`{"id":3,"question":"world"}`,
	)
	src := `configVersion: "1"
input: path: "in.jsonl"
output: path: "out/result.jsonl"
record: inputField: "question"
service: provider: "` + provider + `"
` + extra
	if !strings.Contains(extra, "prompt:") {
		src += "prompt: template: \"Q: {input}\"\n"
	}
	return testutil.WriteFile(t, filepath.Join(dir, "job.cue"), src)
}

func runOnce(t *testing.T, opts options) (map[string]any, string, error) {
	t.Helper()
	t.Setenv("SCRIBE_OTEL_ENABLED", "false")
	var stdout, stderr bytes.Buffer
	err := execute(context.Background(), opts, &stdout, &stderr, false)
	summaryLine := stdout.String()
	if opts.DryRun {
		summaryLine = lastLine(stderr.String())
	}
	var sum map[string]any
	if strings.TrimSpace(summaryLine) != "" {
		if jerr := json.Unmarshal([]byte(summaryLine), &sum); jerr != nil {
			t.Fatalf("summary is not one JSON line: %q (%v)", summaryLine, jerr)
		}
	}
	if opts.DryRun {
		return sum, stdout.String(), err
	}
	return sum, stderr.String(), err
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	return lines[len(lines)-1]
}

func TestExecute_WritesAndResumes(t *testing.T) {
	dir := t.TempDir()
	cfg := writeJob(t, dir, "echo", "")

	sum, _, err := runOnce(t, options{ConfigPath: cfg})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum["state"] != "done" || sum["written"] != float64(3) || sum["augmented"] != float64(2) || sum["passedThrough"] != float64(1) {
		t.Fatalf("unexpected summary: %v", sum)
	}
	got := testutil.ReadLines(t, filepath.Join(dir, "out", "result.jsonl"))
	want := []string{
		`{"id":1,"question":"hello","result":"Q: hello"}`,
		`{"id":2,"question":""}`,
		`{"id":3,"question":"world","result":"Q: world"}`,
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("output mismatch\nwant: %v\n got: %v", want, got)
	}

	sum, _, err = runOnce(t, options{ConfigPath: cfg})
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if sum["offset"] != float64(3) || sum["written"] != float64(0) {
		t.Fatalf("rerun should be a no-op: %v", sum)
	}
	if n := len(testutil.ReadLines(t, filepath.Join(dir, "out", "result.jsonl"))); n != 3 {
		t.Fatalf("rerun appended records: %d lines", n)
	}
}

func TestExecute_LimitOverride(t *testing.T) {
	dir := t.TempDir()
	cfg := writeJob(t, dir, "echo", "")
	one := 1
	sum, _, err := runOnce(t, options{ConfigPath: cfg, Limit: &one})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum["written"] != float64(1) {
		t.Fatalf("unexpected summary: %v", sum)
	}
	sum, _, err = runOnce(t, options{ConfigPath: cfg})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum["offset"] != float64(1) || sum["written"] != float64(2) {
		t.Fatalf("unexpected summary after limit: %v", sum)
	}
}

func TestExecute_DryRunLeavesOutputAlone(t *testing.T) {
	dir := t.TempDir()
	cfg := writeJob(t, dir, "openai", "")
	sum, records, err := runOnce(t, options{ConfigPath: cfg, DryRun: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum["written"] != float64(3) {
		t.Fatalf("unexpected summary: %v", sum)
	}
	if !strings.Contains(records, `"result":"Q: world"`) {
		t.Fatalf("records not printed: %q", records)
	}
	if n := len(testutil.ReadLines(t, filepath.Join(dir, "out", "result.jsonl"))); n != 0 {
		t.Fatalf("dry run wrote %d lines", n)
	}
}

func writeAnswerable(t *testing.T, dir string) {
	t.Helper()
	testutil.WriteLines(t, filepath.Join(dir, "in.jsonl"),
		`{"id":1,"question":"hello"}`,
		`{"id":2,"question":"world"}`,
	)
}

func TestExecute_AllFailedKeepGoing(t *testing.T) {
	dir := t.TempDir()
	cfg := writeJob(t, dir, "echo", "prompt: template: \"{missing}\"\n")
	writeAnswerable(t, dir)
	sum, _, err := runOnce(t, options{ConfigPath: cfg})
	assertExitError(t, err, "keep-going: no successful records", exitCodeExecErr)
	if sum["failed"] != float64(2) || sum["written"] != float64(2) {
		t.Fatalf("unexpected summary: %v", sum)
	}
	lines := testutil.ReadLines(t, filepath.Join(dir, "out", "result.jsonl"))
	if !strings.Contains(lines[0], `"error":"prompt:`) {
		t.Fatalf("error field missing: %s", lines[0])
	}
}

func TestExecute_AllFailedTolerant(t *testing.T) {
	dir := t.TempDir()
	cfg := writeJob(t, dir, "echo", "prompt: template: \"{missing}\"\nerrors: mode: \"tolerant\"\n")
	writeAnswerable(t, dir)
	if _, _, err := runOnce(t, options{ConfigPath: cfg}); err != nil {
		t.Fatalf("tolerant mode should succeed: %v", err)
	}
}

func TestExecute_ProgressLines(t *testing.T) {
	dir := t.TempDir()
	cfg := writeJob(t, dir, "echo", "ui: progress: true\n")
	_, stderr, err := runOnce(t, options{ConfigPath: cfg})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stderr, "progress state=done processed=3 written=3 failed=0 malformed=0") {
		t.Fatalf("missing final progress line: %q", stderr)
	}
	if !strings.Contains(stderr, "done: 3 written (2 augmented, 1 passed through, 0 failed, 0 malformed), resumed at 0") {
		t.Fatalf("missing closing line: %q", stderr)
	}
}

func TestExecute_Rejects(t *testing.T) {
	dir := t.TempDir()
	cfg := writeJob(t, dir, "echo", "")
	zero := 0
	if _, _, err := runOnce(t, options{ConfigPath: cfg, Workers: &zero}); err == nil || !strings.Contains(err.Error(), "--workers") {
		t.Fatalf("expected workers error, got %v", err)
	}
	if _, _, err := runOnce(t, options{ConfigPath: filepath.Join(dir, "nope.cue")}); err == nil {
		t.Fatalf("expected missing config error")
	}
}

func TestExecute_MissingInputFails(t *testing.T) {
	dir := t.TempDir()
	cfg := testutil.WriteFile(t, filepath.Join(dir, "job.cue"), `configVersion: "1"
input: path: "absent.jsonl"
output: path: "out.jsonl"
record: inputField: "q"
prompt: template: "{input}"
service: provider: "echo"
`)
	sum, _, err := runOnce(t, options{ConfigPath: cfg})
	if err == nil {
		t.Fatalf("expected fatal error")
	}
	if sum["state"] != "failed" {
		t.Fatalf("unexpected summary: %v", sum)
	}
	if _, ok := err.(interface{ ExitCode() int }); ok {
		t.Fatalf("fatal error should use the default exit code")
	}
}
