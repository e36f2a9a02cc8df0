package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/flarebyte/scribe/internal/testutil"
)

const minimalJob = `
configVersion: "1"
input: path: "data/in.jsonl"
output: path: "out/result.jsonl"
record: inputField: "question"
prompt: template: "Answer: {input}"
service: provider: "echo"
`

func TestLoad_DefaultsAndRelativePaths(t *testing.T) {
	dir := t.TempDir()
	job, err := Load(testutil.WriteFile(t, filepath.Join(dir, "job.cue"), minimalJob))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if job.Input.Path != filepath.Join(dir, "data", "in.jsonl") || job.Output.Path != filepath.Join(dir, "out", "result.jsonl") {
		t.Fatalf("paths not resolved: %+v %+v", job.Input, job.Output)
	}
	if job.Input.ImageRoot != dir {
		t.Fatalf("image root: %s", job.Input.ImageRoot)
	}
	if job.Record.ResultField != "result" || job.Record.ErrorField != "error" || job.Record.ThoughtField != "" {
		t.Fatalf("record defaults: %+v", job.Record)
	}
	if job.Workers != 1 || !job.Output.Sync || job.Input.Malformed != "skip" || job.Errors.Mode != ModeKeepGoing {
		t.Fatalf("defaults: %+v", job)
	}
	if job.Service.Temperature != nil || job.Prompt.LuaTimeoutMs != 2000 || job.UI.ProgressIntervalMs != 1000 {
		t.Fatalf("service/prompt defaults: %+v %+v", job.Service, job.Prompt)
	}
}

func TestLoad_FullJob(t *testing.T) {
	dir := t.TempDir()
	src := `
configVersion: "1"
input: {
	path:      "/data/vqa.db"
	format:    "sqlite"
	table:     "samples"
	limit:     100
	malformed: "emit"
}
output: path: "/tmp/out.jsonl"
record: {
	inputField:   "prediction"
	thoughtField: "thought"
	imageField:   "image"
	drop: ["image"]
	trimResult: true
}
prompt: {
	templateFile: "prompts/judge.yaml"
	vars: positive: "1"
	filter: "filters/keep.lua"
}
service: {
	provider:    "gemini"
	model:       "gemini-3-flash-preview"
	thinking:    "high"
	temperature: 0.2
	timeoutMs:   30000
}
workers: 4
errors: mode: "tolerant"
`
	job, err := Load(testutil.WriteFile(t, filepath.Join(dir, "job.cue"), src))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if job.Input.Path != "/data/vqa.db" || job.Input.Limit != 100 || job.Input.Malformed != "emit" {
		t.Fatalf("input: %+v", job.Input)
	}
	if job.Prompt.TemplateFile != filepath.Join(dir, "prompts", "judge.yaml") || job.Prompt.Filter != filepath.Join(dir, "filters", "keep.lua") {
		t.Fatalf("prompt paths: %+v", job.Prompt)
	}
	if job.Prompt.Vars["positive"] != "1" || len(job.Record.Drop) != 1 {
		t.Fatalf("prompt/record: %+v %+v", job.Prompt, job.Record)
	}
	if job.Service.Temperature == nil || *job.Service.Temperature != 0.2 || job.Workers != 4 || job.Errors.Mode != ModeTolerant {
		t.Fatalf("service: %+v", job.Service)
	}
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":     minimalJob + "\nextra: 1\n",
		"unknown nested":    minimalJob + "\ninput: colour: \"red\"\n",
		"bad provider":      strings.Replace(minimalJob, `"echo"`, `"bard"`, 1),
		"zero workers":      minimalJob + "\nworkers: 0\n",
		"two prompts":       minimalJob + "\nprompt: lua: \"return input\"\n",
		"no input field":    strings.Replace(minimalJob, `record: inputField: "question"`, ``, 1),
		"bad malformed":     minimalJob + "\ninput: malformed: \"explode\"\n",
		"bad thinking":      minimalJob + "\nservice: thinking: \"maybe\"\n",
		"no prompt":         strings.Replace(minimalJob, `prompt: template: "Answer: {input}"`, ``, 1),
		"empty output path": strings.Replace(minimalJob, `"out/result.jsonl"`, `""`, 1),
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(testutil.WriteFile(t, filepath.Join(t.TempDir(), "job.cue"), src)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoad_RequiresCueExtension(t *testing.T) {
	_, err := Load(testutil.WriteFile(t, filepath.Join(t.TempDir(), "job.json"), "{}"))
	if err == nil || err.Error() != "unsupported config format: expected .cue" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestParseEnv(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "g")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "o")
	t.Setenv("OPENAI_BASE_URL", "http://vllm:8000/v1")
	t.Setenv("OLLAMA_HOST", "gpu-box:11434")
	t.Setenv("SCRIBE_LOG_V", "2")
	t.Setenv("SCRIBE_OTEL_ENABLED", "false")
	e, err := ParseEnv()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if e.APIKey("gemini") != "g" || e.APIKey("openai") != "o" || e.APIKey("ollama") != "" {
		t.Fatalf("keys: %+v", e)
	}
	if e.BaseURL("openai") != "http://vllm:8000/v1" || e.BaseURL("ollama") != "gpu-box:11434" || e.BaseURL("gemini") != "" {
		t.Fatalf("base urls: %+v", e)
	}
	if e.LogV != 2 || e.OTelEnabled {
		t.Fatalf("flags: %+v", e)
	}

	t.Setenv("GEMINI_API_KEY", "gem")
	e, _ = ParseEnv()
	if e.APIKey("gemini") != "gem" {
		t.Fatalf("GEMINI_API_KEY should win")
	}
}

func TestParseEnv_BadValue(t *testing.T) {
	t.Setenv("SCRIBE_LOG_V", "loud")
	if _, err := ParseEnv(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEnvPresence(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "secret")
	vars, err := EnvPresence()
	if err != nil {
		t.Fatalf("presence: %v", err)
	}
	if len(vars) != 8 || vars[0].Name != "OPENAI_API_KEY" || !vars[0].Set {
		t.Fatalf("unexpected presence: %+v", vars)
	}
}
