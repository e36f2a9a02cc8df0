// Package config loads scribe job files (CUE) and the process environment.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaSource []byte

// Job is a fully resolved job file. Relative paths in the file are resolved
// against the directory holding it.
type Job struct {
	ConfigVersion string  `json:"configVersion"`
	Input         Input   `json:"input"`
	Output        Output  `json:"output"`
	Record        Record  `json:"record"`
	Prompt        Prompt  `json:"prompt"`
	Service       Service `json:"service"`
	Workers       int     `json:"workers"`
	UI            UI      `json:"ui"`
	Errors        Errors  `json:"errors"`

	// Path is the job file itself.
	Path string `json:"-"`
}

type Input struct {
	Path        string `json:"path"`
	Format      string `json:"format"`
	Table       string `json:"table"`
	ImageRoot   string `json:"imageRoot"`
	NoGitignore bool   `json:"noGitignore"`
	Limit       int    `json:"limit"`
	Malformed   string `json:"malformed"`
}

type Output struct {
	Path string `json:"path"`
	Sync bool   `json:"sync"`
}

type Record struct {
	InputField   string   `json:"inputField"`
	ResultField  string   `json:"resultField"`
	ThoughtField string   `json:"thoughtField"`
	ErrorField   string   `json:"errorField"`
	ImageField   string   `json:"imageField"`
	Drop         []string `json:"drop"`
	TrimResult   bool     `json:"trimResult"`
}

// Prompt selects how instructions are built. Exactly one of Template,
// TemplateFile or Lua must be set. Lua and Filter hold inline code or a path
// ending in .lua.
type Prompt struct {
	Template     string            `json:"template"`
	TemplateFile string            `json:"templateFile"`
	System       string            `json:"system"`
	Vars         map[string]string `json:"vars"`
	Lua          string            `json:"lua"`
	Filter       string            `json:"filter"`
	LuaTimeoutMs int               `json:"luaTimeoutMs"`
}

type Service struct {
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	BaseURL     string   `json:"baseURL"`
	TimeoutMs   int      `json:"timeoutMs"`
	Thinking    string   `json:"thinking"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"maxTokens"`
}

type UI struct {
	Progress           bool `json:"progress"`
	ProgressIntervalMs int  `json:"progressIntervalMs"`
}

type Errors struct {
	Mode string `json:"mode"`
}

const (
	ModeKeepGoing = "keep-going"
	ModeTolerant  = "tolerant"
)

// compileCUE loads and compiles a CUE file at the given path.
func compileCUE(ctx *cue.Context, path string) (cue.Value, error) {
	if filepath.Ext(path) != ".cue" {
		return cue.Value{}, errors.New("unsupported config format: expected .cue")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("failed to read config: %w", err)
	}
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("invalid config: %v", err)
	}
	return v, nil
}

// Load reads, validates and resolves the job file at path.
func Load(path string) (Job, error) {
	ctx := cuecontext.New()
	v, err := compileCUE(ctx, path)
	if err != nil {
		return Job{}, err
	}
	if err := checkVersion(v); err != nil {
		return Job{}, err
	}
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Job{}, fmt.Errorf("schema: %v", err)
	}
	unified := schema.LookupPath(cue.ParsePath("#Job")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Job{}, fmt.Errorf("invalid config: %v", err)
	}
	var job Job
	if err := unified.Decode(&job); err != nil {
		return Job{}, fmt.Errorf("invalid config: %v", err)
	}
	job.Path = path
	if err := job.check(); err != nil {
		return Job{}, err
	}
	job.resolvePaths(filepath.Dir(path))
	return job, nil
}

// check enforces the rules the schema cannot express.
func (j Job) check() error {
	n := 0
	for _, s := range []string{j.Prompt.Template, j.Prompt.TemplateFile, j.Prompt.Lua} {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	switch {
	case n == 0:
		return errors.New("invalid config: one of prompt.template, prompt.templateFile or prompt.lua is required")
	case n > 1:
		return errors.New("invalid config: prompt.template, prompt.templateFile and prompt.lua are mutually exclusive")
	}
	return nil
}

func (j *Job) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	j.Input.Path = abs(j.Input.Path)
	if j.Input.ImageRoot == "" {
		j.Input.ImageRoot = base
	} else {
		j.Input.ImageRoot = abs(j.Input.ImageRoot)
	}
	j.Output.Path = abs(j.Output.Path)
	j.Prompt.TemplateFile = abs(j.Prompt.TemplateFile)
	if IsScriptPath(j.Prompt.Lua) {
		j.Prompt.Lua = abs(j.Prompt.Lua)
	}
	if IsScriptPath(j.Prompt.Filter) {
		j.Prompt.Filter = abs(j.Prompt.Filter)
	}
}

// IsScriptPath reports whether a Lua setting names a file rather than code.
func IsScriptPath(s string) bool {
	return strings.HasSuffix(s, ".lua") && !strings.ContainsAny(s, "\n ()=")
}
