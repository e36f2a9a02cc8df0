package run

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/flarebyte/scribe/internal/config"
	"github.com/flarebyte/scribe/internal/pipeline"
	"github.com/flarebyte/scribe/internal/processor"
	"github.com/flarebyte/scribe/internal/prompt"
	"github.com/flarebyte/scribe/internal/record"
	"github.com/flarebyte/scribe/internal/service"
	"github.com/flarebyte/scribe/internal/source"
)

// buildJob turns a loaded job file into a runnable pipeline job.
func buildJob(cfg config.Job, env config.Env, dryRun bool, stdout io.Writer, log logr.Logger) (pipeline.Job, error) {
	src, err := source.New(source.Options{
		Path:        cfg.Input.Path,
		Format:      cfg.Input.Format,
		Table:       cfg.Input.Table,
		NoGitignore: cfg.Input.NoGitignore,
		Limit:       cfg.Input.Limit,
	})
	if err != nil {
		return pipeline.Job{}, err
	}
	renderer, err := PromptRenderer(cfg)
	if err != nil {
		return pipeline.Job{}, err
	}
	svc, err := buildService(cfg.Service, env, dryRun)
	if err != nil {
		return pipeline.Job{}, err
	}
	proc, err := processor.New(processor.Options{
		InputField:   cfg.Record.InputField,
		ResultField:  cfg.Record.ResultField,
		ThoughtField: cfg.Record.ThoughtField,
		ErrorField:   cfg.Record.ErrorField,
		ImageField:   cfg.Record.ImageField,
		ImageRoot:    cfg.Input.ImageRoot,
		Drop:         cfg.Record.Drop,
		TrimResult:   cfg.Record.TrimResult,
		Timeout:      millis(cfg.Service.TimeoutMs),
		Log:          log,
	}, renderer, svc)
	if err != nil {
		return pipeline.Job{}, err
	}
	job := pipeline.Job{
		Source:    src,
		OutPath:   cfg.Output.Path,
		Processor: proc,
		Workers:   cfg.Workers,
		Malformed: cfg.Input.Malformed,
		Sync:      cfg.Output.Sync,
		Log:       log,
	}
	if dryRun {
		job.Out = &lineWriter{w: stdout}
	}
	return job, nil
}

// PromptRenderer builds the renderer described by the job's prompt section.
// Lua scripts are compiled so syntax errors surface before any record.
func PromptRenderer(cfg config.Job) (*prompt.Renderer, error) {
	p := cfg.Prompt
	timeout := millis(p.LuaTimeoutMs)
	r := &prompt.Renderer{
		System:     p.System,
		Vars:       map[string]string{},
		InputField: cfg.Record.InputField,
	}
	switch {
	case p.TemplateFile != "":
		f, err := prompt.LoadFile(p.TemplateFile)
		if err != nil {
			return nil, err
		}
		if r.System == "" {
			r.System = f.System
		}
		for k, v := range f.Vars {
			r.Vars[k] = v
		}
		if r.Template, err = prompt.Parse(f.Template); err != nil {
			return nil, fmt.Errorf("prompt file %s: %w", p.TemplateFile, err)
		}
	case p.Template != "":
		t, err := prompt.Parse(p.Template)
		if err != nil {
			return nil, fmt.Errorf("prompt.template: %w", err)
		}
		r.Template = t
	default:
		s, err := loadScript("prompt.lua", p.Lua, timeout)
		if err != nil {
			return nil, err
		}
		r.Script = s
	}
	for k, v := range p.Vars {
		r.Vars[k] = v
	}
	if p.Filter != "" {
		s, err := loadScript("prompt.filter", p.Filter, timeout)
		if err != nil {
			return nil, err
		}
		r.Filter = s
	}
	return r, nil
}

// loadScript compiles inline Lua or the .lua file it names.
func loadScript(name, setting string, timeout time.Duration) (*prompt.Script, error) {
	code := setting
	if config.IsScriptPath(setting) {
		b, err := os.ReadFile(setting)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		code = string(b)
		name = filepath.Base(setting)
	}
	s := prompt.NewScript(name, code, timeout)
	if err := s.Check(); err != nil {
		return nil, err
	}
	return s, nil
}

func buildService(cfg config.Service, env config.Env, dryRun bool) (service.Service, error) {
	if dryRun {
		return service.Echo{}, nil
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = env.BaseURL(cfg.Provider)
	}
	return service.New(service.Config{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		BaseURL:     baseURL,
		APIKey:      env.APIKey(cfg.Provider),
		Thinking:    cfg.Thinking,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// lineWriter prints committed records as NDJSON instead of appending them to
// the output file.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) Append(rec record.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := rec.Bytes()
	line := make([]byte, 0, len(b)+1)
	line = append(append(line, b...), '\n')
	_, err := l.w.Write(line)
	return err
}

func (l *lineWriter) Close() error { return nil }
