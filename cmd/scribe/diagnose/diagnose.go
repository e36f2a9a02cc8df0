package diagnose

import (
	"errors"
	"io"
	"net/url"

	"github.com/spf13/cobra"

	runpkg "github.com/flarebyte/scribe/cmd/scribe/run"
	"github.com/flarebyte/scribe/internal/buildinfo"
	"github.com/flarebyte/scribe/internal/config"
	"github.com/flarebyte/scribe/internal/report"
	"github.com/flarebyte/scribe/internal/resume"
	"github.com/flarebyte/scribe/internal/source"
)

var (
	flagConfig string
	flagFormat string
)

// Cmd implements `scribe diagnose`.
var Cmd = &cobra.Command{
	Use:           "diagnose",
	Short:         "Show the resolved job and where a run would resume, without calling the service",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagConfig == "" {
			return errors.New("missing required flag: --config")
		}
		return diagnose(cmd.OutOrStdout(), flagConfig, flagFormat)
	},
}

func init() {
	Cmd.Flags().StringVarP(&flagConfig, "config", "c", "", "Path to job file (.cue)")
	Cmd.Flags().StringVar(&flagFormat, "format", report.FormatJSON, "Output format: json|yaml")
}

type diagnosis struct {
	Version string          `json:"version"`
	Config  config.Job      `json:"config"`
	Source  sourceInfo      `json:"source"`
	Resume  resumeInfo      `json:"resume"`
	Prompt  promptInfo      `json:"prompt"`
	Env     []config.EnvVar `json:"env"`
}

type sourceInfo struct {
	Describe string   `json:"describe"`
	Format   string   `json:"format"`
	Shards   []string `json:"shards,omitempty"`
}

type resumeInfo struct {
	Path      string `json:"path"`
	Exists    bool   `json:"exists"`
	Offset    int    `json:"offset"`
	Bytes     int64  `json:"bytes"`
	TornBytes int64  `json:"tornBytes"`
}

type promptInfo struct {
	Placeholders []string `json:"placeholders,omitempty"`
	Script       bool     `json:"script"`
	Filter       bool     `json:"filter"`
}

func diagnose(w io.Writer, cfgPath, format string) error {
	if format != report.FormatJSON && format != report.FormatYAML {
		return errors.New("invalid --format: expected json or yaml")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	d := diagnosis{Version: buildinfo.Summary(), Config: redact(cfg)}

	src, err := source.New(source.Options{
		Path:        cfg.Input.Path,
		Format:      cfg.Input.Format,
		Table:       cfg.Input.Table,
		NoGitignore: cfg.Input.NoGitignore,
		Limit:       cfg.Input.Limit,
	})
	if err != nil {
		return err
	}
	d.Source = sourceInfo{Describe: src.Describe(), Format: cfg.Input.Format}
	if d.Source.Format == "" {
		d.Source.Format = source.InferFormat(cfg.Input.Path)
	}
	if d.Source.Format == source.FormatDir {
		shards, err := source.Shards(cfg.Input.Path, cfg.Input.NoGitignore)
		if err != nil {
			return err
		}
		d.Source.Shards = shards
	}

	progress, err := resume.Inspect(cfg.Output.Path)
	if err != nil {
		return err
	}
	d.Resume = resumeInfo{
		Path:      cfg.Output.Path,
		Exists:    progress.Exists,
		Offset:    progress.Offset(),
		Bytes:     progress.Bytes,
		TornBytes: progress.TornBytes,
	}

	r, err := runpkg.PromptRenderer(cfg)
	if err != nil {
		return err
	}
	d.Prompt = promptInfo{Script: r.Script != nil, Filter: r.Filter != nil}
	if r.Template != nil {
		d.Prompt.Placeholders = r.Template.Placeholders()
	}

	if d.Env, err = config.EnvPresence(); err != nil {
		return err
	}

	b, err := report.Marshal(format, d)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// redact strips credentials embedded in URLs.
func redact(cfg config.Job) config.Job {
	if u, err := url.Parse(cfg.Service.BaseURL); err == nil && u.User != nil {
		u.User = url.User("redacted")
		cfg.Service.BaseURL = u.String()
	}
	return cfg
}
