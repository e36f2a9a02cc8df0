// Package buildinfo exposes version metadata for the CLI. Values can be
// overridden with -ldflags; cli.Version and cli.Date are honored as fallbacks.
package buildinfo

import (
	"runtime/debug"
	"strings"

	"github.com/flarebyte/scribe/cli"
)

var (
	// Version defaults to cli.Version, then "dev".
	Version = ""
	Commit  = ""
	// Date falls back to cli.Date.
	Date    = ""
	BuiltBy = ""
)

// Release returns the bare version: Version, cli.Version or "dev".
func Release() string {
	if Version != "" {
		return Version
	}
	if cli.Version != "" {
		return cli.Version
	}
	return "dev"
}

// Summary returns a concise single-line version string.
func Summary() string {
	v := Release()

	d := Date
	if d == "" {
		d = cli.Date
	}

	parts := make([]string, 0, 2)
	if c := shortCommit(Commit); c != "" {
		parts = append(parts, "commit="+c)
	}
	if d != "" {
		parts = append(parts, "date="+d)
	}
	if len(parts) > 0 {
		v += " (" + strings.Join(parts, ", ") + ")"
	}
	return v
}

func shortCommit(c string) string {
	if len(c) > 7 {
		return c[:7]
	}
	return c
}

// VCSRevision reads the commit embedded by the Go toolchain, for builds made
// without ldflags.
func VCSRevision() string {
	if Commit != "" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}
