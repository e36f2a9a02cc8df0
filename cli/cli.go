// Package cli holds build metadata injected by release scripts:
//
//	-ldflags "-X 'github.com/flarebyte/scribe/cli.Version=1.2.3' -X 'github.com/flarebyte/scribe/cli.Date=2026-02-09'"
package cli

var (
	Version string
	Date    string
)
