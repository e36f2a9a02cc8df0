package version

import (
	"fmt"
	"runtime"
	"time"

	"github.com/flarebyte/scribe/internal/buildinfo"
	"github.com/spf13/cobra"
)

var (
	flagShort bool
	flagJSON  bool
)

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	RunE: func(cmd *cobra.Command, args []string) error {
		stdout := cmd.OutOrStdout()
		if flagShort {
			_, err := fmt.Fprintln(stdout, buildinfo.Summary())
			return err
		}
		if !flagJSON {
			_, err := fmt.Fprintf(stdout, "scribe %s\n", buildinfo.Summary())
			return err
		}

		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "scribe version: %s\n", buildinfo.Summary())
		out := map[string]any{
			"version":   buildinfo.Version,
			"commit":    buildinfo.VCSRevision(),
			"date":      buildinfo.Date,
			"built_by":  buildinfo.BuiltBy,
			"go":        runtime.Version(),
			"go_os":     runtime.GOOS,
			"go_arch":   runtime.GOARCH,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}
		return encodeJSON(stdout, out)
	},
}

func init() {
	VersionCmd.Flags().BoolVar(&flagShort, "short", false, "Print only the version string")
	VersionCmd.Flags().BoolVar(&flagJSON, "json", false, "Print detailed JSON version info")
}
