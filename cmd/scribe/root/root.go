package root

import (
	"github.com/flarebyte/scribe/cmd/scribe/diagnose"
	"github.com/flarebyte/scribe/cmd/scribe/run"
	"github.com/flarebyte/scribe/cmd/scribe/version"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for scribe.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scribe",
		Short: "Augment records with a generative model, one durable line at a time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(version.VersionCmd)
	cmd.AddCommand(run.Cmd)
	cmd.AddCommand(diagnose.Cmd)

	return cmd
}

// Execute runs the root command with provided args.
func Execute(args []string) error {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	return cmd.Execute()
}
