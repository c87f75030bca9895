package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ryuki-imachi/prezentation-feedback-agent/pipeline"
)

func newShowCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <session-dir>",
		Short: "Print a report saved with analyze --save",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := pipeline.Load(args[0])
			if err != nil {
				return err
			}
			var runErr error
			if res.State == pipeline.Failed {
				runErr = fmt.Errorf("run failed at %s", res.FailedStage)
			}
			return render(cmd.OutOrStdout(), format, res, runErr)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", FormatText, "output format: text, json or yaml")
	return cmd
}
