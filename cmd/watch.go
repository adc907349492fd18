package cmd

import (
	"github.com/spf13/cobra"

	"kblocks/internal/app"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Feed change notifications into the partition queue",
		Long: `Runs the watch source selected by watch.source: a cluster informer on the
block's resource, or an inbox directory of binding-context batch files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := initServices(cmd, app.ModeQueue)
			if err != nil {
				return err
			}
			defer closeServices(s)
			return app.RunWatch(cmd.Context(), s)
		},
	}
}
