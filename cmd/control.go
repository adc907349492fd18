package cmd

import (
	"github.com/spf13/cobra"

	"kblocks/internal/app"
)

func newControlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "control",
		Short: "Keep the control-plane channel connected",
		Long: `Connects to control.url, reports every existing object and then executes
APPLY, PATCH, DELETE, REFRESH and READ commands until interrupted. The
connection is re-established with backoff whenever it drops.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := initServices(cmd, app.ModeControl)
			if err != nil {
				return err
			}
			defer closeServices(s)
			return app.RunControl(cmd.Context(), s)
		},
	}
}
