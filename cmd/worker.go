package cmd

import (
	"github.com/spf13/cobra"

	"kblocks/internal/app"
)

func newWorkerCmd() *cobra.Command {
	var opts app.WorkerOptions

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Drain partitions and reconcile their change events",
		Long: `Runs one worker loop per partition. Each loop claims its partition lease,
processes events strictly in order and finishes the in-flight event on shutdown.

With a SQLite queue (queue.path) several worker processes can share the
partitions; a partition held by a live process is waited for. Without a queue
path the queue is in memory, so use --with-watch and --with-control to run the
whole runtime in this process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := initServices(cmd, app.ModeWorker)
			if err != nil {
				return err
			}
			defer closeServices(s)
			return app.RunWorker(cmd.Context(), s, opts)
		},
	}

	cmd.Flags().IntSliceVar(&opts.Partitions, "partitions", nil, "Partitions to drain (default all)")
	cmd.Flags().StringVar(&opts.Owner, "owner", "", "Lease owner id (default hostname plus a random suffix)")
	cmd.Flags().BoolVar(&opts.WithControl, "with-control", false, "Also run the control channel")
	cmd.Flags().BoolVar(&opts.WithWatch, "with-watch", false, "Also run the configured watch source")
	return cmd
}
