package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"kblocks/internal/app"
	"kblocks/internal/watch"
)

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [file]",
		Short: "Enqueue a batch of binding contexts",
		Long: `Reads a JSON or YAML array of binding contexts from the file, or from stdin
when the file is omitted or "-", and appends one change event per binding to
its partition. Synchronization bindings expand into one Sync event per object.

Exits with code 3 when an event could not be enqueued; events before it were
accepted, so the batch can be retried safely.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			s, err := initServices(cmd, app.ModeQueue)
			if err != nil {
				return err
			}
			defer closeServices(s)

			n, err := watch.Ingest(cmd.Context(), s.Router, data)
			if err != nil {
				return fmt.Errorf("ingested %d events before failing: %w", n, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %d events\n", n)
			return nil
		},
	}
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}
