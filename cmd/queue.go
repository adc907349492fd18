package cmd

import (
	"context"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"kblocks/internal/app"
	"kblocks/internal/partition"
)

func newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show pending events and leases per partition",
		Long: `Prints the number of pending events in every partition of the queue at
queue.path and which worker currently holds its lease.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := initServices(cmd, app.ModeQueue)
			if err != nil {
				return err
			}
			defer closeServices(s)
			return renderQueue(cmd.Context(), cmd.OutOrStdout(), s.Queue, s.Router.Partitions(), time.Now())
		},
	}
}

func renderQueue(ctx context.Context, out io.Writer, q partition.Queue, n int, now time.Time) error {
	leases, err := q.Leases(ctx)
	if err != nil {
		return err
	}
	byPartition := make(map[int]partition.Lease, len(leases))
	for _, l := range leases {
		byPartition[l.Partition] = l
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("PARTITION"),
		text.FgHiCyan.Sprint("PENDING"),
		text.FgHiCyan.Sprint("OWNER"),
		text.FgHiCyan.Sprint("LEASE"),
	})

	total := 0
	for p := 0; p < n; p++ {
		pending, err := q.Len(ctx, p)
		if err != nil {
			return err
		}
		total += pending

		owner, lease := "-", "-"
		if l, ok := byPartition[p]; ok {
			owner = l.Owner
			if l.ExpiresAt.After(now) {
				lease = "expires in " + l.ExpiresAt.Sub(now).Round(time.Second).String()
			} else {
				lease = text.FgYellow.Sprint("expired")
			}
		}
		t.AppendRow(table.Row{p, pending, owner, lease})
	}
	t.AppendFooter(table.Row{"total", total, "", ""})
	t.Render()
	return nil
}
