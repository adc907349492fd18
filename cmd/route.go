package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"kblocks/internal/partition"
	"kblocks/pkg/objuri"
)

func newRouteCmd() *cobra.Command {
	var partitions int

	cmd := &cobra.Command{
		Use:   "route <namespace/name>...",
		Short: "Show which partition each object is routed to",
		Long: `Prints the partition of each object. A key without a namespace uses
"default". The partition count comes from block.workers unless --partitions
is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if partitions == 0 {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				partitions = cfg.Runtime.Block.Workers
			}
			if partitions < 1 {
				return fmt.Errorf("partition count must be at least 1, got %d", partitions)
			}
			renderRoutes(cmd.OutOrStdout(), args, partitions)
			return nil
		},
	}

	cmd.Flags().IntVar(&partitions, "partitions", 0, "Partition count (default block.workers)")
	return cmd
}

// splitKey parses namespace/name, defaulting the namespace.
func splitKey(key string) (string, string) {
	namespace, name, ok := strings.Cut(key, "/")
	if !ok {
		return objuri.DefaultNamespace, key
	}
	return namespace, name
}

func renderRoutes(out io.Writer, keys []string, n int) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{text.FgHiCyan.Sprint("OBJECT"), text.FgHiCyan.Sprint("PARTITION")})

	for _, key := range keys {
		namespace, name := splitKey(key)
		t.AppendRow(table.Row{namespace + "/" + name, partition.Index(namespace, name, n)})
	}
	t.AppendFooter(table.Row{"partitions", n})
	t.Render()
}
