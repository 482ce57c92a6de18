package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/qnetsim/datarecording"
	"github.com/sarchlab/qnetsim/stats"
)

var reportCmd = &cobra.Command{
	Use:   "report <database>",
	Short: "Summarize a recorded simulation.",
	Long: "`report` reads a database written by `run --db` and prints how " +
		"the run was configured and what each relay did.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reader, err := datarecording.NewReader(args[0])
		if err != nil {
			return err
		}
		defer reader.Close()

		return printReport(cmd.Context(), cmd.OutOrStdout(), reader)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func printReport(
	ctx context.Context,
	w io.Writer,
	reader datarecording.DataReader,
) error {
	reader.MapTable(datarecording.ExecInfoTable, datarecording.ExecInfo{})
	reader.MapTable(stats.DeliveryTable, stats.DeliveryEntry{})
	reader.MapTable(stats.RelaySessionTable, stats.RelaySessionEntry{})

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	infos, _, err := reader.Query(ctx, datarecording.ExecInfoTable,
		datarecording.QueryParams{})
	if err != nil {
		return err
	}

	for _, e := range infos {
		info := e.(*datarecording.ExecInfo)
		fmt.Fprintf(tw, "%s\t%s\n", info.Property, info.Value)
	}

	_, delivered, err := reader.Query(ctx, stats.DeliveryTable,
		datarecording.QueryParams{
			Where: "Result = ?",
			Args:  []any{"OK"},
			Limit: 1,
		})
	if err != nil {
		return err
	}

	fmt.Fprintf(tw, "delivery rows\t%d\n", delivered)

	rows, _, err := reader.Query(ctx, stats.RelaySessionTable,
		datarecording.QueryParams{OrderBy: "Relay, EndTime"})
	if err != nil {
		return err
	}

	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "relay\tsession\tswaps\texpired\torphaned\tstale")

	for _, e := range rows {
		r := e.(*stats.RelaySessionEntry)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
			r.Relay, r.Session, r.Swaps, r.Expired, r.Orphaned, r.Stale)
	}

	return tw.Flush()
}
