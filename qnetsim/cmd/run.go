package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/qnetsim/config"
	"github.com/sarchlab/qnetsim/simulation"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation.",
	Long: "`run` builds the chain, asks the headend for the configured " +
		"sessions and prints a summary once the chain is idle. Flags " +
		"override the configuration.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		applyRunFlags(cmd, &cfg)

		s, err := simulation.MakeBuilder().
			WithConfig(cfg).
			WithLogWriter(cmd.ErrOrStderr()).
			Build()
		if err != nil {
			return err
		}

		summary, err := s.Run()
		if err != nil {
			_ = s.Terminate()
			return err
		}

		printSummary(cmd.OutOrStdout(), summary)

		if cfg.Monitor.Enabled {
			printErr("Simulation finished, press Ctrl+C to stop monitoring.\n")
			<-cmd.Context().Done()
		}

		return s.Terminate()
	},
}

var runFlags struct {
	seed        uint64
	relays      int
	count       int
	repetitions int
	db          string
	logLevel    string
	logFile     string
	monitor     bool
	monitorPort int
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.Uint64Var(&runFlags.seed, "seed", 0, "seed of the random streams")
	f.IntVar(&runFlags.relays, "relays", 0, "number of relays")
	f.IntVar(&runFlags.count, "count", 0, "pairs per session")
	f.IntVar(&runFlags.repetitions, "repetitions", 0, "number of sessions")
	f.StringVar(&runFlags.db, "db", "", "write results to <db>.sqlite3")
	f.StringVar(&runFlags.logLevel, "log-level", "",
		"error, warning, info or debug")
	f.StringVar(&runFlags.logFile, "log-file", "",
		"write the protocol log to a file")
	f.BoolVar(&runFlags.monitor, "monitor", false,
		"serve the monitoring page")
	f.IntVar(&runFlags.monitorPort, "monitor-port", 0,
		"port of the monitoring page, implies --monitor")
}

// applyRunFlags overrides the configuration with the flags given on the
// command line.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("seed") {
		cfg.Seed = runFlags.seed
	}

	if changed("relays") {
		cfg.Chain.Relays = runFlags.relays
	}

	if changed("count") {
		cfg.Session.Count = runFlags.count
	}

	if changed("repetitions") {
		cfg.Session.Repetitions = runFlags.repetitions
	}

	if changed("db") {
		cfg.Output.Database = runFlags.db
	}

	if changed("log-level") {
		cfg.Output.LogLevel = runFlags.logLevel
	}

	if changed("log-file") {
		cfg.Output.LogFile = runFlags.logFile
	}

	if changed("monitor") {
		cfg.Monitor.Enabled = runFlags.monitor
	}

	if changed("monitor-port") {
		cfg.Monitor.Enabled = true
		cfg.Monitor.Port = runFlags.monitorPort
	}
}

func printSummary(w io.Writer, s simulation.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "sessions\t%d\n", s.Sessions)
	fmt.Fprintf(tw, "aborted\t%d\n", s.Aborted)
	fmt.Fprintf(tw, "delivered\t%d\n", s.Delivered)
	fmt.Fprintf(tw, "discarded\t%d\n", s.Discarded)
	fmt.Fprintf(tw, "swaps\t%d\n", s.Swaps)
	fmt.Fprintf(tw, "expired\t%d\n", s.Expired)
	fmt.Fprintf(tw, "orphaned\t%d\n", s.Orphaned)
	fmt.Fprintf(tw, "link pairs\t%d\n", s.LinkPairs)
	fmt.Fprintf(tw, "link timeouts\t%d\n", s.LinkTimeouts)
	fmt.Fprintf(tw, "link utilization\t%.1f%%\n", 100*s.LinkUtilization)
	fmt.Fprintf(tw, "simulated time\t%s\n", s.SimTime)
	fmt.Fprintf(tw, "mean session time\t%s\n", s.MeanSessionTime)
	fmt.Fprintf(tw, "max session time\t%s\n", s.MaxSessionTime)

	_ = tw.Flush()
}
