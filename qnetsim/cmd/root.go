// Package cmd provides the command-line interface of qnetsim.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/qnetsim/config"
)

var (
	configFile string
	envFiles   []string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "qnetsim",
	Short: "qnetsim simulates entanglement distribution over repeater chains.",
	Long: `qnetsim simulates how the link, relay and session layers of a ` +
		`repeater chain cooperate to deliver end-to-end entangled pairs. ` +
		`Parameters come from a YAML file, a .env file and QNETSIM_* ` +
		`environment variables, in increasing order of precedence.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"YAML configuration file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env", nil,
		"files of environment overrides (default .env)")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

// loadConfig reads the configuration file, if any, then applies the
// environment.
func loadConfig() (config.Config, error) {
	cfg := config.Default()

	if configFile != "" {
		var err error

		cfg, err = config.Load(configFile)
		if err != nil {
			return config.Config{}, err
		}
	}

	if err := config.LoadDotEnv(envFiles...); err != nil {
		return config.Config{}, err
	}

	if err := cfg.ApplyEnv(); err != nil {
		return config.Config{}, err
	}

	return cfg, nil
}

func printErr(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
}
