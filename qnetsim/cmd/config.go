package cmd

import (
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration.",
	Long: "`config` prints the configuration after the file and the " +
		"environment are applied, and reports every invalid value.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		data, err := cfg.Dump()
		if err != nil {
			return err
		}

		if _, err := cmd.OutOrStdout().Write(data); err != nil {
			return err
		}

		if err := cfg.Validate(); err != nil {
			printErr("%v\n", err)
			return err
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
