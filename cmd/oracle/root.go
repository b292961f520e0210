package main

import (
	"github.com/spf13/cobra"
)

// rootOptions carries flags shared by every subcommand.
type rootOptions struct {
	envFile  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "oracle",
		Short: "Mystic Palm Oracle - palm and birth date readings",
		Long: `oracle serves the Mystic Palm Oracle web app and can run a single reading from the
terminal. Both paths send the birth date and two palm photos to Gemini and present the
bilingual (English and Hindi) report.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with local overrides (empty to disable)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to ORACLE_LOG_LEVEL")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newReadCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Set at build time with -ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("oracle %s (%s)\n", version, commit)
		},
	}
}
