package main

import (
	"fmt"
	"os"
	_ "time/tzdata" // engine.timezone must resolve on hosts without zoneinfo

	"github.com/spf13/cobra"

	"github.com/teranos/aurum/cmd/aurum/commands"
	"github.com/teranos/aurum/errors"
	"github.com/teranos/aurum/logger"
)

var rootCmd = &cobra.Command{
	Use:   "aurum",
	Short: "aurum - scheduled commission and bonus distribution engine",
	Long: `aurum - scheduled commission and bonus distribution engine.

aurum pays multi-level referral commissions for completed savings-plan
payments and allocates the one-time completion bonus, running as a
repeatable worker cycle against a shared store. Any number of workers may
run at once; each job is paid exactly once.

Available commands:
  am      - Show and initialise engine configuration ("I am")
  cycle   - Run one commission cycle, inspect past runs
  pulse   - Run cycles on a cron schedule
  jobs    - Inspect, enqueue and repair commission jobs
  bonus   - Check and allocate completion bonuses
  savings - Show a subscription's payment schedule
  db      - Apply store migrations

Examples:
  aurum cycle run                # Run one cycle, print the JSON summary
  aurum pulse start              # Run cycles every engine.schedule
  aurum jobs ls --status failed  # List jobs that need attention
  aurum bonus sweep              # Allocate every bonus that is due`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("log-json")
		return commands.InitLogging(verbosity, jsonLogs, cmd.Flags().Changed("log-json"))
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit JSON logs (default: log.json from config)")
	rootCmd.PersistentFlags().StringVar(&commands.ConfigPath, "config", "", "Read configuration from this file instead of the am.toml cascade")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.CycleCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.BonusCmd)
	rootCmd.AddCommand(commands.SavingsCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		logger.Cleanup()
		os.Exit(commands.ExitCode(err))
	}
}
