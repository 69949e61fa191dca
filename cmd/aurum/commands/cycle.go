package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/aurum/am"
	"github.com/teranos/aurum/display"
	"github.com/teranos/aurum/errors"
	"github.com/teranos/aurum/logger"
	"github.com/teranos/aurum/pulse/cycle"
	"github.com/teranos/aurum/pulse/schedule"
	"github.com/teranos/aurum/sym"
)

// CycleCmd represents the cycle command
var CycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: sym.Short("cycle"),
	Long: sym.Cycle + ` cycle — Run the commission engine once

A cycle fetches the commission jobs due on or before today, claims each
one for this worker, pays its referral upline, and prints a JSON summary:

  {"processed": 3, "failed": 0, "skipped": 1, "errors": [...]}

The exit status is non-zero when the cycle had to abort (store unreachable,
configuration unusable). Job-level failures do not change the exit status;
they are reported in the summary and parked as failed jobs.

Examples:
  aurum cycle run                      # Run one cycle
  aurum cycle run --worker-id cron-1   # Run under an explicit identity
  aurum cycle history                  # List recent cycles`,
}

var cycleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one commission cycle",
	RunE:  runCycleRun,
}

var cycleHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent cycle runs",
	RunE:  runCycleHistory,
}

var cyclePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete cycle history older than a cutoff",
	RunE:  runCyclePrune,
}

var (
	cycleWorkerID   string
	cycleBatchLimit int
	cycleProgress   bool
	historyLimit    int
	historyStatus   string
	pruneOlderThan  time.Duration
)

func init() {
	cycleRunCmd.Flags().StringVar(&cycleWorkerID, "worker-id", "", "Worker identity (default: engine.worker_id, then hostname plus random suffix)")
	cycleRunCmd.Flags().IntVar(&cycleBatchLimit, "batch-limit", 0, "Due jobs claimed this cycle (default: engine.batch_limit)")
	cycleRunCmd.Flags().BoolVar(&cycleProgress, "progress", false, "Print per-job progress to stderr")

	cycleHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to show")
	cycleHistoryCmd.Flags().StringVar(&historyStatus, "status", "", "Filter by status: running, completed, aborted")
	display.AddJSONFlag(cycleHistoryCmd)

	cyclePruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "Delete runs started before now minus this duration")

	CycleCmd.AddCommand(cycleRunCmd)
	CycleCmd.AddCommand(cycleHistoryCmd)
	CycleCmd.AddCommand(cyclePruneCmd)
}

// openRunner builds a cycle runner from configuration plus flag overrides
func openRunner(cfg *am.Config, trigger string) (*cycle.Runner, error) {
	if cycleWorkerID != "" {
		cfg.Engine.WorkerID = cycleWorkerID
	}
	if cycleBatchLimit > 0 {
		cfg.Engine.BatchLimit = cycleBatchLimit
	}
	return cycle.Open(cfg, trigger, logger.Logger)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCycleRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	runner, err := openRunner(cfg, schedule.TriggerCLI)
	if err != nil {
		return err
	}
	defer runner.Close()

	if cycleProgress {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		runner.SetProgress(NewCLIEmitter(cmd.ErrOrStderr(), verbosity))
	}

	ctx, cancel := signalContext()
	defer cancel()

	summary, cycleErr := runner.RunCycle(ctx)
	if err := display.JSON(cmd.OutOrStdout(), summary); err != nil {
		return err
	}
	if cycleErr != nil {
		return errors.Wrap(cycleErr, "cycle aborted")
	}
	return nil
}

func runCycleHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	runs, total, err := schedule.NewExecutionStore(s.DB()).ListRuns(cmd.Context(), historyLimit, historyStatus)
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.JSON(cmd.OutOrStdout(), map[string]interface{}{"runs": runs, "total": total})
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		duration := "-"
		if r.DurationMs != nil {
			duration = (time.Duration(*r.DurationMs) * time.Millisecond).String()
		}
		rows = append(rows, []string{
			r.StartedAt,
			r.WorkerID,
			r.TriggerSource,
			r.Status,
			duration,
			strconv.Itoa(r.Processed),
			strconv.Itoa(r.Failed),
			strconv.Itoa(r.Skipped),
			orDash(r.ErrorMessage),
		})
	}
	if err := display.Table(cmd.OutOrStdout(),
		[]string{"STARTED", "WORKER", "TRIGGER", "STATUS", "DURATION", "PROCESSED", "FAILED", "SKIPPED", "ERROR"},
		rows); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d runs\n", len(runs), total)
	return nil
}

func runCyclePrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	cutoff := time.Now().Add(-pruneOlderThan)
	n, err := schedule.NewExecutionStore(s.DB()).CleanupOldRuns(cmd.Context(), cutoff)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %d runs started before %s\n", n, cutoff.UTC().Format(time.RFC3339))
	return nil
}
