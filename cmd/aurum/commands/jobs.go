package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/aurum/display"
	"github.com/teranos/aurum/errors"
	"github.com/teranos/aurum/internal/clock"
	"github.com/teranos/aurum/store"
	"github.com/teranos/aurum/sym"
)

// JobsCmd represents the jobs command
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: sym.Short("jobs"),
	Long: sym.Jobs + ` jobs — Inspect and repair commission jobs

A commission job is created when a monthly payment completes and is paid
out by the first cycle that runs on or after its scheduled date.

Examples:
  aurum jobs ls --status failed          # Jobs that need an operator
  aurum jobs show <job-id>               # One job and its ledger entries
  aurum jobs enqueue <payment-id>        # Schedule commission for a payment
  aurum jobs reset <job-id>              # Retry a failed job
  aurum jobs recover --older-than 15m    # Free claims left by crashed workers
  aurum jobs stats                       # Counts by status`,
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List commission jobs",
	RunE:  runJobsLs,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job and the payouts it wrote",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsEnqueueCmd = &cobra.Command{
	Use:   "enqueue <payment-id>",
	Short: "Create a pending commission job for a completed payment",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsEnqueue,
}

var jobsResetCmd = &cobra.Command{
	Use:   "reset <job-id>",
	Short: "Return a failed job to pending",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsReset,
}

var jobsRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Return stale processing jobs to pending",
	RunE:  runJobsRecover,
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count jobs by status",
	RunE:  runJobsStats,
}

var (
	jobsStatus   string
	jobsLimit    int
	enqueueDate  string
	recoverOlder time.Duration
)

func init() {
	jobsLsCmd.Flags().StringVar(&jobsStatus, "status", "", "Filter by status: pending, processing, completed, failed")
	jobsLsCmd.Flags().IntVar(&jobsLimit, "limit", 50, "Maximum jobs to list")
	jobsEnqueueCmd.Flags().StringVar(&enqueueDate, "date", "", "Scheduled date YYYY-MM-DD (default: today in engine.timezone)")
	jobsRecoverCmd.Flags().DurationVar(&recoverOlder, "older-than", 15*time.Minute, "Claims untouched for longer than this are considered abandoned")

	for _, c := range []*cobra.Command{jobsLsCmd, jobsShowCmd, jobsEnqueueCmd, jobsStatsCmd} {
		display.AddJSONFlag(c)
	}

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsShowCmd)
	JobsCmd.AddCommand(jobsEnqueueCmd)
	JobsCmd.AddCommand(jobsResetCmd)
	JobsCmd.AddCommand(jobsRecoverCmd)
	JobsCmd.AddCommand(jobsStatsCmd)
}

// withStore loads configuration, opens the store and runs fn against it
func withStore(fn func(s *store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func jobRow(j store.Job) []string {
	payload, _ := j.Payload()
	return []string{
		j.ID,
		string(j.Status),
		date(j.ScheduledFor),
		payload.PaymentID,
		j.LockedBy,
		strconv.Itoa(j.Attempts),
		orDash(j.LastError),
		timestamp(j.UpdatedAt),
	}
}

var jobHeader = []string{"ID", "STATUS", "SCHEDULED", "PAYMENT", "LOCKED BY", "ATTEMPTS", "LAST ERROR", "UPDATED"}

func runJobsLs(cmd *cobra.Command, args []string) error {
	filter := store.JobFilter{Limit: jobsLimit}
	if jobsStatus != "" {
		if !store.IsValidStatus(jobsStatus) {
			return errors.Newf("invalid status %q (valid: pending, processing, completed, failed)", jobsStatus)
		}
		status := store.JobStatus(jobsStatus)
		filter.Status = &status
	}

	return withStore(func(s *store.Store) error {
		jobs, err := s.ListJobs(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if display.ShouldOutputJSON(cmd) {
			return display.JSON(cmd.OutOrStdout(), jobs)
		}

		rows := make([][]string, 0, len(jobs))
		for _, j := range jobs {
			rows = append(rows, jobRow(j))
		}
		return display.Table(cmd.OutOrStdout(), jobHeader, rows)
	})
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.Store) error {
		job, err := s.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		entries, err := s.LedgerForJob(cmd.Context(), job.ID)
		if err != nil {
			return err
		}

		if display.ShouldOutputJSON(cmd) {
			return display.JSON(cmd.OutOrStdout(), map[string]interface{}{"job": job, "entries": entries})
		}

		if err := display.Table(cmd.OutOrStdout(), jobHeader, [][]string{jobRow(*job)}); err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No payouts recorded")
			return nil
		}

		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{strconv.Itoa(e.Level), e.UserID, e.FromUserID, money(e.Amount), e.Status})
		}
		return display.Table(cmd.OutOrStdout(), []string{"LEVEL", "RECIPIENT", "FROM", "AMOUNT", "STATUS"}, rows)
	})
}

func runJobsEnqueue(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	scheduled, err := today(cfg)
	if err != nil {
		return err
	}
	if enqueueDate != "" {
		if scheduled, err = clock.ParseDate(enqueueDate); err != nil {
			return errors.Wrapf(err, "invalid --date %q", enqueueDate)
		}
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	job, err := s.EnqueueCommission(cmd.Context(), args[0], scheduled)
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.JSON(cmd.OutOrStdout(), job)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Enqueued job %s for %s\n", job.ID, date(job.ScheduledFor))
	return nil
}

func runJobsReset(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.Store) error {
		if err := s.ResetFailed(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Job %s is pending again\n", args[0])
		return nil
	})
}

func runJobsRecover(cmd *cobra.Command, args []string) error {
	if recoverOlder <= 0 {
		return errors.New("--older-than must be positive")
	}
	return withStore(func(s *store.Store) error {
		n, err := s.RecoverStale(cmd.Context(), recoverOlder)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Recovered %d stale jobs\n", n)
		return nil
	})
}

func runJobsStats(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.Store) error {
		stats, err := s.JobStats(cmd.Context())
		if err != nil {
			return err
		}
		if display.ShouldOutputJSON(cmd) {
			return display.JSON(cmd.OutOrStdout(), stats)
		}
		return display.Table(cmd.OutOrStdout(),
			[]string{"PENDING", "PROCESSING", "COMPLETED", "FAILED", "TOTAL"},
			[][]string{{
				strconv.Itoa(stats.Pending),
				strconv.Itoa(stats.Processing),
				strconv.Itoa(stats.Completed),
				strconv.Itoa(stats.Failed),
				strconv.Itoa(stats.Total()),
			}})
	})
}
