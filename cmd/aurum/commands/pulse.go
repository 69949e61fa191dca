package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/aurum/logger"
	"github.com/teranos/aurum/pulse/schedule"
	"github.com/teranos/aurum/sym"
)

// PulseCmd represents the pulse command - runs cycles on a schedule
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: sym.Short("pulse"),
	Long: sym.Pulse + ` Pulse — run commission cycles on a cron schedule.

Pulse is for hosts without an external scheduler. It runs one cycle every
engine.schedule tick; cycles never overlap. Several pulse processes may run
against the same store, each under its own worker id.

Example:
  aurum pulse start                       # Run until interrupted
  aurum pulse start --schedule "@every 1m"
  aurum pulse start --run-on-start`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd starts the scheduled cycle loop
var PulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run cycles on a schedule until interrupted",
	RunE:  runPulseStart,
}

func init() {
	PulseStartCmd.Flags().String("schedule", "", "Cron spec (default: engine.schedule)")
	PulseStartCmd.Flags().Bool("run-on-start", false, "Run one cycle immediately")
	PulseStartCmd.Flags().StringVar(&cycleWorkerID, "worker-id", "", "Worker identity (default: engine.worker_id, then hostname plus random suffix)")
	PulseCmd.AddCommand(PulseStartCmd)
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	spec, _ := cmd.Flags().GetString("schedule")
	if spec == "" {
		spec = cfg.Engine.Schedule
	}
	runOnStart, _ := cmd.Flags().GetBool("run-on-start")

	runner, err := openRunner(cfg, schedule.TriggerPulse)
	if err != nil {
		return err
	}
	defer runner.Close()

	ctx, cancel := signalContext()
	defer cancel()

	ticker, err := schedule.NewTickerWithContext(ctx, schedule.TickerConfig{
		Spec:       spec,
		RunOnStart: runOnStart,
	}, func(ctx context.Context) error {
		_, err := runner.RunCycle(ctx)
		return err
	}, logger.Logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Pulse started\n", sym.Pulse)
	fmt.Fprintf(out, "  Worker:   %s\n", runner.WorkerID())
	fmt.Fprintf(out, "  Schedule: %s\n", spec)
	fmt.Fprintf(out, "  Timezone: %s\n", cfg.Engine.Timezone)
	fmt.Fprintf(out, "  Next run: %s\n", ticker.Next().Format("2006-01-02 15:04:05 MST"))
	ticker.Start()
	fmt.Fprintf(out, "\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)

	<-ctx.Done()

	fmt.Fprintf(out, "\n%s Finishing current cycle...\n", sym.PulseClose)
	ticker.Stop()
	fmt.Fprintf(out, "%s Pulse stopped\n", sym.Pulse)
	return nil
}
