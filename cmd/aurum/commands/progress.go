package commands

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"

	"github.com/teranos/aurum/sym"
)

// CLIEmitter prints cycle progress to the terminal using pterm. It writes
// to stderr so that stdout stays machine-readable.
type CLIEmitter struct {
	w         io.Writer
	verbosity int
}

// NewCLIEmitter creates a CLI progress emitter writing to w
func NewCLIEmitter(w io.Writer, verbosity int) *CLIEmitter {
	return &CLIEmitter{w: w, verbosity: verbosity}
}

// EmitStage prints a stage announcement
func (e *CLIEmitter) EmitStage(stage string, message string) {
	pterm.Fprintln(e.w, fmt.Sprintf("%s %s: %s", sym.Cycle, pterm.LightCyan(stage), message))
}

// EmitProgress prints one job outcome. Processed jobs are only shown at -v.
func (e *CLIEmitter) EmitProgress(count int, metadata map[string]interface{}) {
	status, _ := metadata["status"].(string)
	if status == "processed" && e.verbosity < 1 {
		return
	}

	var label string
	switch status {
	case "processed":
		label = pterm.Green(status)
	case "failed":
		label = pterm.Red(status)
	default:
		label = pterm.Yellow(status)
	}
	pterm.Fprintln(e.w, fmt.Sprintf("  %d. %v %s", count, metadata["job_id"], label))
}

// EmitComplete prints the completion summary
func (e *CLIEmitter) EmitComplete(summary map[string]interface{}) {
	pterm.Success.WithWriter(e.w).Printfln("Cycle complete: %v processed, %v failed, %v skipped",
		summary["processed"], summary["failed"], summary["skipped"])
}

// EmitError prints an error
func (e *CLIEmitter) EmitError(stage string, err error) {
	pterm.Error.WithWriter(e.w).Printfln("Error in %s: %v", stage, err)
}

// EmitInfo prints informational message
func (e *CLIEmitter) EmitInfo(message string) {
	if e.verbosity >= 1 {
		pterm.Info.WithWriter(e.w).Println(message)
	}
}
