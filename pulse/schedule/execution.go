package schedule

// CycleRun is one execution of the commission cycle.
//
// Each time a worker runs a cycle, from the CLI or from the pulse ticker, a
// CycleRun row records:
// - Who ran it (worker_id) and what triggered it
// - Timing (started_at, completed_at, duration)
// - Status (running, completed, aborted)
// - The cycle summary counts, or the error that aborted it
//
// Commission jobs themselves carry their own audit trail; runs answer
// "did the engine run, and how did it go".
type CycleRun struct {
	// Identity
	ID            string `json:"id"`
	WorkerID      string `json:"worker_id"`
	TriggerSource string `json:"trigger_source"` // "cli" or "pulse"

	// Run status
	Status string `json:"status"` // "running", "completed", "aborted"

	// Timing
	StartedAt   string  `json:"started_at"`             // RFC3339 timestamp
	CompletedAt *string `json:"completed_at,omitempty"` // RFC3339 timestamp (null if running)
	DurationMs  *int64  `json:"duration_ms,omitempty"`  // Milliseconds (null if running)

	// Outcome
	Processed    int     `json:"processed"`
	Failed       int     `json:"failed"`
	Skipped      int     `json:"skipped"`
	ErrorMessage *string `json:"error_message,omitempty"` // Error if aborted
}

// Cycle run status constants
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusAborted   = "aborted"
)

// Trigger sources
const (
	TriggerCLI   = "cli"
	TriggerPulse = "pulse"
)
