// Package pulse holds the pieces shared by the engine's cycle machinery:
// the progress interface a cycle reports through and the Pulse logger.
package pulse

import (
	"go.uber.org/zap"
)

// ProgressEmitter receives progress updates while a cycle runs. The CLI
// implements it to render live output; the cycle itself never depends on
// an emitter being present.
type ProgressEmitter interface {
	// EmitStage announces the start of a cycle stage ("fetch", "process")
	EmitStage(stage string, message string)

	// EmitProgress announces that count jobs have been handled so far.
	// metadata carries the job id and its outcome.
	EmitProgress(count int, metadata map[string]interface{})

	// EmitComplete announces the end of the cycle with its summary counts
	EmitComplete(summary map[string]interface{})

	// EmitError announces an error during a stage
	EmitError(stage string, err error)

	// EmitInfo emits general informational message
	EmitInfo(message string)
}

// NopEmitter discards all progress
type NopEmitter struct{}

func (NopEmitter) EmitStage(string, string) {}
func (NopEmitter) EmitProgress(int, map[string]interface{}) {}
func (NopEmitter) EmitComplete(map[string]interface{}) {}
func (NopEmitter) EmitError(string, error) {}
func (NopEmitter) EmitInfo(string) {}

// Logger wraps zap.SugaredLogger with special methods for Pulse operations
// Uses different log levels to create visual distinction:
// - DEBUG level → STARTING (✿ Opening operations)
// - WARN level → CLOSING (❀ Closing operations)
// - INFO level → PULSE (general worker operations)
type Logger struct {
	*zap.SugaredLogger
}

// NewLogger names base for a pulse component
func NewLogger(base *zap.SugaredLogger, name string) Logger {
	if base == nil {
		base = zap.NewNop().Sugar()
	}
	return Logger{base.Named(name)}
}

// Starting logs an Opening (✿) event - uses DEBUG level for "STARTING" appearance
func (l Logger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw("✿ "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event - uses WARN level for "CLOSING" appearance
func (l Logger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw("❀ "+msg, keysAndValues...)
}

// Pulse logs general Pulse/worker operations - uses INFO level
func (l Logger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}
