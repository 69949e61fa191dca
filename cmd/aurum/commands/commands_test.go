package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/aurum/am"
	"github.com/teranos/aurum/db"
	"github.com/teranos/aurum/errors"
	aurumtest "github.com/teranos/aurum/internal/testing"
	"github.com/teranos/aurum/pulse/cycle"
)

// writeConfig points the commands at a fresh SQLite store and returns its path
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "aurum.db")
	cfgPath := filepath.Join(dir, "am.toml")

	content := fmt.Sprintf("[database]\ndriver = %q\ndsn = %q\n\n[engine]\nworker_id = \"cli-test\"\n", am.DriverSQLite, dbPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	ConfigPath = cfgPath
	am.Reset()
	t.Cleanup(func() {
		ConfigPath = ""
		am.Reset()
	})
	return dbPath
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitFatalConfig, ExitCode(errors.AsFatal(errors.New("dsn missing"), "open")))
	assert.Equal(t, ExitError, ExitCode(errors.New("boom")))
}

func TestCycleRunPrintsSummary(t *testing.T) {
	dbPath := writeConfig(t)

	conn, err := db.OpenWithMigrations(am.DriverSQLite, dbPath, nil)
	require.NoError(t, err)
	aurumtest.SeedPlan(t, conn, "plan-10", 10, 100000, aurumtest.PercentLevels("5", "4"))
	aurumtest.SeedReferralChain(t, conn, "S", "A", "B")
	aurumtest.SeedSubscription(t, conn, "sub-s", "S", "plan-10", "2024-01-01", 450000)
	aurumtest.SeedPayment(t, conn, "pay-1", "sub-s", 1, 100000, "completed", "monthly")
	aurumtest.SeedJob(t, conn, "job-1", "pending", "2024-01-01", "pay-1")
	require.NoError(t, conn.Close())

	var out bytes.Buffer
	CycleCmd.SetOut(&out)
	CycleCmd.SetArgs([]string{"run"})
	require.NoError(t, CycleCmd.Execute())

	var summary cycle.Summary
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Failed)
	assert.Empty(t, summary.Errors)

	// Replaying the cycle pays nothing new
	out.Reset()
	require.NoError(t, CycleCmd.Execute())
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	assert.Equal(t, 0, summary.Processed)

	conn, err = db.Open(am.DriverSQLite, dbPath, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, 2, aurumtest.CountRows(t, conn, "ledger_entries", ""))
	assert.Equal(t, 2, aurumtest.CountRows(t, conn, "cycle_runs", "worker_id = 'cli-test'"))
}

func TestCycleRunInvalidConfigFails(t *testing.T) {
	writeConfig(t)
	require.NoError(t, os.WriteFile(ConfigPath, []byte("[database]\ndriver = \"mysql\"\ndsn = \"x\"\n"), 0o644))

	CycleCmd.SetOut(&bytes.Buffer{})
	CycleCmd.SetArgs([]string{"run"})
	err := CycleCmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFatalConfig, ExitCode(err))
}

func TestCLIEmitter(t *testing.T) {
	pterm.DisableStyling()
	t.Cleanup(pterm.EnableStyling)

	var buf bytes.Buffer
	e := NewCLIEmitter(&buf, 0)
	e.EmitStage("fetch", "Fetching jobs")
	e.EmitProgress(1, map[string]interface{}{"job_id": "job-1", "status": "processed"})
	e.EmitProgress(2, map[string]interface{}{"job_id": "job-2", "status": "failed"})
	e.EmitInfo("hidden at verbosity 0")

	out := buf.String()
	assert.Contains(t, out, "fetch: Fetching jobs")
	assert.NotContains(t, out, "job-1", "processed jobs are only shown at -v")
	assert.Contains(t, out, "job-2")
	assert.NotContains(t, out, "hidden")
}
