// Package display renders command results for operators and scripts.
package display

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/aurum/errors"
)

// OutputEnv forces JSON output for every command when set to "json"
const OutputEnv = "AURUM_OUTPUT"

// AddJSONFlag registers the --json/-j flag read by ShouldOutputJSON
func AddJSONFlag(cmd *cobra.Command) {
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
}

// ShouldOutputJSON determines if a command should output JSON.
// An explicit --json flag wins; otherwise AURUM_OUTPUT=json selects JSON
// for scripted callers such as an external scheduler.
func ShouldOutputJSON(cmd *cobra.Command) bool {
	if cmd != nil {
		if f := cmd.Flags().Lookup("json"); f != nil && f.Changed {
			on, _ := cmd.Flags().GetBool("json")
			return on
		}
	}
	return strings.EqualFold(os.Getenv(OutputEnv), "json")
}

// MarshalJSON marshals v with indentation
func MarshalJSON(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// JSON writes v to w as indented JSON followed by a newline
func JSON(w io.Writer, v interface{}) error {
	data, err := MarshalJSON(v)
	if err != nil {
		return errors.Wrap(err, "failed to marshal JSON")
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// Table renders rows under header
func Table(w io.Writer, header []string, rows [][]string) error {
	data := pterm.TableData{header}
	data = append(data, rows...)
	return pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(data).Render()
}
