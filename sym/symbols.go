// Package sym defines the glyphs aurum prints in front of its commands and
// progress output. They are stable across the CLI, logs and documentation.
package sym

// Command glyphs
const (
	AM      = "≡" // am: configuration
	Cycle   = "⟳" // cycle: one commission run
	Jobs    = "⋮" // jobs: the commission job table
	Bonus   = "✦" // bonus: completion bonus allocation
	Savings = "▦" // savings: monthly payment schedules
)

// System glyphs
const (
	Pulse      = "꩜" // scheduled cycles
	PulseOpen  = "✿" // cycle starting
	PulseClose = "❀" // cycle finished
	DB         = "⊔" // store and migrations
)

// entry binds a glyph to its command and description
type entry struct {
	glyph       string
	command     string
	description string
}

// registry lists every command glyph in help order
var registry = []entry{
	{AM, "am", "Show and initialise engine configuration"},
	{Cycle, "cycle", "Run one commission cycle and inspect past runs"},
	{Pulse, "pulse", "Run commission cycles on a cron schedule"},
	{Jobs, "jobs", "Inspect, enqueue and repair commission jobs"},
	{Bonus, "bonus", "Check and allocate completion bonuses"},
	{Savings, "savings", "Show a subscription's payment schedule"},
	{DB, "db", "Apply store migrations"},
}

// Lookup tables built from the registry at init time.
var (
	// SymbolToCommand maps a glyph to its command name
	SymbolToCommand map[string]string
	// CommandToSymbol maps a command name to its glyph
	CommandToSymbol map[string]string
	// CommandDescriptions maps a command name to its one-line description
	CommandDescriptions map[string]string
)

func init() {
	SymbolToCommand = make(map[string]string, len(registry))
	CommandToSymbol = make(map[string]string, len(registry))
	CommandDescriptions = make(map[string]string, len(registry))
	for _, e := range registry {
		SymbolToCommand[e.glyph] = e.command
		CommandToSymbol[e.command] = e.glyph
		CommandDescriptions[e.command] = e.description
	}
}

// Short returns "<glyph> <description>" for a command, suitable for a
// cobra Short field. Unknown commands return an empty string.
func Short(command string) string {
	glyph, ok := CommandToSymbol[command]
	if !ok {
		return ""
	}
	return glyph + " " + CommandDescriptions[command]
}

// Commands returns the command names in help order
func Commands() []string {
	out := make([]string, len(registry))
	for i, e := range registry {
		out[i] = e.command
	}
	return out
}
