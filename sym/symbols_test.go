package sym

import (
	"testing"
	"unicode/utf8"
)

func TestSymbolToCommandAndCommandToSymbolAreBidirectional(t *testing.T) {
	for symbol, cmd := range SymbolToCommand {
		got, ok := CommandToSymbol[cmd]
		if !ok {
			t.Errorf("SymbolToCommand has %q → %q, but CommandToSymbol has no entry for %q", symbol, cmd, cmd)
			continue
		}
		if got != symbol {
			t.Errorf("bidirectional mismatch: SymbolToCommand[%q] = %q, but CommandToSymbol[%q] = %q", symbol, cmd, cmd, got)
		}
	}
}

func TestMapsHaveSameSize(t *testing.T) {
	if len(SymbolToCommand) != len(CommandToSymbol) {
		t.Errorf("map size mismatch: SymbolToCommand has %d entries, CommandToSymbol has %d",
			len(SymbolToCommand), len(CommandToSymbol))
	}
	if len(Commands()) != len(CommandToSymbol) {
		t.Errorf("duplicate command names in registry")
	}
}

func TestCommandDescriptionsCoversAllCommands(t *testing.T) {
	for _, cmd := range Commands() {
		if CommandDescriptions[cmd] == "" {
			t.Errorf("command %q has no description", cmd)
		}
	}
}

func TestGlyphsAreSingleRunes(t *testing.T) {
	for _, glyph := range []string{AM, Cycle, Jobs, Bonus, Savings, Pulse, PulseOpen, PulseClose, DB} {
		if n := utf8.RuneCountInString(glyph); n != 1 {
			t.Errorf("glyph %q has %d runes, want 1", glyph, n)
		}
	}
}

func TestShort(t *testing.T) {
	if got, want := Short("pulse"), Pulse+" Run commission cycles on a cron schedule"; got != want {
		t.Errorf("Short(pulse) = %q, want %q", got, want)
	}
	if got := Short("nope"); got != "" {
		t.Errorf("Short(nope) = %q, want empty", got)
	}
}
