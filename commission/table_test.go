package commission

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/aurum/errors"
	aurumtest "github.com/teranos/aurum/internal/testing"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRuleApply(t *testing.T) {
	tests := []struct {
		name   string
		rule   Rule
		amount string
		want   string
	}{
		{"ten percent", Rule{Percentage, d("10")}, "1000", "100"},
		{"rounds to cents", Rule{Percentage, d("10")}, "333.33", "33.33"},
		{"half away from zero", Rule{Percentage, d("10")}, "0.05", "0.01"},
		{"fractional percent", Rule{Percentage, d("2.5")}, "199.99", "5"},
		{"fixed ignores amount", Rule{Fixed, d("50")}, "1", "50"},
		{"fixed rounds", Rule{Fixed, d("12.345")}, "1000", "12.35"},
		{"zero rule", Rule{}, "1000", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.rule.Apply(d(tt.amount))
			assert.True(t, d(tt.want).Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestDecodeTable(t *testing.T) {
	t.Run("percentages with null slots", func(t *testing.T) {
		table, err := DecodeTable(json.RawMessage(aurumtest.PercentLevels("10", "5", "2.5")))
		require.NoError(t, err)
		assert.Equal(t, Percentage, table[0].Type)
		assert.True(t, d("2.5").Equal(table[2].Value))
		assert.True(t, table[3].IsZero())
		assert.Equal(t, 3, table.Depth())
	})

	t.Run("string values", func(t *testing.T) {
		raw := `[{"type":"fixed","value":"50.00"},null,null,null,null,null,null,null,null,null]`
		table, err := DecodeTable(json.RawMessage(raw))
		require.NoError(t, err)
		assert.True(t, d("50").Equal(table.Payout(1, d("1"))))
		assert.True(t, table.Payout(11, d("1")).IsZero(), "levels past ten pay nothing")
	})

	t.Run("all null", func(t *testing.T) {
		table, err := DecodeTable(json.RawMessage(aurumtest.PercentLevels()))
		require.NoError(t, err)
		assert.Equal(t, 0, table.Depth())
	})

	unfilled := map[string]string{
		"empty object":       `[{},null,null,null,null,null,null,null,null,null]`,
		"zero value":         `[{"value":0},null,null,null,null,null,null,null,null,null]`,
		"zero percentage":    `[{"type":"percentage","value":"0"},{"type":"fixed","value":"5"},null,null,null,null,null,null,null,null]`,
		"zero with odd type": `[null,null,{"type":"","value":0},null,null,null,null,null,null,null]`,
	}
	for name, raw := range unfilled {
		t.Run("unfilled "+name, func(t *testing.T) {
			table, err := DecodeTable(json.RawMessage(raw))
			require.NoError(t, err)
			assert.True(t, table[0].IsZero())
			assert.True(t, table.Payout(1, d("100000")).IsZero())
		})
	}

	invalid := map[string]string{
		"eleven levels":  `[null,null,null,null,null,null,null,null,null,null,null]`,
		"nine levels":    `[null,null,null,null,null,null,null,null,null]`,
		"unknown type":   `[{"type":"tiered","value":1},null,null,null,null,null,null,null,null,null]`,
		"negative value": `[null,{"type":"fixed","value":-1},null,null,null,null,null,null,null,null]`,
		"unknown field":  `[{"type":"fixed","value":1,"cap":5},null,null,null,null,null,null,null,null,null]`,
		"not an array":   `{"levels":[]}`,
		"empty":          ``,
	}
	for name, raw := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeTable(json.RawMessage(raw))
			require.Error(t, err)
			assert.Equal(t, errors.KindBusinessRule, errors.KindOf(err))
		})
	}
}
