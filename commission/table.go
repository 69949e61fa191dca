package commission

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/teranos/aurum/errors"
	"github.com/teranos/aurum/referral"
)

// RuleType selects how a level's payout is computed
type RuleType string

const (
	// Percentage pays value percent of the payment amount
	Percentage RuleType = "percentage"
	// Fixed pays value regardless of the payment amount
	Fixed RuleType = "fixed"
)

// PayoutScale is the number of decimal places a payout is rounded to
const PayoutScale = 2

var hundred = decimal.NewFromInt(100)

// Rule is one level's payout rule. The zero Rule pays nothing.
type Rule struct {
	Type  RuleType        `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// IsZero reports whether the rule can never pay anything
func (r Rule) IsZero() bool {
	return r.Value.IsZero()
}

// Apply returns the payout for a payment of amount, rounded half away from
// zero to two places
func (r Rule) Apply(amount decimal.Decimal) decimal.Decimal {
	switch r.Type {
	case Percentage:
		return amount.Mul(r.Value).Div(hundred).Round(PayoutScale)
	case Fixed:
		return r.Value.Round(PayoutScale)
	default:
		return decimal.Zero
	}
}

func (r Rule) validate(level int) error {
	switch r.Type {
	case Percentage, Fixed:
	default:
		return errors.BusinessRulef("level %d: unknown rule type %q", level, r.Type)
	}
	if r.Value.IsNegative() {
		return errors.BusinessRulef("level %d: negative value %s", level, r.Value)
	}
	return nil
}

// Table holds one rule per upline level; index 0 is level 1
type Table [referral.MaxLevels]Rule

// DecodeTable parses a plan's stored levels: a JSON array of exactly ten
// slots, each a rule object or null. A null slot, or one whose value is
// zero, is unfilled and pays nothing whatever its type.
func DecodeTable(raw json.RawMessage) (Table, error) {
	var table Table

	var slots []*Rule
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&slots); err != nil {
		return table, errors.AsBusinessRule(err, "decode commission table")
	}
	if len(slots) != len(table) {
		return table, errors.BusinessRulef("commission table has %d levels, want %d", len(slots), len(table))
	}

	for i, slot := range slots {
		if slot == nil || slot.Value.IsZero() {
			continue
		}
		if err := slot.validate(i + 1); err != nil {
			return table, err
		}
		table[i] = *slot
	}
	return table, nil
}

// Payout returns the payout at level (1-indexed) for amount
func (t Table) Payout(level int, amount decimal.Decimal) decimal.Decimal {
	if level < 1 || level > len(t) {
		return decimal.Zero
	}
	return t[level-1].Apply(amount)
}

// Depth returns the deepest level with a non-zero rule, 0 when none pay
func (t Table) Depth() int {
	for i := len(t) - 1; i >= 0; i-- {
		if !t[i].IsZero() {
			return i + 1
		}
	}
	return 0
}
