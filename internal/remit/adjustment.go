package remit

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Adjustment is one CAS group/reason/amount triple, written as "CO-45:120.00".
type Adjustment struct {
	Group  string
	Reason string
	Amount decimal.Decimal
}

// Code is the "group-reason" key, e.g. "CO-45".
func (a Adjustment) Code() string {
	if a.Reason == "" {
		return a.Group
	}
	return a.Group + "-" + a.Reason
}

func (a Adjustment) String() string {
	return a.Code() + ":" + a.Amount.StringFixed(2)
}

// ParseAdjustment parses a single "CO-45:120.00" token. Tokens without an
// amount get a zero amount; tokens without a dash have an empty reason.
func ParseAdjustment(tok string) (Adjustment, bool) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return Adjustment{}, false
	}
	code, amt, _ := strings.Cut(tok, ":")
	group, reason, _ := strings.Cut(strings.TrimSpace(code), "-")
	return Adjustment{
		Group:  strings.TrimSpace(group),
		Reason: strings.TrimSpace(reason),
		Amount: Amount(amt),
	}, true
}

// ParseAdjustments splits the "; "-joined list used in the intermediate files.
func ParseAdjustments(s string) []Adjustment {
	var out []Adjustment
	for _, tok := range strings.Split(s, ";") {
		if adj, ok := ParseAdjustment(tok); ok {
			out = append(out, adj)
		}
	}
	return out
}

// JoinAdjustments renders a list of adjustment strings for a CSV cell.
func JoinAdjustments(adjs []string) string {
	return strings.Join(adjs, "; ")
}
