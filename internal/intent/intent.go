// Package intent pulls the monetary amounts and on-chain addresses out of
// action text so that ledger records say what an action was trying to move
// and where. Extraction is informational and never feeds into scoring.
package intent

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	addressRe = regexp.MustCompile(`(?i)\b0x\w{2,}`)
	amountRe  = regexp.MustCompile(`(?:^|[\s$(])(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)(?:\s+([A-Za-z]{2,10}))?`)

	knownUnits = map[string]bool{
		"units": true, "unit": true, "tokens": true, "token": true, "coins": true,
		"dollars": true, "usd": true, "usdc": true, "usdt": true, "eth": true,
		"btc": true, "sol": true, "sui": true, "mist": true,
	}
)

type Amount struct {
	Value decimal.Decimal
	Unit  string
}

type Intent struct {
	Amounts   []Amount
	Addresses []string
}

func (i Intent) Empty() bool {
	return len(i.Amounts) == 0 && len(i.Addresses) == 0
}

// Extract scans text for amounts and 0x-prefixed addresses. Addresses are
// removed before amounts are scanned so that their leading zero is not read
// as a number.
func Extract(text string) Intent {
	var out Intent
	seen := map[string]bool{}
	for _, addr := range addressRe.FindAllString(text, -1) {
		lower := strings.ToLower(addr)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		out.Addresses = append(out.Addresses, lower)
	}

	rest := addressRe.ReplaceAllString(text, " ")
	for _, m := range amountRe.FindAllStringSubmatch(rest, -1) {
		value, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
		if err != nil {
			continue
		}
		out.Amounts = append(out.Amounts, Amount{Value: value, Unit: unitFor(m[2])})
	}
	return out
}

// unitFor accepts an all-caps ticker or a known unit word.
func unitFor(word string) string {
	if word == "" {
		return ""
	}
	if word == strings.ToUpper(word) || knownUnits[strings.ToLower(word)] {
		return strings.ToUpper(word)
	}
	return ""
}

// Total sums the amounts carrying unit. Amounts are compared exactly, so
// "0.1" and "0.2" add to "0.3".
func (i Intent) Total(unit string) decimal.Decimal {
	sum := decimal.Zero
	for _, a := range i.Amounts {
		if strings.EqualFold(a.Unit, unit) {
			sum = sum.Add(a.Value)
		}
	}
	return sum
}

// View is the canonical-JSON form used in ledger blobs. Amounts are strings
// because canonical JSON carries no floats.
func (i Intent) View() map[string]any {
	amounts := make([]any, 0, len(i.Amounts))
	for _, a := range i.Amounts {
		amounts = append(amounts, map[string]any{
			"value": a.Value.String(),
			"unit":  a.Unit,
		})
	}
	addresses := make([]any, 0, len(i.Addresses))
	for _, a := range i.Addresses {
		addresses = append(addresses, a)
	}
	return map[string]any{
		"amounts":   amounts,
		"addresses": addresses,
	}
}
