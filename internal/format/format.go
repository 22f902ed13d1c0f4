// Package format renders verification results for display and exports.
package format

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Missing is shown in place of a count that is not known yet.
const Missing = "—"

const dateLayout = "Jan 2, 2006"

func Number(n int64) string {
	return humanize.Comma(n)
}

func Count(n *int) string {
	if n == nil {
		return Missing
	}
	return humanize.Comma(int64(*n))
}

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
}

// Currency formats minor units: Currency(123450, "USD") is "$1,234.50".
// Codes without a known symbol are appended: "1,234.50 GBP".
func Currency(cents int64, code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	amount := humanize.FormatFloat("#,###.##", float64(cents)/100)

	if sym, ok := currencySymbols[code]; ok {
		return sign + sym + amount
	}
	if code == "" {
		return sign + amount
	}
	return sign + amount + " " + code
}

func Date(t time.Time) string {
	return t.Format(dateLayout)
}

// DateString formats an RFC 3339 timestamp, returning the input unchanged
// when it does not parse.
func DateString(raw string) string {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	return Date(t)
}

func Relative(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

func Bytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

// Percent is part/total with one decimal, "0%" when total is zero.
func Percent(part, total int) string {
	if total <= 0 {
		return "0%"
	}
	p := float64(part) * 100 / float64(total)
	if p == math.Trunc(p) {
		return fmt.Sprintf("%.0f%%", p)
	}
	return fmt.Sprintf("%.1f%%", p)
}
