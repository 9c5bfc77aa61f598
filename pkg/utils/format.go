// Package utils provides shared formatting helpers.
package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FormatUSD formats an amount as dollars with thousands separators.
func FormatUSD(amount float64) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "$-"
	}
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := strconv.FormatFloat(amount, 'f', 2, 64)
	intPart, decPart, _ := strings.Cut(str, ".")

	result := "$" + groupThousands(intPart) + "." + decPart
	if negative && result != "$0.00" {
		result = "-" + result
	}
	return result
}

// groupThousands inserts commas every three digits from the right.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	var b strings.Builder
	head := n % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatPnL formats a P&L amount with an explicit sign.
func FormatPnL(pnl float64) string {
	formatted := FormatUSD(pnl)
	if pnl > 0 && formatted != "$0.00" {
		return "+" + formatted
	}
	return formatted
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		value = 0
	}
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatQty formats a coin quantity with up to eight decimals and no
// trailing zeros.
func FormatQty(qty float64) string {
	s := strconv.FormatFloat(qty, 'f', 8, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}

// FormatPrice formats a price with precision suited to its magnitude.
func FormatPrice(price float64) string {
	abs := math.Abs(price)
	switch {
	case abs >= 1000:
		intPart, decPart, _ := strings.Cut(strconv.FormatFloat(abs, 'f', 2, 64), ".")
		out := groupThousands(intPart) + "." + decPart
		if price < 0 {
			out = "-" + out
		}
		return out
	case abs >= 1:
		return strconv.FormatFloat(price, 'f', 2, 64)
	case abs == 0:
		return "0"
	}
	return strconv.FormatFloat(price, 'f', 6, 64)
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
