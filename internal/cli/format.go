package cli

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// FormatPrice formats a price with thousands separators, e.g. $95,234.56.
func FormatPrice(price float64) string {
	sign := ""
	if price < 0 {
		sign = "-"
		price = -price
	}
	s := fmt.Sprintf("%.2f", price)
	whole, frac, _ := strings.Cut(s, ".")
	return sign + "$" + groupThousands(whole) + "." + frac
}

func groupThousands(s string) string {
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// AbbreviatePrice formats a price for axis labels and summaries:
// $1.2M, $95.2K, $512.
func AbbreviatePrice(price float64) string {
	abs := math.Abs(price)
	switch {
	case abs >= 1_000_000:
		return fmt.Sprintf("$%.1fM", price/1_000_000)
	case abs >= 1_000:
		return fmt.Sprintf("$%.1fK", price/1_000)
	default:
		return fmt.Sprintf("$%.0f", price)
	}
}

// FormatPercent formats a percentage with its sign, e.g. +3.25%.
func FormatPercent(value float64) string {
	return fmt.Sprintf("%+.2f%%", value)
}

// FormatDate formats a date as 2006-01-02 in UTC.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02")
}

// FormatDateTime formats an instant as 2006-01-02 15:04 UTC.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

// FormatAge formats a duration coarsely: 45s, 12m, 3h20m, 4d.
func FormatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		h := int(d.Hours())
		m := int(d.Minutes()) - h*60
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh%dm", h, m)
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
