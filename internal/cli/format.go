package cli

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// FormatNumber formats a value with thousands separators and the given
// number of decimal places. NaN renders as "n/a".
func FormatNumber(value float64, decimals int) string {
	if math.IsNaN(value) {
		return "n/a"
	}
	if math.IsInf(value, 0) {
		if value > 0 {
			return "+Inf"
		}
		return "-Inf"
	}

	negative := value < 0
	if negative {
		value = -value
	}

	str := fmt.Sprintf("%.*f", decimals, value)
	intPart, decPart := str, ""
	if i := strings.IndexByte(str, '.'); i >= 0 {
		intPart, decPart = str[:i], str[i:]
	}

	result := groupThousands(intPart) + decPart
	if negative && strings.Trim(result, "0.,") != "" {
		result = "-" + result
	}
	return result
}

// groupThousands inserts a comma every three digits from the right.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}
	var sb strings.Builder
	head := n % 3
	if head > 0 {
		sb.WriteString(s[:head])
	}
	for i := head; i < n; i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(s[i : i+3])
	}
	return sb.String()
}

// FormatPercent formats a fraction as a signed percentage.
func FormatPercent(frac float64) string {
	if math.IsNaN(frac) {
		return "n/a"
	}
	sign := ""
	if frac > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, frac*100)
}

// FormatPnL formats P&L in price units with sign.
func FormatPnL(pnl float64) string {
	formatted := FormatNumber(pnl, 4)
	if pnl > 0 {
		return "+" + formatted
	}
	return formatted
}

// FormatRatio formats a dimensionless statistic.
func FormatRatio(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", v)
}

// FormatLambda formats a smoothing strength in scientific notation.
func FormatLambda(lambda float64) string {
	if math.IsNaN(lambda) {
		return "n/a"
	}
	return fmt.Sprintf("%.3g", lambda)
}

// FormatDate formats a date.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// FormatDuration formats a holding period in days or weeks.
func FormatDuration(d time.Duration) string {
	days := d.Hours() / 24
	if days < 14 {
		return fmt.Sprintf("%.1fd", days)
	}
	return fmt.Sprintf("%.1fw", days/7)
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

