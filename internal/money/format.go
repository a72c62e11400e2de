package money

import "strconv"

// FormatCOP renders an amount in minor units as a Colombian peso string
// with dot thousand separators, matching the es-CO display format used
// across the storefront ("$1.234.567").
func FormatCOP(amount int64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	digits := strconv.FormatInt(amount, 10)

	var out []byte
	for i, d := range []byte(digits) {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, '.')
		}
		out = append(out, d)
	}

	formatted := "$" + string(out)
	if negative {
		formatted = "-" + formatted
	}
	return formatted
}
