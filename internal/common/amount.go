package common

import (
	"fmt"
	"strconv"
	"strings"
)

// SOLDecimals is the number of decimals of the native asset (lamports).
const SOLDecimals = 9

// FormatAmount converts a raw integer amount to a decimal string by
// inserting the decimal point, without float precision loss.
// Example: FormatAmount(24981836, 9) = "0.024981836"
func FormatAmount(value uint64, decimals int) string {
	s := fmt.Sprintf("%d", value)

	// Pad with leading zeros if needed
	for len(s) <= decimals {
		s = "0" + s
	}

	if decimals == 0 {
		return s
	}
	pos := len(s) - decimals
	return s[:pos] + "." + s[pos:]
}

// FormatSignedAmount formats a signed raw delta the same way.
func FormatSignedAmount(value int64, decimals int) string {
	if value < 0 {
		// Negate without overflowing on MinInt64.
		return "-" + FormatAmount(uint64(-(value+1))+1, decimals)
	}
	return FormatAmount(uint64(value), decimals)
}

// ParseAmount converts a decimal string to a raw integer amount by removing
// the decimal point, without float precision loss.
// Example: ParseAmount("0.024981836", 9) = 24981836
func ParseAmount(s string, decimals int) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty string")
	}

	parts := strings.Split(s, ".")

	if len(parts) == 1 {
		// No decimal point - multiply by 10^decimals
		n, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return 0, err
		}
		for i := 0; i < decimals; i++ {
			n *= 10
		}
		return n, nil
	}

	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid decimal format")
	}

	whole := parts[0]
	frac := parts[1]

	// Pad or truncate fractional part to exact decimals
	if len(frac) < decimals {
		frac += strings.Repeat("0", decimals-len(frac))
	} else if len(frac) > decimals {
		frac = frac[:decimals]
	}

	return strconv.ParseUint(whole+frac, 10, 64)
}
