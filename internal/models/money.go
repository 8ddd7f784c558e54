package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Amounts are held internally as int64 minor units (cents). The HTTP
// boundary exchanges decimal values with at most two fraction digits;
// parsing goes through strings so float drift never reaches the ledger.

// ParseAmount converts a decimal string such as "250.00" or "10.5"
// into cents. It rejects more than two fraction digits rather than
// rounding silently.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimal places", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	// Only digits may remain after the sign was stripped; ParseInt alone
	// would still accept a second sign.
	for _, part := range [2]string{whole, frac} {
		for i := 0; i < len(part); i++ {
			if part[i] < '0' || part[i] > '9' {
				return 0, fmt.Errorf("invalid amount %q", s)
			}
		}
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	cents64, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	// units*100 must not wrap; a wrapped amount would execute for the
	// wrong value instead of being rejected.
	if units > (math.MaxInt64-cents64)/100 {
		return 0, fmt.Errorf("amount %q is out of range", s)
	}

	total := units*100 + cents64
	if neg {
		total = -total
	}
	return total, nil
}

// FormatAmount renders cents as a two-decimal string, e.g. 75000 -> "750.00".
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// AmountToFloat is for JSON responses only; the ledger never does
// arithmetic on the float form.
func AmountToFloat(cents int64) float64 {
	return float64(cents) / 100
}
