package market

import (
	"strconv"
	"strings"
)

// parseDecimal handles the numeric strings Binance uses for every price and
// quantity field.
func parseDecimal(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return val, true
}
