package settlement

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseUSDCAmount parses a decimal string, optionally prefixed with "$",
// into the integer USDC amount at 6 decimals. Empty or non-numeric input
// fails fast rather than silently defaulting to zero.
func ParseUSDCAmount(input string) (int64, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(input), "$")
	if trimmed == "" {
		return 0, fmt.Errorf("settlement: empty amount")
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("settlement: non-numeric amount %q: %w", input, err)
	}
	return int64(value*1_000_000 + 0.5), nil
}
