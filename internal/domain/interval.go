package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// IntervalMs returns the bucket width in milliseconds for a canonical
// timeframe label such as "1m". Understood units: s, m, h.
func IntervalMs(label string) (int64, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	if len(label) < 2 {
		return 0, fmt.Errorf("invalid interval label %q", label)
	}

	unit := label[len(label)-1]
	n, err := strconv.ParseInt(label[:len(label)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval label %q", label)
	}

	switch unit {
	case 's':
		return n * 1000, nil
	case 'm':
		return n * 60_000, nil
	case 'h':
		return n * 3_600_000, nil
	default:
		return 0, fmt.Errorf("invalid interval label %q", label)
	}
}
