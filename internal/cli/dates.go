package cli

import (
	"fmt"
	"time"
)

// parseDay parses a YYYY-MM-DD flag value into a UTC date.
func parseDay(flag, value string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s value %q: expected YYYY-MM-DD", flag, value)
	}
	return d.UTC(), nil
}
