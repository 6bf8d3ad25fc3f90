package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/sosodev/duration"
)

// ParseDuration accepts an ISO-8601 duration ("PT10M", "P30D") or a Go duration
// ("10m", "720h"). Negative durations are rejected.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	var d time.Duration
	if strings.HasPrefix(strings.ToUpper(s), "P") {
		iso, err := duration.Parse(strings.ToUpper(s))
		if err != nil {
			return 0, fmt.Errorf("parse ISO-8601 duration %q: %w", s, err)
		}
		d = iso.ToTimeDuration()
	} else {
		var err error
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("parse duration %q: %w", s, err)
		}
	}

	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
