package agenda

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// schedule is a parsed recurring interval: either a fixed duration or a
// cron expression (standard five fields, optional seconds, descriptors
// like @daily).
type schedule struct {
	every time.Duration
	cron  cron.Schedule
}

// parseInterval accepts a Go duration string or a cron expression.
func parseInterval(interval string) (schedule, error) {
	interval = strings.TrimSpace(interval)
	if interval == "" {
		return schedule{}, fmt.Errorf("interval required")
	}
	if d, err := time.ParseDuration(interval); err == nil {
		if d <= 0 {
			return schedule{}, fmt.Errorf("interval must be positive, got %s", interval)
		}
		return schedule{every: d}, nil
	}
	parsed, err := cronParser.Parse(interval)
	if err != nil {
		return schedule{}, fmt.Errorf("invalid interval %q: %w", interval, err)
	}
	return schedule{cron: parsed}, nil
}

// next returns the first fire time strictly after now.
func (s schedule) next(now time.Time) time.Time {
	if s.every > 0 {
		return now.Add(s.every)
	}
	return s.cron.Next(now)
}
