package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the significance report every six hours.
const DefaultSchedule = "@every 6h"

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Schedule is a parsed report schedule.
type Schedule struct {
	Expr     string
	schedule cron.Schedule
}

// ParseSchedule parses a standard cron expression (optional seconds field) or
// a descriptor such as "@hourly" or "@every 30m". Empty means DefaultSchedule.
func ParseSchedule(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = DefaultSchedule
	}
	parsed, err := cronParser.Parse(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return Schedule{Expr: expr, schedule: parsed}, nil
}

// ValidateSchedule reports whether expr parses.
func ValidateSchedule(expr string) error {
	_, err := ParseSchedule(expr)
	return err
}

// Next returns the first activation strictly after now.
func (s Schedule) Next(now time.Time) time.Time {
	if s.schedule == nil {
		return time.Time{}
	}
	return s.schedule.Next(now)
}
