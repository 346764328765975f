package cron

import (
	"time"

	robfigCron "github.com/robfig/cron/v3"
)

type ScheduleSpec struct {
	schd robfigCron.Schedule
}

// ParseCronSchedule parses standard five field cron notation and the
// descriptors supported by robfig/cron, e.g. "@hourly" or "@every 1h30m".
func ParseCronSchedule(interval string) (*ScheduleSpec, error) {
	schd, err := robfigCron.ParseStandard(interval)
	if err != nil {
		return nil, err
	}

	return &ScheduleSpec{schd: schd}, nil
}

// Next returns the first activation strictly after t
func (s *ScheduleSpec) Next(t time.Time) time.Time {
	return s.schd.Next(t)
}
