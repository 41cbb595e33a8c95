package workflow

import (
	"time"

	"bitbucket.org/mmdatafocus/insights_backend/models"
	"bitbucket.org/mmdatafocus/insights_backend/utils"
)

// ScheduleConfig holds the optional time-of-day and calendar knobs of a
// recurring schedule. Nil fields fall back to defaults: 09:00, Monday, day 1.
type ScheduleConfig struct {
	Hour       *int
	Minute     *int
	DayOfWeek  *int
	DayOfMonth *int
}

// NextRunAt computes the next execution time strictly after now.
//
// Weekly always lands in the following week: even when today is before the
// target weekday, the run is 7 - weekday(now) + target days out, so the gap is
// between 1 and 13 days and never zero.
//
// Monthly advances a calendar month with Go's date normalization before
// applying day-of-month, so a Jan 31 base rolls through a short February; the
// result still lands on the configured day.
func NextRunAt(frequency models.ScheduleFrequency, cfg ScheduleConfig, now time.Time) time.Time {
	hour := utils.DereferencePtr(cfg.Hour, 9)
	minute := utils.DereferencePtr(cfg.Minute, 0)

	switch frequency {
	case models.ScheduleFrequencyDaily:
		next := now.AddDate(0, 0, 1)
		return time.Date(next.Year(), next.Month(), next.Day(), hour, minute, 0, 0, now.Location())

	case models.ScheduleFrequencyWeekly:
		// Out-of-range weekday values wrap into 0..6 so the gap stays
		// within the next-week window even for legacy rows.
		target := ((utils.DereferencePtr(cfg.DayOfWeek, 1) % 7) + 7) % 7
		days := 7 - int(now.Weekday()) + target
		next := now.AddDate(0, 0, days)
		return time.Date(next.Year(), next.Month(), next.Day(), hour, minute, 0, 0, now.Location())

	case models.ScheduleFrequencyMonthly:
		day := utils.DereferencePtr(cfg.DayOfMonth, 1)
		next := now.AddDate(0, 1, 0)
		return time.Date(next.Year(), next.Month(), day, hour, minute, 0, 0, now.Location())

	default:
		// Unknown cadence: retry at the next top of the hour.
		return time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location()).Add(time.Hour)
	}
}

// NextRunForSchedule applies NextRunAt to a stored schedule row.
func NextRunForSchedule(s *models.ReportSchedule, now time.Time) time.Time {
	return NextRunAt(s.Frequency, ScheduleConfig{
		Hour:       s.Hour,
		Minute:     s.Minute,
		DayOfWeek:  s.DayOfWeek,
		DayOfMonth: s.DayOfMonth,
	}, now)
}
