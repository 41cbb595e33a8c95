package workflow_test

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/insights_backend/models"
	"bitbucket.org/mmdatafocus/insights_backend/utils"
	"bitbucket.org/mmdatafocus/insights_backend/workflow"
)

func TestNextRunAtDaily(t *testing.T) {
	cases := []struct {
		name     string
		now      time.Time
		cfg      workflow.ScheduleConfig
		expected time.Time
	}{
		{
			name:     "defaults to 09:00 next day",
			now:      time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC),
			cfg:      workflow.ScheduleConfig{},
			expected: time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC),
		},
		{
			name:     "explicit hour and minute",
			now:      time.Date(2024, 1, 15, 2, 0, 0, 0, time.UTC),
			cfg:      workflow.ScheduleConfig{Hour: utils.NewInt(6), Minute: utils.NewInt(45)},
			expected: time.Date(2024, 1, 16, 6, 45, 0, 0, time.UTC),
		},
		{
			name:     "explicit midnight hour is honored",
			now:      time.Date(2024, 1, 15, 23, 59, 0, 0, time.UTC),
			cfg:      workflow.ScheduleConfig{Hour: utils.NewInt(0)},
			expected: time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "month boundary",
			now:      time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC),
			cfg:      workflow.ScheduleConfig{},
			expected: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		got := workflow.NextRunAt(models.ScheduleFrequencyDaily, tc.cfg, tc.now)
		if !got.Equal(tc.expected) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.expected, got)
		}
		if !got.After(tc.now) {
			t.Fatalf("%s: next run %v is not after now %v", tc.name, got, tc.now)
		}
	}
}

func TestNextRunAtWeeklyLandsNextWeek(t *testing.T) {
	// Monday 2024-01-15.
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		dayOfWeek *int
		expected  time.Time
	}{
		// Default target is Monday: a full week out.
		{nil, time.Date(2024, 1, 22, 9, 0, 0, 0, time.UTC)},
		// Friday of the following week, not this week's Friday.
		{utils.NewInt(5), time.Date(2024, 1, 26, 9, 0, 0, 0, time.UTC)},
		// Sunday target (0) lands the day before next Monday.
		{utils.NewInt(0), time.Date(2024, 1, 21, 9, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got := workflow.NextRunAt(models.ScheduleFrequencyWeekly, workflow.ScheduleConfig{DayOfWeek: tc.dayOfWeek}, now)
		if !got.Equal(tc.expected) {
			t.Fatalf("dayOfWeek=%v: expected %v, got %v", tc.dayOfWeek, tc.expected, got)
		}
		if !got.After(now) {
			t.Fatalf("dayOfWeek=%v: next run %v is not after now %v", tc.dayOfWeek, got, now)
		}
	}
}

func TestNextRunAtWeeklyGapIsBounded(t *testing.T) {
	base := time.Date(2024, 3, 3, 12, 0, 0, 0, time.UTC)
	for weekday := 0; weekday < 7; weekday++ {
		now := base.AddDate(0, 0, weekday)
		for target := 0; target < 7; target++ {
			got := workflow.NextRunAt(models.ScheduleFrequencyWeekly, workflow.ScheduleConfig{DayOfWeek: utils.NewInt(target)}, now)
			if int(got.Weekday()) != target {
				t.Fatalf("now=%v target=%d: landed on %v", now, target, got.Weekday())
			}
			gap := got.Sub(now)
			if gap <= 0 || gap > 14*24*time.Hour {
				t.Fatalf("now=%v target=%d: gap %v out of range", now, target, gap)
			}
		}
	}
}

func TestNextRunAtWeeklyWrapsOutOfRangeWeekday(t *testing.T) {
	// Monday 2024-01-15.
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		dayOfWeek int
		expected  time.Time
	}{
		// 7 wraps to Sunday (0).
		{7, time.Date(2024, 1, 21, 9, 0, 0, 0, time.UTC)},
		// 9 wraps to Tuesday (2).
		{9, time.Date(2024, 1, 23, 9, 0, 0, 0, time.UTC)},
		// -1 wraps to Saturday (6).
		{-1, time.Date(2024, 1, 27, 9, 0, 0, 0, time.UTC)},
		{13, time.Date(2024, 1, 27, 9, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got := workflow.NextRunAt(models.ScheduleFrequencyWeekly, workflow.ScheduleConfig{DayOfWeek: utils.NewInt(tc.dayOfWeek)}, now)
		if !got.Equal(tc.expected) {
			t.Fatalf("dayOfWeek=%d: expected %v, got %v", tc.dayOfWeek, tc.expected, got)
		}
		gap := got.Sub(now)
		if gap <= 0 || gap > 14*24*time.Hour {
			t.Fatalf("dayOfWeek=%d: gap %v out of range", tc.dayOfWeek, gap)
		}
	}
}

func TestNextRunAtMonthly(t *testing.T) {
	cases := []struct {
		name     string
		now      time.Time
		cfg      workflow.ScheduleConfig
		expected time.Time
	}{
		{
			name:     "mid month advances to day 1 of next month",
			now:      time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
			cfg:      workflow.ScheduleConfig{},
			expected: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC),
		},
		{
			name:     "explicit day of month",
			now:      time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
			cfg:      workflow.ScheduleConfig{DayOfMonth: utils.NewInt(20), Hour: utils.NewInt(7)},
			expected: time.Date(2024, 2, 20, 7, 0, 0, 0, time.UTC),
		},
		{
			name: "jan 31 rolls through short february",
			// AddDate normalizes Feb 31 to Mar 2 before the day is applied.
			now:      time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC),
			cfg:      workflow.ScheduleConfig{},
			expected: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		got := workflow.NextRunAt(models.ScheduleFrequencyMonthly, tc.cfg, tc.now)
		if !got.Equal(tc.expected) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.expected, got)
		}
	}
}

func TestNextRunAtOtherFallsBackToNextHour(t *testing.T) {
	now := time.Date(2024, 1, 15, 14, 42, 11, 0, time.UTC)
	got := workflow.NextRunAt(models.ScheduleFrequencyOther, workflow.ScheduleConfig{}, now)
	expected := time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC)
	if !got.Equal(expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}

func TestNextRunForSchedule(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	schedule := &models.ReportSchedule{
		Frequency: models.ScheduleFrequencyWeekly,
		DayOfWeek: utils.NewInt(3),
		Hour:      utils.NewInt(8),
		Minute:    utils.NewInt(15),
	}
	got := workflow.NextRunForSchedule(schedule, now)
	expected := time.Date(2024, 1, 24, 8, 15, 0, 0, time.UTC)
	if !got.Equal(expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}
