package models_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/insights_backend/models"
	"bitbucket.org/mmdatafocus/insights_backend/utils"
)

func TestNewReportScheduleValidate(t *testing.T) {
	valid := models.NewReportSchedule{
		Name:      "Nightly Sales",
		Frequency: models.ScheduleFrequencyDaily,
		Hour:      utils.NewInt(23),
		Minute:    utils.NewInt(59),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid knobs, got %v", err)
	}

	boundary := models.NewReportSchedule{
		DayOfWeek:  utils.NewInt(0),
		DayOfMonth: utils.NewInt(31),
		Hour:       utils.NewInt(0),
		Minute:     utils.NewInt(0),
	}
	if err := boundary.Validate(); err != nil {
		t.Fatalf("expected boundary values accepted, got %v", err)
	}

	cases := []struct {
		name  string
		input models.NewReportSchedule
	}{
		{"hour too large", models.NewReportSchedule{Hour: utils.NewInt(24)}},
		{"hour negative", models.NewReportSchedule{Hour: utils.NewInt(-1)}},
		{"minute too large", models.NewReportSchedule{Minute: utils.NewInt(60)}},
		{"day of week too large", models.NewReportSchedule{DayOfWeek: utils.NewInt(7)}},
		{"day of week negative", models.NewReportSchedule{DayOfWeek: utils.NewInt(-1)}},
		{"day of month zero", models.NewReportSchedule{DayOfMonth: utils.NewInt(0)}},
		{"day of month too large", models.NewReportSchedule{DayOfMonth: utils.NewInt(32)}},
	}
	for _, tc := range cases {
		if err := tc.input.Validate(); err == nil {
			t.Fatalf("%s: expected a validation error", tc.name)
		}
	}
}
