package models

import "strings"

// ReportStatus is the GeneratedReport lifecycle.
// Scheduled is a pre-state entered only by intake; the dispatcher re-enters at Pending.
// Completed and Failed are terminal.
type ReportStatus string

const (
	ReportStatusScheduled  ReportStatus = "Scheduled"
	ReportStatusPending    ReportStatus = "Pending"
	ReportStatusGenerating ReportStatus = "Generating"
	ReportStatusCompleted  ReportStatus = "Completed"
	ReportStatusFailed     ReportStatus = "Failed"
)

func (s ReportStatus) IsTerminal() bool {
	return s == ReportStatusCompleted || s == ReportStatusFailed
}

type ReportCategory string

const (
	ReportCategoryOperational ReportCategory = "Operational"
	ReportCategoryFinancial   ReportCategory = "Financial"
	ReportCategorySales       ReportCategory = "Sales"
	ReportCategoryInventory   ReportCategory = "Inventory"
)

type OutputFormat string

const (
	OutputFormatXlsx OutputFormat = "Xlsx"
	OutputFormatCsv  OutputFormat = "Csv"
	OutputFormatPdf  OutputFormat = "Pdf"
)

// ParseFormatList parses a stored comma list of formats; empty means Xlsx only.
func ParseFormatList(s string) []OutputFormat {
	var formats []OutputFormat
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			formats = append(formats, OutputFormat(part))
		}
	}
	if len(formats) == 0 {
		return []OutputFormat{OutputFormatXlsx}
	}
	return formats
}

func JoinFormatList(formats []OutputFormat) string {
	parts := make([]string, 0, len(formats))
	for _, f := range formats {
		parts = append(parts, string(f))
	}
	return strings.Join(parts, ",")
}

type AccessLevel string

const (
	AccessLevelPrivate  AccessLevel = "Private"
	AccessLevelTeam     AccessLevel = "Team"
	AccessLevelBusiness AccessLevel = "Business"
)

type WidgetDisplayType string

const (
	WidgetDisplayTypeKpi   WidgetDisplayType = "Kpi"
	WidgetDisplayTypeChart WidgetDisplayType = "Chart"
	WidgetDisplayTypeTable WidgetDisplayType = "Table"
	WidgetDisplayTypeList  WidgetDisplayType = "List"
)

type PeriodType string

const (
	PeriodTypeDaily     PeriodType = "Daily"
	PeriodTypeWeekly    PeriodType = "Weekly"
	PeriodTypeMonthly   PeriodType = "Monthly"
	PeriodTypeQuarterly PeriodType = "Quarterly"
	PeriodTypeYearly    PeriodType = "Yearly"
	PeriodTypeCustom    PeriodType = "Custom"
)

type ScheduleFrequency string

const (
	ScheduleFrequencyDaily   ScheduleFrequency = "Daily"
	ScheduleFrequencyWeekly  ScheduleFrequency = "Weekly"
	ScheduleFrequencyMonthly ScheduleFrequency = "Monthly"
	ScheduleFrequencyOther   ScheduleFrequency = "Other"
)

// Report event types written to the outbox on terminal transitions.
type ReportEventType string

const (
	ReportEventTypeCompleted ReportEventType = "report.completed"
	ReportEventTypeFailed    ReportEventType = "report.failed"
)

// Outbox publish statuses for ReportEventRecord.PublishStatus.
// Keep these as strings (DB values).
const (
	OutboxPublishStatusPending = "PENDING"
	OutboxPublishStatusSent    = "SENT"
	OutboxPublishStatusFailed  = "FAILED"
	OutboxPublishStatusDead    = "DEAD"
)
