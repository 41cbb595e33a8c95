package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// Not-found errors surfaced by the reporting engine. Stores return the generic
// ErrorRecordNotFound; the engine maps it to the resource-specific error.
var (
	ErrorTemplateNotFound  = errors.New("report template not found")
	ErrorReportNotFound    = errors.New("report not found")
	ErrorDashboardNotFound = errors.New("dashboard not found")
)

// ErrorReportNotClaimable is returned when a generation trigger loses the
// pending -> generating claim (duplicate submit or a racing dispatcher).
var ErrorReportNotClaimable = errors.New("report is not in a claimable state")
