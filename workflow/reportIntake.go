package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/insights_backend/config"
	"bitbucket.org/mmdatafocus/insights_backend/models"
	"bitbucket.org/mmdatafocus/insights_backend/utils"
)

// NewReportRequest is the intake payload for one report run.
type NewReportRequest struct {
	TemplateId       int                   `json:"template_id"`
	Title            string                `json:"title" binding:"required"`
	ReportType       string                `json:"report_type" binding:"required"`
	Category         models.ReportCategory `json:"category"`
	DateFrom         time.Time             `json:"date_from" binding:"required"`
	DateTo           time.Time             `json:"date_to" binding:"required"`
	Filters          map[string]any        `json:"filters"`
	RequestedFormats []models.OutputFormat `json:"requested_formats"`
	ClientIds        []int                 `json:"client_ids"`
	ScheduledFor     *time.Time            `json:"scheduled_for"`
}

// CreateReportRequest validates and persists a report request. Future
// scheduled_for lands the row in Scheduled for the dispatcher; otherwise the
// row starts Pending and generation is launched immediately on a detached
// context so it survives the HTTP request.
func (e *ReportEngine) CreateReportRequest(ctx context.Context, input *NewReportRequest) (*models.GeneratedReport, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	userId, _ := utils.GetUserIdFromContext(ctx)

	if input.DateTo.Before(input.DateFrom) {
		return nil, errors.New("date_to must not be before date_from")
	}

	var template *models.ReportTemplate
	if input.TemplateId > 0 {
		var err error
		template, err = e.Store.GetTemplate(ctx, businessId, input.TemplateId)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				return nil, utils.ErrorTemplateNotFound
			}
			return nil, err
		}
	}

	formats := input.RequestedFormats
	if len(formats) == 0 {
		if template != nil {
			formats = template.AllowedFormatList()
		} else {
			formats = []models.OutputFormat{models.OutputFormatXlsx}
		}
	}
	formats = utils.UniqueSlice(formats)
	for _, format := range formats {
		if !e.Renderer.Supports(format) {
			return nil, fmt.Errorf("output format %q has no renderer", format)
		}
		if template != nil && !template.AllowsFormat(format) {
			return nil, fmt.Errorf("output format %q is not allowed by template %q", format, template.Name)
		}
	}

	category := input.Category
	if category == "" {
		if template != nil {
			category = template.Category
		} else {
			category = models.ReportCategoryOperational
		}
	}

	now := e.Clock()
	status := models.ReportStatusPending
	if input.ScheduledFor != nil && input.ScheduledFor.After(now) {
		status = models.ReportStatusScheduled
	}

	report := &models.GeneratedReport{
		BusinessId:       businessId,
		TemplateId:       input.TemplateId,
		Title:            input.Title,
		ReportType:       input.ReportType,
		Category:         category,
		DateFrom:         input.DateFrom,
		DateTo:           input.DateTo,
		Filters:          utils.MarshalOrNull(input.Filters),
		RequestedFormats: models.JoinFormatList(formats),
		ClientIds:        utils.MarshalOrNull(input.ClientIds),
		Status:           status,
		ScheduledFor:     input.ScheduledFor,
		GeneratedBy:      userId,
	}
	if err := e.Store.CreateReport(ctx, report); err != nil {
		return nil, err
	}

	if status == models.ReportStatusPending && e.Async {
		detached := utils.DetachedContext(ctx)
		go func() {
			if err := e.GenerateReport(detached, businessId, report.ID); err != nil {
				config.LogError(e.Logger, "workflow", "CreateReportRequest", "background generation", map[string]any{
					"report_id": report.ID,
				}, err)
			}
		}()
	}
	return report, nil
}
