package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/insights_backend/config"
	"bitbucket.org/mmdatafocus/insights_backend/models"
	"bitbucket.org/mmdatafocus/insights_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("insights-backend")

// ReportStore is the persistence surface the pipeline drives. models.ReportDB
// is the production implementation.
type ReportStore interface {
	CreateReport(ctx context.Context, report *models.GeneratedReport) error
	GetReport(ctx context.Context, businessId string, id int) (*models.GeneratedReport, error)
	GetTemplate(ctx context.Context, businessId string, id int) (*models.ReportTemplate, error)
	ClaimPending(ctx context.Context, businessId string, id int, startedAt time.Time) (bool, error)
	Complete(ctx context.Context, c *models.ReportCompletion) error
	Fail(ctx context.Context, businessId string, id int, message string, details []byte, failedAt time.Time) error
}

// ReportEngine orchestrates the report lifecycle: intake, the claim, data
// aggregation, rendering and the terminal write.
type ReportEngine struct {
	Store      ReportStore
	Aggregator Aggregator
	Renderer   Renderer
	Clock      Clock
	Logger     *logrus.Logger

	// Async launches generation on a detached goroutine right after intake.
	// Tests run synchronous.
	Async bool
}

func NewReportEngine() *ReportEngine {
	return &ReportEngine{
		Store:      models.ReportDB{},
		Aggregator: NoopAggregator{},
		Renderer:   NewArtifactRenderer(),
		Clock:      time.Now,
		Logger:     config.GetLogger(),
		Async:      true,
	}
}

// GenerateReport runs the pipeline for one report. The claim makes concurrent
// triggers exclusive; losers get ErrorReportNotClaimable and the row is
// untouched. Any failure after the claim lands the row in Failed exactly once.
func (e *ReportEngine) GenerateReport(ctx context.Context, businessId string, reportId int) (err error) {
	ctx, span := tracer.Start(ctx, "report.generate", trace.WithAttributes(
		attribute.String("business.id", businessId),
		attribute.Int("report.id", reportId),
	))
	defer span.End()

	report, getErr := e.Store.GetReport(ctx, businessId, reportId)
	if getErr != nil {
		if errors.Is(getErr, utils.ErrorRecordNotFound) {
			return utils.ErrorReportNotFound
		}
		return getErr
	}

	startedAt := e.Clock()
	claimed, claimErr := e.Store.ClaimPending(ctx, businessId, reportId, startedAt)
	if claimErr != nil {
		return claimErr
	}
	if !claimed {
		return utils.ErrorReportNotClaimable
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("report generation panicked: %v", r)
			e.failReport(ctx, businessId, reportId, err)
		}
	}()

	var template *models.ReportTemplate
	if report.TemplateId > 0 {
		template, err = e.Store.GetTemplate(ctx, businessId, report.TemplateId)
		if err != nil {
			return e.failReport(ctx, businessId, reportId, err)
		}
	}

	aggregated, err := e.Aggregator.Aggregate(ctx, report, template)
	if err != nil {
		return e.failReport(ctx, businessId, reportId, err)
	}

	files, err := e.Renderer.Render(ctx, report, aggregated, requestedFormats(report))
	if err != nil {
		return e.failReport(ctx, businessId, reportId, err)
	}

	completedAt := e.Clock()
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	completion := &models.ReportCompletion{
		BusinessId:       businessId,
		ReportId:         reportId,
		TemplateId:       report.TemplateId,
		ReportData:       aggregated.Payload,
		TotalRecords:     aggregated.TotalRecords,
		ContentHash:      utils.ContentHash(aggregated.Payload),
		OutputFiles:      files,
		CompletedAt:      completedAt,
		GenerationTimeMs: completedAt.Sub(startedAt).Milliseconds(),
		CorrelationId:    correlationId,
	}
	if err = e.Store.Complete(ctx, completion); err != nil {
		return e.failReport(ctx, businessId, reportId, err)
	}

	if completion.GenerationTimeMs > config.ReportSlowMs() {
		config.LogInfo(e.Logger, "workflow", "GenerateReport", "slow report generation", map[string]any{
			"report_id":          reportId,
			"generation_time_ms": completion.GenerationTimeMs,
		})
	}
	return nil
}

// failReport records the terminal failure and hands the original cause back to
// the caller. The stored message is the cause's text; structured details carry
// the timestamp for the event consumers.
func (e *ReportEngine) failReport(ctx context.Context, businessId string, reportId int, cause error) error {
	failedAt := e.Clock()
	details := utils.MarshalOrNull(map[string]any{
		"error":     cause.Error(),
		"timestamp": failedAt.UTC().Format(time.RFC3339),
	})
	if failErr := e.Store.Fail(ctx, businessId, reportId, cause.Error(), details, failedAt); failErr != nil {
		config.LogError(e.Logger, "workflow", "failReport", "persisting report failure", map[string]any{
			"report_id": reportId,
		}, failErr)
	}
	return cause
}

func requestedFormats(report *models.GeneratedReport) []models.OutputFormat {
	return models.ParseFormatList(report.RequestedFormats)
}

// ReportStatusResult is the polling view of one report.
type ReportStatusResult struct {
	ReportId         int                        `json:"report_id"`
	Status           models.ReportStatus        `json:"status"`
	ReportData       json.RawMessage            `json:"report_data,omitempty"`
	TotalRecords     int                        `json:"total_records"`
	ContentHash      string                     `json:"content_hash,omitempty"`
	OutputFiles      []*models.ReportOutputFile `json:"output_files,omitempty"`
	ErrorMessage     string                     `json:"error_message,omitempty"`
	GenerationTimeMs int64                      `json:"generation_time_ms"`
	CompletedAt      *time.Time                 `json:"completed_at,omitempty"`
}

// GetReportStatus returns the current lifecycle view for polling clients.
func (e *ReportEngine) GetReportStatus(ctx context.Context, reportId int) (*ReportStatusResult, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	report, err := e.Store.GetReport(ctx, businessId, reportId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, utils.ErrorReportNotFound
		}
		return nil, err
	}

	result := &ReportStatusResult{
		ReportId:         report.ID,
		Status:           report.Status,
		TotalRecords:     report.TotalRecords,
		ContentHash:      report.ContentHash,
		ErrorMessage:     report.ErrorMessage,
		GenerationTimeMs: report.GenerationTimeMs,
		CompletedAt:      report.CompletedAt,
	}
	if report.Status == models.ReportStatusCompleted {
		result.ReportData = report.ReportData
		result.OutputFiles = report.OutputFiles
	}
	return result, nil
}
