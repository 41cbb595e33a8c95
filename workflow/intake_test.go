package workflow_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/insights_backend/models"
	"bitbucket.org/mmdatafocus/insights_backend/utils"
	"bitbucket.org/mmdatafocus/insights_backend/workflow"
)

func intakeContext(businessId string) context.Context {
	ctx := utils.SetBusinessIdInContext(context.Background(), businessId)
	return utils.SetUserIdInContext(ctx, 5)
}

func baseRequest() *workflow.NewReportRequest {
	return &workflow.NewReportRequest{
		Title:      "Monthly Sales",
		ReportType: "sales_summary",
		DateFrom:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		DateTo:     time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestCreateReportRequestPending(t *testing.T) {
	store := newFakeReportStore()
	engine := newTestEngine(store)

	report, err := engine.CreateReportRequest(intakeContext("biz-1"), baseRequest())
	if err != nil {
		t.Fatalf("CreateReportRequest: %v", err)
	}
	if report.Status != models.ReportStatusPending {
		t.Fatalf("expected Pending, got %s", report.Status)
	}
	if report.Category != models.ReportCategoryOperational {
		t.Fatalf("expected default category, got %s", report.Category)
	}
	if report.RequestedFormats != string(models.OutputFormatXlsx) {
		t.Fatalf("expected default Xlsx format, got %q", report.RequestedFormats)
	}
	if report.GeneratedBy != 5 {
		t.Fatalf("expected generated_by 5, got %d", report.GeneratedBy)
	}
}

func TestCreateReportRequestScheduled(t *testing.T) {
	store := newFakeReportStore()
	engine := newTestEngine(store)

	// newTestEngine's clock starts at 2024-01-15 10:00 UTC.
	future := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	req := baseRequest()
	req.ScheduledFor = &future

	report, err := engine.CreateReportRequest(intakeContext("biz-1"), req)
	if err != nil {
		t.Fatalf("CreateReportRequest: %v", err)
	}
	if report.Status != models.ReportStatusScheduled {
		t.Fatalf("expected Scheduled, got %s", report.Status)
	}
	if report.ScheduledFor == nil || !report.ScheduledFor.Equal(future) {
		t.Fatalf("expected scheduled_for %v, got %v", future, report.ScheduledFor)
	}
}

func TestCreateReportRequestPastScheduleRunsNow(t *testing.T) {
	store := newFakeReportStore()
	engine := newTestEngine(store)

	past := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	req := baseRequest()
	req.ScheduledFor = &past

	report, err := engine.CreateReportRequest(intakeContext("biz-1"), req)
	if err != nil {
		t.Fatalf("CreateReportRequest: %v", err)
	}
	if report.Status != models.ReportStatusPending {
		t.Fatalf("expected a past schedule to run immediately, got %s", report.Status)
	}
}

func TestCreateReportRequestTemplateNotFound(t *testing.T) {
	store := newFakeReportStore()
	engine := newTestEngine(store)

	req := baseRequest()
	req.TemplateId = 99
	if _, err := engine.CreateReportRequest(intakeContext("biz-1"), req); !errors.Is(err, utils.ErrorTemplateNotFound) {
		t.Fatalf("expected ErrorTemplateNotFound, got %v", err)
	}
}

func TestCreateReportRequestTemplateFormats(t *testing.T) {
	store := newFakeReportStore()
	store.templates[3] = &models.ReportTemplate{
		ID:             3,
		BusinessId:     "biz-1",
		Name:           "CSV Only",
		ReportType:     "sales_summary",
		Category:       models.ReportCategorySales,
		AllowedFormats: "Csv",
	}
	engine := newTestEngine(store)

	// Formats default from the template when omitted.
	req := baseRequest()
	req.TemplateId = 3
	report, err := engine.CreateReportRequest(intakeContext("biz-1"), req)
	if err != nil {
		t.Fatalf("CreateReportRequest: %v", err)
	}
	if report.RequestedFormats != "Csv" {
		t.Fatalf("expected template formats, got %q", report.RequestedFormats)
	}
	if report.Category != models.ReportCategorySales {
		t.Fatalf("expected the template category, got %s", report.Category)
	}

	// A format outside the template's allowlist is rejected.
	req = baseRequest()
	req.TemplateId = 3
	req.RequestedFormats = []models.OutputFormat{models.OutputFormatXlsx}
	if _, err := engine.CreateReportRequest(intakeContext("biz-1"), req); err == nil || !strings.Contains(err.Error(), "not allowed") {
		t.Fatalf("expected format rejection, got %v", err)
	}
}

func TestCreateReportRequestRejectsUnsupportedFormat(t *testing.T) {
	store := newFakeReportStore()
	engine := newTestEngine(store)
	engine.Renderer = &fakeRenderer{pdfCapable: false}

	req := baseRequest()
	req.RequestedFormats = []models.OutputFormat{models.OutputFormatPdf}
	if _, err := engine.CreateReportRequest(intakeContext("biz-1"), req); err == nil || !strings.Contains(err.Error(), "no renderer") {
		t.Fatalf("expected Pdf rejection, got %v", err)
	}
}

func TestCreateReportRequestFormatsFollowRenderer(t *testing.T) {
	store := newFakeReportStore()
	engine := newTestEngine(store)
	engine.Renderer = &fakeRenderer{pdfCapable: true}

	// A renderer that supports Pdf accepts what the default one rejects.
	req := baseRequest()
	req.RequestedFormats = []models.OutputFormat{models.OutputFormatPdf}
	report, err := engine.CreateReportRequest(intakeContext("biz-1"), req)
	if err != nil {
		t.Fatalf("CreateReportRequest: %v", err)
	}
	if report.RequestedFormats != string(models.OutputFormatPdf) {
		t.Fatalf("expected Pdf accepted, got %q", report.RequestedFormats)
	}
}

func TestCreateReportRequestDeduplicatesFormats(t *testing.T) {
	store := newFakeReportStore()
	engine := newTestEngine(store)

	req := baseRequest()
	req.RequestedFormats = []models.OutputFormat{
		models.OutputFormatXlsx, models.OutputFormatCsv, models.OutputFormatXlsx,
	}
	report, err := engine.CreateReportRequest(intakeContext("biz-1"), req)
	if err != nil {
		t.Fatalf("CreateReportRequest: %v", err)
	}
	if report.RequestedFormats != "Xlsx,Csv" {
		t.Fatalf("expected duplicate formats collapsed, got %q", report.RequestedFormats)
	}
}

func TestCreateReportRequestInvalidRange(t *testing.T) {
	store := newFakeReportStore()
	engine := newTestEngine(store)

	req := baseRequest()
	req.DateTo = req.DateFrom.AddDate(0, 0, -1)
	if _, err := engine.CreateReportRequest(intakeContext("biz-1"), req); err == nil {
		t.Fatal("expected a date range error")
	}
}

func TestCreateReportRequestRequiresBusinessId(t *testing.T) {
	store := newFakeReportStore()
	engine := newTestEngine(store)

	if _, err := engine.CreateReportRequest(context.Background(), baseRequest()); err == nil {
		t.Fatal("expected an error without tenant context")
	}
}
