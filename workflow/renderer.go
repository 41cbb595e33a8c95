package workflow

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"

	"bitbucket.org/mmdatafocus/insights_backend/models"
	"bitbucket.org/mmdatafocus/insights_backend/utils"
	"github.com/xuri/excelize/v2"
)

// Renderer turns an aggregated snapshot into stored artifacts, one per
// requested format. Supports reports which formats the implementation can
// render; intake rejects unsupported formats before a row is created.
type Renderer interface {
	Render(ctx context.Context, report *models.GeneratedReport, data *AggregatedData, formats []models.OutputFormat) ([]*models.ReportOutputFile, error)
	Supports(format models.OutputFormat) bool
}

// ArtifactRenderer renders Xlsx and Csv artifacts and persists them through
// ArtifactStorage.
type ArtifactRenderer struct {
	Storage utils.ArtifactStorage
}

func NewArtifactRenderer() *ArtifactRenderer {
	return &ArtifactRenderer{Storage: utils.NewArtifactStorage()}
}

func (r *ArtifactRenderer) Supports(format models.OutputFormat) bool {
	switch format {
	case models.OutputFormatXlsx, models.OutputFormatCsv:
		return true
	}
	return false
}

func (r *ArtifactRenderer) Render(ctx context.Context, report *models.GeneratedReport, data *AggregatedData, formats []models.OutputFormat) ([]*models.ReportOutputFile, error) {
	if len(formats) == 0 {
		formats = []models.OutputFormat{models.OutputFormatXlsx}
	}

	var files []*models.ReportOutputFile
	for _, format := range formats {
		var content []byte
		var contentType, ext string
		var err error

		switch format {
		case models.OutputFormatXlsx:
			content, err = renderXlsx(report, data)
			contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
			ext = "xlsx"
		case models.OutputFormatCsv:
			content, err = renderCsv(report, data)
			contentType = "text/csv"
			ext = "csv"
		default:
			return nil, fmt.Errorf("output format %q has no renderer", format)
		}
		if err != nil {
			return nil, err
		}

		fileName := fmt.Sprintf("%s_%d_%s.%s", utils.Slugify(report.Title), report.ID, utils.GenerateUniqueFilename(), ext)
		storagePath, err := r.Storage.Save(ctx, fileName, contentType, content)
		if err != nil {
			return nil, err
		}

		files = append(files, &models.ReportOutputFile{
			Format:        format,
			FileName:      fileName,
			StoragePath:   storagePath,
			FileSizeBytes: int64(len(content)),
		})
	}
	return files, nil
}

func renderXlsx(report *models.GeneratedReport, data *AggregatedData) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Report"
	f.SetSheetName("Sheet1", sheet)

	f.SetCellValue(sheet, "A1", report.Title)
	f.SetCellValue(sheet, "A2", "Type")
	f.SetCellValue(sheet, "B2", report.ReportType)
	f.SetCellValue(sheet, "A3", "Period")
	f.SetCellValue(sheet, "B3", fmt.Sprintf("%s - %s", report.DateFrom.Format("2006-01-02"), report.DateTo.Format("2006-01-02")))
	f.SetCellValue(sheet, "A4", "Total Records")
	f.SetCellValue(sheet, "B4", data.TotalRecords)

	row := 6
	for _, kv := range summaryRows(data) {
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), kv[0])
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), kv[1])
		row++
	}

	buffer, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func renderCsv(report *models.GeneratedReport, data *AggregatedData) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	rows := [][]string{
		{"title", report.Title},
		{"report_type", report.ReportType},
		{"date_from", report.DateFrom.Format("2006-01-02")},
		{"date_to", report.DateTo.Format("2006-01-02")},
		{"total_records", fmt.Sprintf("%d", data.TotalRecords)},
	}
	for _, kv := range summaryRows(data) {
		rows = append(rows, []string{kv[0], kv[1]})
	}

	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// summaryRows flattens the snapshot's summary object into sorted key/value
// pairs so renders are stable across runs.
func summaryRows(data *AggregatedData) [][2]string {
	var parsed struct {
		Summary map[string]any `json:"summary"`
	}
	if err := utils.UnmarshalFromJSON(data.Payload, &parsed); err != nil || len(parsed.Summary) == 0 {
		return nil
	}

	keys := make([]string, 0, len(parsed.Summary))
	for k := range parsed.Summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][2]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, [2]string{k, fmt.Sprintf("%v", parsed.Summary[k])})
	}
	return rows
}
