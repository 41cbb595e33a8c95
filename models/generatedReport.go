package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/insights_backend/config"
	"bitbucket.org/mmdatafocus/insights_backend/utils"
	"gorm.io/gorm"
)

// GeneratedReport is one report request and its lifecycle. Rows are created by
// intake in Pending/Scheduled, driven to a terminal state by the generation
// pipeline, and immutable afterwards.
type GeneratedReport struct {
	ID               int            `gorm:"primary_key" json:"id"`
	BusinessId       string         `gorm:"index;not null" json:"business_id" binding:"required"`
	TemplateId       int            `gorm:"index" json:"template_id"`
	Title            string         `gorm:"size:255;not null" json:"title" binding:"required"`
	ReportType       string         `gorm:"size:100;not null" json:"report_type" binding:"required"`
	Category         ReportCategory `gorm:"size:50;not null" json:"category"`
	DateFrom         time.Time      `json:"date_from"`
	DateTo           time.Time      `json:"date_to"`
	Filters          []byte         `gorm:"type:json" json:"filters"`
	RequestedFormats string         `gorm:"size:255" json:"requested_formats"`
	ClientIds        []byte         `gorm:"type:json" json:"client_ids"`
	Status           ReportStatus   `gorm:"size:20;index;not null" json:"status"`
	ScheduledFor     *time.Time     `json:"scheduled_for"`
	StartedAt        *time.Time     `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at"`
	ReportData       []byte         `gorm:"type:json" json:"report_data"`
	TotalRecords     int            `gorm:"default:0" json:"total_records"`
	ContentHash      string         `gorm:"size:64" json:"content_hash"`
	ErrorMessage     string         `gorm:"type:text" json:"error_message"`
	ErrorDetails     []byte         `gorm:"type:json" json:"error_details"`
	GenerationTimeMs int64          `gorm:"default:0" json:"generation_time_ms"`
	GeneratedBy      int            `json:"generated_by"`

	OutputFiles []*ReportOutputFile `gorm:"foreignKey:ReportId" json:"output_files"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r GeneratedReport) GetId() int {
	return r.ID
}

func (r GeneratedReport) GetBusinessId() string {
	return r.BusinessId
}

// ReportOutputFile describes one rendered artifact of a completed report.
type ReportOutputFile struct {
	ID            int          `gorm:"primary_key" json:"id"`
	ReportId      int          `gorm:"index;not null" json:"report_id"`
	BusinessId    string       `gorm:"index;not null" json:"business_id"`
	Format        OutputFormat `gorm:"size:20;not null" json:"format"`
	FileName      string       `gorm:"size:512;not null" json:"file_name"`
	StoragePath   string       `gorm:"size:1024" json:"storage_path"`
	FileSizeBytes int64        `gorm:"default:0" json:"file_size_bytes"`
	DownloadCount int64        `gorm:"default:0" json:"download_count"`
	CreatedAt     time.Time    `gorm:"autoCreateTime" json:"created_at"`
}

// ReportCompletion carries everything the pipeline persists in the single
// terminal-success transaction.
type ReportCompletion struct {
	BusinessId       string
	ReportId         int
	TemplateId       int
	ReportData       []byte
	TotalRecords     int
	ContentHash      string
	OutputFiles      []*ReportOutputFile
	CompletedAt      time.Time
	GenerationTimeMs int64
	CorrelationId    string
}

// ReportDB is the GORM-backed report store used by the workflow engine.
type ReportDB struct{}

func (ReportDB) CreateReport(ctx context.Context, report *GeneratedReport) error {
	db := config.GetDB()
	return db.WithContext(ctx).Create(report).Error
}

func (ReportDB) GetReport(ctx context.Context, businessId string, id int) (*GeneratedReport, error) {
	return utils.FetchModel[GeneratedReport](ctx, businessId, id, "OutputFiles")
}

func (ReportDB) GetTemplate(ctx context.Context, businessId string, id int) (*ReportTemplate, error) {
	return fetchTemplateCached(ctx, businessId, id)
}

// ClaimPending atomically moves a report from Pending to Generating. Returns
// false when another trigger already claimed the row (or it is not Pending),
// which makes pending -> generating exclusive across concurrent triggers.
func (ReportDB) ClaimPending(ctx context.Context, businessId string, id int, startedAt time.Time) (bool, error) {
	db := config.GetDB()
	result := db.WithContext(ctx).Model(&GeneratedReport{}).
		Where("id = ? AND business_id = ? AND status = ?", id, businessId, ReportStatusPending).
		Updates(map[string]interface{}{
			"status":     ReportStatusGenerating,
			"started_at": startedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Complete persists the terminal success state, output files, template usage
// and the completion event in one transaction. The status guard keeps terminal
// rows immutable even if a stale pipeline instance races this write.
func (ReportDB) Complete(ctx context.Context, c *ReportCompletion) error {
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&GeneratedReport{}).
			Where("id = ? AND business_id = ? AND status = ?", c.ReportId, c.BusinessId, ReportStatusGenerating).
			Updates(map[string]interface{}{
				"status":             ReportStatusCompleted,
				"completed_at":       c.CompletedAt,
				"report_data":        c.ReportData,
				"total_records":      c.TotalRecords,
				"content_hash":       c.ContentHash,
				"generation_time_ms": c.GenerationTimeMs,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errors.New("report is no longer in generating state")
		}

		for _, file := range c.OutputFiles {
			file.ReportId = c.ReportId
			file.BusinessId = c.BusinessId
			if err := tx.Create(file).Error; err != nil {
				return err
			}
		}

		if c.TemplateId > 0 {
			// Atomic increment at the store level; an overwrite would lose
			// concurrent generations of the same template.
			if err := tx.Exec(
				"UPDATE report_templates SET usage_count = usage_count + 1, last_used_at = ? WHERE id = ? AND business_id = ?",
				c.CompletedAt, c.TemplateId, c.BusinessId,
			).Error; err != nil {
				return err
			}
		}

		payload := utils.MarshalOrNull(map[string]any{
			"report_id":     c.ReportId,
			"content_hash":  c.ContentHash,
			"total_records": c.TotalRecords,
			"completed_at":  c.CompletedAt.UTC().Format(time.RFC3339),
		})
		return enqueueReportEvent(ctx, tx, c.BusinessId, c.ReportId, ReportEventTypeCompleted, payload, c.CorrelationId)
	})
	if err != nil {
		return err
	}

	// The usage counters changed under the cached copy. The commit already
	// succeeded, so a failed invalidation is only logged; the cache lifespan
	// bounds the staleness.
	if c.TemplateId > 0 {
		if err := utils.RemoveRedisItem[ReportTemplate](c.TemplateId); err != nil {
			config.LogError(config.GetLogger(), "models", "Complete", "invalidating template cache", map[string]any{
				"template_id": c.TemplateId,
			}, err)
		}
	}
	return nil
}

// Fail persists the terminal failure state. Guarded on Generating so a late
// failure write can never clobber a committed success (or an earlier failure).
func (ReportDB) Fail(ctx context.Context, businessId string, id int, message string, details []byte, failedAt time.Time) error {
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&GeneratedReport{}).
			Where("id = ? AND business_id = ? AND status = ?", id, businessId, ReportStatusGenerating).
			Updates(map[string]interface{}{
				"status":        ReportStatusFailed,
				"error_message": message,
				"error_details": details,
				"completed_at":  failedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Already terminal; nothing to record.
			return nil
		}

		payload := utils.MarshalOrNull(map[string]any{
			"report_id":     id,
			"error_message": message,
			"failed_at":     failedAt.UTC().Format(time.RFC3339),
		})
		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		return enqueueReportEvent(ctx, tx, businessId, id, ReportEventTypeFailed, payload, correlationId)
	})
}

func GetGeneratedReport(ctx context.Context, id int) (*GeneratedReport, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[GeneratedReport](ctx, businessId, id, "OutputFiles")
}

// ListRecentReports returns the tenant's newest reports first.
func ListRecentReports(ctx context.Context, limit int) ([]*GeneratedReport, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if limit <= 0 {
		limit = 20
	}

	db := config.GetDB()
	var reports []*GeneratedReport
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Order("created_at DESC").
		Limit(limit).
		Find(&reports).Error
	if err != nil {
		return nil, err
	}
	return reports, nil
}
