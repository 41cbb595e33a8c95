package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/insights_backend/config"
	"bitbucket.org/mmdatafocus/insights_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReportEventRecord implements a transactional outbox for terminal report
// transitions: the row is written inside the pipeline's DB transaction and
// published to Pub/Sub asynchronously by the dispatcher after commit.
type ReportEventRecord struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"index;not null" json:"business_id"`
	ReportId   int             `gorm:"index;not null" json:"report_id"`
	EventType  ReportEventType `gorm:"size:50;not null" json:"event_type"`
	Payload    []byte          `gorm:"type:json" json:"payload"`

	PublishStatus    string     `gorm:"size:20;not null;default:'PENDING';index" json:"publish_status"`
	PublishAttempts  int        `gorm:"default:0" json:"publish_attempts"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	PublishedAt      *time.Time `json:"published_at"`
	CorrelationId    string     `gorm:"size:64" json:"correlation_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func enqueueReportEvent(ctx context.Context, tx *gorm.DB, businessId string, reportId int, eventType ReportEventType, payload []byte, correlationId string) error {
	if correlationId == "" {
		correlationId = correlationIdFromContextOrNew(ctx)
	}
	record := ReportEventRecord{
		BusinessId:    businessId,
		ReportId:      reportId,
		EventType:     eventType,
		Payload:       payload,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationId,
	}
	return tx.Create(&record).Error
}

// RequeueReportEvent puts a FAILED or DEAD record back in front of the
// dispatcher with a fresh attempt budget. SENT and in-flight PENDING records
// are not replayable.
func RequeueReportEvent(ctx context.Context, id int) error {
	db := config.GetDB()
	result := db.WithContext(ctx).Model(&ReportEventRecord{}).
		Where("id = ? AND publish_status IN ?", id, []string{OutboxPublishStatusFailed, OutboxPublishStatusDead}).
		Updates(map[string]interface{}{
			"publish_status":     OutboxPublishStatusPending,
			"publish_attempts":   0,
			"last_publish_error": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("event is not in a replayable state")
	}
	return nil
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
