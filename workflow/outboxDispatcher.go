package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/insights_backend/config"
	"bitbucket.org/mmdatafocus/insights_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxDispatcher publishes committed report events to Pub/Sub. Rows are
// claimed with SKIP LOCKED so multiple instances never double-publish within
// one poll; delivery stays at-least-once, consumers dedupe on record id.
type OutboxDispatcher struct {
	DB     *gorm.DB
	Logger *logrus.Logger

	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
}

func NewOutboxDispatcher() *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:           config.GetDB(),
		Logger:       config.GetLogger(),
		BatchSize:    50,
		PollInterval: 2 * time.Second,
		MaxAttempts:  10,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	if d == nil || d.DB == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.dispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

func (d *OutboxDispatcher) dispatchOnce(ctx context.Context) {
	var claimed []models.ReportEventRecord
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("publish_status IN ?", []string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			if err := tx.Model(&models.ReportEventRecord{}).
				Where("id = ?", claimed[i].ID).
				Update("publish_attempts", gorm.Expr("publish_attempts + 1")).Error; err != nil {
				return err
			}
			claimed[i].PublishAttempts++
		}
		return nil
	})
	if err != nil {
		config.LogError(d.Logger, "workflow", "dispatchOnce", "claiming outbox batch", nil, err)
		return
	}

	for _, rec := range claimed {
		if rec.PublishAttempts > d.MaxAttempts {
			d.markDead(ctx, rec.ID)
			continue
		}

		msg := config.ReportEventMessage{
			ID:            rec.ID,
			BusinessId:    rec.BusinessId,
			ReportId:      rec.ReportId,
			EventType:     string(rec.EventType),
			OccurredAt:    rec.CreatedAt,
			Payload:       rec.Payload,
			CorrelationId: rec.CorrelationId,
		}
		if _, err := config.PublishReportEventWithResult(ctx, msg); err != nil {
			errMsg := err.Error()
			updateErr := d.DB.WithContext(ctx).Model(&models.ReportEventRecord{}).
				Where("id = ?", rec.ID).
				Updates(map[string]interface{}{
					"publish_status":     models.OutboxPublishStatusFailed,
					"last_publish_error": &errMsg,
				}).Error
			if updateErr != nil {
				config.LogError(d.Logger, "workflow", "dispatchOnce", "recording publish failure", map[string]any{
					"record_id": rec.ID,
				}, updateErr)
			}
			continue
		}

		now := time.Now().UTC()
		if err := d.DB.WithContext(ctx).Model(&models.ReportEventRecord{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"publish_status": models.OutboxPublishStatusSent,
				"published_at":   &now,
			}).Error; err != nil {
			config.LogError(d.Logger, "workflow", "dispatchOnce", "marking record sent", map[string]any{
				"record_id": rec.ID,
			}, err)
		}
	}
}

func (d *OutboxDispatcher) markDead(ctx context.Context, recordId int) {
	err := d.DB.WithContext(ctx).Model(&models.ReportEventRecord{}).
		Where("id = ?", recordId).
		Update("publish_status", models.OutboxPublishStatusDead).Error
	if err != nil {
		config.LogError(d.Logger, "workflow", "markDead", "marking record dead", map[string]any{
			"record_id": recordId,
		}, err)
	}
}
