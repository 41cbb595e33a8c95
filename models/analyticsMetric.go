package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/insights_backend/config"
	"bitbucket.org/mmdatafocus/insights_backend/utils"
	"github.com/shopspring/decimal"
)

// AnalyticsMetric is one computed point-in-time value. The table is
// append-only: every calculation inserts a new row, nothing updates or deletes.
type AnalyticsMetric struct {
	ID         int        `gorm:"primary_key" json:"id"`
	BusinessId string     `gorm:"index;not null" json:"business_id" binding:"required"`
	Name       string     `gorm:"size:255;not null;index" json:"name" binding:"required"`
	MetricType string     `gorm:"size:100;not null" json:"metric_type" binding:"required"`
	Category   string     `gorm:"size:50" json:"category"`
	Dimension  string     `gorm:"size:100" json:"dimension"`
	PeriodType PeriodType `gorm:"size:20;not null" json:"period_type"`
	PeriodStart time.Time `gorm:"not null" json:"period_start"`
	PeriodEnd   time.Time `gorm:"not null" json:"period_end"`

	Value             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"value"`
	Count             int64           `gorm:"default:0" json:"count"`
	Metadata          []byte          `gorm:"type:json" json:"metadata"`
	ComputationTimeMs int64           `gorm:"default:0" json:"computation_time_ms"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (m AnalyticsMetric) GetId() int {
	return m.ID
}

func (m AnalyticsMetric) GetBusinessId() string {
	return m.BusinessId
}

// MetricDB is the GORM-backed metric store used by the workflow engine.
type MetricDB struct{}

func (MetricDB) Insert(ctx context.Context, metric *AnalyticsMetric) error {
	db := config.GetDB()
	return db.WithContext(ctx).Create(metric).Error
}

// ListMetricSeries returns the stored time series for one metric name, newest
// period first.
func ListMetricSeries(ctx context.Context, name string, periodType PeriodType, limit int) ([]*AnalyticsMetric, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if limit <= 0 {
		limit = 50
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).
		Where("business_id = ? AND name = ?", businessId, name)
	if periodType != "" {
		dbCtx = dbCtx.Where("period_type = ?", periodType)
	}

	var metrics []*AnalyticsMetric
	err := dbCtx.Order("period_start DESC").Limit(limit).Find(&metrics).Error
	if err != nil {
		return nil, err
	}
	return metrics, nil
}
