package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/insights_backend/config"
	"bitbucket.org/mmdatafocus/insights_backend/utils"
)

// ReportSchedule drives recurring report generation. Pointer fields are
// nullable schedule knobs; the calculator applies defaults when unset.
type ReportSchedule struct {
	ID         int               `gorm:"primary_key" json:"id"`
	BusinessId string            `gorm:"index;not null" json:"business_id" binding:"required"`
	Name       string            `gorm:"size:255;not null" json:"name" binding:"required"`
	TemplateId int               `gorm:"index" json:"template_id"`
	Frequency  ScheduleFrequency `gorm:"size:20;not null" json:"frequency" binding:"required"`

	Hour       *int `json:"hour"`
	Minute     *int `json:"minute"`
	DayOfWeek  *int `json:"day_of_week"`
	DayOfMonth *int `json:"day_of_month"`

	DefaultParameters  []byte    `gorm:"type:json" json:"default_parameters"`
	DistributionConfig []byte    `gorm:"type:json" json:"distribution_config"`
	NextRunAt          time.Time `gorm:"index" json:"next_run_at"`
	IsActive           *bool     `gorm:"not null;default:true" json:"is_active"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s ReportSchedule) GetId() int {
	return s.ID
}

func (s ReportSchedule) GetBusinessId() string {
	return s.BusinessId
}

type NewReportSchedule struct {
	Name               string            `json:"name" binding:"required"`
	TemplateId         int               `json:"template_id"`
	Frequency          ScheduleFrequency `json:"frequency" binding:"required"`
	Hour               *int              `json:"hour"`
	Minute             *int              `json:"minute"`
	DayOfWeek          *int              `json:"day_of_week"`
	DayOfMonth         *int              `json:"day_of_month"`
	DefaultParameters  map[string]any    `json:"default_parameters"`
	DistributionConfig map[string]any    `json:"distribution_config"`
	IsActive           *bool             `json:"is_active"`
}

// Validate checks the calendar knobs against their documented ranges.
func (s NewReportSchedule) Validate() error {
	if s.Hour != nil && (*s.Hour < 0 || *s.Hour > 23) {
		return errors.New("hour must be between 0 and 23")
	}
	if s.Minute != nil && (*s.Minute < 0 || *s.Minute > 59) {
		return errors.New("minute must be between 0 and 59")
	}
	if s.DayOfWeek != nil && (*s.DayOfWeek < 0 || *s.DayOfWeek > 6) {
		return errors.New("day_of_week must be between 0 and 6")
	}
	if s.DayOfMonth != nil && (*s.DayOfMonth < 1 || *s.DayOfMonth > 31) {
		return errors.New("day_of_month must be between 1 and 31")
	}
	return nil
}

// CreateReportSchedule persists a recurring schedule. The caller computes
// nextRunAt from the frequency and knobs; the models layer stays free of
// calendar arithmetic.
func CreateReportSchedule(ctx context.Context, input *NewReportSchedule, nextRunAt time.Time) (*ReportSchedule, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.Validate(); err != nil {
		return nil, err
	}
	if input.TemplateId > 0 {
		if err := utils.ValidateResourceId[ReportTemplate](ctx, businessId, input.TemplateId); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				return nil, utils.ErrorTemplateNotFound
			}
			return nil, err
		}
	}

	isActive := input.IsActive
	if isActive == nil {
		isActive = utils.NewTrue()
	}

	schedule := ReportSchedule{
		BusinessId:         businessId,
		Name:               input.Name,
		TemplateId:         input.TemplateId,
		Frequency:          input.Frequency,
		Hour:               input.Hour,
		Minute:             input.Minute,
		DayOfWeek:          input.DayOfWeek,
		DayOfMonth:         input.DayOfMonth,
		DefaultParameters:  utils.MarshalOrNull(input.DefaultParameters),
		DistributionConfig: utils.MarshalOrNull(input.DistributionConfig),
		NextRunAt:          nextRunAt,
		IsActive:           isActive,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&schedule).Error; err != nil {
		return nil, err
	}
	return &schedule, nil
}

func ListReportSchedules(ctx context.Context) ([]*ReportSchedule, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchAllModels[ReportSchedule](ctx, businessId)
}

// SetScheduleActive flips is_active. The dispatcher uses it to park schedules
// whose template is gone, so the scan stops redispatching them.
func SetScheduleActive(ctx context.Context, businessId string, id int, active *bool) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&ReportSchedule{}).
		Where("id = ? AND business_id = ?", id, businessId).
		Update("is_active", active).Error
}

// ListDueSchedules returns active schedules whose next run is at or before now.
// Scanned by the dispatcher across all tenants, so tenant scope is bypassed by
// the caller's context.
func ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*ReportSchedule, error) {
	if limit <= 0 {
		limit = 50
	}
	db := config.GetDB()
	var schedules []*ReportSchedule
	err := db.WithContext(ctx).
		Where("is_active = ? AND next_run_at <= ?", true, now).
		Order("next_run_at ASC").
		Limit(limit).
		Find(&schedules).Error
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

// AdvanceSchedule moves next_run_at forward after a dispatch.
func AdvanceSchedule(ctx context.Context, businessId string, id int, nextRunAt time.Time) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&ReportSchedule{}).
		Where("id = ? AND business_id = ?", id, businessId).
		Update("next_run_at", nextRunAt).Error
}

func GetReportSchedule(ctx context.Context, id int) (*ReportSchedule, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[ReportSchedule](ctx, businessId, id)
}
