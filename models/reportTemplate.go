package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/insights_backend/config"
	"bitbucket.org/mmdatafocus/insights_backend/utils"
)

// ReportTemplate is a reusable report configuration (data source + layout).
// Usage fields are mutated only by the generation pipeline after a successful
// run; operators never edit them directly.
type ReportTemplate struct {
	ID               int            `gorm:"primary_key" json:"id"`
	BusinessId       string         `gorm:"index;not null" json:"business_id" binding:"required"`
	Name             string         `gorm:"size:255;not null" json:"name" binding:"required"`
	ReportType       string         `gorm:"size:100;not null" json:"report_type" binding:"required"`
	Category         ReportCategory `gorm:"size:50;not null" json:"category"`
	DataSourceConfig []byte         `gorm:"type:json" json:"data_source_config"`
	Structure        []byte         `gorm:"type:json" json:"structure"`
	AllowedFormats   string         `gorm:"size:255" json:"allowed_formats"`
	AccessLevel      AccessLevel    `gorm:"size:20;default:'Private'" json:"access_level"`
	LastUsedAt       *time.Time     `json:"last_used_at"`
	UsageCount       int64          `gorm:"default:0" json:"usage_count"`
	CreatedBy        int            `json:"created_by"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t ReportTemplate) GetId() int {
	return t.ID
}

func (t ReportTemplate) GetBusinessId() string {
	return t.BusinessId
}

// AllowedFormatList parses the stored comma list; empty means Xlsx only.
func (t ReportTemplate) AllowedFormatList() []OutputFormat {
	return ParseFormatList(t.AllowedFormats)
}

func (t ReportTemplate) AllowsFormat(format OutputFormat) bool {
	for _, f := range t.AllowedFormatList() {
		if f == format {
			return true
		}
	}
	return false
}

type NewReportTemplate struct {
	Name             string         `json:"name" binding:"required"`
	ReportType       string         `json:"report_type" binding:"required"`
	Category         ReportCategory `json:"category"`
	DataSourceConfig map[string]any `json:"data_source_config"`
	Structure        map[string]any `json:"structure"`
	AllowedFormats   []OutputFormat `json:"allowed_formats"`
	AccessLevel      AccessLevel    `json:"access_level"`
}

func CreateReportTemplate(ctx context.Context, input *NewReportTemplate) (*ReportTemplate, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	userId, _ := utils.GetUserIdFromContext(ctx)

	if err := utils.ValidateUnique[ReportTemplate](ctx, businessId, "name", input.Name, 0); err != nil {
		return nil, err
	}

	category := input.Category
	if category == "" {
		category = ReportCategoryOperational
	}
	accessLevel := input.AccessLevel
	if accessLevel == "" {
		accessLevel = AccessLevelPrivate
	}

	var formatParts []string
	for _, f := range input.AllowedFormats {
		formatParts = append(formatParts, string(f))
	}

	template := ReportTemplate{
		BusinessId:       businessId,
		Name:             input.Name,
		ReportType:       input.ReportType,
		Category:         category,
		DataSourceConfig: utils.MarshalOrNull(input.DataSourceConfig),
		Structure:        utils.MarshalOrNull(input.Structure),
		AllowedFormats:   strings.Join(formatParts, ","),
		AccessLevel:      accessLevel,
		CreatedBy:        userId,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&template).Error; err != nil {
		return nil, err
	}
	return &template, nil
}

func GetReportTemplate(ctx context.Context, id int) (*ReportTemplate, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return fetchTemplateCached(ctx, businessId, id)
}

// fetchTemplateCached serves a template through the Redis entity cache. A
// cached copy from another tenant never leaks: the business check falls back
// to the scoped DB fetch.
func fetchTemplateCached(ctx context.Context, businessId string, id int) (*ReportTemplate, error) {
	cached, err := utils.RetrieveRedis[ReportTemplate](id)
	if err != nil {
		return nil, err
	}
	if cached != nil && cached.BusinessId == businessId {
		return cached, nil
	}

	template, err := utils.FetchModel[ReportTemplate](ctx, businessId, id)
	if err != nil {
		return nil, err
	}
	// caching
	if err := utils.StoreRedis[ReportTemplate](template, template.ID); err != nil {
		return nil, err
	}
	return template, nil
}

func ListReportTemplates(ctx context.Context) ([]*ReportTemplate, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var templates []*ReportTemplate
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Order("name ASC").
		Find(&templates).Error
	if err != nil {
		return nil, err
	}
	return templates, nil
}
