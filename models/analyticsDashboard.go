package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/insights_backend/config"
	"bitbucket.org/mmdatafocus/insights_backend/utils"
	"gorm.io/gorm"
)

// AnalyticsDashboard is a named, tenant-owned collection of widgets.
type AnalyticsDashboard struct {
	ID              int         `gorm:"primary_key" json:"id"`
	BusinessId      string      `gorm:"index;not null" json:"business_id" binding:"required"`
	Name            string      `gorm:"size:255;not null" json:"name" binding:"required"`
	Category        string      `gorm:"size:50" json:"category"`
	Layout          []byte      `gorm:"type:json" json:"layout"`
	RefreshInterval int         `gorm:"default:300" json:"refresh_interval"`
	AccessLevel     AccessLevel `gorm:"size:20;default:'Private'" json:"access_level"`

	ViewCount         int64      `gorm:"default:0" json:"view_count"`
	AverageLoadTimeMs float64    `gorm:"default:0" json:"average_load_time_ms"`
	LastViewedAt      *time.Time `json:"last_viewed_at"`

	Widgets []*DashboardWidget `gorm:"foreignKey:DashboardId" json:"widgets"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (d AnalyticsDashboard) GetId() int {
	return d.ID
}

func (d AnalyticsDashboard) GetBusinessId() string {
	return d.BusinessId
}

// DashboardWidget is one visual/data unit of a dashboard. RefreshInterval 0
// means "inherit the dashboard default".
type DashboardWidget struct {
	ID              int               `gorm:"primary_key" json:"id"`
	DashboardId     int               `gorm:"index;not null" json:"dashboard_id"`
	BusinessId      string            `gorm:"index;not null" json:"business_id"`
	Title           string            `gorm:"size:255" json:"title"`
	DisplayType     WidgetDisplayType `gorm:"size:20;not null" json:"display_type"`
	RefreshInterval int               `gorm:"default:0" json:"refresh_interval"`
	QueryConfig     []byte            `gorm:"type:json" json:"query_config"`
	Position        int               `gorm:"default:0" json:"position"`
	CreatedAt       time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (w DashboardWidget) GetId() int {
	return w.ID
}

// EffectiveRefreshInterval resolves the widget TTL in seconds.
func (w DashboardWidget) EffectiveRefreshInterval(dashboardDefault int) int {
	if w.RefreshInterval > 0 {
		return w.RefreshInterval
	}
	if dashboardDefault > 0 {
		return dashboardDefault
	}
	return config.WidgetCacheDefaultTTL()
}

// DashboardDB is the GORM-backed dashboard store used by the workflow engine.
type DashboardDB struct{}

// GetDashboard loads a dashboard with widgets in position order, through the
// Redis entity cache. The cached copy's view counters lag behind RecordView,
// which writes straight to the database; the cache lifespan bounds the lag.
func (DashboardDB) GetDashboard(ctx context.Context, businessId string, id int) (*AnalyticsDashboard, error) {
	cached, err := utils.RetrieveRedis[AnalyticsDashboard](id)
	if err != nil {
		return nil, err
	}
	if cached != nil && cached.BusinessId == businessId {
		return cached, nil
	}

	db := config.GetDB()
	var dashboard AnalyticsDashboard
	err = db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Preload("Widgets", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC, id ASC")
		}).
		First(&dashboard, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	// caching
	if err := utils.StoreRedis[AnalyticsDashboard](&dashboard, dashboard.ID); err != nil {
		return nil, err
	}
	return &dashboard, nil
}

// RecordView persists dashboard usage in one statement: a true running average
// for load time plus an atomic view counter. MySQL evaluates SET left to
// right, so the average must read view_count before it is incremented.
func (DashboardDB) RecordView(ctx context.Context, businessId string, id int, loadTimeMs int64, viewedAt time.Time) error {
	db := config.GetDB()
	return db.WithContext(ctx).Exec(`
		UPDATE analytics_dashboards
		SET
			average_load_time_ms = (average_load_time_ms * view_count + ?) / (view_count + 1),
			view_count = view_count + 1,
			last_viewed_at = ?
		WHERE id = ? AND business_id = ?
	`, loadTimeMs, viewedAt, id, businessId).Error
}

type NewAnalyticsDashboard struct {
	Name            string               `json:"name" binding:"required"`
	Category        string               `json:"category"`
	Layout          map[string]any       `json:"layout"`
	RefreshInterval int                  `json:"refresh_interval"`
	AccessLevel     AccessLevel          `json:"access_level"`
	Widgets         []*NewDashboardWidget `json:"widgets"`
}

type NewDashboardWidget struct {
	Title           string            `json:"title"`
	DisplayType     WidgetDisplayType `json:"display_type" binding:"required"`
	RefreshInterval int               `json:"refresh_interval"`
	QueryConfig     map[string]any    `json:"query_config"`
	Position        int               `json:"position"`
}

func CreateAnalyticsDashboard(ctx context.Context, input *NewAnalyticsDashboard) (*AnalyticsDashboard, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	refreshInterval := input.RefreshInterval
	if refreshInterval <= 0 {
		refreshInterval = config.WidgetCacheDefaultTTL()
	}
	accessLevel := input.AccessLevel
	if accessLevel == "" {
		accessLevel = AccessLevelPrivate
	}

	dashboard := AnalyticsDashboard{
		BusinessId:      businessId,
		Name:            input.Name,
		Category:        input.Category,
		Layout:          utils.MarshalOrNull(input.Layout),
		RefreshInterval: refreshInterval,
		AccessLevel:     accessLevel,
	}
	for i, w := range input.Widgets {
		position := w.Position
		if position == 0 {
			position = i
		}
		dashboard.Widgets = append(dashboard.Widgets, &DashboardWidget{
			BusinessId:      businessId,
			Title:           w.Title,
			DisplayType:     w.DisplayType,
			RefreshInterval: w.RefreshInterval,
			QueryConfig:     utils.MarshalOrNull(w.QueryConfig),
			Position:        position,
		})
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&dashboard).Error; err != nil {
		return nil, err
	}
	return &dashboard, nil
}

func ListAnalyticsDashboards(ctx context.Context) ([]*AnalyticsDashboard, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var dashboards []*AnalyticsDashboard
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Order("last_viewed_at DESC").
		Find(&dashboards).Error
	if err != nil {
		return nil, err
	}
	return dashboards, nil
}
