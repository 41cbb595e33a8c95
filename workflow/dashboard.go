package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/insights_backend/config"
	"bitbucket.org/mmdatafocus/insights_backend/models"
	"bitbucket.org/mmdatafocus/insights_backend/utils"
	"github.com/sirupsen/logrus"
)

// DashboardStore is the persistence surface of the dashboard service.
// models.DashboardDB is the production implementation.
type DashboardStore interface {
	GetDashboard(ctx context.Context, businessId string, id int) (*models.AnalyticsDashboard, error)
	RecordView(ctx context.Context, businessId string, id int, loadTimeMs int64, viewedAt time.Time) error
}

// DashboardService assembles widget data with a per-widget Redis cache.
// One widget failing never fails the dashboard fetch.
type DashboardService struct {
	Store    DashboardStore
	Cache    WidgetCacheStore
	Executor QueryExecutor
	Clock    Clock
	Logger   *logrus.Logger

	Concurrency  int
	CacheEnabled bool
}

func NewDashboardService() *DashboardService {
	return &DashboardService{
		Store:        models.DashboardDB{},
		Cache:        NewRedisWidgetCache(),
		Executor:     SampleQueryExecutor{},
		Clock:        time.Now,
		Logger:       config.GetLogger(),
		Concurrency:  config.WidgetConcurrency(),
		CacheEnabled: config.WidgetCacheEnabled(),
	}
}

// WidgetResult is the per-widget slot of a dashboard response. Error is set
// instead of Data when the widget's query failed.
type WidgetResult struct {
	WidgetId    int             `json:"widget_id"`
	Title       string          `json:"title"`
	Data        json.RawMessage `json:"data,omitempty"`
	Error       string          `json:"error,omitempty"`
	LastUpdated time.Time       `json:"last_updated"`
	LoadTimeMs  int64           `json:"load_time_ms"`
	CacheHit    bool            `json:"cache_hit"`
}

type DashboardMetadata struct {
	TotalLoadTimeMs int64     `json:"total_load_time_ms"`
	CacheHit        bool      `json:"cache_hit"`
	DataFreshness   time.Time `json:"data_freshness"`
}

type DashboardData struct {
	DashboardId int               `json:"dashboard_id"`
	Name        string            `json:"name"`
	Widgets     []*WidgetResult   `json:"widgets"`
	Metadata    DashboardMetadata `json:"metadata"`
}

// cachedWidgetData is the Redis envelope. CachedAt drives the TTL check so
// staleness is judged against the widget's effective interval, not Redis expiry.
type cachedWidgetData struct {
	Data     json.RawMessage `json:"data"`
	CachedAt time.Time       `json:"cached_at"`
}

// GetDashboardData loads every widget of the dashboard, bounded-parallel,
// preserving position order in the response. Usage recording is best effort
// and never fails the fetch.
func (s *DashboardService) GetDashboardData(ctx context.Context, dashboardId int) (*DashboardData, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	dashboard, err := s.Store.GetDashboard(ctx, businessId, dashboardId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, utils.ErrorDashboardNotFound
		}
		return nil, err
	}

	results := make([]*WidgetResult, len(dashboard.Widgets))

	concurrency := s.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, widget := range dashboard.Widgets {
		wg.Add(1)
		go func(slot int, w *models.DashboardWidget) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[slot] = s.loadWidget(ctx, businessId, w, dashboard.RefreshInterval)
		}(i, widget)
	}
	wg.Wait()

	finished := s.Clock()

	// Total load time is the sum of per-widget load times, not the wall clock
	// of the parallel fetch, so the recorded average is comparable across
	// concurrency settings.
	var totalLoadMs int64
	anyHit := false
	freshness := finished
	for _, r := range results {
		totalLoadMs += r.LoadTimeMs
		if r.CacheHit {
			anyHit = true
		}
		if r.LastUpdated.Before(freshness) {
			freshness = r.LastUpdated
		}
	}

	if err := s.Store.RecordView(ctx, businessId, dashboardId, totalLoadMs, finished); err != nil {
		config.LogError(s.Logger, "workflow", "GetDashboardData", "recording dashboard view", map[string]any{
			"dashboard_id": dashboardId,
		}, err)
	}

	return &DashboardData{
		DashboardId: dashboard.ID,
		Name:        dashboard.Name,
		Widgets:     results,
		Metadata: DashboardMetadata{
			TotalLoadTimeMs: totalLoadMs,
			CacheHit:        anyHit,
			DataFreshness:   freshness,
		},
	}, nil
}

// loadWidget serves one widget from cache when fresh, otherwise recomputes and
// repopulates. Cache read and write errors both degrade to recompute.
func (s *DashboardService) loadWidget(ctx context.Context, businessId string, widget *models.DashboardWidget, dashboardDefault int) *WidgetResult {
	started := s.Clock()
	ttl := time.Duration(widget.EffectiveRefreshInterval(dashboardDefault)) * time.Second
	key := utils.WidgetCacheKey(businessId, widget.ID)

	if s.CacheEnabled {
		var cached cachedWidgetData
		found, err := s.Cache.Get(key, &cached)
		if err == nil && found && started.Sub(cached.CachedAt) < ttl {
			return &WidgetResult{
				WidgetId:    widget.ID,
				Title:       widget.Title,
				Data:        cached.Data,
				LastUpdated: cached.CachedAt,
				LoadTimeMs:  s.Clock().Sub(started).Milliseconds(),
				CacheHit:    true,
			}
		}
	}

	data, err := s.Executor.Execute(ctx, widget)
	loaded := s.Clock()
	if err != nil {
		return &WidgetResult{
			WidgetId:    widget.ID,
			Title:       widget.Title,
			Error:       err.Error(),
			LastUpdated: loaded,
			LoadTimeMs:  loaded.Sub(started).Milliseconds(),
		}
	}

	if s.CacheEnabled {
		if err := s.Cache.Set(key, cachedWidgetData{Data: data, CachedAt: loaded}, ttl); err != nil {
			config.LogError(s.Logger, "workflow", "loadWidget", "caching widget data", map[string]any{
				"widget_id": widget.ID,
			}, err)
		}
	}

	return &WidgetResult{
		WidgetId:    widget.ID,
		Title:       widget.Title,
		Data:        data,
		LastUpdated: loaded,
		LoadTimeMs:  loaded.Sub(started).Milliseconds(),
	}
}

// RecordView exposes usage recording for clients that render from their own
// cache and only want the view counted.
func (s *DashboardService) RecordView(ctx context.Context, dashboardId int, loadTimeMs int64) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}
	return s.Store.RecordView(ctx, businessId, dashboardId, loadTimeMs, s.Clock())
}
