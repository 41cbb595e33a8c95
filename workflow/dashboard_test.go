package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/insights_backend/models"
	"bitbucket.org/mmdatafocus/insights_backend/utils"
	"bitbucket.org/mmdatafocus/insights_backend/workflow"
	"github.com/sirupsen/logrus"
)

type fakeDashboardStore struct {
	mu        sync.Mutex
	dashboard *models.AnalyticsDashboard

	viewCount    int
	lastLoadMs   int64
	lastViewedAt time.Time
}

func (s *fakeDashboardStore) GetDashboard(_ context.Context, businessId string, id int) (*models.AnalyticsDashboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dashboard == nil || s.dashboard.ID != id || s.dashboard.BusinessId != businessId {
		return nil, utils.ErrorRecordNotFound
	}
	return s.dashboard, nil
}

func (s *fakeDashboardStore) RecordView(_ context.Context, _ string, _ int, loadTimeMs int64, viewedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewCount++
	s.lastLoadMs = loadTimeMs
	s.lastViewedAt = viewedAt
	return nil
}

// memoryWidgetCache mimics the Redis store's JSON round-trip.
type memoryWidgetCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMemoryWidgetCache() *memoryWidgetCache {
	return &memoryWidgetCache{items: map[string][]byte{}}
}

func (c *memoryWidgetCache) Get(key string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.items[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *memoryWidgetCache) Set(key string, obj any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	c.items[key] = raw
	return nil
}

type countingExecutor struct {
	mu      sync.Mutex
	calls   map[int]int
	failFor map[int]error
}

func newCountingExecutor() *countingExecutor {
	return &countingExecutor{calls: map[int]int{}, failFor: map[int]error{}}
}

func (e *countingExecutor) Execute(_ context.Context, widget *models.DashboardWidget) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[widget.ID]++
	if err := e.failFor[widget.ID]; err != nil {
		return nil, err
	}
	return []byte(`{"value":"1"}`), nil
}

func testDashboard(businessId string) *models.AnalyticsDashboard {
	return &models.AnalyticsDashboard{
		ID:              1,
		BusinessId:      businessId,
		Name:            "Ops Overview",
		RefreshInterval: 300,
		Widgets: []*models.DashboardWidget{
			{ID: 11, DashboardId: 1, BusinessId: businessId, Title: "Revenue", DisplayType: models.WidgetDisplayTypeKpi, Position: 0},
			{ID: 12, DashboardId: 1, BusinessId: businessId, Title: "Trend", DisplayType: models.WidgetDisplayTypeChart, Position: 1},
			{ID: 13, DashboardId: 1, BusinessId: businessId, Title: "Orders", DisplayType: models.WidgetDisplayTypeTable, Position: 2},
		},
	}
}

func newTestDashboardService(store *fakeDashboardStore, executor *countingExecutor, clock *stepClock) *workflow.DashboardService {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return &workflow.DashboardService{
		Store:        store,
		Cache:        newMemoryWidgetCache(),
		Executor:     executor,
		Clock:        clock.Now,
		Logger:       logger,
		Concurrency:  2,
		CacheEnabled: true,
	}
}

func TestGetDashboardDataOrderAndIsolation(t *testing.T) {
	store := &fakeDashboardStore{dashboard: testDashboard("biz-1")}
	executor := newCountingExecutor()
	executor.failFor[12] = errors.New("query timeout")
	clock := &stepClock{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), step: 10 * time.Millisecond}
	service := newTestDashboardService(store, executor, clock)

	ctx := utils.SetBusinessIdInContext(context.Background(), "biz-1")
	data, err := service.GetDashboardData(ctx, 1)
	if err != nil {
		t.Fatalf("GetDashboardData: %v", err)
	}

	if len(data.Widgets) != 3 {
		t.Fatalf("expected 3 widget slots, got %d", len(data.Widgets))
	}
	for i, expected := range []int{11, 12, 13} {
		if data.Widgets[i].WidgetId != expected {
			t.Fatalf("slot %d: expected widget %d, got %d", i, expected, data.Widgets[i].WidgetId)
		}
	}

	if data.Widgets[0].Error != "" || data.Widgets[2].Error != "" {
		t.Fatal("healthy widgets must not carry errors")
	}
	if data.Widgets[1].Error != "query timeout" || data.Widgets[1].Data != nil {
		t.Fatalf("expected the failing widget isolated with its error, got %+v", data.Widgets[1])
	}

	if store.viewCount != 1 {
		t.Fatalf("expected one recorded view, got %d", store.viewCount)
	}
	if store.lastLoadMs < 0 {
		t.Fatalf("unexpected load time %d", store.lastLoadMs)
	}
}

func TestGetDashboardDataTotalLoadTimeIsWidgetSum(t *testing.T) {
	store := &fakeDashboardStore{dashboard: testDashboard("biz-1")}
	executor := newCountingExecutor()
	clock := &stepClock{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), step: 10 * time.Millisecond}
	service := newTestDashboardService(store, executor, clock)

	ctx := utils.SetBusinessIdInContext(context.Background(), "biz-1")
	data, err := service.GetDashboardData(ctx, 1)
	if err != nil {
		t.Fatalf("GetDashboardData: %v", err)
	}

	var sum int64
	for _, widget := range data.Widgets {
		sum += widget.LoadTimeMs
	}
	if sum <= 0 {
		t.Fatal("expected measurable widget load times")
	}
	if data.Metadata.TotalLoadTimeMs != sum {
		t.Fatalf("total load time %d must equal the widget sum %d, not the parallel wall clock",
			data.Metadata.TotalLoadTimeMs, sum)
	}
	if store.lastLoadMs != sum {
		t.Fatalf("recorded view load time %d must equal the widget sum %d", store.lastLoadMs, sum)
	}
}

func TestGetDashboardDataCacheHitAndExpiry(t *testing.T) {
	store := &fakeDashboardStore{dashboard: testDashboard("biz-1")}
	executor := newCountingExecutor()
	clock := &stepClock{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), step: time.Millisecond}
	service := newTestDashboardService(store, executor, clock)

	ctx := utils.SetBusinessIdInContext(context.Background(), "biz-1")

	// Cold load computes every widget.
	first, err := service.GetDashboardData(ctx, 1)
	if err != nil {
		t.Fatalf("cold load: %v", err)
	}
	if first.Metadata.CacheHit {
		t.Fatal("cold load must not report a cache hit")
	}
	for _, id := range []int{11, 12, 13} {
		if executor.calls[id] != 1 {
			t.Fatalf("widget %d: expected 1 execution, got %d", id, executor.calls[id])
		}
	}

	// A load inside the refresh interval is served from cache.
	second, err := service.GetDashboardData(ctx, 1)
	if err != nil {
		t.Fatalf("warm load: %v", err)
	}
	if !second.Metadata.CacheHit {
		t.Fatal("warm load should report a cache hit")
	}
	for _, widget := range second.Widgets {
		if !widget.CacheHit {
			t.Fatalf("widget %d: expected a cache hit", widget.WidgetId)
		}
	}
	for _, id := range []int{11, 12, 13} {
		if executor.calls[id] != 1 {
			t.Fatalf("widget %d: expected no recomputation, got %d calls", id, executor.calls[id])
		}
	}

	// Past the refresh interval the data is recomputed.
	clock.mu.Lock()
	clock.now = clock.now.Add(301 * time.Second)
	clock.mu.Unlock()

	third, err := service.GetDashboardData(ctx, 1)
	if err != nil {
		t.Fatalf("expired load: %v", err)
	}
	for _, widget := range third.Widgets {
		if widget.CacheHit {
			t.Fatalf("widget %d: expected recomputation after expiry", widget.WidgetId)
		}
	}
	for _, id := range []int{11, 12, 13} {
		if executor.calls[id] != 2 {
			t.Fatalf("widget %d: expected 2 executions, got %d", id, executor.calls[id])
		}
	}
}

func TestGetDashboardDataWidgetTTLOverride(t *testing.T) {
	dashboard := testDashboard("biz-1")
	// Widget 11 refreshes every 30s; the rest inherit the dashboard's 300s.
	dashboard.Widgets[0].RefreshInterval = 30
	store := &fakeDashboardStore{dashboard: dashboard}
	executor := newCountingExecutor()
	clock := &stepClock{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), step: time.Millisecond}
	service := newTestDashboardService(store, executor, clock)

	ctx := utils.SetBusinessIdInContext(context.Background(), "biz-1")
	if _, err := service.GetDashboardData(ctx, 1); err != nil {
		t.Fatalf("cold load: %v", err)
	}

	clock.mu.Lock()
	clock.now = clock.now.Add(60 * time.Second)
	clock.mu.Unlock()

	data, err := service.GetDashboardData(ctx, 1)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if data.Widgets[0].CacheHit {
		t.Fatal("overridden widget should have expired after 60s")
	}
	if !data.Widgets[1].CacheHit || !data.Widgets[2].CacheHit {
		t.Fatal("inheriting widgets should still be cached after 60s")
	}
}

func TestGetDashboardDataCacheDisabled(t *testing.T) {
	store := &fakeDashboardStore{dashboard: testDashboard("biz-1")}
	executor := newCountingExecutor()
	clock := &stepClock{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), step: time.Millisecond}
	service := newTestDashboardService(store, executor, clock)
	service.CacheEnabled = false

	ctx := utils.SetBusinessIdInContext(context.Background(), "biz-1")
	for i := 0; i < 2; i++ {
		if _, err := service.GetDashboardData(ctx, 1); err != nil {
			t.Fatalf("load %d: %v", i, err)
		}
	}
	for _, id := range []int{11, 12, 13} {
		if executor.calls[id] != 2 {
			t.Fatalf("widget %d: expected recomputation on every load, got %d", id, executor.calls[id])
		}
	}
}

func TestGetDashboardDataNotFound(t *testing.T) {
	store := &fakeDashboardStore{dashboard: testDashboard("biz-1")}
	executor := newCountingExecutor()
	clock := &stepClock{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), step: time.Millisecond}
	service := newTestDashboardService(store, executor, clock)

	otherCtx := utils.SetBusinessIdInContext(context.Background(), "biz-2")
	if _, err := service.GetDashboardData(otherCtx, 1); !errors.Is(err, utils.ErrorDashboardNotFound) {
		t.Fatalf("expected ErrorDashboardNotFound, got %v", err)
	}
}
