package workflow_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/insights_backend/models"
	"bitbucket.org/mmdatafocus/insights_backend/utils"
	"bitbucket.org/mmdatafocus/insights_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type fakeMetricStore struct {
	mu   sync.Mutex
	rows []*models.AnalyticsMetric
}

func (s *fakeMetricStore) Insert(_ context.Context, metric *models.AnalyticsMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *metric
	copied.ID = len(s.rows) + 1
	s.rows = append(s.rows, &copied)
	return nil
}

type computerFunc func(ctx context.Context, req *workflow.MetricRequest) (*workflow.MetricResult, error)

func (f computerFunc) Compute(ctx context.Context, req *workflow.MetricRequest) (*workflow.MetricResult, error) {
	return f(ctx, req)
}

func newTestMetricEngine(store *fakeMetricStore, computer workflow.MetricComputer) *workflow.MetricEngine {
	clock := &stepClock{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), step: 120 * time.Millisecond}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return &workflow.MetricEngine{
		Store:    store,
		Computer: computer,
		Clock:    clock.Now,
		Logger:   logger,
	}
}

func metricRequest() *workflow.MetricRequest {
	return &workflow.MetricRequest{
		Name:        "monthly_revenue",
		MetricType:  "sum",
		Category:    "Sales",
		PeriodType:  models.PeriodTypeMonthly,
		PeriodStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Filters:     map[string]any{"region": "yangon"},
	}
}

func TestCalculateMetricAppendsRow(t *testing.T) {
	store := &fakeMetricStore{}
	engine := newTestMetricEngine(store, computerFunc(func(context.Context, *workflow.MetricRequest) (*workflow.MetricResult, error) {
		return &workflow.MetricResult{Value: decimal.RequireFromString("1250.75"), Count: 42}, nil
	}))

	ctx := utils.SetBusinessIdInContext(context.Background(), "biz-1")
	metric, err := engine.CalculateMetric(ctx, metricRequest())
	if err != nil {
		t.Fatalf("CalculateMetric: %v", err)
	}

	if len(store.rows) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(store.rows))
	}
	row := store.rows[0]
	if !row.Value.Equal(decimal.RequireFromString("1250.75")) {
		t.Fatalf("expected value 1250.75, got %s", row.Value)
	}
	if row.Count != 42 {
		t.Fatalf("expected count 42, got %d", row.Count)
	}
	if row.BusinessId != "biz-1" {
		t.Fatalf("expected tenant scoping, got %q", row.BusinessId)
	}
	if metric.ComputationTimeMs != 120 {
		t.Fatalf("expected measured computation time 120ms, got %d", metric.ComputationTimeMs)
	}
	if !strings.Contains(string(row.Metadata), "yangon") || !strings.Contains(string(row.Metadata), "computed_at") {
		t.Fatalf("expected filters and timestamp in metadata, got %s", row.Metadata)
	}
}

func TestCalculateMetricIsAppendOnly(t *testing.T) {
	store := &fakeMetricStore{}
	calls := 0
	engine := newTestMetricEngine(store, computerFunc(func(context.Context, *workflow.MetricRequest) (*workflow.MetricResult, error) {
		calls++
		return &workflow.MetricResult{Value: decimal.NewFromInt(int64(calls)), Count: int64(calls)}, nil
	}))

	ctx := utils.SetBusinessIdInContext(context.Background(), "biz-1")
	for i := 0; i < 3; i++ {
		if _, err := engine.CalculateMetric(ctx, metricRequest()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	// Repeated calculations of the same metric stack up as history.
	if len(store.rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(store.rows))
	}
	if store.rows[0].Value.Equal(store.rows[2].Value) {
		t.Fatal("expected each run to record its own value")
	}
}

func TestCalculateMetricErrorPropagates(t *testing.T) {
	store := &fakeMetricStore{}
	cause := errors.New("warehouse unavailable")
	engine := newTestMetricEngine(store, computerFunc(func(context.Context, *workflow.MetricRequest) (*workflow.MetricResult, error) {
		return nil, cause
	}))

	ctx := utils.SetBusinessIdInContext(context.Background(), "biz-1")
	_, err := engine.CalculateMetric(ctx, metricRequest())
	if !errors.Is(err, cause) {
		t.Fatalf("expected the computation error unmodified, got %v", err)
	}
	if len(store.rows) != 0 {
		t.Fatalf("expected no partial row on failure, got %d", len(store.rows))
	}
}

func TestCalculateMetricInvalidPeriod(t *testing.T) {
	store := &fakeMetricStore{}
	engine := newTestMetricEngine(store, workflow.SampleMetricComputer{})

	ctx := utils.SetBusinessIdInContext(context.Background(), "biz-1")
	req := metricRequest()
	req.PeriodEnd = req.PeriodStart.AddDate(0, 0, -1)
	if _, err := engine.CalculateMetric(ctx, req); err == nil {
		t.Fatal("expected a period validation error")
	}
	if len(store.rows) != 0 {
		t.Fatalf("expected no row, got %d", len(store.rows))
	}
}

func TestCalculateMetricRequiresBusinessId(t *testing.T) {
	store := &fakeMetricStore{}
	engine := newTestMetricEngine(store, workflow.SampleMetricComputer{})

	if _, err := engine.CalculateMetric(context.Background(), metricRequest()); err == nil {
		t.Fatal("expected an error without tenant context")
	}
}
