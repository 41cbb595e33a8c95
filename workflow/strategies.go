package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/insights_backend/config"
	"bitbucket.org/mmdatafocus/insights_backend/models"
	"github.com/shopspring/decimal"
)

// Clock is injected wherever the engine reads time, so schedule arithmetic and
// cache-age checks are testable.
type Clock func() time.Time

// AggregatedData is the snapshot an aggregation strategy produces for one
// report run.
type AggregatedData struct {
	Payload      []byte
	TotalRecords int
}

// Aggregator computes the domain data behind a report. The engine does not own
// what it computes; it only orchestrates around it. No timeout is imposed here;
// strategies own their own timeout discipline.
type Aggregator interface {
	Aggregate(ctx context.Context, report *models.GeneratedReport, template *models.ReportTemplate) (*AggregatedData, error)
}

// NoopAggregator is the documented sample default: a deterministic empty
// snapshot. Real deployments inject a warehouse-backed aggregator.
type NoopAggregator struct{}

func (NoopAggregator) Aggregate(_ context.Context, _ *models.GeneratedReport, _ *models.ReportTemplate) (*AggregatedData, error) {
	return &AggregatedData{
		Payload:      []byte(`{"summary":{},"details":[]}`),
		TotalRecords: 0,
	}, nil
}

// QueryExecutor runs one widget's query config. May fail; failures are
// isolated to the widget's result slot.
type QueryExecutor interface {
	Execute(ctx context.Context, widget *models.DashboardWidget) ([]byte, error)
}

// SampleQueryExecutor returns a deterministic placeholder per display type.
type SampleQueryExecutor struct{}

func (SampleQueryExecutor) Execute(_ context.Context, widget *models.DashboardWidget) ([]byte, error) {
	switch widget.DisplayType {
	case models.WidgetDisplayTypeKpi:
		return []byte(`{"value":"0","trend":"flat"}`), nil
	case models.WidgetDisplayTypeChart:
		return []byte(`{"series":[],"labels":[]}`), nil
	case models.WidgetDisplayTypeTable:
		return []byte(`{"columns":[],"rows":[]}`), nil
	default:
		return []byte(`{"items":[]}`), nil
	}
}

// MetricRequest describes one metric computation.
type MetricRequest struct {
	Name        string            `json:"name" binding:"required"`
	MetricType  string            `json:"metric_type" binding:"required"`
	Category    string            `json:"category"`
	Dimension   string            `json:"dimension"`
	PeriodType  models.PeriodType `json:"period_type" binding:"required"`
	PeriodStart time.Time         `json:"period_start" binding:"required"`
	PeriodEnd   time.Time         `json:"period_end" binding:"required"`
	Filters     map[string]any    `json:"filters"`
}

type MetricResult struct {
	Value    decimal.Decimal
	Count    int64
	Metadata map[string]any
}

// MetricComputer is the pluggable metric computation strategy.
type MetricComputer interface {
	Compute(ctx context.Context, req *MetricRequest) (*MetricResult, error)
}

// SampleMetricComputer is the deterministic default used until a real
// computation is wired in.
type SampleMetricComputer struct{}

func (SampleMetricComputer) Compute(_ context.Context, _ *MetricRequest) (*MetricResult, error) {
	return &MetricResult{Value: decimal.Zero, Count: 0}, nil
}

// WidgetCacheStore abstracts the widget data cache. The Redis-backed default
// degrades to a no-op when Redis is not connected (Get reports a miss).
type WidgetCacheStore interface {
	Get(key string, dest any) (bool, error)
	Set(key string, obj any, ttl time.Duration) error
}

type redisWidgetCache struct{}

func (redisWidgetCache) Get(key string, dest any) (bool, error) {
	return config.GetRedisObject(key, dest)
}

func (redisWidgetCache) Set(key string, obj any, ttl time.Duration) error {
	return config.SetRedisObject(key, obj, ttl)
}

// NewRedisWidgetCache returns the production widget cache.
func NewRedisWidgetCache() WidgetCacheStore {
	return redisWidgetCache{}
}
