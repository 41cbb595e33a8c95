package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/insights_backend/config"
	"bitbucket.org/mmdatafocus/insights_backend/models"
	"bitbucket.org/mmdatafocus/insights_backend/utils"
	"github.com/sirupsen/logrus"
)

// MetricStore is the persistence surface of the metric engine. Append-only:
// there is deliberately no update or delete.
type MetricStore interface {
	Insert(ctx context.Context, metric *models.AnalyticsMetric) error
}

// MetricEngine computes and records point-in-time analytics metrics.
type MetricEngine struct {
	Store    MetricStore
	Computer MetricComputer
	Clock    Clock
	Logger   *logrus.Logger
}

func NewMetricEngine() *MetricEngine {
	return &MetricEngine{
		Store:    models.MetricDB{},
		Computer: SampleMetricComputer{},
		Clock:    time.Now,
		Logger:   config.GetLogger(),
	}
}

// CalculateMetric runs the computation, measures its wall-clock duration and
// appends one row. A computation error propagates unmodified and no row is
// written.
func (e *MetricEngine) CalculateMetric(ctx context.Context, req *MetricRequest) (*models.AnalyticsMetric, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if req.PeriodEnd.Before(req.PeriodStart) {
		return nil, errors.New("period_end must not be before period_start")
	}

	started := e.Clock()
	result, err := e.Computer.Compute(ctx, req)
	if err != nil {
		return nil, err
	}
	finished := e.Clock()

	metadata := map[string]any{
		"filters":     req.Filters,
		"computed_at": finished.UTC().Format(time.RFC3339),
	}
	if len(result.Metadata) > 0 {
		metadata["details"] = result.Metadata
	}

	metric := &models.AnalyticsMetric{
		BusinessId:        businessId,
		Name:              req.Name,
		MetricType:        req.MetricType,
		Category:          req.Category,
		Dimension:         req.Dimension,
		PeriodType:        req.PeriodType,
		PeriodStart:       req.PeriodStart,
		PeriodEnd:         req.PeriodEnd,
		Value:             result.Value,
		Count:             result.Count,
		Metadata:          utils.MarshalOrNull(metadata),
		ComputationTimeMs: finished.Sub(started).Milliseconds(),
	}
	if err := e.Store.Insert(ctx, metric); err != nil {
		return nil, err
	}
	return metric, nil
}
