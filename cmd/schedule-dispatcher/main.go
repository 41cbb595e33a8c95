package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/insights_backend/config"
	"bitbucket.org/mmdatafocus/insights_backend/models"
	"bitbucket.org/mmdatafocus/insights_backend/utils"
	"bitbucket.org/mmdatafocus/insights_backend/workflow"
	"github.com/bsm/redislock"
)

// Scans due report schedules, enqueues a report per schedule and advances
// next_run_at. Run as a Cloud Scheduler job (-once) or as a long-lived worker.
func main() {
	businessID := flag.String("business-id", "", "Optional: dispatch only one business. If empty, dispatches all businesses.")
	batchSize := flag.Int("batch-size", 50, "Max schedules per scan")
	interval := flag.Duration("interval", time.Minute, "Scan interval when running as a worker")
	once := flag.Bool("once", false, "Run a single scan and exit")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	// Schedule scanning crosses tenants; per-schedule work re-enters a scoped context.
	ctx := utils.SetSkipTenantScopeInContext(context.Background(), true)
	ctx = utils.SetUserNameInContext(ctx, "ScheduleDispatcher")

	engine := workflow.NewReportEngine()

	for {
		dispatchDueSchedules(ctx, engine, strings.TrimSpace(*businessID), *batchSize)
		if *once {
			return
		}
		time.Sleep(*interval)
	}
}

func dispatchDueSchedules(ctx context.Context, engine *workflow.ReportEngine, businessID string, batchSize int) {
	logger := config.GetLogger()
	now := time.Now()

	schedules, err := models.ListDueSchedules(ctx, now, batchSize)
	if err != nil {
		config.LogError(logger, "schedule-dispatcher", "dispatchDueSchedules", "listing due schedules", nil, err)
		return
	}

	for _, schedule := range schedules {
		if businessID != "" && schedule.BusinessId != businessID {
			continue
		}

		// One dispatcher instance per schedule. Lock loss just delays the
		// schedule until the holder advances it or the TTL expires.
		var lock *redislock.Lock
		if locker := config.GetRedisLock(); locker != nil {
			lock, err = locker.Obtain(ctx, fmt.Sprintf("lock:schedule:%d", schedule.ID), 30*time.Second, nil)
			if err == redislock.ErrNotObtained {
				continue
			}
			if err != nil {
				config.LogError(logger, "schedule-dispatcher", "dispatchDueSchedules", "obtaining schedule lock", map[string]any{
					"schedule_id": schedule.ID,
				}, err)
				lock = nil
			}
		}

		if err := dispatchSchedule(ctx, engine, schedule, now); err != nil {
			config.LogError(logger, "schedule-dispatcher", "dispatchDueSchedules", "dispatching schedule", map[string]any{
				"schedule_id": schedule.ID,
				"business_id": schedule.BusinessId,
			}, err)
		}

		if lock != nil {
			if releaseErr := lock.Release(ctx); releaseErr != nil {
				config.LogError(logger, "schedule-dispatcher", "dispatchDueSchedules", "releasing schedule lock", map[string]any{
					"schedule_id": schedule.ID,
				}, releaseErr)
			}
		}
	}
}

func dispatchSchedule(ctx context.Context, engine *workflow.ReportEngine, schedule *models.ReportSchedule, now time.Time) error {
	scopedCtx := utils.SetBusinessIdInContext(context.Background(), schedule.BusinessId)
	scopedCtx = utils.SetUserNameInContext(scopedCtx, "ScheduleDispatcher")

	request, err := requestFromSchedule(scopedCtx, engine, schedule, now)
	if err != nil {
		return parkIfTemplateGone(ctx, schedule, err)
	}
	if _, err := engine.CreateReportRequest(scopedCtx, request); err != nil {
		return parkIfTemplateGone(ctx, schedule, err)
	}

	// Advance even when generation itself fails later: the run was dispatched.
	nextRun := workflow.NextRunForSchedule(schedule, now)
	return models.AdvanceSchedule(ctx, schedule.BusinessId, schedule.ID, nextRun)
}

// parkIfTemplateGone deactivates a schedule whose template no longer exists,
// so the scan does not redispatch it every interval. Other errors pass through
// for the retry on the next scan.
func parkIfTemplateGone(ctx context.Context, schedule *models.ReportSchedule, cause error) error {
	if !errors.Is(cause, utils.ErrorTemplateNotFound) {
		return cause
	}
	if err := models.SetScheduleActive(ctx, schedule.BusinessId, schedule.ID, utils.NewFalse()); err != nil {
		return err
	}
	return cause
}

// requestFromSchedule builds the report request from the schedule's stored
// defaults. The period falls back to the previous calendar day.
func requestFromSchedule(ctx context.Context, engine *workflow.ReportEngine, schedule *models.ReportSchedule, now time.Time) (*workflow.NewReportRequest, error) {
	var defaults struct {
		ReportType       string                `json:"report_type"`
		Category         models.ReportCategory `json:"category"`
		Filters          map[string]any        `json:"filters"`
		RequestedFormats []models.OutputFormat `json:"requested_formats"`
		ClientIds        []int                 `json:"client_ids"`
	}
	if len(schedule.DefaultParameters) > 0 {
		if err := utils.UnmarshalFromJSON(schedule.DefaultParameters, &defaults); err != nil {
			return nil, fmt.Errorf("invalid default_parameters on schedule %d: %w", schedule.ID, err)
		}
	}

	reportType := defaults.ReportType
	if reportType == "" && schedule.TemplateId > 0 {
		template, err := engine.Store.GetTemplate(ctx, schedule.BusinessId, schedule.TemplateId)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				return nil, utils.ErrorTemplateNotFound
			}
			return nil, err
		}
		reportType = template.ReportType
	}
	if reportType == "" {
		reportType = "scheduled"
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return &workflow.NewReportRequest{
		TemplateId:       schedule.TemplateId,
		Title:            fmt.Sprintf("%s %s", schedule.Name, now.Format("2006-01-02")),
		ReportType:       reportType,
		Category:         defaults.Category,
		DateFrom:         dayStart.AddDate(0, 0, -1),
		DateTo:           dayStart,
		Filters:          defaults.Filters,
		RequestedFormats: defaults.RequestedFormats,
		ClientIds:        defaults.ClientIds,
	}, nil
}
