package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/insights_backend/config"
	"bitbucket.org/mmdatafocus/insights_backend/middlewares"
	"bitbucket.org/mmdatafocus/insights_backend/models"
	"bitbucket.org/mmdatafocus/insights_backend/utils"
	"bitbucket.org/mmdatafocus/insights_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// statusForError maps engine errors onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, utils.ErrorTemplateNotFound),
		errors.Is(err, utils.ErrorReportNotFound),
		errors.Is(err, utils.ErrorDashboardNotFound),
		errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, utils.ErrorReportNotClaimable):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func bindErrorResponse(c *gin.Context, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": utils.ProcessValidationErrors(err)})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
}

func createReportHandler(engine *workflow.ReportEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req workflow.NewReportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindErrorResponse(c, err)
			return
		}

		report, err := engine.CreateReportRequest(c.Request.Context(), &req)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		c.JSON(http.StatusAccepted, gin.H{
			"report_id":      report.ID,
			"status":         report.Status,
			"scheduled_for":  report.ScheduledFor,
			"correlation_id": cid,
		})
	}
}

func reportStatusHandler(engine *workflow.ReportEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		reportId, err := strconv.Atoi(c.Param("id"))
		if err != nil || reportId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report id"})
			return
		}

		result, err := engine.GetReportStatus(c.Request.Context(), reportId)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func listReportsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		reports, err := models.ListRecentReports(c.Request.Context(), limit)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"reports": reports})
	}
}

func createTemplateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.NewReportTemplate
		if err := c.ShouldBindJSON(&req); err != nil {
			bindErrorResponse(c, err)
			return
		}
		template, err := models.CreateReportTemplate(c.Request.Context(), &req)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, template)
	}
}

func listTemplatesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		templates, err := models.ListReportTemplates(c.Request.Context())
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"templates": templates})
	}
}

func createDashboardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.NewAnalyticsDashboard
		if err := c.ShouldBindJSON(&req); err != nil {
			bindErrorResponse(c, err)
			return
		}
		dashboard, err := models.CreateAnalyticsDashboard(c.Request.Context(), &req)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, dashboard)
	}
}

func listDashboardsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		dashboards, err := models.ListAnalyticsDashboards(c.Request.Context())
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"dashboards": dashboards})
	}
}

func dashboardDataHandler(service *workflow.DashboardService) gin.HandlerFunc {
	return func(c *gin.Context) {
		dashboardId, err := strconv.Atoi(c.Param("id"))
		if err != nil || dashboardId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid dashboard id"})
			return
		}

		data, err := service.GetDashboardData(c.Request.Context(), dashboardId)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, data)
	}
}

func calculateMetricHandler(engine *workflow.MetricEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req workflow.MetricRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindErrorResponse(c, err)
			return
		}

		metric, err := engine.CalculateMetric(c.Request.Context(), &req)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, metric)
	}
}

func metricSeriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Query("name")
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		limit, _ := strconv.Atoi(c.Query("limit"))
		metrics, err := models.ListMetricSeries(c.Request.Context(), name, models.PeriodType(c.Query("period_type")), limit)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"metrics": metrics})
	}
}

func createScheduleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.NewReportSchedule
		if err := c.ShouldBindJSON(&req); err != nil {
			bindErrorResponse(c, err)
			return
		}

		nextRun := workflow.NextRunAt(req.Frequency, workflow.ScheduleConfig{
			Hour:       req.Hour,
			Minute:     req.Minute,
			DayOfWeek:  req.DayOfWeek,
			DayOfMonth: req.DayOfMonth,
		}, time.Now())

		schedule, err := models.CreateReportSchedule(c.Request.Context(), &req, nextRun)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, schedule)
	}
}

func listSchedulesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		schedules, err := models.ListReportSchedules(c.Request.Context())
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"schedules": schedules})
	}
}

// replayOutboxEventHandler re-arms a FAILED or DEAD outbox record for the
// dispatcher. The fetch is tenant scoped, so one tenant cannot replay
// another's events.
func replayOutboxEventHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		eventId, err := strconv.Atoi(c.Param("id"))
		if err != nil || eventId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
			return
		}

		record, err := utils.FetchSingleModel[models.ReportEventRecord](c.Request.Context(), eventId)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		if err := models.RequeueReportEvent(c.Request.Context(), record.ID); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"event_id":       record.ID,
			"publish_status": models.OutboxPublishStatusPending,
		})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, app endpoints return 503.
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production require an explicit allowlist; allow all on dev boxes.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-business-id", "x-user-id", "x-user-name", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "x-correlation-id")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	if limit, err := strconv.ParseInt(os.Getenv("RATE_LIMIT_PER_MINUTE"), 10, 64); err == nil && limit > 0 {
		r.Use(middlewares.RateLimitMiddleware(limit))
	}
	r.Use(middlewares.TenantMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	reportEngine := workflow.NewReportEngine()
	dashboardService := workflow.NewDashboardService()
	metricEngine := workflow.NewMetricEngine()

	r.POST("/templates", createTemplateHandler())
	r.GET("/templates", listTemplatesHandler())
	r.POST("/reports", createReportHandler(reportEngine))
	r.GET("/reports", listReportsHandler())
	r.GET("/reports/:id/status", reportStatusHandler(reportEngine))
	r.POST("/dashboards", createDashboardHandler())
	r.GET("/dashboards", listDashboardsHandler())
	r.GET("/dashboards/:id/data", dashboardDataHandler(dashboardService))
	r.POST("/metrics/calculate", calculateMetricHandler(metricEngine))
	r.GET("/metrics", metricSeriesHandler())
	r.POST("/schedules", createScheduleHandler())
	r.GET("/schedules", listSchedulesHandler())
	r.POST("/outbox/:id/replay", replayOutboxEventHandler())
	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running migrations as a
	// separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Outbox dispatcher publishes AFTER commit.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.NewOutboxDispatcher().Run(dispatcherCtx)

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while draining.
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
