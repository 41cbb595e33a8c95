package models

import (
	"log"

	"bitbucket.org/mmdatafocus/insights_backend/config"
)

// MigrateTable auto-migrates every engine table. Safe to run repeatedly.
func MigrateTable() {
	db := config.GetDB()
	if db == nil {
		log.Println("skipping migration: database not initialized")
		return
	}

	err := db.AutoMigrate(
		&ReportTemplate{},
		&GeneratedReport{},
		&ReportOutputFile{},
		&AnalyticsDashboard{},
		&DashboardWidget{},
		&AnalyticsMetric{},
		&ReportSchedule{},
		&ReportEventRecord{},
	)
	if err != nil {
		log.Printf("auto migration failed: %v", err)
	}
}
