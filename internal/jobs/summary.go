package jobs

import (
	"log"
	"time"

	"github.com/convertrack/backend/internal/services"
)

// FunnelSummaryJob logs a daily funnel summary for the previous day.
type FunnelSummaryJob struct {
	aggregator *services.FunnelAggregator
	isRunning  bool
}

// NewFunnelSummaryJob creates a new summary job scheduler
func NewFunnelSummaryJob(aggregator *services.FunnelAggregator) *FunnelSummaryJob {
	return &FunnelSummaryJob{
		aggregator: aggregator,
		isRunning:  false,
	}
}

// Start begins the scheduled job
func (j *FunnelSummaryJob) Start() {
	if j.isRunning {
		log.Println("Funnel summary job already running")
		return
	}

	j.isRunning = true
	log.Println("Starting funnel summary job...")
	go j.scheduleDailySummary()
}

// Stop halts the scheduled job
func (j *FunnelSummaryJob) Stop() {
	j.isRunning = false
	log.Println("Stopping funnel summary job...")
}

// DAILY SUMMARY - Runs every day at 6 AM for the previous day
func (j *FunnelSummaryJob) scheduleDailySummary() {
	for j.isRunning {
		now := time.Now()
		nextRun := time.Date(now.Year(), now.Month(), now.Day(), 6, 0, 0, 0, now.Location())
		if !nextRun.After(now) {
			nextRun = nextRun.AddDate(0, 0, 1)
		}

		duration := nextRun.Sub(now)
		log.Printf("Next funnel summary scheduled in %v", duration)
		time.Sleep(duration)

		if !j.isRunning {
			break
		}

		j.logDailySummary()
	}
}

func (j *FunnelSummaryJob) logDailySummary() {
	end := time.Now().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -1)

	report, err := j.aggregator.Aggregate(start, end)
	if err != nil {
		log.Printf("Error building daily funnel summary: %v", err)
		return
	}

	log.Printf("📊 Funnel %s: pageviews=%d checkouts=%d purchases=%d (%.1f%% / %.1f%%)",
		start.Format("2006-01-02"),
		report.Totals.Pageviews,
		report.Totals.InitiateCheckouts,
		report.Totals.Purchases,
		report.InitiateRate,
		report.PurchaseRate)

	for _, row := range report.Campaigns {
		log.Printf("   • %s: %d/%d/%d", row.Campaign, row.Pageviews, row.InitiateCheckouts, row.Purchases)
	}
}
