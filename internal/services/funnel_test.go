package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convertrack/backend/internal/models"
	"github.com/convertrack/backend/internal/storage"
)

// seedFunnel creates sessions in one campaign: pageviews of which the first
// `initiates` reached checkout and the first `purchases` of those paid.
func seedFunnel(t *testing.T, store *storage.MemoryStore, campaign string, pageviews, initiates, purchases int, at time.Time) {
	t.Helper()
	for i := 0; i < pageviews; i++ {
		s := &models.Session{
			ClientRef:   fmt.Sprintf("%s-%d", campaign, i),
			UTMCampaign: campaign,
			HasPageview: true,
		}
		s.CreatedAt = at
		if i < initiates {
			s.MarkInitiateCheckout(at.Add(10 * time.Minute))
		}
		if i < purchases {
			s.MarkPurchase(at.Add(20*time.Minute), "paid")
		}
		require.NoError(t, store.CreateSession(s))
	}
}

func TestAggregate_RatiosAndTotals(t *testing.T) {
	store := storage.NewMemoryStore()
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	// 100 pageviews, 30 checkouts, 6 purchases in a single campaign.
	seedFunnel(t, store, "verao", 100, 30, 6, at)

	agg := NewFunnelAggregator(store)
	report, err := agg.Aggregate(at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 100, report.Totals.Pageviews)
	assert.Equal(t, 30, report.Totals.InitiateCheckouts)
	assert.Equal(t, 6, report.Totals.Purchases)
	assert.Equal(t, 30.0, report.InitiateRate)
	assert.Equal(t, 20.0, report.PurchaseRate)

	require.Len(t, report.Campaigns, 1)
	assert.Equal(t, "verao", report.Campaigns[0].Campaign)
	assert.Equal(t, 30.0, report.Campaigns[0].InitiateRate)
	assert.Equal(t, 20.0, report.Campaigns[0].PurchaseRate)
}

func TestAggregate_ZeroDenominators(t *testing.T) {
	store := storage.NewMemoryStore()
	agg := NewFunnelAggregator(store)

	report, err := agg.Aggregate(time.Unix(0, 0), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0.0, report.InitiateRate)
	assert.Equal(t, 0.0, report.PurchaseRate)
	assert.Empty(t, report.Campaigns)
}

func TestAggregate_CampaignSortOrder(t *testing.T) {
	store := storage.NewMemoryStore()
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	seedFunnel(t, store, "few-purchases", 10, 5, 1, at)
	seedFunnel(t, store, "many-purchases", 5, 4, 3, at)
	seedFunnel(t, store, "no-purchases-more-checkouts", 10, 6, 0, at)
	seedFunnel(t, store, "no-purchases", 20, 2, 0, at)

	agg := NewFunnelAggregator(store)
	report, err := agg.Aggregate(at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)

	require.Len(t, report.Campaigns, 4)
	assert.Equal(t, "many-purchases", report.Campaigns[0].Campaign)
	assert.Equal(t, "few-purchases", report.Campaigns[1].Campaign)
	assert.Equal(t, "no-purchases-more-checkouts", report.Campaigns[2].Campaign)
	assert.Equal(t, "no-purchases", report.Campaigns[3].Campaign)
}

func TestAggregate_WindowBoundaries(t *testing.T) {
	store := storage.NewMemoryStore()
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	// Pageview inside the window, purchase after it: only the pageview counts.
	s := &models.Session{ClientRef: "23001", UTMCampaign: "verao", HasPageview: true}
	s.CreatedAt = at
	s.MarkPurchase(at.Add(48*time.Hour), "paid")
	require.NoError(t, store.CreateSession(s))

	// Created before the window, purchased inside it: only the purchase counts.
	s2 := &models.Session{ClientRef: "23002", UTMCampaign: "verao", HasPageview: true}
	s2.CreatedAt = at.Add(-72 * time.Hour)
	s2.MarkPurchase(at.Add(time.Minute), "paid")
	require.NoError(t, store.CreateSession(s2))

	agg := NewFunnelAggregator(store)
	report, err := agg.Aggregate(at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Totals.Pageviews)
	assert.Equal(t, 1, report.Totals.Purchases)
}

func TestAggregate_MissingCampaignBucketed(t *testing.T) {
	store := storage.NewMemoryStore()
	at := time.Now()

	s := &models.Session{ClientRef: "23001", HasPageview: true}
	s.CreatedAt = at
	require.NoError(t, store.CreateSession(s))

	agg := NewFunnelAggregator(store)
	report, err := agg.Aggregate(at.Add(-time.Minute), at.Add(time.Minute))
	require.NoError(t, err)

	require.Len(t, report.Campaigns, 1)
	assert.Equal(t, NoCampaign, report.Campaigns[0].Campaign)
	assert.Equal(t, 1, report.Campaigns[0].Pageviews)
}

func TestRatio_Rounding(t *testing.T) {
	assert.Equal(t, 33.3, ratio(1, 3))
	assert.Equal(t, 66.7, ratio(2, 3))
	assert.Equal(t, 100.0, ratio(3, 3))
	assert.Equal(t, 0.0, ratio(5, 0))
}
