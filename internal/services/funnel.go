package services

import (
	"math"
	"sort"
	"time"

	"github.com/convertrack/backend/internal/storage"
)

// NoCampaign buckets sessions that arrived without a utm_campaign.
const NoCampaign = "(none)"

// FunnelTotals counts sessions per funnel stage inside a window.
type FunnelTotals struct {
	Pageviews         int `json:"pageviews"`
	InitiateCheckouts int `json:"initiate_checkouts"`
	Purchases         int `json:"purchases"`
}

// CampaignStats is one per-campaign row of the funnel report.
type CampaignStats struct {
	Campaign string `json:"campaign"`
	FunnelTotals
	InitiateRate float64 `json:"initiate_rate"` // initiate / pageview, percent
	PurchaseRate float64 `json:"purchase_rate"` // purchase / initiate, percent
}

// FunnelReport is the aggregated funnel for a time window.
type FunnelReport struct {
	Start        time.Time       `json:"start"`
	End          time.Time       `json:"end"`
	Totals       FunnelTotals    `json:"totals"`
	InitiateRate float64         `json:"initiate_rate"`
	PurchaseRate float64         `json:"purchase_rate"`
	Campaigns    []CampaignStats `json:"campaigns"`
}

// FunnelAggregator reports stage counts and conversion ratios per campaign.
type FunnelAggregator struct {
	store storage.Store
}

// NewFunnelAggregator creates a new aggregator
func NewFunnelAggregator(store storage.Store) *FunnelAggregator {
	return &FunnelAggregator{store: store}
}

// Aggregate counts sessions whose stage fell inside [start, end]: pageviews
// by session creation, checkouts and purchases by their own timestamps.
// Ratios are percentages rounded to one decimal, 0 when the denominator is 0.
func (a *FunnelAggregator) Aggregate(start, end time.Time) (*FunnelReport, error) {
	sessions, err := a.store.ListSessionsTouchedBetween(start, end)
	if err != nil {
		return nil, err
	}

	inRange := func(t *time.Time) bool {
		return t != nil && !t.Before(start) && !t.After(end)
	}

	report := &FunnelReport{Start: start, End: end}
	byCampaign := make(map[string]*CampaignStats)

	for _, s := range sessions {
		campaign := s.UTMCampaign
		if campaign == "" {
			campaign = NoCampaign
		}
		row, ok := byCampaign[campaign]
		if !ok {
			row = &CampaignStats{Campaign: campaign}
			byCampaign[campaign] = row
		}

		if s.HasPageview && !s.CreatedAt.Before(start) && !s.CreatedAt.After(end) {
			report.Totals.Pageviews++
			row.Pageviews++
		}
		if s.HasInitiateCheckout && inRange(s.LastCheckoutAt) {
			report.Totals.InitiateCheckouts++
			row.InitiateCheckouts++
		}
		if s.HasPurchase && inRange(s.LastPurchaseAt) {
			report.Totals.Purchases++
			row.Purchases++
		}
	}

	report.InitiateRate = ratio(report.Totals.InitiateCheckouts, report.Totals.Pageviews)
	report.PurchaseRate = ratio(report.Totals.Purchases, report.Totals.InitiateCheckouts)

	for _, row := range byCampaign {
		if row.Pageviews == 0 && row.InitiateCheckouts == 0 && row.Purchases == 0 {
			continue
		}
		row.InitiateRate = ratio(row.InitiateCheckouts, row.Pageviews)
		row.PurchaseRate = ratio(row.Purchases, row.InitiateCheckouts)
		report.Campaigns = append(report.Campaigns, *row)
	}

	sort.Slice(report.Campaigns, func(i, j int) bool {
		a, b := report.Campaigns[i], report.Campaigns[j]
		if a.Purchases != b.Purchases {
			return a.Purchases > b.Purchases
		}
		if a.InitiateCheckouts != b.InitiateCheckouts {
			return a.InitiateCheckouts > b.InitiateCheckouts
		}
		if a.Pageviews != b.Pageviews {
			return a.Pageviews > b.Pageviews
		}
		return a.Campaign < b.Campaign
	})

	return report, nil
}

// ratio is n/d as a percentage rounded to one decimal place, 0 when d is 0.
func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(d)*1000) / 10
}
