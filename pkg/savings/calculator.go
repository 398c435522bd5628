package savings

import (
	"context"
	"math"
	"sort"
	"time"

	apperrors "github.com/opscart/cloudops-cost-optimizer/pkg/errors"
	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
	"github.com/opscart/cloudops-cost-optimizer/pkg/storage"
)

// DefaultTimelineDays is used when no window is requested
const DefaultTimelineDays = 30

// Calculator aggregates savings tracker entries
type Calculator struct {
	store storage.SavingsStore
	now   func() time.Time
}

func NewCalculator(store storage.SavingsStore) *Calculator {
	return &Calculator{store: store, now: time.Now}
}

// Total returns verified savings within the timeframe
func (c *Calculator) Total(ctx context.Context, userID string, timeframe models.Timeframe) (*models.SavingsTotals, error) {
	if userID == "" {
		return nil, apperrors.Invalid("userId is required")
	}
	since, err := windowStart(c.now().UTC(), timeframe)
	if err != nil {
		return nil, err
	}

	entries, err := c.store.ListSavings(ctx, storage.SavingsQuery{
		UserID:       userID,
		Since:        since,
		VerifiedOnly: true,
	})
	if err != nil {
		return nil, err
	}

	totals := Summarize(entries)
	return &totals, nil
}

// Timeline returns per-day savings for the trailing window
func (c *Calculator) Timeline(ctx context.Context, userID string, days int) ([]models.SavingsDataPoint, error) {
	if userID == "" {
		return nil, apperrors.Invalid("userId is required")
	}
	if days <= 0 {
		return nil, apperrors.Invalid("days must be a positive integer")
	}

	entries, err := c.store.ListSavings(ctx, storage.SavingsQuery{
		UserID: userID,
		Since:  c.now().UTC().Add(-time.Duration(days) * 24 * time.Hour),
	})
	if err != nil {
		return nil, err
	}

	return BuildTimeline(entries), nil
}

func windowStart(now time.Time, timeframe models.Timeframe) (time.Time, error) {
	switch timeframe {
	case models.TimeframeAll, "":
		return time.Time{}, nil
	case models.TimeframeMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	case models.TimeframeWeek:
		return now.Add(-7 * 24 * time.Hour), nil
	}
	return time.Time{}, apperrors.Newf(apperrors.ErrCodeInvalidRequest, "invalid timeframe %q (want all, month or week)", timeframe)
}

// Summarize totals the entries. Accuracy is actual over estimated as a
// percentage with two decimals, or 0 when nothing was estimated.
func Summarize(entries []*models.SavingsEntry) models.SavingsTotals {
	var totals models.SavingsTotals
	for _, e := range entries {
		totals.TotalActualSavings += e.ActualSavings
		totals.TotalEstimatedSavings += e.EstimatedSavings
		totals.SavingsCount++
	}
	if totals.TotalEstimatedSavings > 0 {
		totals.Accuracy = round2(totals.TotalActualSavings / totals.TotalEstimatedSavings * 100)
	}
	return totals
}

// BuildTimeline groups entries by UTC calendar date, oldest first
func BuildTimeline(entries []*models.SavingsEntry) []models.SavingsDataPoint {
	byDate := make(map[string]*models.SavingsDataPoint)
	for _, e := range entries {
		date := e.ImplementedAt.UTC().Format("2006-01-02")
		p, ok := byDate[date]
		if !ok {
			p = &models.SavingsDataPoint{Date: date}
			byDate[date] = p
		}
		p.EstimatedSavings += e.EstimatedSavings
		p.ActualSavings += e.ActualSavings
		p.Count++
	}

	points := make([]models.SavingsDataPoint, 0, len(byDate))
	for _, p := range byDate {
		points = append(points, *p)
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Date < points[j].Date
	})
	return points
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
