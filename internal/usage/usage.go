// Package usage records token consumption and summarises it for reporting.
package usage

import (
	"context"
	"time"

	"chat-gateway/internal/models"
)

// Recorder persists usage records.
type Recorder interface {
	Record(ctx context.Context, rec models.UsageRecord) error
}

// Summarizer lists a user's usage records since a point in time.
type Summarizer interface {
	UsageSince(ctx context.Context, userID string, since time.Time) ([]models.UsageRecord, error)
}

// MonthStart returns the first instant of t's calendar month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextMonthStart returns the first instant of the month after t, in UTC.
func NextMonthStart(t time.Time) time.Time {
	return MonthStart(t).AddDate(0, 1, 0)
}

// Summarize aggregates records into totals and per-provider buckets.
func Summarize(records []models.UsageRecord) models.UsageSummary {
	summary := models.UsageSummary{ByProvider: make(map[models.Provider]models.ProviderUsage)}
	for _, rec := range records {
		summary.TotalMessages++
		summary.TotalTokens += rec.TokensUsed
		summary.TotalCostUSD += rec.CostUSD

		bucket := summary.ByProvider[rec.Provider]
		bucket.Tokens += rec.TokensUsed
		bucket.CostUSD += rec.CostUSD
		bucket.Requests++
		summary.ByProvider[rec.Provider] = bucket
	}
	return summary
}
