package query

import (
	"context"
	"time"

	"github.com/followme/followme-hub/internal/domain/progression"
	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/internal/domain/training"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPORT QUERY
// Weekly, monthly and yearly totals built on the session log.
// ══════════════════════════════════════════════════════════════════════════════

// ActivityStats aggregates one activity inside a period.
type ActivityStats struct {
	Sessions int     `json:"sessions"`
	RawKm    float64 `json:"raw_km"`
}

// PeriodReport aggregates entries inside one period.
type PeriodReport struct {
	From       time.Time                               `json:"from"`
	To         time.Time                               `json:"to"`
	Sessions   int                                     `json:"sessions"`
	RawKm      float64                                 `json:"raw_km"`
	WeightedKm float64                                 `json:"weighted_km"`
	ByActivity map[training.ActivityType]ActivityStats `json:"by_activity"`
}

// Report holds the current ISO week, calendar month and year.
type Report struct {
	UserID      string       `json:"user_id"`
	Week        PeriodReport `json:"week"`
	Month       PeriodReport `json:"month"`
	Year        PeriodReport `json:"year"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// GetReportHandler builds reports.
type GetReportHandler struct {
	log        *training.SessionLog
	aggregator *progression.DistanceAggregator
}

// NewGetReportHandler creates a new handler.
func NewGetReportHandler(log *training.SessionLog, aggregator *progression.DistanceAggregator) *GetReportHandler {
	return &GetReportHandler{log: log, aggregator: aggregator}
}

// Handle builds the report for the periods containing now (UTC).
func (h *GetReportHandler) Handle(ctx context.Context, rawUserID string, now time.Time) (*Report, error) {
	userID, err := shared.NewUserID(rawUserID)
	if err != nil {
		return nil, err
	}
	now = now.UTC()
	week, month, year := shared.WeekOf(now), shared.MonthOf(now), shared.YearOf(now)

	// An ISO week can straddle a year boundary.
	span := year
	if week.From.Before(span.From) {
		span.From = week.From
	}
	if week.To.After(span.To) {
		span.To = week.To
	}

	entries, err := h.log.InRange(ctx, userID, span)
	if err != nil {
		return nil, err
	}

	return &Report{
		UserID:      userID.String(),
		Week:        h.period(entries, week),
		Month:       h.period(entries, month),
		Year:        h.period(entries, year),
		GeneratedAt: now,
	}, nil
}

func (h *GetReportHandler) period(entries []training.TrainingEntry, r shared.TimeRange) PeriodReport {
	out := PeriodReport{
		From:       r.From,
		To:         r.To,
		ByActivity: make(map[training.ActivityType]ActivityStats),
	}
	for _, e := range entries {
		if !r.Contains(e.Timestamp) {
			continue
		}
		out.Sessions++
		out.RawKm += e.DistanceKm
		out.WeightedKm += h.aggregator.Weighted(e)

		s := out.ByActivity[e.Activity]
		s.Sessions++
		s.RawKm += e.DistanceKm
		out.ByActivity[e.Activity] = s
	}
	return out
}
