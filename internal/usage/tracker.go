package usage

import (
	"context"
	"log/slog"
	"time"

	"chat-gateway/internal/models"
)

// Tracker records usage on a best-effort basis. Failures are logged, never returned.
type Tracker struct {
	recorder Recorder
	pricing  Pricing
	logger   *slog.Logger
	now      func() time.Time
}

// TrackerOption customises a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerLogger sets the logger.
func WithTrackerLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithTrackerClock overrides the timestamp source.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker wraps recorder. A nil pricing table prices every record at zero.
func NewTracker(recorder Recorder, pricing Pricing, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		recorder: recorder,
		pricing:  pricing,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record fills in the timestamp and cost when unset and persists rec. It
// always returns nil.
func (t *Tracker) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = t.now().UTC()
	}
	if rec.CostUSD == 0 {
		rec.CostUSD = t.pricing.Cost(rec.Model, rec.TokensUsed)
	}

	if err := t.recorder.Record(ctx, rec); err != nil {
		t.logger.Error("failed to record usage",
			slog.String("user_id", rec.UserID),
			slog.String("conversation_id", rec.ConversationID),
			slog.Any("error", err),
		)
		return nil
	}

	t.logger.Info("recorded usage",
		slog.String("user_id", rec.UserID),
		slog.Int("tokens", rec.TokensUsed),
		slog.String("provider", string(rec.Provider)),
		slog.String("model", rec.Model),
	)
	return nil
}
