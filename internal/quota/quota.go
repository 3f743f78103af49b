// Package quota enforces monthly token allowances per subscription tier.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chat-gateway/internal/models"
	"chat-gateway/internal/usage"
)

// DefaultEstimatedTokens is the per-request estimate used for the near-limit warning.
const DefaultEstimatedTokens = 1000

// ErrUnavailable is returned by Enforce when usage cannot be read and the guard
// is configured to fail closed.
var ErrUnavailable = errors.New("quota service unavailable")

// DefaultWarnFraction is the share of the limit below which remaining
// allowance counts as near the limit.
const DefaultWarnFraction = 0.1

// DefaultLimits returns the monthly token allowance per tier.
func DefaultLimits() map[models.Tier]int {
	return map[models.Tier]int{
		models.TierFree:       100_000,
		models.TierPro:        1_000_000,
		models.TierEnterprise: 10_000_000,
	}
}

// DataSource reads the facts a quota decision is derived from.
type DataSource interface {
	// Tier returns the user's subscription tier; ok is false when the user has no profile.
	Tier(ctx context.Context, userID string) (tier models.Tier, ok bool, err error)
	// MonthlyTokensUsed sums the tokens recorded for the user since the given instant.
	MonthlyTokensUsed(ctx context.Context, userID string, since time.Time) (int, error)
}

// ExceededError reports a user whose allowance for the month is spent.
type ExceededError struct {
	Tier  models.Tier
	Used  int
	Limit int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("Quota exceeded. You have used %d of your %d token limit for the %s tier this month.", e.Used, e.Limit, e.Tier)
}

// Guard computes quota state and rejects requests from exhausted users.
type Guard struct {
	source     DataSource
	limits     map[models.Tier]int
	failClosed bool
	warnAt     float64
	now        func() time.Time
	logger     *slog.Logger
}

// Option customises a Guard.
type Option func(*Guard)

// WithLimits overrides the allowance for the given tiers. Tiers not present
// keep their default.
func WithLimits(limits map[models.Tier]int) Option {
	return func(g *Guard) {
		for tier, limit := range limits {
			g.limits[tier] = limit
		}
	}
}

// WithFailClosed makes usage lookup failures reject requests.
func WithFailClosed(failClosed bool) Option {
	return func(g *Guard) { g.failClosed = failClosed }
}

// WithWarnFraction sets the share of the limit at or below which Enforce logs a
// near-limit warning. Values outside [0, 1] are ignored.
func WithWarnFraction(fraction float64) Option {
	return func(g *Guard) {
		if fraction >= 0 && fraction <= 1 {
			g.warnAt = fraction
		}
	}
}

// WithClock overrides the time source used to find the current month.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGuard constructs a Guard over source.
func NewGuard(source DataSource, opts ...Option) *Guard {
	g := &Guard{
		source: source,
		limits: DefaultLimits(),
		warnAt: DefaultWarnFraction,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check returns the user's quota for the current month. It never fails: a tier
// lookup problem falls back to free, and a usage lookup problem yields an
// unknown tier whose HasQuota depends on the fail-closed setting.
func (g *Guard) Check(ctx context.Context, userID string) models.QuotaInfo {
	info, _ := g.check(ctx, userID)
	return info
}

func (g *Guard) check(ctx context.Context, userID string) (models.QuotaInfo, error) {
	now := g.now()
	resetAt := usage.NextMonthStart(now)

	tier, ok, err := g.source.Tier(ctx, userID)
	if err != nil {
		g.logger.Warn("quota tier lookup failed, assuming free tier",
			slog.String("user_id", userID), slog.Any("error", err))
	}
	if err != nil || !ok || tier == "" {
		tier = models.TierFree
	}

	limit, known := g.limits[tier]
	if !known {
		limit = g.limits[models.TierFree]
	}

	used, err := g.source.MonthlyTokensUsed(ctx, userID, usage.MonthStart(now))
	if err != nil {
		g.logger.Error("failed to check quota",
			slog.String("user_id", userID), slog.Any("error", err))
		return models.QuotaInfo{
			Tier:     models.TierUnknown,
			HasQuota: !g.failClosed,
			ResetAt:  resetAt,
		}, err
	}

	remaining := max(0, limit-used)
	return models.QuotaInfo{
		Tier:            tier,
		TokensLimit:     limit,
		TokensUsed:      used,
		TokensRemaining: remaining,
		HasQuota:        remaining > 0,
		ResetAt:         resetAt,
	}, nil
}

// Enforce returns *ExceededError when the user has no allowance left, or
// ErrUnavailable when usage cannot be read and the guard fails closed. A
// remaining allowance below estimated, or at or below the warn fraction of the
// limit, only logs a warning.
func (g *Guard) Enforce(ctx context.Context, userID string, estimated int) error {
	info, err := g.check(ctx, userID)
	if err != nil {
		if g.failClosed {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	}

	if !info.HasQuota {
		return &ExceededError{Tier: info.Tier, Used: info.TokensUsed, Limit: info.TokensLimit}
	}

	if g.nearLimit(info, estimated) {
		g.logger.Warn("user is close to quota limit",
			slog.String("user_id", userID),
			slog.Int("tokens_remaining", info.TokensRemaining),
			slog.Int("estimated_tokens", estimated),
		)
	}
	return nil
}

func (g *Guard) nearLimit(info models.QuotaInfo, estimated int) bool {
	if info.TokensRemaining < estimated {
		return true
	}
	return float64(info.TokensRemaining) <= g.warnAt*float64(info.TokensLimit)
}
