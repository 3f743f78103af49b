package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chat-gateway/internal/models"
)

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements the conversation store, the usage recorder and summariser,
// and the quota data source on one SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New wraps an open database. The schema must already be migrated.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the database at path, applies pending migrations and returns a Store.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := NewDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := MigrateUp(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return New(db, opts...), nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) timestamp() string {
	return formatTime(s.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return t, nil
}

// Conversation returns the conversation when it exists and is owned by userID.
func (s *Store) Conversation(ctx context.Context, userID, conversationID string) (models.Conversation, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, model_provider, model_name, created_at, updated_at
		FROM conversations WHERE id = ? AND user_id = ?`, conversationID, userID)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, false, nil
	}
	if err != nil {
		return models.Conversation{}, false, fmt.Errorf("query conversation: %w", err)
	}
	return conv, true, nil
}

// CreateConversation inserts conv with a fresh id and timestamps.
func (s *Store) CreateConversation(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	conv.ID = uuid.NewString()
	now := s.timestamp()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, title, model_provider, model_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.Title, string(conv.Provider), conv.Model, now, now,
	); err != nil {
		return models.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}

	ts, _ := parseTime(now)
	conv.CreatedAt, conv.UpdatedAt = ts, ts
	return conv, nil
}

// ListConversations returns the user's conversations, most recently active first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, model_provider, model_name, created_at, updated_at
		FROM conversations WHERE user_id = ?
		ORDER BY updated_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	out := []models.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// AddMessage appends msg to its conversation and bumps the conversation's
// updated_at, atomically.
func (s *Store) AddMessage(ctx context.Context, msg models.StoredMessage) (models.StoredMessage, error) {
	msg.ID = uuid.NewString()
	now := s.timestamp()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.StoredMessage{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, "UPDATE conversations SET updated_at = ? WHERE id = ?", now, msg.ConversationID)
	if err != nil {
		return models.StoredMessage{}, fmt.Errorf("touch conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.StoredMessage{}, fmt.Errorf("conversation %q does not exist", msg.ConversationID)
	}

	var tokens sql.NullInt64
	if msg.TokensUsed != nil {
		tokens = sql.NullInt64{Int64: int64(*msg.TokensUsed), Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, tokens_used, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?))`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, tokens, now, msg.ConversationID,
	); err != nil {
		return models.StoredMessage{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.StoredMessage{}, fmt.Errorf("commit message: %w", err)
	}

	msg.CreatedAt, _ = parseTime(now)
	return msg, nil
}

// Messages returns a conversation's messages in the order they were added.
// Ownership must be checked by the caller.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]models.StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, tokens_used, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	out := []models.StoredMessage{}
	for rows.Next() {
		var (
			msg       models.StoredMessage
			role      string
			tokens    sql.NullInt64
			createdAt string
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &tokens, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.Role(role)
		if tokens.Valid {
			n := int(tokens.Int64)
			msg.TokensUsed = &n
		}
		if msg.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// Record appends a usage record.
func (s *Store) Record(ctx context.Context, rec models.UsageRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records (id, user_id, conversation_id, provider, model, tokens_used, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), rec.UserID, rec.ConversationID, string(rec.Provider), rec.Model,
		max(0, rec.TokensUsed), rec.CostUSD, formatTime(ts),
	); err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// UsageSince lists the user's usage records created at or after since.
func (s *Store) UsageSince(ctx context.Context, userID string, since time.Time) ([]models.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, conversation_id, provider, model, tokens_used, cost_usd, created_at
		FROM usage_records WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at`, userID, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	out := []models.UsageRecord{}
	for rows.Next() {
		var (
			rec       models.UsageRecord
			prov      string
			createdAt string
		)
		if err := rows.Scan(&rec.UserID, &rec.ConversationID, &prov, &rec.Model, &rec.TokensUsed, &rec.CostUSD, &createdAt); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		rec.Provider = models.Provider(prov)
		if rec.Timestamp, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MonthlyTokensUsed sums the user's tokens recorded at or after since.
func (s *Store) MonthlyTokensUsed(ctx context.Context, userID string, since time.Time) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(tokens_used), 0) FROM usage_records
		WHERE user_id = ? AND created_at >= ?`, userID, formatTime(since)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum usage: %w", err)
	}
	return total, nil
}

// Tier returns the user's subscription tier; ok is false without a profile.
func (s *Store) Tier(ctx context.Context, userID string) (models.Tier, bool, error) {
	var tier string
	err := s.db.QueryRowContext(ctx, "SELECT subscription_tier FROM user_profiles WHERE user_id = ?", userID).Scan(&tier)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query tier: %w", err)
	}
	return models.Tier(tier), true, nil
}

// SetTier creates or updates the user's profile with tier.
func (s *Store) SetTier(ctx context.Context, userID string, tier models.Tier) error {
	now := s.timestamp()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, subscription_tier, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET subscription_tier = excluded.subscription_tier, updated_at = excluded.updated_at`,
		userID, string(tier), now, now,
	); err != nil {
		return fmt.Errorf("upsert tier: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (models.Conversation, error) {
	var (
		conv                 models.Conversation
		prov                 string
		createdAt, updatedAt string
	)
	if err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &prov, &conv.Model, &createdAt, &updatedAt); err != nil {
		return models.Conversation{}, err
	}
	conv.Provider = models.Provider(prov)

	var err error
	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.Conversation{}, err
	}
	if conv.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}
