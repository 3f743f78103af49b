package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chat-gateway/internal/models"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestStore(t *testing.T) (*Store, *stepClock) {
	t.Helper()

	clock := &stepClock{now: time.Date(2026, 6, 10, 8, 0, 0, 0, time.UTC)}
	path := filepath.Join(t.TempDir(), "nested", "test.db")
	s, err := Open(context.Background(), path, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func TestMigrateUp_Idempotent(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	applied, err := MigrateUp(ctx, s.db)
	if err != nil {
		t.Fatalf("MigrateUp() second run error = %v", err)
	}
	if applied != 0 {
		t.Errorf("MigrateUp() second run applied %d; want 0", applied)
	}

	version, err := MigrationVersion(ctx, s.db)
	if err != nil || version != 1 {
		t.Errorf("MigrationVersion() = %d, %v; want 1", version, err)
	}

	for _, table := range []string{"user_profiles", "conversations", "messages", "usage_records"} {
		var name string
		err := s.db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestConversationLifecycle(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateConversation(ctx, models.Conversation{
		UserID: "alice", Title: "New Conversation", Provider: models.ProviderClaude, Model: "claude-sonnet-4-20250514",
	})
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	if first.ID == "" || first.CreatedAt.IsZero() {
		t.Fatalf("CreateConversation() = %+v; want id and timestamps", first)
	}
	second, err := s.CreateConversation(ctx, models.Conversation{UserID: "alice", Title: "Other", Provider: models.ProviderOpenAI, Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}

	got, ok, err := s.Conversation(ctx, "alice", first.ID)
	if err != nil || !ok {
		t.Fatalf("Conversation() = %v, %v", ok, err)
	}
	if got.Provider != models.ProviderClaude || got.Model != "claude-sonnet-4-20250514" || !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("Conversation() = %+v; want %+v", got, first)
	}

	if _, ok, err := s.Conversation(ctx, "mallory", first.ID); ok || err != nil {
		t.Errorf("Conversation() for another user = %v, %v; want not found", ok, err)
	}
	if _, ok, err := s.Conversation(ctx, "alice", "missing"); ok || err != nil {
		t.Errorf("Conversation(missing) = %v, %v; want not found", ok, err)
	}

	// A new message makes the first conversation the most recent.
	tokens := 12
	if _, err := s.AddMessage(ctx, models.StoredMessage{ConversationID: first.ID, Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("AddMessage() error = %v", err)
	}
	reply, err := s.AddMessage(ctx, models.StoredMessage{ConversationID: first.ID, Role: models.RoleAssistant, Content: "hello", TokensUsed: &tokens})
	if err != nil {
		t.Fatalf("AddMessage() error = %v", err)
	}
	if reply.ID == "" || reply.CreatedAt.IsZero() {
		t.Errorf("AddMessage() = %+v", reply)
	}

	list, err := s.ListConversations(ctx, "alice")
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Errorf("ListConversations() order = %v", list)
	}
	if others, err := s.ListConversations(ctx, "bob"); err != nil || len(others) != 0 {
		t.Errorf("ListConversations(bob) = %v, %v; want empty", others, err)
	}

	msgs, err := s.Messages(ctx, first.ID)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Fatalf("Messages() = %+v", msgs)
	}
	if msgs[0].TokensUsed != nil || msgs[1].TokensUsed == nil || *msgs[1].TokensUsed != 12 {
		t.Errorf("tokens_used round trip = %v, %v", msgs[0].TokensUsed, msgs[1].TokensUsed)
	}
}

func TestAddMessage_UnknownConversation(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	if _, err := s.AddMessage(context.Background(), models.StoredMessage{ConversationID: "nope", Role: models.RoleUser, Content: "x"}); err == nil {
		t.Fatal("AddMessage() on unknown conversation error = nil")
	}
}

func TestUsageAndQuotaQueries(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	june := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	records := []models.UsageRecord{
		{UserID: "alice", ConversationID: "c1", Provider: models.ProviderClaude, Model: "m", TokensUsed: 100, CostUSD: 0.1, Timestamp: june.Add(-time.Nanosecond)},
		{UserID: "alice", ConversationID: "c1", Provider: models.ProviderClaude, Model: "m", TokensUsed: 200, CostUSD: 0.2, Timestamp: june},
		{UserID: "alice", ConversationID: "c2", Provider: models.ProviderGemini, Model: "g", TokensUsed: 50, Timestamp: june.Add(48 * time.Hour)},
		{UserID: "bob", ConversationID: "c3", Provider: models.ProviderOpenAI, Model: "o", TokensUsed: 999, Timestamp: june.Add(time.Hour)},
	}
	for _, rec := range records {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	used, err := s.MonthlyTokensUsed(ctx, "alice", june)
	if err != nil || used != 250 {
		t.Errorf("MonthlyTokensUsed() = %d, %v; want 250", used, err)
	}
	if used, err := s.MonthlyTokensUsed(ctx, "nobody", june); err != nil || used != 0 {
		t.Errorf("MonthlyTokensUsed(nobody) = %d, %v; want 0", used, err)
	}

	got, err := s.UsageSince(ctx, "alice", june)
	if err != nil {
		t.Fatalf("UsageSince() error = %v", err)
	}
	if len(got) != 2 || got[0].TokensUsed != 200 || got[1].Provider != models.ProviderGemini {
		t.Errorf("UsageSince() = %+v", got)
	}
	if !got[0].Timestamp.Equal(june) {
		t.Errorf("timestamp round trip = %v; want %v", got[0].Timestamp, june)
	}
}

func TestTier(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.Tier(ctx, "alice"); ok || err != nil {
		t.Fatalf("Tier() without profile = %v, %v", ok, err)
	}
	if err := s.SetTier(ctx, "alice", models.TierPro); err != nil {
		t.Fatalf("SetTier() error = %v", err)
	}
	if err := s.SetTier(ctx, "alice", models.TierEnterprise); err != nil {
		t.Fatalf("SetTier() update error = %v", err)
	}
	tier, ok, err := s.Tier(ctx, "alice")
	if err != nil || !ok || tier != models.TierEnterprise {
		t.Errorf("Tier() = %q, %v, %v; want enterprise", tier, ok, err)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
