package mailsync_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/adapters/store"
	"github.com/sachin-iam/sortify/internal/core"
	"github.com/sachin-iam/sortify/internal/limiter"
	"github.com/sachin-iam/sortify/internal/mailsync"
)

// fakeProvider serves canned messages, filtering by the incremental cursor
// the way a real mailbox API does.
type fakeProvider struct {
	mu       sync.Mutex
	messages []*core.Message
	pageSize int
	failIDs  map[string]bool
	listErr  error
	fetches  int
}

func (f *fakeProvider) add(id, subject string, date time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, &core.Message{
		ID:           id,
		UserID:       "u1",
		Subject:      subject,
		Snippet:      subject,
		InternalDate: date,
	})
}

func (f *fakeProvider) ListMessageIDs(_ context.Context, _ string, after time.Time, pageToken string) ([]string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, "", f.listErr
	}

	var matching []string
	for _, msg := range f.messages {
		if msg.InternalDate.After(after) {
			matching = append(matching, msg.ID)
		}
	}

	offset := 0
	if pageToken != "" {
		fmt.Sscanf(pageToken, "%d", &offset)
	}
	if offset >= len(matching) {
		return nil, "", nil
	}
	end := offset + f.pageSize
	if f.pageSize <= 0 || end > len(matching) {
		end = len(matching)
	}
	next := ""
	if end < len(matching) {
		next = fmt.Sprintf("%d", end)
	}
	return matching[offset:end], next, nil
}

func (f *fakeProvider) GetMessage(_ context.Context, _, messageID string) (*core.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.failIDs[messageID] {
		return nil, fmt.Errorf("flaky fetch: %w", core.ErrUpstreamUnavailable)
	}
	for _, msg := range f.messages {
		if msg.ID == messageID {
			cloned := *msg
			cloned.Body = "full body of " + messageID
			cloned.IsFullContentLoaded = true
			return &cloned, nil
		}
	}
	return nil, fmt.Errorf("message %s: %w", messageID, core.ErrNotFound)
}

func newSyncFixture(t *testing.T, provider *fakeProvider, initialWindow int) (*mailsync.Worker, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore(zap.NewNop())
	categories := core.NewCategoryService(mem, mem, zap.NewNop())
	classifier := core.NewClassifier(nil, zap.NewNop())
	worker := mailsync.NewWorker(
		provider, mem, categories, classifier, limiter.New(2), zap.NewNop(),
		initialWindow, time.Minute,
	)
	return worker, mem
}

func TestSyncPullsAndClassifiesNewMessages(t *testing.T) {
	provider := &fakeProvider{pageSize: 2}
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	provider.add("m1", "Invoice #412", base)
	provider.add("m2", "Team offsite", base.Add(time.Minute))
	provider.add("m3", "Re: weekend", base.Add(2*time.Minute))

	worker, mem := newSyncFixture(t, provider, 100)
	ctx := context.Background()

	require.NoError(t, mem.CreateCategory(ctx, &core.Category{
		ID: "c1", UserID: "u1", Name: "Invoices", Keywords: []string{"invoice"},
	}))

	stats, err := worker.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Listed)
	assert.Equal(t, 3, stats.Synced)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 0, stats.Failed)

	// Every message lands labeled; the keyword hit gets its category
	invoice, err := mem.GetMessage(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "Invoices", invoice.Category)
	assert.Equal(t, core.MethodPhase1Rule, invoice.Method)
	assert.False(t, invoice.NeedsClassification)
	assert.Empty(t, invoice.Body)

	other, err := mem.GetMessage(ctx, "u1", "m2")
	require.NoError(t, err)
	assert.Equal(t, core.FallbackCategoryName, other.Category)

	// The fallback category was provisioned on first contact
	_, err = mem.GetCategoryByName(ctx, "u1", core.FallbackCategoryName)
	assert.NoError(t, err)
}

func TestSyncIsIdempotent(t *testing.T) {
	provider := &fakeProvider{pageSize: 10}
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	provider.add("m1", "hello", base)
	provider.add("m2", "again", base.Add(time.Minute))

	worker, mem := newSyncFixture(t, provider, 100)
	ctx := context.Background()

	first, err := worker.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, first.Synced)

	mark, err := mem.HighWaterMark(ctx, "u1")
	require.NoError(t, err)

	// Nothing new: the cursor excludes everything already stored
	second, err := worker.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Synced)
	assert.Equal(t, 0, second.Listed)

	count, err := mem.CountMessages(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	markAfter, err := mem.HighWaterMark(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, mark.Equal(markAfter))

	// A newer message is picked up incrementally
	provider.add("m3", "fresh", base.Add(time.Hour))
	third, err := worker.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, third.Synced)
}

func TestSyncCountsFetchFailures(t *testing.T) {
	provider := &fakeProvider{pageSize: 10, failIDs: map[string]bool{"m2": true}}
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	provider.add("m1", "ok", base)
	provider.add("m2", "broken", base.Add(time.Minute))

	worker, mem := newSyncFixture(t, provider, 100)
	ctx := context.Background()

	stats, err := worker.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Synced)
	assert.Equal(t, 1, stats.Failed)

	// The failed message is retried next cycle once the provider recovers
	provider.mu.Lock()
	provider.failIDs = nil
	provider.mu.Unlock()

	retry, err := worker.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, retry.Synced)

	count, err := mem.CountMessages(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSyncListFailureAbortsCycle(t *testing.T) {
	provider := &fakeProvider{pageSize: 10, listErr: fmt.Errorf("quota: %w", core.ErrUpstreamUnavailable)}
	worker, _ := newSyncFixture(t, provider, 100)

	_, err := worker.Sync(context.Background(), "u1")
	assert.ErrorIs(t, err, core.ErrUpstreamUnavailable)
}

func TestSyncInitialWindowBoundsFirstPull(t *testing.T) {
	provider := &fakeProvider{pageSize: 2}
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		provider.add(fmt.Sprintf("m%d", i), "bulk", base.Add(time.Duration(i)*time.Minute))
	}

	worker, mem := newSyncFixture(t, provider, 4)
	ctx := context.Background()

	stats, err := worker.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Listed)
	assert.Equal(t, 4, stats.Synced)

	count, err := mem.CountMessages(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}
