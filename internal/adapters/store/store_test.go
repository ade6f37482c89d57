package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/adapters/store"
	"github.com/sachin-iam/sortify/internal/core"
)

// fullStore is the composite contract every backend satisfies.
type fullStore interface {
	core.MessageStore
	core.CategoryStore
	core.JobStore
}

// backends returns every store implementation under test. Both must behave
// identically so the suite runs once per backend.
func backends(t *testing.T) map[string]fullStore {
	t.Helper()

	sqlite, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "sortify.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]fullStore{
		"memory": store.NewMemoryStore(zap.NewNop()),
		"sqlite": sqlite,
	}
}

func testMessage(id string, date time.Time) *core.Message {
	return &core.Message{
		ID:           id,
		UserID:       "u1",
		From:         "billing@stripe.com",
		FromName:     "Stripe",
		Subject:      "Invoice #412",
		Snippet:      "Your invoice is ready",
		InternalDate: date,
		Category:     core.FallbackCategoryName,
	}
}

func TestUpsertMessageIdempotent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().UTC().Truncate(time.Millisecond)

			msg := testMessage("m1", base)
			require.NoError(t, s.UpsertMessage(ctx, msg))

			msg.Subject = "Invoice #412 (updated)"
			require.NoError(t, s.UpsertMessage(ctx, msg))

			count, err := s.CountMessages(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			stored, err := s.GetMessage(ctx, "u1", "m1")
			require.NoError(t, err)
			assert.Equal(t, "Invoice #412 (updated)", stored.Subject)

			exists, err := s.HasMessage(ctx, "u1", "m1")
			require.NoError(t, err)
			assert.True(t, exists)

			_, err = s.GetMessage(ctx, "u1", "missing")
			assert.ErrorIs(t, err, core.ErrNotFound)
		})
	}
}

func TestHighWaterMark(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			mark, err := s.HighWaterMark(ctx, "u1")
			require.NoError(t, err)
			assert.True(t, mark.IsZero())

			older := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
			newer := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
			require.NoError(t, s.UpsertMessage(ctx, testMessage("m1", newer)))
			require.NoError(t, s.UpsertMessage(ctx, testMessage("m2", older)))

			mark, err = s.HighWaterMark(ctx, "u1")
			require.NoError(t, err)
			assert.True(t, mark.Equal(newer), "want %v, got %v", newer, mark)
		})
	}
}

func TestListMessagesPageOrderedAndStable(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
			for i, id := range []string{"m3", "m1", "m2"} {
				require.NoError(t, s.UpsertMessage(ctx, testMessage(id, base.Add(time.Duration(i)*time.Hour))))
			}

			first, err := s.ListMessagesPage(ctx, "u1", 0, 2)
			require.NoError(t, err)
			require.Len(t, first, 2)
			assert.Equal(t, "m3", first[0].ID)
			assert.Equal(t, "m1", first[1].ID)

			second, err := s.ListMessagesPage(ctx, "u1", 2, 2)
			require.NoError(t, err)
			require.Len(t, second, 1)
			assert.Equal(t, "m2", second[0].ID)

			beyond, err := s.ListMessagesPage(ctx, "u1", 10, 2)
			require.NoError(t, err)
			assert.Empty(t, beyond)

			ids, err := s.ListMessageIDs(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, []string{"m3", "m1", "m2"}, ids)
		})
	}
}

func TestUpdateClassification(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.UpsertMessage(ctx, testMessage("m1", time.Now().UTC())))

			err := s.UpdateClassification(ctx, "u1", "m1", &core.Classification{
				Label:        "Invoices",
				Confidence:   0.83,
				Method:       core.MethodPhase2ML,
				ModelVersion: "distilbert-v2",
				ClassifiedAt: time.Now().UTC(),
			})
			require.NoError(t, err)

			stored, err := s.GetMessage(ctx, "u1", "m1")
			require.NoError(t, err)
			assert.Equal(t, "Invoices", stored.Category)
			assert.Equal(t, core.MethodPhase2ML, stored.Method)
			assert.InDelta(t, 0.83, stored.Confidence, 0.001)
			assert.False(t, stored.NeedsClassification)

			err = s.UpdateClassification(ctx, "u1", "missing", &core.Classification{Label: "X"})
			assert.Error(t, err)
		})
	}
}

func TestReassignCategory(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().UTC()
			for i, id := range []string{"m1", "m2", "m3"} {
				msg := testMessage(id, base.Add(time.Duration(i)*time.Minute))
				if id != "m3" {
					msg.Category = "Invoices"
				}
				require.NoError(t, s.UpsertMessage(ctx, msg))
			}

			moved, err := s.ReassignCategory(ctx, "u1", "Invoices", core.FallbackCategoryName)
			require.NoError(t, err)
			assert.Equal(t, 2, moved)

			count, err := s.CountByCategory(ctx, "u1", core.FallbackCategoryName)
			require.NoError(t, err)
			assert.Equal(t, 3, count)

			count, err = s.CountByCategory(ctx, "u1", "Invoices")
			require.NoError(t, err)
			assert.Equal(t, 0, count)
		})
	}
}

func TestCategoryCRUD(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)
			cat := &core.Category{
				ID:             "c1",
				UserID:         "u1",
				Name:           "Invoices",
				Keywords:       []string{"invoice", "receipt"},
				SenderDomains:  []string{"stripe.com"},
				TrainingStatus: core.TrainingPending,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			require.NoError(t, s.CreateCategory(ctx, cat))

			// Case-insensitive uniqueness
			dup := &core.Category{ID: "c2", UserID: "u1", Name: "invoices", CreatedAt: now, UpdatedAt: now}
			assert.Error(t, s.CreateCategory(ctx, dup))

			byName, err := s.GetCategoryByName(ctx, "u1", "INVOICES")
			require.NoError(t, err)
			assert.Equal(t, "c1", byName.ID)
			assert.Equal(t, []string{"invoice", "receipt"}, byName.Keywords)

			cat.Keywords = []string{"invoice"}
			cat.TrainingStatus = core.TrainingCompleted
			require.NoError(t, s.UpdateCategory(ctx, cat))

			stored, err := s.GetCategory(ctx, "u1", "c1")
			require.NoError(t, err)
			assert.Equal(t, []string{"invoice"}, stored.Keywords)
			assert.Equal(t, core.TrainingCompleted, stored.TrainingStatus)

			cats, err := s.ListCategories(ctx, "u1")
			require.NoError(t, err)
			assert.Len(t, cats, 1)

			require.NoError(t, s.DeleteCategory(ctx, "u1", "c1"))
			_, err = s.GetCategory(ctx, "u1", "c1")
			assert.ErrorIs(t, err, core.ErrNotFound)
		})
	}
}

func testJob(id, category string, status core.JobStatus, created time.Time) *core.ReclassificationJob {
	return &core.ReclassificationJob{
		ID:                 id,
		UserID:             "u1",
		CategoryID:         "c1",
		CategoryName:       category,
		Status:             status,
		CreatedAt:          created,
		LastProgressUpdate: created,
	}
}

func TestCreateIfNoActiveIsIdempotent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)

			first, created, err := s.CreateIfNoActive(ctx, testJob("j1", "Invoices", core.JobStatusPending, now))
			require.NoError(t, err)
			assert.True(t, created)
			assert.Equal(t, "j1", first.ID)

			// Second trigger for the same pair returns the active job
			dup, created, err := s.CreateIfNoActive(ctx, testJob("j2", "invoices", core.JobStatusPending, now))
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, "j1", dup.ID)

			// A different category gets its own job
			other, created, err := s.CreateIfNoActive(ctx, testJob("j3", "Newsletters", core.JobStatusPending, now))
			require.NoError(t, err)
			assert.True(t, created)
			assert.Equal(t, "j3", other.ID)

			// Once the job is terminal the slot frees up
			first.Status = core.JobStatusCompleted
			completed := now.Add(time.Minute)
			first.CompletedAt = &completed
			require.NoError(t, s.UpdateJob(ctx, first))

			fresh, created, err := s.CreateIfNoActive(ctx, testJob("j4", "Invoices", core.JobStatusPending, now.Add(2*time.Minute)))
			require.NoError(t, err)
			assert.True(t, created)
			assert.Equal(t, "j4", fresh.ID)
		})
	}
}

func TestUpdateJobProgressAndTerminalGuard(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)

			job, _, err := s.CreateIfNoActive(ctx, testJob("j1", "Invoices", core.JobStatusPending, now))
			require.NoError(t, err)

			job.Status = core.JobStatusProcessing
			job.TotalMessages = 250
			job.ProcessedMessages = 100
			job.SuccessfulCount = 98
			job.FailedCount = 2
			job.CurrentBatchIndex = 0
			job.TotalBatches = 3
			job.RatePerSecond = 42.5
			job.StartedAt = now
			require.NoError(t, s.UpdateJob(ctx, job))

			stored, err := s.GetJob(ctx, "j1")
			require.NoError(t, err)
			assert.Equal(t, core.JobStatusProcessing, stored.Status)
			assert.Equal(t, 100, stored.ProcessedMessages)
			assert.Equal(t, 2, stored.FailedCount)
			assert.InDelta(t, 42.5, stored.RatePerSecond, 0.001)

			job.Status = core.JobStatusFailed
			job.ErrorMessage = "cancelled by user"
			completed := now.Add(time.Minute)
			job.CompletedAt = &completed
			require.NoError(t, s.UpdateJob(ctx, job))

			// Terminal is terminal
			job.Status = core.JobStatusProcessing
			assert.Error(t, s.UpdateJob(ctx, job))

			stored, err = s.GetJob(ctx, "j1")
			require.NoError(t, err)
			assert.Equal(t, core.JobStatusFailed, stored.Status)
			assert.Equal(t, "cancelled by user", stored.ErrorMessage)
			require.NotNil(t, stored.CompletedAt)
		})
	}
}

func TestListJobsByStatusAndPurge(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			old := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Millisecond)
			now := time.Now().UTC().Truncate(time.Millisecond)

			stale, _, err := s.CreateIfNoActive(ctx, testJob("j1", "Invoices", core.JobStatusPending, old))
			require.NoError(t, err)
			stale.Status = core.JobStatusCompleted
			require.NoError(t, s.UpdateJob(ctx, stale))

			_, _, err = s.CreateIfNoActive(ctx, testJob("j2", "Newsletters", core.JobStatusProcessing, now))
			require.NoError(t, err)

			active, err := s.ListJobsByStatus(ctx, core.JobStatusPending, core.JobStatusProcessing)
			require.NoError(t, err)
			require.Len(t, active, 1)
			assert.Equal(t, "j2", active[0].ID)

			purged, err := s.PurgeTerminalBefore(ctx, now.Add(-24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 1, purged)

			_, err = s.GetJob(ctx, "j1")
			assert.ErrorIs(t, err, core.ErrNotFound)

			// Active jobs survive the purge regardless of age
			_, err = s.GetJob(ctx, "j2")
			assert.NoError(t, err)
		})
	}
}
