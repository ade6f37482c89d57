package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReclassifyFunc schedules a reclassification run for a category. Wired in by
// the scheduler after construction to avoid a dependency cycle.
type ReclassifyFunc func(ctx context.Context, userID, categoryName, categoryID string) error

// CategoryService owns category lifecycle: creation, mutation, deletion with
// fallback reassignment, and the cached per-category message counts.
type CategoryService struct {
	categories CategoryStore
	messages   MessageStore
	logger     *zap.Logger
	reclassify ReclassifyFunc
}

// NewCategoryService creates a category service.
func NewCategoryService(categories CategoryStore, messages MessageStore, logger *zap.Logger) *CategoryService {
	return &CategoryService{
		categories: categories,
		messages:   messages,
		logger:     logger,
	}
}

// SetReclassifyHook registers the scheduler callback invoked after mutations
// that affect category membership.
func (s *CategoryService) SetReclassifyHook(fn ReclassifyFunc) {
	s.reclassify = fn
}

// EnsureFallback guarantees the user has the non-deletable fallback category,
// creating it when missing, and returns it.
func (s *CategoryService) EnsureFallback(ctx context.Context, userID string) (*Category, error) {
	existing, err := s.categories.GetCategoryByName(ctx, userID, FallbackCategoryName)
	if err == nil {
		return existing, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	now := time.Now()
	fallback := &Category{
		ID:             uuid.NewString(),
		UserID:         userID,
		Name:           FallbackCategoryName,
		TrainingStatus: TrainingBasic,
		IsFallback:     true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.categories.CreateCategory(ctx, fallback); err != nil {
		return nil, fmt.Errorf("failed to create fallback category: %w", err)
	}
	s.logger.Info("Created fallback category", zap.String("user_id", userID))
	return fallback, nil
}

// List returns all of the user's categories.
func (s *CategoryService) List(ctx context.Context, userID string) ([]*Category, error) {
	return s.categories.ListCategories(ctx, userID)
}

// Create adds a new category and triggers a reclassification run so existing
// messages can move into it.
func (s *CategoryService) Create(ctx context.Context, userID, name string, keywords, senderDomains, senderNamePatterns []string) (*Category, error) {
	name = strings.TrimSpace(name)
	if userID == "" || name == "" {
		return nil, fmt.Errorf("user and category name are required: %w", ErrValidation)
	}

	now := time.Now()
	cat := &Category{
		ID:                 uuid.NewString(),
		UserID:             userID,
		Name:               name,
		Keywords:           keywords,
		SenderDomains:      senderDomains,
		SenderNamePatterns: senderNamePatterns,
		TrainingStatus:     TrainingPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.categories.CreateCategory(ctx, cat); err != nil {
		return nil, err
	}

	s.triggerReclassify(ctx, cat)
	return cat, nil
}

// UpdatePatterns replaces a category's classification inputs and triggers a
// reclassification run. The cached message count is invalidated: concurrent
// jobs read category data once at start, so edits only affect the next run.
func (s *CategoryService) UpdatePatterns(ctx context.Context, userID, categoryID string, keywords, senderDomains, senderNamePatterns []string) (*Category, error) {
	cat, err := s.categories.GetCategory(ctx, userID, categoryID)
	if err != nil {
		return nil, err
	}

	cat.Keywords = keywords
	cat.SenderDomains = senderDomains
	cat.SenderNamePatterns = senderNamePatterns
	cat.TrainingStatus = TrainingPending
	cat.MessageCount = 0
	cat.UpdatedAt = time.Now()
	if err := s.categories.UpdateCategory(ctx, cat); err != nil {
		return nil, err
	}

	s.triggerReclassify(ctx, cat)
	return cat, nil
}

// Delete removes a category after reassigning its member messages to the
// fallback. Deleting the fallback itself is rejected.
func (s *CategoryService) Delete(ctx context.Context, userID, categoryID string) error {
	cat, err := s.categories.GetCategory(ctx, userID, categoryID)
	if err != nil {
		return err
	}
	if cat.IsFallback || strings.EqualFold(cat.Name, FallbackCategoryName) {
		return fmt.Errorf("fallback category cannot be deleted: %w", ErrValidation)
	}

	fallback, err := s.EnsureFallback(ctx, userID)
	if err != nil {
		return err
	}

	moved, err := s.messages.ReassignCategory(ctx, userID, cat.Name, fallback.Name)
	if err != nil {
		return fmt.Errorf("failed to reassign messages from %q: %w", cat.Name, err)
	}
	if err := s.categories.DeleteCategory(ctx, userID, categoryID); err != nil {
		return err
	}

	s.logger.Info("Deleted category",
		zap.String("user_id", userID),
		zap.String("category", cat.Name),
		zap.Int("messages_reassigned", moved))
	return nil
}

// RefreshMessageCount recomputes and caches the category's message count.
func (s *CategoryService) RefreshMessageCount(ctx context.Context, userID, categoryID string) (int, error) {
	cat, err := s.categories.GetCategory(ctx, userID, categoryID)
	if err != nil {
		return 0, err
	}
	count, err := s.messages.CountByCategory(ctx, userID, cat.Name)
	if err != nil {
		return 0, err
	}
	cat.MessageCount = count
	cat.UpdatedAt = time.Now()
	if err := s.categories.UpdateCategory(ctx, cat); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *CategoryService) triggerReclassify(ctx context.Context, cat *Category) {
	if s.reclassify == nil {
		return
	}
	if err := s.reclassify(ctx, cat.UserID, cat.Name, cat.ID); err != nil {
		s.logger.Error("Failed to schedule reclassification",
			zap.String("user_id", cat.UserID),
			zap.String("category", cat.Name),
			zap.Error(err))
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
