package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/core"
)

// MemoryStore is an in-memory implementation of the message, category and job
// stores. Used for tests and single-process development setups.
type MemoryStore struct {
	mu         sync.RWMutex
	messages   map[string]map[string]*core.Message // userID -> messageID
	categories map[string]map[string]*core.Category // userID -> categoryID
	jobs       map[string]*core.ReclassificationJob
	logger     *zap.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		messages:   make(map[string]map[string]*core.Message),
		categories: make(map[string]map[string]*core.Category),
		jobs:       make(map[string]*core.ReclassificationJob),
		logger:     logger,
	}
}

// UpsertMessage inserts or replaces a message keyed on (UserID, ID).
func (s *MemoryStore) UpsertMessage(_ context.Context, msg *core.Message) error {
	if msg.UserID == "" || msg.ID == "" {
		return fmt.Errorf("message user and id are required: %w", core.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.messages[msg.UserID]
	if !ok {
		user = make(map[string]*core.Message)
		s.messages[msg.UserID] = user
	}
	cloned := *msg
	user[msg.ID] = &cloned
	return nil
}

// GetMessage retrieves one message.
func (s *MemoryStore) GetMessage(_ context.Context, userID, messageID string) (*core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[userID][messageID]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", messageID, core.ErrNotFound)
	}
	cloned := *msg
	return &cloned, nil
}

// HasMessage reports whether the message is already synced.
func (s *MemoryStore) HasMessage(_ context.Context, userID, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.messages[userID][messageID]
	return ok, nil
}

// HighWaterMark returns the newest InternalDate for the user.
func (s *MemoryStore) HighWaterMark(_ context.Context, userID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var mark time.Time
	for _, msg := range s.messages[userID] {
		if msg.InternalDate.After(mark) {
			mark = msg.InternalDate
		}
	}
	return mark, nil
}

// CountMessages returns the number of synced messages for the user.
func (s *MemoryStore) CountMessages(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[userID]), nil
}

// ListMessagesPage returns one page ordered by (InternalDate, ID).
func (s *MemoryStore) ListMessagesPage(_ context.Context, userID string, offset, limit int) ([]*core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ordered := s.orderedMessages(userID)
	if offset >= len(ordered) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(ordered) {
		end = len(ordered)
	}

	page := make([]*core.Message, 0, end-offset)
	for _, msg := range ordered[offset:end] {
		cloned := *msg
		page = append(page, &cloned)
	}
	return page, nil
}

// ListMessageIDs returns a snapshot of all message IDs for the user.
func (s *MemoryStore) ListMessageIDs(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ordered := s.orderedMessages(userID)
	ids := make([]string, 0, len(ordered))
	for _, msg := range ordered {
		ids = append(ids, msg.ID)
	}
	return ids, nil
}

// UpdateClassification persists a classification result for one message.
func (s *MemoryStore) UpdateClassification(_ context.Context, userID, messageID string, c *core.Classification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[userID][messageID]
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, core.ErrNotFound)
	}
	msg.ApplyClassification(c)
	return nil
}

// ReassignCategory moves every message labeled fromName to toName.
func (s *MemoryStore) ReassignCategory(_ context.Context, userID, fromName, toName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	moved := 0
	for _, msg := range s.messages[userID] {
		if strings.EqualFold(msg.Category, fromName) {
			msg.Category = toName
			msg.Method = core.MethodManual
			moved++
		}
	}
	return moved, nil
}

// CountByCategory returns the number of the user's messages carrying the label.
func (s *MemoryStore) CountByCategory(_ context.Context, userID, categoryName string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, msg := range s.messages[userID] {
		if strings.EqualFold(msg.Category, categoryName) {
			count++
		}
	}
	return count, nil
}

// CreateCategory inserts a category, enforcing case-insensitive name uniqueness.
func (s *MemoryStore) CreateCategory(_ context.Context, cat *core.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.categories[cat.UserID]
	if !ok {
		user = make(map[string]*core.Category)
		s.categories[cat.UserID] = user
	}
	for _, existing := range user {
		if strings.EqualFold(existing.Name, cat.Name) {
			return fmt.Errorf("category %q already exists: %w", cat.Name, core.ErrValidation)
		}
	}
	cloned := *cat
	user[cat.ID] = &cloned
	return nil
}

// GetCategory retrieves one category by ID.
func (s *MemoryStore) GetCategory(_ context.Context, userID, categoryID string) (*core.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cat, ok := s.categories[userID][categoryID]
	if !ok {
		return nil, fmt.Errorf("category %s: %w", categoryID, core.ErrNotFound)
	}
	cloned := *cat
	return &cloned, nil
}

// GetCategoryByName retrieves one category by case-insensitive name.
func (s *MemoryStore) GetCategoryByName(_ context.Context, userID, name string) (*core.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, cat := range s.categories[userID] {
		if strings.EqualFold(cat.Name, name) {
			cloned := *cat
			return &cloned, nil
		}
	}
	return nil, fmt.Errorf("category %q: %w", name, core.ErrNotFound)
}

// ListCategories returns all categories for the user, sorted by name.
func (s *MemoryStore) ListCategories(_ context.Context, userID string) ([]*core.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cats := make([]*core.Category, 0, len(s.categories[userID]))
	for _, cat := range s.categories[userID] {
		cloned := *cat
		cats = append(cats, &cloned)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i].Name < cats[j].Name })
	return cats, nil
}

// UpdateCategory persists category mutations.
func (s *MemoryStore) UpdateCategory(_ context.Context, cat *core.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[cat.UserID][cat.ID]; !ok {
		return fmt.Errorf("category %s: %w", cat.ID, core.ErrNotFound)
	}
	cloned := *cat
	s.categories[cat.UserID][cat.ID] = &cloned
	return nil
}

// DeleteCategory removes a category row.
func (s *MemoryStore) DeleteCategory(_ context.Context, userID, categoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[userID][categoryID]; !ok {
		return fmt.Errorf("category %s: %w", categoryID, core.ErrNotFound)
	}
	delete(s.categories[userID], categoryID)
	return nil
}

// CreateIfNoActive atomically inserts the job unless an active one exists for
// the same (user, category) pair.
func (s *MemoryStore) CreateIfNoActive(_ context.Context, job *core.ReclassificationJob) (*core.ReclassificationJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.jobs {
		if existing.UserID == job.UserID &&
			strings.EqualFold(existing.CategoryName, job.CategoryName) &&
			existing.Status.IsActive() {
			cloned := *existing
			return &cloned, false, nil
		}
	}
	cloned := *job
	s.jobs[job.ID] = &cloned
	result := cloned
	return &result, true, nil
}

// GetJob retrieves one job.
func (s *MemoryStore) GetJob(_ context.Context, jobID string) (*core.ReclassificationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, core.ErrNotFound)
	}
	cloned := *job
	return &cloned, nil
}

// UpdateJob persists job progress and state transitions. Transitions out of a
// terminal state are rejected.
func (s *MemoryStore) UpdateJob(_ context.Context, job *core.ReclassificationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("job %s: %w", job.ID, core.ErrNotFound)
	}
	if existing.Status.IsTerminal() && existing.Status != job.Status {
		return fmt.Errorf("job %s is already %s: %w", job.ID, existing.Status, core.ErrValidation)
	}
	cloned := *job
	s.jobs[job.ID] = &cloned
	return nil
}

// ListJobsByStatus returns jobs in any of the given states.
func (s *MemoryStore) ListJobsByStatus(_ context.Context, statuses ...core.JobStatus) ([]*core.ReclassificationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*core.ReclassificationJob
	for _, job := range s.jobs {
		for _, status := range statuses {
			if job.Status == status {
				cloned := *job
				jobs = append(jobs, &cloned)
				break
			}
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

// PurgeTerminalBefore deletes terminal jobs created before the cutoff.
func (s *MemoryStore) PurgeTerminalBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, job := range s.jobs {
		if job.Status.IsTerminal() && job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			purged++
		}
	}
	return purged, nil
}

// orderedMessages returns the user's messages sorted by (InternalDate, ID).
// Callers must hold the read lock.
func (s *MemoryStore) orderedMessages(userID string) []*core.Message {
	msgs := make([]*core.Message, 0, len(s.messages[userID]))
	for _, msg := range s.messages[userID] {
		msgs = append(msgs, msg)
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].InternalDate.Equal(msgs[j].InternalDate) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].InternalDate.Before(msgs[j].InternalDate)
	})
	return msgs
}
