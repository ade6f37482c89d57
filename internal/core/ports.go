package core

import (
	"context"
	"time"
)

// MessageStore is the durable home of synced messages.
type MessageStore interface {
	// UpsertMessage inserts the message or updates the existing record keyed
	// on (UserID, ID). Concurrent upserts for the same key must not fail.
	UpsertMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves one message, or ErrNotFound.
	GetMessage(ctx context.Context, userID, messageID string) (*Message, error)

	// HasMessage reports whether the message is already synced.
	HasMessage(ctx context.Context, userID, messageID string) (bool, error)

	// HighWaterMark returns the newest InternalDate among the user's synced
	// messages, or the zero time when nothing has been synced yet.
	HighWaterMark(ctx context.Context, userID string) (time.Time, error)

	// CountMessages returns the number of synced messages for the user.
	CountMessages(ctx context.Context, userID string) (int, error)

	// ListMessagesPage returns one offset/limit page of the user's messages
	// in a stable order.
	ListMessagesPage(ctx context.Context, userID string, offset, limit int) ([]*Message, error)

	// ListMessageIDs returns a snapshot of all message IDs for the user.
	ListMessageIDs(ctx context.Context, userID string) ([]string, error)

	// UpdateClassification persists a classification result for one message.
	UpdateClassification(ctx context.Context, userID, messageID string, c *Classification) error

	// ReassignCategory atomically moves every message labeled fromName to
	// toName and returns the number of messages moved.
	ReassignCategory(ctx context.Context, userID, fromName, toName string) (int, error)

	// CountByCategory returns the number of the user's messages carrying the label.
	CountByCategory(ctx context.Context, userID, categoryName string) (int, error)
}

// CategoryStore is the durable home of user-defined categories.
type CategoryStore interface {
	// CreateCategory inserts a category. Names are unique per user,
	// case-insensitive; a clash returns ErrValidation.
	CreateCategory(ctx context.Context, cat *Category) error

	// GetCategory retrieves one category by ID, or ErrNotFound.
	GetCategory(ctx context.Context, userID, categoryID string) (*Category, error)

	// GetCategoryByName retrieves one category by case-insensitive name, or ErrNotFound.
	GetCategoryByName(ctx context.Context, userID, name string) (*Category, error)

	// ListCategories returns all categories for the user.
	ListCategories(ctx context.Context, userID string) ([]*Category, error)

	// UpdateCategory persists category mutations.
	UpdateCategory(ctx context.Context, cat *Category) error

	// DeleteCategory removes a category row. Callers reassign member messages
	// first; the fallback category must never be deleted.
	DeleteCategory(ctx context.Context, userID, categoryID string) error
}

// JobStore is the durable record of reclassification job lifecycle and progress.
type JobStore interface {
	// CreateIfNoActive atomically inserts the job unless a pending or
	// processing job already exists for the same (user, category) pair. It
	// returns the stored job and whether a new row was created; when created
	// is false the returned job is the already-active one.
	CreateIfNoActive(ctx context.Context, job *ReclassificationJob) (*ReclassificationJob, bool, error)

	// GetJob retrieves one job, or ErrNotFound.
	GetJob(ctx context.Context, jobID string) (*ReclassificationJob, error)

	// UpdateJob persists job progress and state transitions.
	UpdateJob(ctx context.Context, job *ReclassificationJob) error

	// ListJobsByStatus returns jobs in any of the given states.
	ListJobsByStatus(ctx context.Context, statuses ...JobStatus) ([]*ReclassificationJob, error)

	// PurgeTerminalBefore deletes completed and failed jobs older than the
	// cutoff and returns the number removed.
	PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// MailboxProvider is the external mailbox API consumed by the sync worker.
// Implementations are swappable without touching the pipeline.
type MailboxProvider interface {
	// ListMessageIDs returns one page of IDs for messages newer than after
	// (the zero time means no lower bound) plus the token for the next page;
	// an empty token means the listing is exhausted.
	ListMessageIDs(ctx context.Context, userID string, after time.Time, pageToken string) (ids []string, nextPageToken string, err error)

	// GetMessage fetches one raw message with full content.
	GetMessage(ctx context.Context, userID, messageID string) (*Message, error)
}

// QueueDelivery is one dequeued refinement entry awaiting acknowledgement.
// A crash before Ack redelivers the entry (at-least-once).
type QueueDelivery interface {
	Entry() *RefinementEntry
	Ack() error
	Nack(requeue bool) error
}

// RefinementQueue is the FIFO work queue feeding the Phase 2 workers.
type RefinementQueue interface {
	// EnqueueBatch adds entries to the tail of the queue.
	EnqueueBatch(ctx context.Context, entries []RefinementEntry) error

	// Dequeue blocks until an entry is available or the context is done.
	Dequeue(ctx context.Context) (QueueDelivery, error)

	// Len returns the approximate number of entries waiting.
	Len() int

	Close() error
}

// ProgressSink receives progress events. Publish must never block the pipeline.
type ProgressSink interface {
	Publish(userID string, event ProgressEvent)
}

// RefineClient scores a message against the external ML service.
type RefineClient interface {
	// Classify returns the refined label, ErrUpstreamUnavailable on
	// timeout/transport failure, or ErrInvalidResponse when the payload
	// lacks a usable label.
	Classify(ctx context.Context, subject, body, userID string) (*Classification, error)

	// Healthy probes the backing service.
	Healthy(ctx context.Context) error

	// Name identifies the backend in logs.
	Name() string
}
