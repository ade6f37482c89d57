package core

import (
	"time"
)

// FallbackCategoryName is the non-deletable default category every user has.
// Messages that match no other category, and messages orphaned by a category
// deletion, are absorbed by it.
const FallbackCategoryName = "Other"

// JobStatus is the lifecycle state of a reclassification job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed out of the status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsActive reports whether the job still owns its (user, category) slot.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// ClassificationMethod records which pass produced a message's label.
type ClassificationMethod string

const (
	MethodPhase1Rule ClassificationMethod = "phase1-rule"
	MethodPhase2ML   ClassificationMethod = "phase2-ml"
	MethodManual     ClassificationMethod = "manual"
)

// TrainingStatus tracks whether a category has enough signal for the ML pass.
type TrainingStatus string

const (
	TrainingPending   TrainingStatus = "pending"
	TrainingCompleted TrainingStatus = "completed"
	TrainingBasic     TrainingStatus = "basic"
	TrainingFailed    TrainingStatus = "failed"
)

// ReclassificationJob tracks one reclassification run for a (user, category)
// pair. At most one job per pair may be pending or processing at a time.
type ReclassificationJob struct {
	ID           string
	UserID       string
	CategoryID   string
	CategoryName string

	Status       JobStatus
	ErrorMessage string

	TotalMessages     int
	ProcessedMessages int
	SuccessfulCount   int
	FailedCount       int
	CurrentBatchIndex int
	TotalBatches      int

	RatePerSecond             float64
	EstimatedSecondsRemaining int

	CreatedAt          time.Time
	StartedAt          time.Time
	LastProgressUpdate time.Time
	CompletedAt        *time.Time
}

// Snapshot builds a progress event from the job's current counters.
func (j *ReclassificationJob) Snapshot() ProgressEvent {
	return ProgressEvent{
		JobID:                     j.ID,
		UserID:                    j.UserID,
		CategoryName:              j.CategoryName,
		Status:                    j.Status,
		ProcessedMessages:         j.ProcessedMessages,
		TotalMessages:             j.TotalMessages,
		SuccessfulCount:           j.SuccessfulCount,
		FailedCount:               j.FailedCount,
		CurrentBatchIndex:         j.CurrentBatchIndex,
		TotalBatches:              j.TotalBatches,
		RatePerSecond:             j.RatePerSecond,
		EstimatedSecondsRemaining: j.EstimatedSecondsRemaining,
		ErrorMessage:              j.ErrorMessage,
		EmittedAt:                 time.Now(),
	}
}

// Classification is the outcome of one classification pass over a message.
type Classification struct {
	Label        string
	Confidence   float64
	Method       ClassificationMethod
	ModelVersion string
	ClassifiedAt time.Time
}

// Message is the classification-relevant subset of a synced email.
type Message struct {
	ID     string // provider-assigned, unique per user
	UserID string

	From         string
	FromName     string
	Subject      string
	Snippet      string
	Body         string
	InternalDate time.Time // sync cursor date

	Category     string
	Confidence   float64
	Method       ClassificationMethod
	ModelVersion string
	ClassifiedAt time.Time

	NeedsClassification bool
	IsFullContentLoaded bool
}

// ApplyClassification copies a classification result onto the message.
func (m *Message) ApplyClassification(c *Classification) {
	m.Category = c.Label
	m.Confidence = c.Confidence
	m.Method = c.Method
	m.ModelVersion = c.ModelVersion
	m.ClassifiedAt = c.ClassifiedAt
	m.NeedsClassification = false
}

// Category is a user-defined label plus the inputs the fast classifier scores against.
type Category struct {
	ID     string
	UserID string
	Name   string // unique per user, case-insensitive

	Keywords           []string
	SenderDomains      []string
	SenderNamePatterns []string

	TrainingStatus TrainingStatus
	MessageCount   int // cached, invalidated on membership mutation
	IsFallback     bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RefinementEntry is one unit of Phase 2 work. Ephemeral: it carries no
// durable progress accounting beyond the aggregate counters the scheduler
// exposes.
type RefinementEntry struct {
	MessageID  string    `json:"message_id"`
	UserID     string    `json:"user_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
}

// ProgressEvent is a snapshot of job progress published to observers.
type ProgressEvent struct {
	JobID        string    `json:"job_id"`
	UserID       string    `json:"user_id"`
	CategoryName string    `json:"category_name"`
	Status       JobStatus `json:"status"`

	ProcessedMessages int `json:"processed_messages"`
	TotalMessages     int `json:"total_messages"`
	SuccessfulCount   int `json:"successful_count"`
	FailedCount       int `json:"failed_count"`
	CurrentBatchIndex int `json:"current_batch_index"`
	TotalBatches      int `json:"total_batches"`

	RatePerSecond             float64 `json:"rate_per_second"`
	EstimatedSecondsRemaining int     `json:"estimated_seconds_remaining"`

	ErrorMessage string    `json:"error_message,omitempty"`
	EmittedAt    time.Time `json:"emitted_at"`
}
