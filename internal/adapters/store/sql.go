package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/core"
)

// dialect captures the statements that differ between SQLite and MySQL. All
// other queries use placeholders common to both drivers.
type dialect struct {
	name            string
	schema          []string
	upsertMessage   string
	selectActiveJob string
}

// SQLStore is a database/sql implementation of the message, category and job
// stores, parameterized by dialect.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
}

func newSQLStore(db *sql.DB, d dialect, logger *zap.Logger) (*SQLStore, error) {
	for _, stmt := range d.schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create %s schema: %w", d.name, err)
		}
	}
	return &SQLStore{db: db, dialect: d, logger: logger}, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

const messageColumns = `user_id, message_id, from_addr, from_name, subject, snippet, body,
	internal_date, category, confidence, method, model_version, classified_at,
	needs_classification, is_full_content_loaded`

// UpsertMessage inserts the message or updates the existing record. The
// conflict clause resolves duplicate-key races from concurrent syncs.
func (s *SQLStore) UpsertMessage(ctx context.Context, msg *core.Message) error {
	if msg.UserID == "" || msg.ID == "" {
		return fmt.Errorf("message user and id are required: %w", core.ErrValidation)
	}
	_, err := s.db.ExecContext(ctx, s.dialect.upsertMessage,
		msg.UserID, msg.ID, msg.From, msg.FromName, msg.Subject, msg.Snippet, msg.Body,
		encodeTime(msg.InternalDate), msg.Category, msg.Confidence, string(msg.Method),
		msg.ModelVersion, encodeTime(msg.ClassifiedAt),
		msg.NeedsClassification, msg.IsFullContentLoaded)
	if err != nil {
		return fmt.Errorf("failed to upsert message: %w", wrapPersistence(err))
	}
	return nil
}

// GetMessage retrieves one message.
func (s *SQLStore) GetMessage(ctx context.Context, userID, messageID string) (*core.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE user_id = ? AND message_id = ?
	`, userID, messageID)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", messageID, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", wrapPersistence(err))
	}
	return msg, nil
}

// HasMessage reports whether the message is already synced.
func (s *SQLStore) HasMessage(ctx context.Context, userID, messageID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM messages WHERE user_id = ? AND message_id = ?
	`, userID, messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query message presence: %w", wrapPersistence(err))
	}
	return true, nil
}

// HighWaterMark returns the newest InternalDate among the user's messages.
func (s *SQLStore) HighWaterMark(ctx context.Context, userID string) (time.Time, error) {
	var mark sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(internal_date) FROM messages WHERE user_id = ?
	`, userID).Scan(&mark)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query high-water mark: %w", wrapPersistence(err))
	}
	if !mark.Valid {
		return time.Time{}, nil
	}
	return decodeTime(mark.String), nil
}

// CountMessages returns the number of synced messages for the user.
func (s *SQLStore) CountMessages(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE user_id = ?
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", wrapPersistence(err))
	}
	return count, nil
}

// ListMessagesPage returns one offset/limit page ordered by (internal_date, message_id).
func (s *SQLStore) ListMessagesPage(ctx context.Context, userID string, offset, limit int) ([]*core.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE user_id = ?
		ORDER BY internal_date, message_id
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to page messages: %w", wrapPersistence(err))
	}
	defer rows.Close()

	var msgs []*core.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", wrapPersistence(err))
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// ListMessageIDs returns a snapshot of all message IDs for the user.
func (s *SQLStore) ListMessageIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id FROM messages WHERE user_id = ? ORDER BY internal_date, message_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list message ids: %w", wrapPersistence(err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan message id: %w", wrapPersistence(err))
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateClassification persists a classification result for one message.
func (s *SQLStore) UpdateClassification(ctx context.Context, userID, messageID string, c *core.Classification) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET category = ?, confidence = ?, method = ?, model_version = ?,
			classified_at = ?, needs_classification = ?
		WHERE user_id = ? AND message_id = ?
	`, c.Label, core.ClampConfidence(c.Confidence), string(c.Method), c.ModelVersion,
		encodeTime(c.ClassifiedAt), false, userID, messageID)
	if err != nil {
		return fmt.Errorf("failed to update classification: %w", wrapPersistence(err))
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("message %s: %w", messageID, core.ErrNotFound)
	}
	return nil
}

// ReassignCategory atomically moves every message labeled fromName to toName.
func (s *SQLStore) ReassignCategory(ctx context.Context, userID, fromName, toName string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET category = ?, method = ?
		WHERE user_id = ? AND LOWER(category) = LOWER(?)
	`, toName, string(core.MethodManual), userID, fromName)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign category: %w", wrapPersistence(err))
	}
	moved, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reassigned messages: %w", wrapPersistence(err))
	}
	return int(moved), nil
}

// CountByCategory returns the number of the user's messages carrying the label.
func (s *SQLStore) CountByCategory(ctx context.Context, userID, categoryName string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE user_id = ? AND LOWER(category) = LOWER(?)
	`, userID, categoryName).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count category messages: %w", wrapPersistence(err))
	}
	return count, nil
}

const categoryColumns = `id, user_id, name, keywords, sender_domains, sender_name_patterns,
	training_status, message_count, is_fallback, created_at, updated_at`

// CreateCategory inserts a category, enforcing case-insensitive name
// uniqueness inside a transaction.
func (s *SQLStore) CreateCategory(ctx context.Context, cat *core.Category) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", wrapPersistence(err))
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, `
		SELECT 1 FROM categories WHERE user_id = ? AND LOWER(name) = LOWER(?)
	`, cat.UserID, cat.Name).Scan(&one)
	if err == nil {
		return fmt.Errorf("category %q already exists: %w", cat.Name, core.ErrValidation)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check category name: %w", wrapPersistence(err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO categories (`+categoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cat.ID, cat.UserID, cat.Name,
		encodeSlice(cat.Keywords), encodeSlice(cat.SenderDomains), encodeSlice(cat.SenderNamePatterns),
		string(cat.TrainingStatus), cat.MessageCount, cat.IsFallback,
		encodeTime(cat.CreatedAt), encodeTime(cat.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert category: %w", wrapPersistence(err))
	}
	return tx.Commit()
}

// GetCategory retrieves one category by ID.
func (s *SQLStore) GetCategory(ctx context.Context, userID, categoryID string) (*core.Category, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+categoryColumns+` FROM categories WHERE user_id = ? AND id = ?
	`, userID, categoryID)
	cat, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %s: %w", categoryID, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query category: %w", wrapPersistence(err))
	}
	return cat, nil
}

// GetCategoryByName retrieves one category by case-insensitive name.
func (s *SQLStore) GetCategoryByName(ctx context.Context, userID, name string) (*core.Category, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+categoryColumns+` FROM categories WHERE user_id = ? AND LOWER(name) = LOWER(?)
	`, userID, name)
	cat, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %q: %w", name, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query category: %w", wrapPersistence(err))
	}
	return cat, nil
}

// ListCategories returns all categories for the user, sorted by name.
func (s *SQLStore) ListCategories(ctx context.Context, userID string) ([]*core.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+categoryColumns+` FROM categories WHERE user_id = ? ORDER BY name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", wrapPersistence(err))
	}
	defer rows.Close()

	var cats []*core.Category
	for rows.Next() {
		cat, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", wrapPersistence(err))
		}
		cats = append(cats, cat)
	}
	return cats, rows.Err()
}

// UpdateCategory persists category mutations.
func (s *SQLStore) UpdateCategory(ctx context.Context, cat *core.Category) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE categories
		SET name = ?, keywords = ?, sender_domains = ?, sender_name_patterns = ?,
			training_status = ?, message_count = ?, updated_at = ?
		WHERE user_id = ? AND id = ?
	`, cat.Name, encodeSlice(cat.Keywords), encodeSlice(cat.SenderDomains),
		encodeSlice(cat.SenderNamePatterns), string(cat.TrainingStatus),
		cat.MessageCount, encodeTime(cat.UpdatedAt), cat.UserID, cat.ID)
	if err != nil {
		return fmt.Errorf("failed to update category: %w", wrapPersistence(err))
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("category %s: %w", cat.ID, core.ErrNotFound)
	}
	return nil
}

// DeleteCategory removes a category row.
func (s *SQLStore) DeleteCategory(ctx context.Context, userID, categoryID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM categories WHERE user_id = ? AND id = ?
	`, userID, categoryID)
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", wrapPersistence(err))
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("category %s: %w", categoryID, core.ErrNotFound)
	}
	return nil
}

const jobColumns = `id, user_id, category_id, category_name, status, error_message,
	total_messages, processed_messages, successful_count, failed_count,
	current_batch_index, total_batches, rate_per_second, eta_seconds,
	created_at, started_at, last_progress_update, completed_at`

// CreateIfNoActive atomically inserts the job unless an active one already
// exists for the same (user, category) pair. The check and insert share one
// transaction so concurrent requests cannot both create a row.
func (s *SQLStore) CreateIfNoActive(ctx context.Context, job *core.ReclassificationJob) (*core.ReclassificationJob, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", wrapPersistence(err))
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, s.dialect.selectActiveJob, job.UserID, job.CategoryName)
	existing, err := scanJob(row)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to check active jobs: %w", wrapPersistence(err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.UserID, job.CategoryID, job.CategoryName, string(job.Status), job.ErrorMessage,
		job.TotalMessages, job.ProcessedMessages, job.SuccessfulCount, job.FailedCount,
		job.CurrentBatchIndex, job.TotalBatches, job.RatePerSecond, job.EstimatedSecondsRemaining,
		encodeTime(job.CreatedAt), encodeTime(job.StartedAt),
		encodeTime(job.LastProgressUpdate), encodeNullableTime(job.CompletedAt))
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert job: %w", wrapPersistence(err))
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit job insert: %w", wrapPersistence(err))
	}
	cloned := *job
	return &cloned, true, nil
}

// GetJob retrieves one job.
func (s *SQLStore) GetJob(ctx context.Context, jobID string) (*core.ReclassificationJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE id = ?
	`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", wrapPersistence(err))
	}
	return job, nil
}

// UpdateJob persists job progress and state transitions. The status predicate
// blocks transitions out of a terminal state.
func (s *SQLStore) UpdateJob(ctx context.Context, job *core.ReclassificationJob) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, error_message = ?, total_messages = ?, processed_messages = ?,
			successful_count = ?, failed_count = ?, current_batch_index = ?, total_batches = ?,
			rate_per_second = ?, eta_seconds = ?, started_at = ?, last_progress_update = ?,
			completed_at = ?
		WHERE id = ? AND (status = ? OR status NOT IN (?, ?))
	`, string(job.Status), job.ErrorMessage, job.TotalMessages, job.ProcessedMessages,
		job.SuccessfulCount, job.FailedCount, job.CurrentBatchIndex, job.TotalBatches,
		job.RatePerSecond, job.EstimatedSecondsRemaining, encodeTime(job.StartedAt),
		encodeTime(job.LastProgressUpdate), encodeNullableTime(job.CompletedAt),
		job.ID, string(job.Status), string(core.JobStatusCompleted), string(core.JobStatusFailed))
	if err != nil {
		return fmt.Errorf("failed to update job: %w", wrapPersistence(err))
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("job %s not updatable: %w", job.ID, core.ErrNotFound)
	}
	return nil
}

// ListJobsByStatus returns jobs in any of the given states.
func (s *SQLStore) ListJobsByStatus(ctx context.Context, statuses ...core.JobStatus) ([]*core.ReclassificationJob, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, 0, len(statuses))
	for _, status := range statuses {
		args = append(args, string(status))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE status IN (`+placeholders+`) ORDER BY created_at
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", wrapPersistence(err))
	}
	defer rows.Close()

	var jobs []*core.ReclassificationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", wrapPersistence(err))
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// PurgeTerminalBefore deletes terminal jobs created before the cutoff.
func (s *SQLStore) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE status IN (?, ?) AND created_at < ?
	`, string(core.JobStatusCompleted), string(core.JobStatusFailed), encodeTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", wrapPersistence(err))
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged jobs: %w", wrapPersistence(err))
	}
	return int(purged), nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*core.Message, error) {
	var msg core.Message
	var internalDate, classifiedAt, method string
	err := row.Scan(&msg.UserID, &msg.ID, &msg.From, &msg.FromName, &msg.Subject,
		&msg.Snippet, &msg.Body, &internalDate, &msg.Category, &msg.Confidence,
		&method, &msg.ModelVersion, &classifiedAt,
		&msg.NeedsClassification, &msg.IsFullContentLoaded)
	if err != nil {
		return nil, err
	}
	msg.InternalDate = decodeTime(internalDate)
	msg.ClassifiedAt = decodeTime(classifiedAt)
	msg.Method = core.ClassificationMethod(method)
	return &msg, nil
}

func scanCategory(row scanner) (*core.Category, error) {
	var cat core.Category
	var keywords, domains, patterns, trainingStatus, createdAt, updatedAt string
	err := row.Scan(&cat.ID, &cat.UserID, &cat.Name, &keywords, &domains, &patterns,
		&trainingStatus, &cat.MessageCount, &cat.IsFallback, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	cat.Keywords = decodeSlice(keywords)
	cat.SenderDomains = decodeSlice(domains)
	cat.SenderNamePatterns = decodeSlice(patterns)
	cat.TrainingStatus = core.TrainingStatus(trainingStatus)
	cat.CreatedAt = decodeTime(createdAt)
	cat.UpdatedAt = decodeTime(updatedAt)
	return &cat, nil
}

func scanJob(row scanner) (*core.ReclassificationJob, error) {
	var job core.ReclassificationJob
	var status, createdAt, startedAt, lastProgress string
	var completedAt sql.NullString
	err := row.Scan(&job.ID, &job.UserID, &job.CategoryID, &job.CategoryName, &status,
		&job.ErrorMessage, &job.TotalMessages, &job.ProcessedMessages, &job.SuccessfulCount,
		&job.FailedCount, &job.CurrentBatchIndex, &job.TotalBatches, &job.RatePerSecond,
		&job.EstimatedSecondsRemaining, &createdAt, &startedAt, &lastProgress, &completedAt)
	if err != nil {
		return nil, err
	}
	job.Status = core.JobStatus(status)
	job.CreatedAt = decodeTime(createdAt)
	job.StartedAt = decodeTime(startedAt)
	job.LastProgressUpdate = decodeTime(lastProgress)
	if completedAt.Valid && completedAt.String != "" {
		t := decodeTime(completedAt.String)
		job.CompletedAt = &t
	}
	return &job, nil
}

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func encodeNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func encodeSlice(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeSlice(data string) []string {
	if data == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil
	}
	if len(values) == 0 {
		return nil
	}
	return values
}

func wrapPersistence(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", core.ErrPersistence, err)
}
