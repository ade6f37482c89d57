package store

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS messages (
			user_id VARCHAR(128) NOT NULL,
			message_id VARCHAR(128) NOT NULL,
			from_addr VARCHAR(320),
			from_name VARCHAR(255),
			subject TEXT,
			snippet TEXT,
			body MEDIUMTEXT,
			internal_date VARCHAR(64),
			category VARCHAR(255),
			confidence DOUBLE,
			method VARCHAR(32),
			model_version VARCHAR(64),
			classified_at VARCHAR(64),
			needs_classification BOOLEAN,
			is_full_content_loaded BOOLEAN,
			PRIMARY KEY (user_id, message_id),
			INDEX idx_messages_user_date (user_id, internal_date),
			INDEX idx_messages_user_category (user_id, category)
		)`,
		`CREATE TABLE IF NOT EXISTS categories (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(128) NOT NULL,
			name VARCHAR(255) NOT NULL,
			keywords TEXT,
			sender_domains TEXT,
			sender_name_patterns TEXT,
			training_status VARCHAR(32),
			message_count INT,
			is_fallback BOOLEAN,
			created_at VARCHAR(64),
			updated_at VARCHAR(64),
			UNIQUE INDEX idx_categories_user_name (user_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(128) NOT NULL,
			category_id VARCHAR(64),
			category_name VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			error_message TEXT,
			total_messages INT,
			processed_messages INT,
			successful_count INT,
			failed_count INT,
			current_batch_index INT,
			total_batches INT,
			rate_per_second DOUBLE,
			eta_seconds INT,
			created_at VARCHAR(64),
			started_at VARCHAR(64),
			last_progress_update VARCHAR(64),
			completed_at VARCHAR(64),
			INDEX idx_jobs_user_category_status (user_id, category_name, status)
		)`,
	},
	upsertMessage: `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			from_addr = VALUES(from_addr),
			from_name = VALUES(from_name),
			subject = VALUES(subject),
			snippet = VALUES(snippet),
			body = VALUES(body),
			internal_date = VALUES(internal_date),
			category = VALUES(category),
			confidence = VALUES(confidence),
			method = VALUES(method),
			model_version = VALUES(model_version),
			classified_at = VALUES(classified_at),
			needs_classification = VALUES(needs_classification),
			is_full_content_loaded = VALUES(is_full_content_loaded)`,
	// FOR UPDATE holds the gap lock until commit so two concurrent starts for
	// the same (user, category) pair cannot both insert.
	selectActiveJob: `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE user_id = ? AND LOWER(category_name) = LOWER(?)
			AND status IN ('pending', 'processing')
		LIMIT 1
		FOR UPDATE`,
}

// NewMySQLStore opens (and migrates) a MySQL-backed store.
func NewMySQLStore(dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}
	return newSQLStore(db, mysqlDialect, logger)
}
