package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS messages (
			user_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			from_addr TEXT,
			from_name TEXT,
			subject TEXT,
			snippet TEXT,
			body TEXT,
			internal_date TEXT,
			category TEXT,
			confidence REAL,
			method TEXT,
			model_version TEXT,
			classified_at TEXT,
			needs_classification BOOLEAN,
			is_full_content_loaded BOOLEAN,
			PRIMARY KEY (user_id, message_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user_date ON messages(user_id, internal_date)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user_category ON messages(user_id, category)`,
		`CREATE TABLE IF NOT EXISTS categories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			keywords TEXT,
			sender_domains TEXT,
			sender_name_patterns TEXT,
			training_status TEXT,
			message_count INTEGER,
			is_fallback BOOLEAN,
			created_at TEXT,
			updated_at TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_categories_user_name ON categories(user_id, LOWER(name))`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			category_id TEXT,
			category_name TEXT NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT,
			total_messages INTEGER,
			processed_messages INTEGER,
			successful_count INTEGER,
			failed_count INTEGER,
			current_batch_index INTEGER,
			total_batches INTEGER,
			rate_per_second REAL,
			eta_seconds INTEGER,
			created_at TEXT,
			started_at TEXT,
			last_progress_update TEXT,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_user_category_status ON jobs(user_id, category_name, status)`,
	},
	upsertMessage: `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, message_id) DO UPDATE SET
			from_addr = excluded.from_addr,
			from_name = excluded.from_name,
			subject = excluded.subject,
			snippet = excluded.snippet,
			body = excluded.body,
			internal_date = excluded.internal_date,
			category = excluded.category,
			confidence = excluded.confidence,
			method = excluded.method,
			model_version = excluded.model_version,
			classified_at = excluded.classified_at,
			needs_classification = excluded.needs_classification,
			is_full_content_loaded = excluded.is_full_content_loaded`,
	// SQLite serializes writers at the database level, so the plain select
	// inside the transaction is already race-free.
	selectActiveJob: `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE user_id = ? AND LOWER(category_name) = LOWER(?)
			AND status IN ('pending', 'processing')
		LIMIT 1`,
}

// NewSQLiteStore opens (and migrates) a SQLite-backed store.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent batch updates.
	db.SetMaxOpenConns(1)
	return newSQLStore(db, sqliteDialect, logger)
}
