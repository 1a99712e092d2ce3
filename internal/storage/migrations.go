package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Employees, threat categories and communications",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS employees (
					id TEXT PRIMARY KEY,
					email TEXT NOT NULL DEFAULT '',
					name TEXT NOT NULL DEFAULT '',
					department TEXT NOT NULL DEFAULT '',
					time_zone TEXT NOT NULL DEFAULT '',
					is_active INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS threat_categories (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL UNIQUE COLLATE NOCASE,
					description TEXT NOT NULL DEFAULT '',
					type TEXT NOT NULL,
					industry TEXT NOT NULL DEFAULT '',
					severity TEXT NOT NULL,
					base_risk_score REAL NOT NULL,
					alert_threshold REAL NOT NULL,
					investigation_threshold REAL NOT NULL,
					critical_threshold REAL NOT NULL,
					detection_patterns TEXT,
					risk_multipliers TEXT,
					is_active INTEGER NOT NULL DEFAULT 1,
					llm_fallback INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					CHECK (alert_threshold <= investigation_threshold AND investigation_threshold <= critical_threshold)
				)`,

				`CREATE TABLE IF NOT EXISTS category_keywords (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					category_id INTEGER NOT NULL REFERENCES threat_categories(id) ON DELETE CASCADE,
					keyword TEXT NOT NULL COLLATE NOCASE,
					weight REAL NOT NULL,
					is_phrase INTEGER NOT NULL DEFAULT 0,
					required_context TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (category_id, keyword)
				)`,
				`CREATE INDEX idx_category_keywords_category ON category_keywords(category_id)`,

				`CREATE TABLE IF NOT EXISTS communications (
					id TEXT PRIMARY KEY,
					employee_id TEXT NOT NULL,
					sender TEXT NOT NULL DEFAULT '',
					recipients TEXT,
					subject TEXT NOT NULL DEFAULT '',
					body TEXT NOT NULL DEFAULT '',
					attachments TEXT,
					channel TEXT NOT NULL DEFAULT 'email',
					sent_at DATETIME NOT NULL,
					is_external INTEGER NOT NULL DEFAULT 0,
					risk_score INTEGER NOT NULL DEFAULT 0,
					risk_flags TEXT,
					category TEXT NOT NULL DEFAULT '',
					is_analyzed INTEGER NOT NULL DEFAULT 0,
					is_flagged INTEGER NOT NULL DEFAULT 0,
					analyzed_at DATETIME,
					analyzer_version TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_communications_employee_sent ON communications(employee_id, sent_at)`,
				`CREATE INDEX idx_communications_analyzed ON communications(is_analyzed)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Detection results, violations and status history",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS detection_results (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id TEXT NOT NULL,
					communication_id TEXT NOT NULL REFERENCES communications(id),
					category_id INTEGER NOT NULL,
					category_name TEXT NOT NULL,
					severity TEXT NOT NULL,
					matched_keywords TEXT,
					pattern_matches TEXT,
					applied_multipliers TEXT,
					recommendations TEXT,
					confidence REAL NOT NULL DEFAULT 0,
					match_weight REAL NOT NULL DEFAULT 0,
					risk_score REAL NOT NULL DEFAULT 0,
					final_risk_score INTEGER NOT NULL DEFAULT 0,
					triggers_alert INTEGER NOT NULL DEFAULT 0,
					triggers_investigation INTEGER NOT NULL DEFAULT 0,
					triggers_critical INTEGER NOT NULL DEFAULT 0,
					analysis_method TEXT NOT NULL,
					reasoning TEXT NOT NULL DEFAULT '',
					degraded INTEGER NOT NULL DEFAULT 0,
					degraded_reason TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_detection_results_communication ON detection_results(communication_id)`,
				`CREATE INDEX idx_detection_results_run ON detection_results(run_id)`,

				`CREATE TABLE IF NOT EXISTS violations (
					id TEXT PRIMARY KEY,
					employee_id TEXT NOT NULL,
					type TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					severity TEXT NOT NULL,
					status TEXT NOT NULL,
					source TEXT NOT NULL,
					evidence TEXT,
					structured_evidence TEXT,
					metadata TEXT,
					communication_id TEXT NOT NULL DEFAULT '',
					category_id INTEGER NOT NULL DEFAULT 0,
					ai_validation_status TEXT,
					ai_validation_score REAL,
					ai_validation_reasoning TEXT,
					ai_recommended_status TEXT,
					ai_validated_at DATETIME,
					version INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					resolved_at DATETIME
				)`,
				`CREATE INDEX idx_violations_employee_status ON violations(employee_id, status)`,
				`CREATE INDEX idx_violations_communication ON violations(communication_id, category_id)`,

				`CREATE TABLE IF NOT EXISTS violation_status_history (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					violation_id TEXT NOT NULL REFERENCES violations(id),
					previous_status TEXT NOT NULL,
					new_status TEXT NOT NULL,
					reason TEXT NOT NULL,
					ai_assisted INTEGER NOT NULL DEFAULT 0,
					ai_confidence REAL,
					actor TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_violation_history_violation ON violation_status_history(violation_id)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Employee risk profiles and batch jobs",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS employee_risk_profiles (
					employee_id TEXT PRIMARY KEY,
					risk_score INTEGER NOT NULL,
					risk_level TEXT NOT NULL,
					communication_component REAL,
					violation_component REAL NOT NULL DEFAULT 0,
					communication_count INTEGER NOT NULL DEFAULT 0,
					active_violation_count INTEGER NOT NULL DEFAULT 0,
					last_updated DATETIME NOT NULL
				)`,

				`CREATE TABLE IF NOT EXISTS jobs (
					id TEXT PRIMARY KEY,
					kind TEXT NOT NULL,
					target TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL,
					total INTEGER NOT NULL DEFAULT 0,
					succeeded INTEGER NOT NULL DEFAULT 0,
					failed INTEGER NOT NULL DEFAULT 0,
					failures TEXT,
					error TEXT NOT NULL DEFAULT '',
					started_at DATETIME NOT NULL,
					completed_at DATETIME
				)`,
				`CREATE INDEX idx_jobs_started ON jobs(started_at)`,
			})
		},
	},
	{
		Version:     4,
		Description: "Append-only audit tables",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TRIGGER IF NOT EXISTS violation_history_no_update
				BEFORE UPDATE ON violation_status_history
				BEGIN
					SELECT RAISE(ABORT, 'violation status history is append-only');
				END`,
				`CREATE TRIGGER IF NOT EXISTS violation_history_no_delete
				BEFORE DELETE ON violation_status_history
				BEGIN
					SELECT RAISE(ABORT, 'violation status history is append-only');
				END`,
				`CREATE TRIGGER IF NOT EXISTS detection_results_no_update
				BEFORE UPDATE ON detection_results
				BEGIN
					SELECT RAISE(ABORT, 'detection results are append-only');
				END`,
				`CREATE TRIGGER IF NOT EXISTS detection_results_no_delete
				BEFORE DELETE ON detection_results
				BEGIN
					SELECT RAISE(ABORT, 'detection results are append-only');
				END`,
			})
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion returns the schema version recorded in the database.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
