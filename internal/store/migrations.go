package store

import (
	"fmt"
	"strconv"
)

func (s *Store) migrate() error {
	if err := s.migrateV1(); err != nil {
		return err
	}
	return s.migrateV2()
}

// SchemaVersion returns the applied migration level.
func (s *Store) SchemaVersion() (int, error) {
	var version string
	if err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return strconv.Atoi(version)
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cases (
		id           TEXT PRIMARY KEY,
		case_number  TEXT NOT NULL UNIQUE,
		case_title   TEXT NOT NULL DEFAULT '',
		project_type TEXT,
		status       TEXT NOT NULL DEFAULT 'draft',
		created_at   INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);
	CREATE INDEX IF NOT EXISTS idx_cases_updated ON cases(updated_at);

	CREATE TABLE IF NOT EXISTS briefs (
		id         TEXT PRIMARY KEY,
		case_id    TEXT NOT NULL UNIQUE REFERENCES cases(id) ON DELETE CASCADE,
		fields     TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS case_activity (
		id                   TEXT PRIMARY KEY,
		case_id              TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
		activity_type        TEXT NOT NULL,
		activity_description TEXT NOT NULL DEFAULT '',
		user_id              TEXT NOT NULL DEFAULT '',
		source               TEXT NOT NULL DEFAULT '',
		changes              TEXT,
		created_at           INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activity_case ON case_activity(case_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_activity_created ON case_activity(created_at);

	INSERT OR IGNORE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}
	return nil
}

// migrateV2 adds the provisioned integration columns.
func (s *Store) migrateV2() error {
	version, err := s.SchemaVersion()
	if err != nil || version >= 2 {
		return err
	}

	for _, stmt := range []string{
		`ALTER TABLE cases ADD COLUMN slack_channel TEXT`,
		`ALTER TABLE cases ADD COLUMN nextcloud_folder TEXT`,
		`ALTER TABLE cases ADD COLUMN catchy_case_id TEXT`,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute migration v2: %w", err)
		}
	}

	if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '2')`); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return nil
}
