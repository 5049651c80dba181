package store

import (
	"fmt"
	"strings"
)

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS apps (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			homepage TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'ACTIVE',
			public_key TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS permissions (
			id TEXT PRIMARY KEY,
			app_id TEXT NOT NULL REFERENCES apps(id) ON DELETE CASCADE,
			resource_id TEXT NOT NULL,
			action TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'ACTIVE',
			constraints_json TEXT NOT NULL DEFAULT '{}',
			window_json TEXT NOT NULL DEFAULT '',
			rate_json TEXT NOT NULL DEFAULT '',
			burst_json TEXT NOT NULL DEFAULT '',
			quota_json TEXT NOT NULL DEFAULT '',
			tokens_json TEXT NOT NULL DEFAULT '',
			valid_from DATETIME,
			expires_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS resources (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			resource_id TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			resource_type TEXT NOT NULL,
			provider TEXT NOT NULL,
			secret_enc TEXT NOT NULL,
			config_json TEXT NOT NULL DEFAULT '{}',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS pairing_codes (
			code TEXT PRIMARY KEY,
			gateway_url TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'ISSUED',
			expires_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS connect_requests (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL REFERENCES pairing_codes(code),
			app_name TEXT NOT NULL,
			app_description TEXT NOT NULL DEFAULT '',
			app_homepage TEXT NOT NULL DEFAULT '',
			public_key TEXT NOT NULL,
			requested_json TEXT NOT NULL DEFAULT '[]',
			redirect_uri TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'PENDING',
			app_id TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			decided_at DATETIME
		)`,

		`CREATE TABLE IF NOT EXISTS request_logs (
			id TEXT PRIMARY KEY,
			app_id TEXT NOT NULL,
			permission_id TEXT NOT NULL DEFAULT '',
			resource_id TEXT NOT NULL,
			action TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			status_code INTEGER NOT NULL DEFAULT 0,
			error_code TEXT NOT NULL DEFAULT '',
			streamed INTEGER NOT NULL DEFAULT 0,
			latency_ms REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS admins (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			last_login_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE INDEX IF NOT EXISTS idx_permissions_lookup ON permissions(app_id, resource_id, action, status)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_app ON request_logs(app_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_connect_requests_status ON connect_requests(status)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// SQLite ALTER TABLE ADD COLUMN fails if column already exists;
			// treat "duplicate column" as a no-op for idempotent migrations.
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
