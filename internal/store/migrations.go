package store

import "fmt"

// migration is one idempotent schema step. Columns added by a later
// migration must be nullable and carry a documented default, per
// spec.md §4.2.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
			CREATE TABLE accounts (
				id              TEXT PRIMARY KEY,
				provider        TEXT NOT NULL DEFAULT 'GmailImap',
				folders         TEXT NOT NULL DEFAULT '[]', -- JSON array of folder paths
				cutoff          DATETIME,
				poll_interval_s INTEGER NOT NULL DEFAULT 300,
				prefetch_hint   INTEGER NOT NULL DEFAULT 0,
				created_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at      DATETIME DEFAULT CURRENT_TIMESTAMP
			);

			-- One row per (account, folder) the sync core has ever touched.
			CREATE TABLE folders (
				account_id        TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
				folder            TEXT NOT NULL,
				uid_validity      INTEGER,
				highest_uid       INTEGER NOT NULL DEFAULT 0,
				highest_mod_seq   INTEGER NOT NULL DEFAULT 0,
				exists_count      INTEGER NOT NULL DEFAULT 0,
				last_sync_ts      DATETIME,
				last_full_scan_ts DATETIME,
				PRIMARY KEY (account_id, folder)
			);

			CREATE TABLE messages (
				gm_msgid        TEXT PRIMARY KEY,
				account_id      TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
				folder          TEXT NOT NULL,
				uid             INTEGER NOT NULL,
				thread_id       TEXT,
				internal_date   DATETIME NOT NULL,
				subject         TEXT NOT NULL DEFAULT '',
				from_list       TEXT NOT NULL DEFAULT '[]', -- JSON array of {name,email}
				to_list         TEXT NOT NULL DEFAULT '[]',
				cc_list         TEXT NOT NULL DEFAULT '[]',
				bcc_list        TEXT NOT NULL DEFAULT '[]',
				flags           TEXT NOT NULL DEFAULT '[]', -- JSON array of IMAP flag tokens
				labels          TEXT NOT NULL DEFAULT '[]', -- JSON array of Gmail labels
				has_attachments INTEGER NOT NULL DEFAULT 0,
				size_bytes      INTEGER NOT NULL DEFAULT 0,
				raw_hash        TEXT NOT NULL DEFAULT '',
				created_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
				UNIQUE (account_id, folder, uid)
			);

			CREATE INDEX idx_messages_account_folder ON messages(account_id, folder);
			CREATE INDEX idx_messages_account_date ON messages(account_id, internal_date DESC);
			CREATE INDEX idx_messages_raw_hash ON messages(raw_hash);

			CREATE TABLE bodies (
				gm_msgid       TEXT PRIMARY KEY REFERENCES messages(gm_msgid) ON DELETE CASCADE,
				raw            BLOB,
				sanitized_text TEXT NOT NULL DEFAULT '',
				mime_summary   TEXT NOT NULL DEFAULT '',
				attachments    TEXT NOT NULL DEFAULT '[]', -- JSON array of descriptors
				sanitized_at   DATETIME
			);
		`,
	},
}

// migrate applies every migration whose version exceeds the recorded
// schema version, each inside its own transaction, then records it.
func (db *DB) migrate() error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := db.applyMigration(m); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (db *DB) applyMigration(m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.sql); err != nil {
		return fmt.Errorf("migration SQL failed: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}
