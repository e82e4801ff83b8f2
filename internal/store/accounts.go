package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/berker-z/otto/internal/config"
)

// SaveAccount upserts an account and its settings (spec.md §4.2).
func (db *DB) SaveAccount(acct config.Account) error {
	foldersJSON, err := json.Marshal(acct.Settings.Folders)
	if err != nil {
		return fmt.Errorf("marshal folders: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO accounts (id, provider, folders, cutoff, poll_interval_s, prefetch_hint, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			provider        = excluded.provider,
			folders         = excluded.folders,
			cutoff          = excluded.cutoff,
			poll_interval_s = excluded.poll_interval_s,
			prefetch_hint   = excluded.prefetch_hint,
			updated_at      = CURRENT_TIMESTAMP
	`,
		acct.ID, string(acct.Provider), string(foldersJSON),
		nullTime(acct.Settings.Cutoff), int64(acct.Settings.PollInterval/time.Second), acct.Settings.PrefetchHint,
	)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

// LoadAccounts returns every known account.
func (db *DB) LoadAccounts() ([]config.Account, error) {
	rows, err := db.Query(`SELECT id, provider, folders, cutoff, poll_interval_s, prefetch_hint FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	defer rows.Close()

	var accounts []config.Account
	for rows.Next() {
		var (
			acct        config.Account
			provider    string
			foldersJSON string
			cutoff      sql.NullTime
			pollSeconds int64
		)
		if err := rows.Scan(&acct.ID, &provider, &foldersJSON, &cutoff, &pollSeconds, &acct.Settings.PrefetchHint); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		acct.Provider = config.Provider(provider)
		if err := json.Unmarshal([]byte(foldersJSON), &acct.Settings.Folders); err != nil {
			return nil, fmt.Errorf("unmarshal folders for %s: %w", acct.ID, err)
		}
		if cutoff.Valid {
			acct.Settings.Cutoff = cutoff.Time
		}
		acct.Settings.PollInterval = time.Duration(pollSeconds) * time.Second
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
