package store

import (
	"database/sql"
	"fmt"
)

// LoadFolderState returns the stored state for (account, folder), or
// nil if this folder has never been synced (spec.md §4.2).
func (db *DB) LoadFolderState(accountID, folder string) (*FolderState, error) {
	row := db.QueryRow(`
		SELECT uid_validity, highest_uid, highest_mod_seq, exists_count, last_sync_ts, last_full_scan_ts
		FROM folders WHERE account_id = ? AND folder = ?
	`, accountID, folder)

	var (
		uidValidity sql.NullInt64
		highestUID  uint32
		highestMod  uint64
		exists      uint32
		lastSync    sql.NullTime
		lastFull    sql.NullTime
	)
	err := row.Scan(&uidValidity, &highestUID, &highestMod, &exists, &lastSync, &lastFull)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load folder state: %w", err)
	}

	fs := &FolderState{
		AccountID:     accountID,
		Folder:        folder,
		HighestUID:    highestUID,
		HighestModSeq: highestMod,
		ExistsCount:   exists,
	}
	if uidValidity.Valid {
		v := uint32(uidValidity.Int64)
		fs.UIDValidity = &v
	}
	if lastSync.Valid {
		fs.LastSyncTS = lastSync.Time
	}
	if lastFull.Valid {
		fs.LastFullScanTS = lastFull.Time
	}
	return fs, nil
}

// saveFolderState upserts fs. Only called from within a transaction
// (batch.go) so the folder-state update is always part of the same
// atomic write as the message rows it describes.
func saveFolderState(tx execer, fs FolderState) error {
	var uidValidity interface{}
	if fs.UIDValidity != nil {
		uidValidity = *fs.UIDValidity
	}

	_, err := tx.Exec(`
		INSERT INTO folders (account_id, folder, uid_validity, highest_uid, highest_mod_seq, exists_count, last_sync_ts, last_full_scan_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, folder) DO UPDATE SET
			uid_validity      = excluded.uid_validity,
			highest_uid       = excluded.highest_uid,
			highest_mod_seq   = excluded.highest_mod_seq,
			exists_count      = excluded.exists_count,
			last_sync_ts      = excluded.last_sync_ts,
			last_full_scan_ts = excluded.last_full_scan_ts
	`,
		fs.AccountID, fs.Folder, uidValidity, fs.HighestUID, fs.HighestModSeq, fs.ExistsCount,
		nullTime(fs.LastSyncTS), nullTime(fs.LastFullScanTS),
	)
	if err != nil {
		return fmt.Errorf("save folder state: %w", err)
	}
	return nil
}

// clearFolderState sets UIDValidity to newUIDValidity and resets every
// other attribute (spec.md §3's "if uidvalidity changes, all other
// attributes must be cleared" invariant).
func clearFolderState(tx execer, accountID, folder string, newUIDValidity uint32) error {
	_, err := tx.Exec(`
		INSERT INTO folders (account_id, folder, uid_validity, highest_uid, highest_mod_seq, exists_count, last_sync_ts, last_full_scan_ts)
		VALUES (?, ?, ?, 0, 0, 0, NULL, NULL)
		ON CONFLICT(account_id, folder) DO UPDATE SET
			uid_validity      = excluded.uid_validity,
			highest_uid       = 0,
			highest_mod_seq   = 0,
			exists_count      = 0,
			last_sync_ts      = NULL,
			last_full_scan_ts = NULL
	`, accountID, folder, newUIDValidity)
	if err != nil {
		return fmt.Errorf("clear folder state: %w", err)
	}
	return nil
}

// deleteMessagesForFolder removes every message (and, via cascade, its
// body) for (account, folder) — used on a UIDVALIDITY change, spec.md
// §4.4's "folder rebuilt" transition.
func deleteMessagesForFolder(tx execer, accountID, folder string) error {
	_, err := tx.Exec(`DELETE FROM messages WHERE account_id = ? AND folder = ?`, accountID, folder)
	if err != nil {
		return fmt.Errorf("delete messages for folder: %w", err)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting folder-state
// helpers run either standalone (tests) or inside CommitFolderBatch's
// transaction.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}
